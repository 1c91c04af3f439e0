//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/heatpump-controller/internal/pins"
)

// RealBank drives lines on a GPIO character device.
type RealBank struct {
	chip    *gpiocdev.Chip
	inputs  map[string]*gpiocdev.Line
	outputs map[string]*gpiocdev.Line
}

// NewRealBank requests the given lines. Inputs are pulled down and, when
// onEdge is non-nil, watched on both edges. Outputs start inactive.
func NewRealBank(chipName string, inputs, outputs []LineSpec, onEdge EdgeFunc) (*RealBank, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	b := &RealBank{
		chip:    chip,
		inputs:  map[string]*gpiocdev.Line{},
		outputs: map[string]*gpiocdev.Line{},
	}

	for _, spec := range inputs {
		opts := []gpiocdev.LineReqOption{gpiocdev.AsInput, gpiocdev.WithPullDown}
		if spec.ActiveLow {
			opts = append(opts, gpiocdev.AsActiveLow)
		}
		if onEdge != nil {
			name := spec.Name
			opts = append(opts, gpiocdev.WithBothEdges, gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
				onEdge(name, evt.Type == gpiocdev.LineEventRisingEdge)
			}))
		}
		line, err := chip.RequestLine(spec.Offset, opts...)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("request input %s line %d: %w", spec.Name, spec.Offset, err)
		}
		b.inputs[spec.Name] = line
	}

	for _, spec := range outputs {
		opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}
		if spec.ActiveLow {
			opts = append(opts, gpiocdev.AsActiveLow)
		}
		line, err := chip.RequestLine(spec.Offset, opts...)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("request output %s line %d: %w", spec.Name, spec.Offset, err)
		}
		b.outputs[spec.Name] = line
	}
	return b, nil
}

// Read returns the logical level of every input.
func (b *RealBank) Read() (map[string]bool, error) {
	out := make(map[string]bool, len(b.inputs))
	for name, line := range b.inputs {
		v, err := line.Value()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		out[name] = v != 0
	}
	return out, nil
}

// Output returns the named output line.
func (b *RealBank) Output(name string) (pins.Line, bool) {
	line, ok := b.outputs[name]
	if !ok {
		return nil, false
	}
	return line, true
}

// Close drives outputs inactive and reconfigures every line to input with
// pull-down (matching Pi boot defaults) before releasing it, so relays are
// de-energised across a restart.
func (b *RealBank) Close() error {
	var errs []error

	for name, line := range b.outputs {
		if err := line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("drive %s off: %w", name, err))
		}
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure %s: %w", name, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	for name, line := range b.inputs {
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	if b.chip != nil {
		if err := b.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
