package gpio

import (
	"errors"
	"sync"

	"github.com/sweeney/heatpump-controller/internal/pins"
)

// FakeBank is a test double with settable inputs and recording outputs.
type FakeBank struct {
	mu      sync.Mutex
	levels  map[string]bool
	outputs map[string]*pins.FakeLine
	onEdge  EdgeFunc

	// ReadError, if set, will be returned by Read()
	ReadError error

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeBank creates a bank with the named inputs (all low) and outputs.
func NewFakeBank(inputs, outputs []string, onEdge EdgeFunc) *FakeBank {
	f := &FakeBank{
		levels:  map[string]bool{},
		outputs: map[string]*pins.FakeLine{},
		onEdge:  onEdge,
	}
	for _, name := range inputs {
		f.levels[name] = false
	}
	for _, name := range outputs {
		f.outputs[name] = &pins.FakeLine{}
	}
	return f
}

// SetInput changes an input level and reports the edge, as the interrupt
// handler would.
func (f *FakeBank) SetInput(name string, level bool) {
	f.mu.Lock()
	prev, ok := f.levels[name]
	f.levels[name] = level
	onEdge := f.onEdge
	f.mu.Unlock()
	if ok && prev != level && onEdge != nil {
		onEdge(name, level)
	}
}

// Read returns the current input levels.
func (f *FakeBank) Read() (map[string]bool, error) {
	if f.ReadError != nil {
		return nil, f.ReadError
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.levels) == 0 {
		return nil, errors.New("no inputs configured")
	}
	out := make(map[string]bool, len(f.levels))
	for k, v := range f.levels {
		out[k] = v
	}
	return out, nil
}

// Output returns the fake line for a named output.
func (f *FakeBank) Output(name string) (pins.Line, bool) {
	line, ok := f.outputs[name]
	if !ok {
		return nil, false
	}
	return line, true
}

// Line returns the concrete fake line for assertions.
func (f *FakeBank) Line(name string) *pins.FakeLine {
	return f.outputs[name]
}

// Close drives every output low and marks the bank closed.
func (f *FakeBank) Close() error {
	for _, line := range f.outputs {
		line.SetValue(0)
	}
	f.Closed = true
	return nil
}
