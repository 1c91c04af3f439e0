// Package gpio binds the controller's named pins to GPIO lines.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import "github.com/sweeney/heatpump-controller/internal/pins"

// Bank is a set of named input and output lines.
type Bank interface {
	// Read returns the logical level of every input line, keyed by name.
	Read() (map[string]bool, error)

	// Output returns the line driving the named output.
	Output(name string) (pins.Line, bool)

	// Close drives every output low and releases the lines.
	Close() error
}

// LineSpec maps a logical pin name to a line offset on the chip.
type LineSpec struct {
	Name      string
	Offset    int
	ActiveLow bool
}

// EdgeFunc receives input edges. It is called from the GPIO event
// goroutine and must only record the edge.
type EdgeFunc func(name string, level bool)
