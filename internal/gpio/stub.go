//go:build !linux

package gpio

import (
	"errors"

	"github.com/sweeney/heatpump-controller/internal/pins"
)

// RealBank is not available on non-Linux platforms.
type RealBank struct{}

// NewRealBank returns an error on non-Linux platforms.
func NewRealBank(chipName string, inputs, outputs []LineSpec, onEdge EdgeFunc) (*RealBank, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Read is not implemented on non-Linux platforms.
func (b *RealBank) Read() (map[string]bool, error) {
	return nil, errors.New("gpio: not supported")
}

// Output is not implemented on non-Linux platforms.
func (b *RealBank) Output(name string) (pins.Line, bool) {
	return nil, false
}

// Close is not implemented on non-Linux platforms.
func (b *RealBank) Close() error {
	return nil
}
