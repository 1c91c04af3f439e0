// Package pins holds the named input, output and sensor handles the
// controller works against, and the registry that owns them.
// Nothing here touches hardware directly; lines are injected.
package pins

import (
	"time"

	"github.com/sweeney/heatpump-controller/internal/clock"
)

// Transition describes what a sample did to an input's stable state.
type Transition int

const (
	NoChange Transition = iota
	Activated
	Deactivated
)

func (t Transition) String() string {
	switch t {
	case Activated:
		return "ACTIVE"
	case Deactivated:
		return "INACTIVE"
	default:
		return "NO_CHANGE"
	}
}

// Input is a named, debounced boolean input. Analog inputs map a reading to
// active when it is at or above Threshold.
type Input struct {
	name      string
	debounce  uint32
	threshold float64

	// Current stable (debounced) state
	stable bool
	// Pending state during debounce
	pending    bool
	hasPending bool
	// Tick when pending state was first observed
	pendingSince uint32
	// Whether we have established a baseline
	baselined bool
	// Tick of the last stable change (or of the baseline)
	changedAt uint32
}

// NewInput creates a digital input with the given debounce time.
func NewInput(name string, debounce time.Duration) *Input {
	return &Input{name: name, debounce: clock.Ms(debounce)}
}

// NewAnalogInput creates an input that is active while its reading is at or
// above threshold.
func NewAnalogInput(name string, debounce time.Duration, threshold float64) *Input {
	return &Input{name: name, debounce: clock.Ms(debounce), threshold: threshold}
}

// Name returns the logical pin name.
func (in *Input) Name() string { return in.name }

// Active returns the debounced state. An input without a baseline is inactive.
func (in *Input) Active() bool { return in.baselined && in.stable }

// Baselined reports whether a stable state has been established.
func (in *Input) Baselined() bool { return in.baselined }

// ChangedAt returns the tick at which the current stable state began.
func (in *Input) ChangedAt() uint32 { return in.changedAt }

// SampleAnalog feeds an analog reading through the threshold mapping.
func (in *Input) SampleAnalog(value float64, now uint32) Transition {
	return in.Sample(value >= in.threshold, now)
}

// Sample feeds a raw logical level observed at tick now and returns the
// resulting stable transition, if any.
func (in *Input) Sample(level bool, now uint32) Transition {
	if !in.baselined {
		if !in.hasPending || in.pending != level {
			// Start observing, or state changed during baseline: restart
			in.pending = level
			in.hasPending = true
			in.pendingSince = now
		}
		if clock.HasElapsed(now, in.pendingSince, in.debounce) {
			in.stable = level
			in.baselined = true
			in.changedAt = in.pendingSince
			in.hasPending = false
		}
		return NoChange
	}

	if level == in.stable {
		in.hasPending = false
		return NoChange
	}

	if !in.hasPending || in.pending != level {
		in.pending = level
		in.hasPending = true
		in.pendingSince = now
	}

	if !clock.HasElapsed(now, in.pendingSince, in.debounce) {
		return NoChange
	}

	in.stable = level
	in.hasPending = false
	in.changedAt = in.pendingSince
	if level {
		return Activated
	}
	return Deactivated
}
