package control

import (
	"fmt"

	"github.com/sweeney/heatpump-controller/internal/clock"
)

type overrideState struct {
	active  bool
	since   uint32
	outputs map[string]bool
}

// SetManualOverride enters or leaves manual control. Entering (or
// re-entering) starts a fresh ManualOverrideTimeout window with every output
// commanded off. Leaving turns every output off at once; automatic control
// resumes on the next Update.
func (c *Controller) SetManualOverride(on bool) {
	now := c.clk.NowMs()
	if on {
		c.override = overrideState{active: true, since: now, outputs: map[string]bool{}}
		c.emit(now, EventOverrideOn, "", float64(clock.Ms(c.cfg.ManualOverrideTimeout)))
		return
	}
	if c.override.active {
		c.endOverride(now, EventOverrideOff)
	}
}

// SetManualOutput commands one output while override is active. An unknown
// name or an inactive override is rejected without touching any state.
func (c *Controller) SetManualOutput(name string, on bool) error {
	if _, ok := c.reg.Output(name); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOutput, name)
	}
	if !c.override.active {
		return ErrOverrideInactive
	}
	c.override.outputs[name] = on
	return nil
}

// ManualOverride reports whether manual control is active.
func (c *Controller) ManualOverride() bool { return c.override.active }

// ManualOverrideRemainingMs is the time until override auto-expires.
func (c *Controller) ManualOverrideRemainingMs() uint32 {
	if !c.override.active {
		return 0
	}
	return clock.Remaining(c.clk.NowMs(), c.override.since, clock.Ms(c.cfg.ManualOverrideTimeout))
}

// ManualOutputs returns a copy of the commanded override states.
func (c *Controller) ManualOutputs() map[string]bool {
	out := make(map[string]bool, len(c.override.outputs))
	for k, v := range c.override.outputs {
		out[k] = v
	}
	return out
}

func (c *Controller) endOverride(now uint32, reason EventType) {
	c.override = overrideState{}
	c.allOff(now)
	c.emit(now, reason, "", 0)
}

// driveManual writes the commanded states directly. Short-cycle deferral
// does not apply, but an LPS fault still holds every output off.
func (c *Controller) driveManual(now uint32) {
	c.shortCycle = false
	for _, name := range c.reg.OutputNames() {
		c.writeOutput(name, c.override.outputs[name] && !c.lps.active, now)
	}
}
