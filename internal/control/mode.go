package control

import (
	"github.com/sweeney/heatpump-controller/internal/clock"
)

// trackY follows the compressor call. CNT is armed only once Y has been
// continuously active for CNTDelay; a falling edge disarms it at once.
func (c *Controller) trackY(now uint32) {
	y := c.inputActive(PinY)

	if y && !c.yActive {
		c.yActive = true
		c.yActiveSince = now
		if in, ok := c.reg.Input(PinY); ok {
			c.yActiveSince = in.ChangedAt()
		}
		c.cntArmed = false
		c.emit(now, EventYActive, PinY, 0)
	}

	if !y && c.yActive {
		c.yActive = false
		c.cntArmed = false
		c.emit(now, EventYInactive, PinY, 0)
		return
	}

	if c.yActive && !c.cntArmed && clock.HasElapsed(now, c.yActiveSince, clock.Ms(c.cfg.CNTDelay)) {
		c.cntArmed = true
		c.emit(now, EventCNTArmed, PinCNT, float64(clock.Elapsed(now, c.yActiveSince)))
	}
}

// restartCNTDebounce re-applies the Y activation delay from now.
func (c *Controller) restartCNTDebounce(now uint32) {
	c.cntArmed = false
	if c.yActive {
		c.yActiveSince = now
	}
}

// nominalMode is the mode the thermostat wires ask for, before defrost and
// protections are considered.
func (c *Controller) nominalMode() State {
	switch {
	case c.yActive && c.inputActive(PinO):
		return StateHeat
	case c.yActive:
		return StateCool
	default:
		return StateOff
	}
}

// deriveState applies the reporting priority:
// ERROR > LOW_TEMP > DEFROST > nominal.
func (c *Controller) deriveState(nominal State) State {
	switch {
	case c.lps.active:
		return StateError
	case c.lowAmbient.active:
		return StateLowTemp
	case c.defrost.phase != PhaseNone:
		return StateDefrost
	default:
		return nominal
	}
}

// compressorAllowed reports whether the auto-recovering protections permit
// CNT this pass.
func (c *Controller) compressorAllowed(nominal State) bool {
	if c.lps.active || c.lowAmbient.active || c.overTemp.active {
		return false
	}
	if c.suctionCritical.active && nominal == StateCool {
		return false
	}
	return true
}

// driveAutomatic maps the derived state onto the outputs.
func (c *Controller) driveAutomatic(now uint32, nominal State) {
	want := map[string]bool{}
	allowed := c.compressorAllowed(nominal)

	switch c.state {
	case StateHeat:
		want[PinCNT] = c.cntArmed && allowed
		want[PinFAN] = want[PinCNT]
	case StateCool:
		want[PinCNT] = c.cntArmed && allowed
		want[PinFAN] = want[PinCNT]
		want[PinRV] = true
	case StateDefrost:
		c.defrostOutputs(want, allowed)
	}

	deferred := ""
	var wait uint32
	for _, name := range c.reg.OutputNames() {
		if left := c.driveOutput(name, want[name], now); left > 0 && deferred == "" {
			deferred, wait = name, left
		}
	}
	if deferred != "" && !c.shortCycle {
		c.emit(now, EventShortCycle, deferred, float64(wait))
	}
	c.shortCycle = deferred != ""
}

// driveOutput writes one output, deferring re-energisation while its
// minimum off-time has not elapsed. It returns the remaining off-time when
// the write was deferred, 0 otherwise.
func (c *Controller) driveOutput(name string, on bool, now uint32) uint32 {
	out, ok := c.reg.Output(name)
	if !ok {
		return 0
	}
	if on && !out.On() {
		if minOff := c.minOffTime(name); minOff > 0 {
			if off, ok := out.OffFor(now); ok && off < minOff {
				return minOff - off
			}
		}
	}
	c.writeOutput(name, on, now)
	return 0
}

func (c *Controller) minOffTime(name string) uint32 {
	switch name {
	case PinCNT:
		return clock.Ms(c.cfg.ShortCycleDelay)
	case PinRV:
		return clock.Ms(c.cfg.DefrostTransitionDelay)
	default:
		return 0
	}
}

func (c *Controller) writeOutput(name string, on bool, now uint32) {
	out, ok := c.reg.Output(name)
	if !ok {
		return
	}
	if _, err := out.Set(on, now); err != nil {
		c.emit(now, EventOutputError, name, 0)
	}
}

func (c *Controller) allOff(now uint32) {
	for _, name := range c.reg.OutputNames() {
		c.writeOutput(name, false, now)
	}
	c.shortCycle = false
}

func (c *Controller) serviceOutputs(now uint32) {
	for _, name := range c.reg.OutputNames() {
		out, _ := c.reg.Output(name)
		if err := out.Service(now); err != nil {
			c.emit(now, EventOutputError, name, 0)
		}
	}
}
