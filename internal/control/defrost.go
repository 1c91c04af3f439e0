package control

import (
	"github.com/sweeney/heatpump-controller/internal/clock"
)

type defrostState struct {
	phase      DefrostPhase
	trigger    DefrostTrigger
	since      uint32 // start of the current phase
	startedAt  uint32 // start of ACTIVE
	recheckAt  uint32
	exitReason string

	// dftArmed is cleared when a cycle completes and set again once DFT
	// has been seen inactive, so a held DFT line cannot re-enter at once.
	dftArmed bool

	forceRequested bool
	blocked        bool
}

// updateDefrost advances the defrost sub-state machine by at most one phase
// per pass.
func (c *Controller) updateDefrost(now uint32, nominal State) {
	d := &c.defrost
	dft := c.inputActive(PinDFT)

	switch d.phase {
	case PhaseNone:
		if !dft {
			d.dftArmed = true
		}
		trigger := TriggerNone
		switch {
		case d.forceRequested:
			trigger = TriggerManual
		case dft && d.dftArmed:
			trigger = TriggerHardware
		case nominal == StateHeat && c.outputOn(PinCNT) && c.defrostDue():
			trigger = TriggerRuntime
		}
		d.forceRequested = false
		if trigger == TriggerNone {
			d.blocked = false
			return
		}
		if c.lps.active || c.lowAmbient.active {
			if !d.blocked {
				c.emit(now, EventDefrostBlocked, string(trigger), 0)
			}
			d.blocked = true
			return
		}
		d.blocked = false
		c.enterDefrost(now, trigger)

	case PhaseActive:
		c.checkRVFail(now)
		elapsed := clock.Elapsed(now, d.startedAt)
		if clock.HasElapsed(now, d.recheckAt, clock.Ms(c.cfg.RecheckInterval)) {
			d.recheckAt = now
			if v, ok := c.sensorValue(SensorCondenser); ok {
				c.emit(now, EventDefrostRecheck, SensorCondenser, v)
			}
		}
		switch {
		case elapsed >= clock.Ms(c.cfg.DefrostTimeout):
			c.endDefrostActive(now, ExitTimeout)
		case elapsed >= clock.Ms(c.cfg.DefrostMinRun) && c.defrostExitReady(dft):
			c.endDefrostActive(now, ExitNatural)
		}

	case PhaseTransition:
		c.checkRVFail(now)
		if clock.HasElapsed(now, d.since, clock.Ms(c.cfg.DefrostTransitionDelay)) {
			c.setDefrostPhase(now, PhaseCNTPending)
			c.restartCNTDebounce(now)
		}

	case PhaseCNTPending:
		c.checkRVFail(now)
		if !c.yActive || c.cntArmed {
			c.setDefrostPhase(now, PhaseExiting)
		}

	case PhaseExiting:
		c.heatRuntimeMs = 0
		d.dftArmed = false
		reason := d.exitReason
		d.trigger = TriggerNone
		d.exitReason = ""
		c.highSuction = false
		c.setDefrostPhase(now, PhaseNone)
		c.emit(now, EventDefrostComplete, reason, 0)
	}
}

func (c *Controller) enterDefrost(now uint32, trigger DefrostTrigger) {
	d := &c.defrost
	d.trigger = trigger
	d.startedAt = now
	d.recheckAt = now
	d.exitReason = ""
	c.setDefrostPhase(now, PhaseActive)
	c.emit(now, EventDefrostStart, string(trigger), float64(c.heatRuntimeMs))
}

func (c *Controller) endDefrostActive(now uint32, reason string) {
	d := &c.defrost
	d.exitReason = reason
	c.heatRuntimeMs = 0
	c.emit(now, EventDefrostEnd, reason, float64(clock.Elapsed(now, d.startedAt)))
	c.setDefrostPhase(now, PhaseTransition)
}

func (c *Controller) setDefrostPhase(now uint32, p DefrostPhase) {
	c.defrost.phase = p
	c.defrost.since = now
	c.emit(now, EventDefrostPhase, string(p), 0)
}

// defrostExitReady is the natural exit condition once the minimum run has
// elapsed. An invalid condenser reading never satisfies it; without a
// condenser sensor the DFT line releasing is used instead.
func (c *Controller) defrostExitReady(dft bool) bool {
	s, ok := c.reg.Sensor(SensorCondenser)
	if !ok {
		return !dft
	}
	v, valid := s.Value()
	return valid && v >= c.cfg.DefrostExitTemp
}

// checkRVFail latches RV fail when the suction line runs hot while the
// state is DEFROST (ACTIVE through CNT_PENDING), which means the valve did
// not reverse.
func (c *Controller) checkRVFail(now uint32) {
	v, ok := c.sensorValue(SensorSuction)
	if !ok {
		return
	}
	c.highSuction = v > c.cfg.HighSuctionTemp
	if c.highSuction && !c.rvFail {
		c.rvFail = true
		c.emit(now, EventRVFail, SensorSuction, v)
		c.fault(FaultRVFail, true)
	}
}

// defrostOutputs fills the output map for the current defrost phase.
func (c *Controller) defrostOutputs(want map[string]bool, allowed bool) {
	switch c.defrost.phase {
	case PhaseActive:
		want[PinRV] = true
		want[PinW] = true
		want[PinCNT] = c.cntArmed && allowed
	case PhaseTransition:
		want[PinRV] = true
		want[PinW] = true
	}
}

func (c *Controller) defrostDue() bool {
	return c.heatRuntimeMs >= uint64(c.cfg.HeatRuntimeThreshold.Milliseconds())
}

// ForceDefrost requests a defrost cycle on the next Update.
func (c *Controller) ForceDefrost() error {
	if !c.begun {
		return ErrNotStarted
	}
	if c.StartupLockoutActive() {
		return ErrStartupLockout
	}
	if c.defrost.phase != PhaseNone || c.defrost.forceRequested {
		return ErrAlreadyDefrosting
	}
	if c.lps.active || c.lowAmbient.active {
		return ErrDefrostBlocked
	}
	c.defrost.forceRequested = true
	return nil
}

// DefrostPhase returns the current defrost sub-state.
func (c *Controller) DefrostPhase() DefrostPhase { return c.defrost.phase }

// DefrostTrigger returns what started the current cycle.
func (c *Controller) DefrostTrigger() DefrostTrigger { return c.defrost.trigger }

// DefrostActive reports whether any defrost phase is in progress.
func (c *Controller) DefrostActive() bool { return c.defrost.phase != PhaseNone }

// DefrostDue reports whether accumulated heat runtime has reached the
// defrost threshold.
func (c *Controller) DefrostDue() bool { return c.defrostDue() }

// DefrostRemainingMs is the time left until the ACTIVE safety timeout.
func (c *Controller) DefrostRemainingMs() uint32 {
	if c.defrost.phase != PhaseActive {
		return 0
	}
	return clock.Remaining(c.clk.NowMs(), c.defrost.startedAt, clock.Ms(c.cfg.DefrostTimeout))
}

// DefrostTransitionRemainingMs is the pressure-equalisation time left.
func (c *Controller) DefrostTransitionRemainingMs() uint32 {
	if c.defrost.phase != PhaseTransition {
		return 0
	}
	return clock.Remaining(c.clk.NowMs(), c.defrost.since, clock.Ms(c.cfg.DefrostTransitionDelay))
}

// DefrostCNTPendingRemainingMs is the contactor re-engage delay left.
func (c *Controller) DefrostCNTPendingRemainingMs() uint32 {
	if c.defrost.phase != PhaseCNTPending || !c.yActive {
		return 0
	}
	return clock.Remaining(c.clk.NowMs(), c.yActiveSince, clock.Ms(c.cfg.CNTDelay))
}
