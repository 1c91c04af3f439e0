package control

import (
	"github.com/sweeney/heatpump-controller/internal/clock"
)

// evaluateLPS follows the low-pressure switch. The fault latches while the
// switch reports low pressure and clears on the first pass where it has
// returned to normal.
func (c *Controller) evaluateLPS(now uint32) {
	lps := c.inputActive(PinLPS)
	switch {
	case lps && !c.lps.active:
		c.lps.set(now)
		c.emit(now, EventLPSFault, PinLPS, 0)
		c.fault(FaultLPS, true)
	case !lps && c.lps.active:
		c.lps.clear()
		c.emit(now, EventLPSClear, PinLPS, float64(clock.Elapsed(now, c.lps.since)))
		c.fault(FaultLPS, false)
	}
}

// evaluateLowAmbient blocks the compressor below AmbientLowTemp. Single
// threshold, no hysteresis band. Invalid readings change nothing.
func (c *Controller) evaluateLowAmbient(now uint32) {
	v, ok := c.sensorValue(SensorAmbient)
	if !ok {
		return
	}
	switch {
	case v < c.cfg.AmbientLowTemp && !c.lowAmbient.active:
		c.lowAmbient.set(now)
		c.emit(now, EventLowAmbient, SensorAmbient, v)
	case v >= c.cfg.AmbientLowTemp && c.lowAmbient.active:
		c.lowAmbient.clear()
		c.emit(now, EventLowAmbientClear, SensorAmbient, v)
	}
}

// evaluateOverTemp trips at OverTempTrip. Once tripped, the resume
// threshold is only checked every RecheckInterval.
func (c *Controller) evaluateOverTemp(now uint32) {
	v, ok := c.sensorValue(SensorCompressor)

	if !c.overTemp.active {
		if ok && v >= c.cfg.OverTempTrip {
			c.overTemp.set(now)
			c.emit(now, EventOverTemp, SensorCompressor, v)
		}
		return
	}

	if !clock.HasElapsed(now, c.overTemp.lastRecheck, clock.Ms(c.cfg.RecheckInterval)) {
		return
	}
	c.overTemp.lastRecheck = now
	if ok && v < c.cfg.OverTempResume {
		c.overTemp.clear()
		c.emit(now, EventOverTempClear, SensorCompressor, v)
	}
}

// evaluateSuction implements the cooling-mode freeze protection:
// warn below SuctionWarnTemp, critical below SuctionCritical, both cleared
// only above SuctionResumeTemp. Trips are only taken in COOL.
func (c *Controller) evaluateSuction(now uint32, nominal State) {
	v, ok := c.sensorValue(SensorSuction)

	if ok && nominal == StateCool {
		if v < c.cfg.SuctionWarnTemp && !c.suctionWarn.active {
			c.suctionWarn.set(now)
			c.emit(now, EventSuctionWarn, SensorSuction, v)
		}
		if v < c.cfg.SuctionCritical && !c.suctionCritical.active {
			c.suctionCritical.set(now)
			c.emit(now, EventSuctionCritical, SensorSuction, v)
			return
		}
	}

	if ok && c.suctionWarn.active && !c.suctionCritical.active && v > c.cfg.SuctionResumeTemp {
		c.suctionWarn.clear()
		c.emit(now, EventSuctionWarnEnd, SensorSuction, v)
	}

	if !c.suctionCritical.active {
		return
	}
	if !clock.HasElapsed(now, c.suctionCritical.lastRecheck, clock.Ms(c.cfg.RecheckInterval)) {
		return
	}
	c.suctionCritical.lastRecheck = now
	if ok && v > c.cfg.SuctionResumeTemp {
		c.suctionCritical.clear()
		c.emit(now, EventSuctionClear, SensorSuction, v)
		if c.suctionWarn.active {
			c.suctionWarn.clear()
			c.emit(now, EventSuctionWarnEnd, SensorSuction, v)
		}
	}
}

// ClearLPSFault acknowledges an LPS fault. It fails while the switch still
// reports low pressure; otherwise the fault is already clear or clears now.
func (c *Controller) ClearLPSFault() error {
	if c.inputActive(PinLPS) {
		return ErrLPSInputActive
	}
	if c.lps.active {
		now := c.clk.NowMs()
		c.lps.clear()
		c.emit(now, EventLPSClear, PinLPS, float64(clock.Elapsed(now, c.lps.since)))
		c.fault(FaultLPS, false)
	}
	return nil
}

// ClearRVFail is the operator acknowledgement for a latched RV fail.
func (c *Controller) ClearRVFail() {
	if !c.rvFail {
		return
	}
	c.rvFail = false
	c.emit(c.clk.NowMs(), EventRVFailClear, "", 0)
	c.fault(FaultRVFail, false)
}

// RestoreRVFail reloads the persisted RV-fail latch at boot without firing
// callbacks.
func (c *Controller) RestoreRVFail(failed bool) { c.rvFail = failed }

// StartupLockoutActive reports whether the boot lockout is still running.
func (c *Controller) StartupLockoutActive() bool {
	if !c.begun || !c.startup.active {
		return false
	}
	return !clock.HasElapsed(c.clk.NowMs(), c.startup.since, clock.Ms(c.cfg.StartupLockout))
}

// StartupLockoutRemainingMs is the lockout time left.
func (c *Controller) StartupLockoutRemainingMs() uint32 {
	if !c.StartupLockoutActive() {
		return 0
	}
	return clock.Remaining(c.clk.NowMs(), c.startup.since, clock.Ms(c.cfg.StartupLockout))
}

// LPSFault reports the LPS latch.
func (c *Controller) LPSFault() bool { return c.lps.active }

// LowAmbientLockout reports the low-ambient lockout.
func (c *Controller) LowAmbientLockout() bool { return c.lowAmbient.active }

// CompressorOverTemp reports the over-temperature trip.
func (c *Controller) CompressorOverTemp() bool { return c.overTemp.active }

// OverTempRecheckRemainingMs is the time until the next resume check.
func (c *Controller) OverTempRecheckRemainingMs() uint32 {
	if !c.overTemp.active {
		return 0
	}
	return clock.Remaining(c.clk.NowMs(), c.overTemp.lastRecheck, clock.Ms(c.cfg.RecheckInterval))
}

// SuctionWarn reports the telemetry-only suction warning.
func (c *Controller) SuctionWarn() bool { return c.suctionWarn.active }

// SuctionLowTemp reports the critical suction protection.
func (c *Controller) SuctionLowTemp() bool { return c.suctionCritical.active }

// SuctionRecheckRemainingMs is the time until the next resume check.
func (c *Controller) SuctionRecheckRemainingMs() uint32 {
	if !c.suctionCritical.active {
		return 0
	}
	return clock.Remaining(c.clk.NowMs(), c.suctionCritical.lastRecheck, clock.Ms(c.cfg.RecheckInterval))
}

// ShortCycleProtection reports whether an output re-energisation was
// deferred on the last pass.
func (c *Controller) ShortCycleProtection() bool { return c.shortCycle }

// RVFail reports the latched reversing-valve fault.
func (c *Controller) RVFail() bool { return c.rvFail }

// HighSuctionTemp reports whether the suction line was above the RV-fail
// threshold on the last defrost check.
func (c *Controller) HighSuctionTemp() bool { return c.highSuction }
