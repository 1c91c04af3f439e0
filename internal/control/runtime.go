package control

import (
	"time"

	"github.com/sweeney/heatpump-controller/internal/clock"
)

// accumulateRuntime credits the interval since the last pass to the heat
// runtime if that interval was spent in HEAT with the compressor running.
func (c *Controller) accumulateRuntime(now uint32) {
	if c.state != StateHeat || !c.outputOn(PinCNT) {
		return
	}
	c.heatRuntimeMs += uint64(clock.Elapsed(now, c.lastTick))
}

// HeatRuntimeMs returns the accumulated compressor time in HEAT since the
// last defrost.
func (c *Controller) HeatRuntimeMs() uint64 { return c.heatRuntimeMs }

// SetHeatRuntimeMs restores a checkpointed accumulator.
func (c *Controller) SetHeatRuntimeMs(ms uint64) { c.heatRuntimeMs = ms }

// ResetHeatRuntime zeroes the accumulator.
func (c *Controller) ResetHeatRuntime() { c.heatRuntimeMs = 0 }

// Config returns the active thresholds.
func (c *Controller) Config() Config { return c.cfg }

// SetCNTDelay sets the Y-to-contactor debounce.
func (c *Controller) SetCNTDelay(d time.Duration) { c.cfg.CNTDelay = d }

// SetShortCycleDelay sets the contactor minimum off-time.
func (c *Controller) SetShortCycleDelay(d time.Duration) { c.cfg.ShortCycleDelay = d }

// SetDefrostTiming sets the ACTIVE minimum run, safety timeout and the
// pressure-equalisation delay.
func (c *Controller) SetDefrostTiming(minRun, timeout, transition time.Duration) {
	c.cfg.DefrostMinRun = minRun
	c.cfg.DefrostTimeout = timeout
	c.cfg.DefrostTransitionDelay = transition
}

// SetDefrostExitTemp sets the condenser temperature that ends defrost.
func (c *Controller) SetDefrostExitTemp(f float64) { c.cfg.DefrostExitTemp = f }

// SetHeatRuntimeThreshold sets the runtime after which defrost is due.
func (c *Controller) SetHeatRuntimeThreshold(d time.Duration) { c.cfg.HeatRuntimeThreshold = d }

// SetAmbientLowTemp sets the low-ambient lockout threshold.
func (c *Controller) SetAmbientLowTemp(f float64) { c.cfg.AmbientLowTemp = f }

// SetHighSuctionTemp sets the RV-fail suction threshold.
func (c *Controller) SetHighSuctionTemp(f float64) { c.cfg.HighSuctionTemp = f }

// SetOverTempThresholds sets the compressor trip and resume pair.
func (c *Controller) SetOverTempThresholds(trip, resume float64) {
	c.cfg.OverTempTrip = trip
	c.cfg.OverTempResume = resume
}

// SetSuctionThresholds sets the warn, critical and resume levels.
func (c *Controller) SetSuctionThresholds(warn, critical, resume float64) {
	c.cfg.SuctionWarnTemp = warn
	c.cfg.SuctionCritical = critical
	c.cfg.SuctionResumeTemp = resume
}

// SetManualOverrideTimeout sets the override auto-expiry.
func (c *Controller) SetManualOverrideTimeout(d time.Duration) { c.cfg.ManualOverrideTimeout = d }
