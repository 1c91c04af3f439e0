package control

// State returns the current derived mode.
func (c *Controller) State() State { return c.state }

// InputActive reports the debounced state of a named input.
func (c *Controller) InputActive(name string) bool { return c.inputActive(name) }

// OutputOn reports the software state of a named output.
func (c *Controller) OutputOn(name string) bool { return c.outputOn(name) }

// Telemetry is the read-only status snapshot published to dashboards. The
// JSON names of the first block are consumed by existing UIs and must not
// change.
type Telemetry struct {
	State                      State `json:"state"`
	Defrost                    bool  `json:"defrost"`
	LPSFault                   bool  `json:"lpsFault"`
	LowTemp                    bool  `json:"lowTemp"`
	CompressorOverTemp         bool  `json:"compressorOverTemp"`
	SuctionLowTemp             bool  `json:"suctionLowTemp"`
	StartupLockout             bool  `json:"startupLockout"`
	StartupLockoutRemainSec    int   `json:"startupLockoutRemainSec"`
	ShortCycleProtection       bool  `json:"shortCycleProtection"`
	RVFail                     bool  `json:"rvFail"`
	HighSuctionTemp            bool  `json:"highSuctionTemp"`
	DefrostTransition          bool  `json:"defrostTransition"`
	DefrostTransitionRemainSec int   `json:"defrostTransitionRemainSec"`
	DefrostCNTPending          bool  `json:"defrostCntPending"`
	DefrostCNTPendingRemainSec int   `json:"defrostCntPendingRemainSec"`
	DefrostExiting             bool  `json:"defrostExiting"`
	ManualOverride             bool  `json:"manualOverride"`
	ManualOverrideRemainSec    int   `json:"manualOverrideRemainSec"`

	SuctionWarn    bool               `json:"suctionWarn"`
	DefrostPhase   DefrostPhase       `json:"defrostPhase"`
	DefrostTrigger DefrostTrigger     `json:"defrostTrigger,omitempty"`
	HeatRuntimeMs  uint64             `json:"heatRuntimeMs"`
	Inputs         map[string]bool    `json:"inputs"`
	Outputs        map[string]bool    `json:"outputs"`
	Sensors        map[string]float64 `json:"sensors"`
}

// Telemetry builds a snapshot of the controller. Invalid sensors are
// omitted from Sensors.
func (c *Controller) Telemetry() Telemetry {
	t := Telemetry{
		State:                      c.state,
		Defrost:                    c.defrost.phase != PhaseNone,
		LPSFault:                   c.lps.active,
		LowTemp:                    c.lowAmbient.active,
		CompressorOverTemp:         c.overTemp.active,
		SuctionLowTemp:             c.suctionCritical.active,
		StartupLockout:             c.StartupLockoutActive(),
		StartupLockoutRemainSec:    remainSec(c.StartupLockoutRemainingMs()),
		ShortCycleProtection:       c.shortCycle,
		RVFail:                     c.rvFail,
		HighSuctionTemp:            c.highSuction,
		DefrostTransition:          c.defrost.phase == PhaseTransition,
		DefrostTransitionRemainSec: remainSec(c.DefrostTransitionRemainingMs()),
		DefrostCNTPending:          c.defrost.phase == PhaseCNTPending,
		DefrostCNTPendingRemainSec: remainSec(c.DefrostCNTPendingRemainingMs()),
		DefrostExiting:             c.defrost.phase == PhaseExiting,
		ManualOverride:             c.override.active,
		ManualOverrideRemainSec:    remainSec(c.ManualOverrideRemainingMs()),

		SuctionWarn:    c.suctionWarn.active,
		DefrostPhase:   c.defrost.phase,
		DefrostTrigger: c.defrost.trigger,
		HeatRuntimeMs:  c.heatRuntimeMs,
		Inputs:         map[string]bool{},
		Outputs:        map[string]bool{},
		Sensors:        map[string]float64{},
	}
	for _, name := range c.reg.InputNames() {
		t.Inputs[name] = c.inputActive(name)
	}
	for _, name := range c.reg.OutputNames() {
		t.Outputs[name] = c.outputOn(name)
	}
	for _, name := range c.reg.SensorNames() {
		if v, ok := c.sensorValue(name); ok {
			t.Sensors[name] = v
		}
	}
	return t
}

// remainSec rounds up so a non-zero remainder never reports as 0.
func remainSec(ms uint32) int {
	return int((uint64(ms) + 999) / 1000)
}
