package control

import (
	"fmt"

	"github.com/sweeney/heatpump-controller/internal/clock"
	"github.com/sweeney/heatpump-controller/internal/pins"
)

// protection is the bookkeeping shared by every latch and auto-clearing
// condition: whether it is active, when it started, when it was last rechecked.
type protection struct {
	active      bool
	since       uint32
	lastRecheck uint32
}

func (p *protection) set(now uint32) {
	p.active = true
	p.since = now
	p.lastRecheck = now
}

func (p *protection) clear() {
	p.active = false
}

// Controller is the heat-pump state machine. It is not safe for concurrent
// use: one goroutine (the task driver) calls Update and every mutator.
// Only the edge queue may be written from elsewhere.
type Controller struct {
	clk   clock.Clock
	reg   *pins.Registry
	edges *pins.EdgeQueue
	cfg   Config

	begun    bool
	bootTick uint32
	lastTick uint32
	state    State

	// Y edge tracking and CNT activation debounce
	yActive      bool
	yActiveSince uint32
	cntArmed     bool

	startup         protection
	lps             protection
	lowAmbient      protection
	overTemp        protection
	suctionWarn     protection
	suctionCritical protection
	shortCycle      bool
	rvFail          bool
	highSuction     bool

	defrost defrostState

	heatRuntimeMs uint64

	override overrideState

	onState func(old, new State)
	onFault func(f Fault, active bool)
	onEvent func(Event)
}

// New creates a controller over the given registry. edges may be nil when
// no interrupt layer is present.
func New(clk clock.Clock, reg *pins.Registry, edges *pins.EdgeQueue, cfg Config) *Controller {
	return &Controller{
		clk:     clk,
		reg:     reg,
		edges:   edges,
		cfg:     cfg,
		state:   StateOff,
		defrost: defrostState{phase: PhaseNone, dftArmed: true},
	}
}

// RegisterInput adds an input to the registry.
func (c *Controller) RegisterInput(in *pins.Input) error {
	return c.reg.AddInput(in)
}

// RegisterOutput adds an output to the registry.
func (c *Controller) RegisterOutput(out *pins.Output) error {
	return c.reg.AddOutput(out)
}

// RegisterSensor adds a sensor to the registry. Sensors may be registered
// after Begin as they are discovered.
func (c *Controller) RegisterSensor(s *pins.Sensor) error {
	return c.reg.AddSensor(s)
}

// OnStateChange sets the callback fired once per mode transition.
// Callbacks run inside Update and must not block.
func (c *Controller) OnStateChange(fn func(old, new State)) { c.onState = fn }

// OnFault sets the callback fired on LPS and RV-fail edges.
func (c *Controller) OnFault(fn func(f Fault, active bool)) { c.onFault = fn }

// OnEvent sets the callback fired for every controller event.
func (c *Controller) OnEvent(fn func(Event)) { c.onEvent = fn }

// Begin arms evaluation. It fails if any required pin is missing.
func (c *Controller) Begin() error {
	if c.begun {
		return ErrAlreadyStarted
	}
	for _, name := range RequiredInputs {
		if _, ok := c.reg.Input(name); !ok {
			return fmt.Errorf("input %q: %w", name, ErrMissingPin)
		}
	}
	for _, name := range RequiredOutputs {
		if _, ok := c.reg.Output(name); !ok {
			return fmt.Errorf("output %q: %w", name, ErrMissingPin)
		}
	}

	now := c.clk.NowMs()
	c.begun = true
	c.bootTick = now
	c.lastTick = now
	if c.cfg.StartupLockout > 0 {
		c.startup.set(now)
	}

	if cnt, ok := c.reg.Output(PinCNT); ok && c.cfg.CompressorRunReport > 0 {
		cnt.SetRuntimeHook(c.cfg.CompressorRunReport, func(name string, onFor uint32) {
			c.emit(c.clk.NowMs(), EventCompressorRunning, name, float64(onFor))
		})
	}
	c.allOff(now)
	return nil
}

// Started reports whether Begin has succeeded.
func (c *Controller) Started() bool { return c.begun }

// Update runs one evaluation pass. It never blocks and never fails; the
// worst outcome is every output off.
func (c *Controller) Update() {
	now := c.clk.NowMs()
	c.drainEdges()
	if !c.begun {
		return
	}

	c.accumulateRuntime(now)

	if c.evaluateStartupLockout(now) {
		c.allOff(now)
		c.setState(StateOff)
		c.lastTick = now
		return
	}

	c.trackY(now)
	c.evaluateLPS(now)
	c.evaluateLowAmbient(now)
	c.evaluateOverTemp(now)
	nominal := c.nominalMode()
	c.evaluateSuction(now, nominal)
	c.updateDefrost(now, nominal)
	c.setState(c.deriveState(nominal))

	switch {
	case c.override.active && clock.HasElapsed(now, c.override.since, clock.Ms(c.cfg.ManualOverrideTimeout)):
		c.endOverride(now, EventOverrideExpired)
	case c.override.active:
		c.driveManual(now)
	default:
		c.driveAutomatic(now, nominal)
	}

	c.serviceOutputs(now)
	c.lastTick = now
}

// CheckOutputs reconciles every output's software state with its hardware
// line. The task driver calls it once a minute.
func (c *Controller) CheckOutputs() {
	now := c.clk.NowMs()
	for _, name := range c.reg.OutputNames() {
		out, _ := c.reg.Output(name)
		mismatch, err := out.Reconcile()
		if err != nil {
			c.emit(now, EventOutputError, name, 0)
			continue
		}
		if mismatch {
			c.emit(now, EventOutputMismatch, name, 0)
		}
	}
}

func (c *Controller) drainEdges() {
	if c.edges == nil {
		return
	}
	for _, e := range c.edges.Drain() {
		if in, ok := c.reg.Input(e.Name); ok {
			in.Sample(e.Level, e.Tick)
		}
	}
}

func (c *Controller) evaluateStartupLockout(now uint32) bool {
	if !c.startup.active {
		return false
	}
	if clock.HasElapsed(now, c.startup.since, clock.Ms(c.cfg.StartupLockout)) {
		c.startup.clear()
		c.emit(now, EventStartupLockoutEnd, "", 0)
		return false
	}
	return true
}

func (c *Controller) setState(s State) {
	if s == c.state {
		return
	}
	old := c.state
	c.state = s
	if c.onState != nil {
		c.onState(old, s)
	}
}

func (c *Controller) emit(now uint32, t EventType, detail string, value float64) {
	if c.onEvent != nil {
		c.onEvent(Event{Tick: now, Type: t, Detail: detail, Value: value})
	}
}

func (c *Controller) fault(f Fault, active bool) {
	if c.onFault != nil {
		c.onFault(f, active)
	}
}

func (c *Controller) inputActive(name string) bool {
	in, ok := c.reg.Input(name)
	return ok && in.Active()
}

// sensorValue returns a reading only when the sensor exists and is valid.
func (c *Controller) sensorValue(name string) (float64, bool) {
	s, ok := c.reg.Sensor(name)
	if !ok {
		return 0, false
	}
	return s.Value()
}

func (c *Controller) outputOn(name string) bool {
	out, ok := c.reg.Output(name)
	return ok && out.On()
}
