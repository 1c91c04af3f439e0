package control

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/heatpump-controller/internal/clock"
	"github.com/sweeney/heatpump-controller/internal/pins"
)

type faultEdge struct {
	fault  Fault
	active bool
}

// rig wires a controller to fake lines and a fake clock. Inputs use zero
// debounce so a set() is visible on the next Update.
type rig struct {
	t      *testing.T
	clk    *clock.Fake
	reg    *pins.Registry
	edges  *pins.EdgeQueue
	c      *Controller
	lines  map[string]*pins.FakeLine
	events []Event
	states [][2]State
	faults []faultEdge
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.StartupLockout = 0
	return cfg
}

func newRig(t *testing.T, cfg Config, start uint32) *rig {
	t.Helper()
	r := &rig{
		t:     t,
		clk:   clock.NewFake(start),
		reg:   pins.NewRegistry(),
		edges: &pins.EdgeQueue{},
		lines: map[string]*pins.FakeLine{},
	}
	r.c = New(r.clk, r.reg, r.edges, cfg)

	for _, name := range []string{PinLPS, PinDFT, PinY, PinO} {
		in := pins.NewInput(name, 0)
		in.Sample(false, start)
		require.NoError(t, r.c.RegisterInput(in))
	}
	for _, name := range []string{PinCNT, PinRV, PinW, PinFAN} {
		line := &pins.FakeLine{}
		r.lines[name] = line
		require.NoError(t, r.c.RegisterOutput(pins.NewOutput(name, line)))
	}
	for _, name := range []string{SensorAmbient, SensorSuction, SensorCompressor, SensorCondenser} {
		require.NoError(t, r.c.RegisterSensor(pins.NewSensor(name)))
	}

	r.c.OnEvent(func(e Event) { r.events = append(r.events, e) })
	r.c.OnStateChange(func(old, new State) { r.states = append(r.states, [2]State{old, new}) })
	r.c.OnFault(func(f Fault, active bool) { r.faults = append(r.faults, faultEdge{f, active}) })
	return r
}

func (r *rig) begin() {
	r.t.Helper()
	require.NoError(r.t, r.c.Begin())
}

func (r *rig) set(name string, level bool) {
	in, ok := r.reg.Input(name)
	require.True(r.t, ok, "input %s", name)
	in.Sample(level, r.clk.NowMs())
}

func (r *rig) temp(name string, v float64) {
	s, ok := r.reg.Sensor(name)
	require.True(r.t, ok, "sensor %s", name)
	s.Update(v, r.clk.NowMs())
}

// step advances the clock by d and runs one pass.
func (r *rig) step(d time.Duration) {
	r.clk.Advance(d)
	r.c.Update()
}

// run advances in one-second passes for the given duration.
func (r *rig) run(d time.Duration) {
	for i := time.Duration(0); i < d; i += time.Second {
		r.step(time.Second)
	}
}

func (r *rig) on(name string) bool { return r.c.OutputOn(name) }

func (r *rig) count(t EventType) int {
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (r *rig) last(t EventType) (Event, bool) {
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == t {
			return r.events[i], true
		}
	}
	return Event{}, false
}

func TestBeginRequiresPins(t *testing.T) {
	c := New(clock.NewFake(0), pins.NewRegistry(), nil, testConfig())
	err := c.Begin()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingPin))
	assert.False(t, c.Started())

	r := newRig(t, testConfig(), 0)
	r.begin()
	assert.True(t, r.c.Started())
	assert.ErrorIs(t, r.c.Begin(), ErrAlreadyStarted)
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := newRig(t, testConfig(), 0)
	assert.ErrorIs(t, r.c.RegisterInput(pins.NewInput(PinY, 0)), pins.ErrDuplicate)
	assert.ErrorIs(t, r.c.RegisterOutput(pins.NewOutput(PinCNT, nil)), pins.ErrDuplicate)
	assert.ErrorIs(t, r.c.RegisterSensor(pins.NewSensor(SensorAmbient)), pins.ErrDuplicate)
}

func TestUpdateBeforeBeginDoesNothing(t *testing.T) {
	r := newRig(t, testConfig(), 0)
	r.set(PinY, true)
	r.run(time.Minute)
	assert.Equal(t, StateOff, r.c.State())
	assert.False(t, r.on(PinCNT))
	assert.Empty(t, r.events)
}

func TestCNTNeverEnergizesForShortY(t *testing.T) {
	r := newRig(t, testConfig(), 1000)
	r.begin()

	r.set(PinY, true)
	r.c.Update()
	for i := 0; i < 29; i++ {
		r.step(time.Second)
		require.False(t, r.on(PinCNT), "CNT on after %ds", i+1)
	}
	r.set(PinY, false)
	r.c.Update()
	r.run(time.Minute)

	assert.False(t, r.on(PinCNT))
	assert.Equal(t, 0, r.count(EventCNTArmed))
	assert.Equal(t, 0, r.lines[PinCNT].Level)
}

func TestCNTEnergizesAtDelay(t *testing.T) {
	r := newRig(t, testConfig(), 1000)
	r.begin()

	r.set(PinY, true)
	r.c.Update()
	r.run(29 * time.Second)
	require.False(t, r.on(PinCNT))

	r.step(time.Second)
	require.True(t, r.on(PinCNT), "CNT should energize at the 30s mark")
	assert.Equal(t, StateCool, r.c.State())
	assert.True(t, r.on(PinFAN))
	assert.True(t, r.on(PinRV))
	assert.Equal(t, 1, r.lines[PinCNT].Level)

	r.step(time.Second)
	assert.True(t, r.on(PinCNT))

	// Y drops: CNT off within one pass.
	r.set(PinY, false)
	r.step(100 * time.Millisecond)
	assert.False(t, r.on(PinCNT))
	assert.False(t, r.on(PinFAN))
	assert.Equal(t, StateOff, r.c.State())
}

func TestHeatModeOutputs(t *testing.T) {
	r := newRig(t, testConfig(), 0)
	r.begin()

	r.set(PinY, true)
	r.set(PinO, true)
	r.c.Update()
	assert.Equal(t, StateHeat, r.c.State())
	r.run(30 * time.Second)

	assert.True(t, r.on(PinCNT))
	assert.True(t, r.on(PinFAN))
	assert.False(t, r.on(PinRV))
	assert.False(t, r.on(PinW))
}

func TestLowAmbientReportsLowTemp(t *testing.T) {
	r := newRig(t, testConfig(), 0)
	r.begin()

	r.temp(SensorAmbient, 15)
	r.set(PinY, true)
	r.set(PinO, true)
	r.c.Update()
	r.run(time.Minute)

	assert.Equal(t, StateLowTemp, r.c.State())
	assert.True(t, r.c.LowAmbientLockout())
	assert.False(t, r.on(PinCNT))
	assert.Equal(t, 1, r.count(EventLowAmbient))

	// Single threshold: clears as soon as the reading is back at 20.
	r.temp(SensorAmbient, 20)
	r.step(time.Second)
	assert.False(t, r.c.LowAmbientLockout())
	assert.Equal(t, StateHeat, r.c.State())
	assert.True(t, r.on(PinCNT))
}

func TestInvalidAmbientIsIgnored(t *testing.T) {
	r := newRig(t, testConfig(), 0)
	r.begin()

	r.temp(SensorAmbient, 15)
	r.c.Update()
	require.True(t, r.c.LowAmbientLockout())

	s, _ := r.reg.Sensor(SensorAmbient)
	s.Invalidate(r.clk.NowMs())
	r.run(time.Minute)
	assert.True(t, r.c.LowAmbientLockout(), "invalid reading must not clear the lockout")
}

func TestSuctionHysteresisSequence(t *testing.T) {
	r := newRig(t, testConfig(), 0)
	r.begin()

	r.set(PinY, true)
	r.c.Update()
	r.run(30 * time.Second)
	require.True(t, r.on(PinCNT))

	r.temp(SensorSuction, 35)
	r.step(time.Second)
	assert.False(t, r.c.SuctionWarn())
	assert.False(t, r.c.SuctionLowTemp())

	r.temp(SensorSuction, 33)
	r.step(time.Minute)
	assert.True(t, r.c.SuctionWarn())
	assert.False(t, r.c.SuctionLowTemp())
	assert.True(t, r.on(PinCNT), "warn is telemetry only")

	r.temp(SensorSuction, 31)
	r.step(time.Minute)
	assert.True(t, r.c.SuctionLowTemp(), "critical at 31")
	assert.False(t, r.on(PinCNT))

	r.temp(SensorSuction, 33)
	r.step(time.Minute)
	assert.True(t, r.c.SuctionLowTemp(), "still critical at 33")
	assert.False(t, r.on(PinCNT))

	r.temp(SensorSuction, 41)
	r.step(time.Minute)
	assert.False(t, r.c.SuctionLowTemp(), "cleared at 41")
	assert.False(t, r.c.SuctionWarn())
	assert.True(t, r.on(PinCNT))
	assert.Equal(t, 1, r.count(EventSuctionCritical))
	assert.Equal(t, 1, r.count(EventSuctionClear))
}

func TestSuctionBelowResumeNeverClears(t *testing.T) {
	r := newRig(t, testConfig(), 0)
	r.begin()
	r.set(PinY, true)
	r.c.Update()

	r.temp(SensorSuction, 30)
	r.step(time.Second)
	require.True(t, r.c.SuctionLowTemp())

	for i := 0; i < 10; i++ {
		if i%2 == 0 {
			r.temp(SensorSuction, 33)
		} else {
			r.temp(SensorSuction, 39)
		}
		r.step(time.Minute)
		require.True(t, r.c.SuctionLowTemp(), "pass %d", i)
	}
}

func TestSuctionIgnoredOutsideCool(t *testing.T) {
	r := newRig(t, testConfig(), 0)
	r.begin()
	r.set(PinY, true)
	r.set(PinO, true)
	r.c.Update()

	r.temp(SensorSuction, 20)
	r.run(time.Minute)
	assert.False(t, r.c.SuctionLowTemp())
	assert.False(t, r.c.SuctionWarn())
	assert.True(t, r.on(PinCNT))
}

func TestOverTempHysteresis(t *testing.T) {
	r := newRig(t, testConfig(), 0)
	r.begin()
	r.set(PinY, true)
	r.c.Update()
	r.run(30 * time.Second)
	require.True(t, r.on(PinCNT))

	r.temp(SensorCompressor, 245)
	r.step(time.Second)
	require.True(t, r.c.CompressorOverTemp())
	assert.False(t, r.on(PinCNT))
	assert.Equal(t, StateCool, r.c.State())

	// Bouncing just under the trip point but above resume never clears.
	for _, v := range []float64{239, 200, 235, 191} {
		r.temp(SensorCompressor, v)
		r.step(time.Minute)
		require.True(t, r.c.CompressorOverTemp(), "cleared at %v", v)
	}

	// Below resume, but only on the next recheck.
	r.temp(SensorCompressor, 180)
	r.step(10 * time.Second)
	assert.True(t, r.c.CompressorOverTemp())
	assert.Equal(t, uint32(50000), r.c.OverTempRecheckRemainingMs())
	r.step(50 * time.Second)
	assert.False(t, r.c.CompressorOverTemp())
	assert.True(t, r.on(PinCNT))
}

func TestLPSFaultAndClear(t *testing.T) {
	r := newRig(t, testConfig(), 0)
	r.begin()
	r.set(PinY, true)
	r.set(PinO, true)
	r.c.Update()
	r.run(30 * time.Second)
	require.True(t, r.on(PinCNT))

	r.set(PinLPS, true)
	r.step(time.Second)
	assert.Equal(t, StateError, r.c.State())
	assert.True(t, r.c.LPSFault())
	for _, name := range r.reg.OutputNames() {
		assert.False(t, r.on(name), "%s on during LPS fault", name)
	}
	assert.Equal(t, []faultEdge{{FaultLPS, true}}, r.faults)
	assert.ErrorIs(t, r.c.ClearLPSFault(), ErrLPSInputActive)
	assert.True(t, r.c.LPSFault())

	r.set(PinLPS, false)
	r.step(time.Second)
	assert.False(t, r.c.LPSFault())
	assert.Equal(t, StateHeat, r.c.State())
	assert.Equal(t, []faultEdge{{FaultLPS, true}, {FaultLPS, false}}, r.faults)
	assert.NoError(t, r.c.ClearLPSFault())
}

func TestStartupLockout(t *testing.T) {
	cfg := testConfig()
	cfg.StartupLockout = 3 * time.Minute
	r := newRig(t, cfg, 0)
	r.begin()

	r.set(PinY, true)
	r.set(PinO, true)
	r.set(PinDFT, true)
	r.c.Update()
	for i := 0; i < 179; i++ {
		r.step(time.Second)
		require.True(t, r.c.StartupLockoutActive())
		require.Equal(t, StateOff, r.c.State())
		for _, name := range r.reg.OutputNames() {
			require.False(t, r.on(name), "%s on during lockout", name)
		}
	}
	assert.Equal(t, uint32(1000), r.c.StartupLockoutRemainingMs())

	r.set(PinDFT, false)
	r.step(time.Second)
	assert.False(t, r.c.StartupLockoutActive())
	assert.Equal(t, 1, r.count(EventStartupLockoutEnd))
	assert.Equal(t, StateHeat, r.c.State())
	assert.True(t, r.on(PinCNT), "Y has been active for longer than the CNT delay")
}

func TestForceDefrostErrors(t *testing.T) {
	cfg := testConfig()
	cfg.StartupLockout = time.Minute
	r := newRig(t, cfg, 0)

	assert.ErrorIs(t, r.c.ForceDefrost(), ErrNotStarted)

	r.begin()
	assert.ErrorIs(t, r.c.ForceDefrost(), ErrStartupLockout)

	r.run(time.Minute)
	require.False(t, r.c.StartupLockoutActive())

	r.set(PinLPS, true)
	r.step(time.Second)
	assert.ErrorIs(t, r.c.ForceDefrost(), ErrDefrostBlocked)
	r.set(PinLPS, false)
	r.step(time.Second)

	require.NoError(t, r.c.ForceDefrost())
	assert.ErrorIs(t, r.c.ForceDefrost(), ErrAlreadyDefrosting)
	r.step(time.Second)
	assert.Equal(t, PhaseActive, r.c.DefrostPhase())
	assert.Equal(t, TriggerManual, r.c.DefrostTrigger())
	assert.ErrorIs(t, r.c.ForceDefrost(), ErrAlreadyDefrosting)
}

func TestDefrostTimeoutResetsRuntime(t *testing.T) {
	r := newRig(t, testConfig(), 0)
	r.begin()

	r.temp(SensorCondenser, 40)
	r.set(PinY, true)
	r.set(PinO, true)
	r.c.Update()
	r.run(time.Minute)
	require.True(t, r.on(PinCNT))
	require.NotZero(t, r.c.HeatRuntimeMs())

	r.set(PinDFT, true)
	r.step(time.Second)
	require.Equal(t, PhaseActive, r.c.DefrostPhase())
	assert.Equal(t, TriggerHardware, r.c.DefrostTrigger())
	assert.Equal(t, StateDefrost, r.c.State())
	assert.True(t, r.on(PinRV))
	assert.True(t, r.on(PinW))
	assert.True(t, r.on(PinCNT))
	assert.False(t, r.on(PinFAN))
	start, ok := r.last(EventDefrostStart)
	require.True(t, ok)

	r.run(4 * time.Minute)
	r.set(PinDFT, false)

	for r.c.DefrostPhase() == PhaseActive {
		r.step(time.Second)
		require.Less(t, clock.Elapsed(r.clk.NowMs(), start.Tick), uint32(16*60*1000))
	}
	end, ok := r.last(EventDefrostEnd)
	require.True(t, ok)
	assert.Equal(t, ExitTimeout, end.Detail)
	assert.Equal(t, uint32(15*60*1000), clock.Elapsed(end.Tick, start.Tick))
	assert.Equal(t, uint64(0), r.c.HeatRuntimeMs())

	// TRANSITION: compressor off, valve held.
	assert.Equal(t, PhaseTransition, r.c.DefrostPhase())
	assert.False(t, r.on(PinCNT))
	assert.True(t, r.on(PinRV))
	assert.Equal(t, 30, r.c.Telemetry().DefrostTransitionRemainSec)

	r.run(30 * time.Second)
	assert.Equal(t, PhaseCNTPending, r.c.DefrostPhase())
	assert.False(t, r.on(PinRV))
	assert.False(t, r.on(PinCNT))

	r.run(30 * time.Second)
	assert.Equal(t, PhaseExiting, r.c.DefrostPhase())
	r.step(time.Second)
	assert.Equal(t, PhaseNone, r.c.DefrostPhase())
	assert.Equal(t, StateHeat, r.c.State())
	assert.True(t, r.on(PinCNT))
	assert.Equal(t, 1, r.count(EventDefrostComplete))
}

func TestDefrostCNTWaitsForYDebounce(t *testing.T) {
	r := newRig(t, testConfig(), 0)
	r.begin()
	r.c.Update()

	require.NoError(t, r.c.ForceDefrost())
	r.step(time.Second)
	require.Equal(t, PhaseActive, r.c.DefrostPhase())
	assert.False(t, r.on(PinCNT))

	r.set(PinY, true)
	r.step(100 * time.Millisecond)
	assert.False(t, r.on(PinCNT), "Y rising edge during defrost must not bypass the debounce")

	r.step(29 * time.Second)
	assert.False(t, r.on(PinCNT))
	assert.Equal(t, PhaseActive, r.c.DefrostPhase())

	r.step(time.Second)
	assert.True(t, r.on(PinCNT))
	assert.True(t, r.on(PinRV))
}

func TestRVFailDetectedAfterActive(t *testing.T) {
	r := newRig(t, testConfig(), 0)
	r.begin()
	r.temp(SensorCondenser, 70)
	r.set(PinY, true)
	r.set(PinO, true)
	r.c.Update()
	r.run(time.Minute)

	require.NoError(t, r.c.ForceDefrost())
	r.step(time.Second)
	for r.c.DefrostPhase() == PhaseActive {
		r.step(time.Second)
	}
	require.Equal(t, PhaseTransition, r.c.DefrostPhase())
	require.False(t, r.c.RVFail())

	r.temp(SensorSuction, 150)
	r.step(time.Second)
	assert.Equal(t, PhaseTransition, r.c.DefrostPhase())
	assert.True(t, r.c.RVFail())
	assert.Equal(t, []faultEdge{{FaultRVFail, true}}, r.faults)
}

func TestDefrostMinimumRun(t *testing.T) {
	r := newRig(t, testConfig(), 0)
	r.begin()

	r.temp(SensorCondenser, 70)
	r.set(PinY, true)
	r.set(PinO, true)
	r.c.Update()
	r.run(time.Minute)

	require.NoError(t, r.c.ForceDefrost())
	r.step(time.Second)
	require.Equal(t, PhaseActive, r.c.DefrostPhase())
	start, _ := r.last(EventDefrostStart)

	for r.c.DefrostPhase() == PhaseActive {
		r.step(time.Second)
	}
	end, ok := r.last(EventDefrostEnd)
	require.True(t, ok)
	assert.Equal(t, ExitNatural, end.Detail)
	assert.Equal(t, uint32(3*60*1000), clock.Elapsed(end.Tick, start.Tick))
	assert.Equal(t, uint64(0), r.c.HeatRuntimeMs())
}

func TestDefrostInvalidCondenserRunsToTimeout(t *testing.T) {
	r := newRig(t, testConfig(), 0)
	r.begin()

	r.set(PinY, true)
	r.set(PinO, true)
	r.c.Update()
	r.run(time.Minute)

	require.NoError(t, r.c.ForceDefrost())
	r.step(time.Second)
	for r.c.DefrostPhase() == PhaseActive {
		r.step(time.Second)
	}
	end, _ := r.last(EventDefrostEnd)
	assert.Equal(t, ExitTimeout, end.Detail)
}

func TestDefrostHeldDFTDoesNotRetrigger(t *testing.T) {
	r := newRig(t, testConfig(), 0)
	r.begin()

	r.temp(SensorCondenser, 70)
	r.set(PinY, true)
	r.set(PinO, true)
	r.set(PinDFT, true)
	r.c.Update()
	r.run(10 * time.Minute)

	assert.Equal(t, 1, r.count(EventDefrostStart))
	assert.Equal(t, 1, r.count(EventDefrostComplete))
	assert.Equal(t, PhaseNone, r.c.DefrostPhase())

	r.set(PinDFT, false)
	r.step(time.Second)
	r.set(PinDFT, true)
	r.step(time.Second)
	assert.Equal(t, 2, r.count(EventDefrostStart))
}

func TestDefrostRuntimeTrigger(t *testing.T) {
	r := newRig(t, testConfig(), 0)
	r.begin()

	r.set(PinY, true)
	r.set(PinO, true)
	r.c.Update()
	r.run(time.Minute)
	require.False(t, r.c.DefrostDue())

	r.c.SetHeatRuntimeMs(uint64((90 * time.Minute).Milliseconds()))
	assert.True(t, r.c.DefrostDue())
	r.step(time.Second)
	assert.Equal(t, PhaseActive, r.c.DefrostPhase())
	assert.Equal(t, TriggerRuntime, r.c.DefrostTrigger())
}

func TestDefrostBlockedByLowAmbient(t *testing.T) {
	r := newRig(t, testConfig(), 0)
	r.begin()

	r.temp(SensorAmbient, 10)
	r.set(PinY, true)
	r.set(PinO, true)
	r.set(PinDFT, true)
	r.c.Update()
	r.run(time.Minute)

	assert.Equal(t, PhaseNone, r.c.DefrostPhase())
	assert.Equal(t, 1, r.count(EventDefrostBlocked))
	assert.Equal(t, StateLowTemp, r.c.State())
}

func TestRVFailLatchAndClear(t *testing.T) {
	r := newRig(t, testConfig(), 0)
	r.begin()
	r.set(PinY, true)
	r.set(PinO, true)
	r.c.Update()
	r.run(time.Minute)

	require.NoError(t, r.c.ForceDefrost())
	r.step(time.Second)
	r.temp(SensorSuction, 150)
	r.step(time.Second)

	assert.True(t, r.c.RVFail())
	assert.True(t, r.c.HighSuctionTemp())
	assert.Equal(t, PhaseActive, r.c.DefrostPhase(), "RV fail does not abort defrost")
	assert.Equal(t, []faultEdge{{FaultRVFail, true}}, r.faults)

	// Latched even after the reading drops.
	r.temp(SensorSuction, 50)
	r.run(time.Minute)
	assert.True(t, r.c.RVFail())

	r.c.ClearRVFail()
	assert.False(t, r.c.RVFail())
	assert.Equal(t, []faultEdge{{FaultRVFail, true}, {FaultRVFail, false}}, r.faults)
}

func TestManualOverride(t *testing.T) {
	r := newRig(t, testConfig(), 0)
	r.begin()
	r.c.Update()

	assert.ErrorIs(t, r.c.SetManualOutput(PinW, true), ErrOverrideInactive)

	r.c.SetManualOverride(true)
	require.NoError(t, r.c.SetManualOutput(PinW, true))
	require.NoError(t, r.c.SetManualOutput(PinFAN, true))
	r.step(time.Second)

	assert.True(t, r.on(PinW))
	assert.True(t, r.on(PinFAN))
	assert.False(t, r.on(PinCNT))
	assert.False(t, r.on(PinRV))

	before := r.c.Telemetry().Outputs
	err := r.c.SetManualOutput("BOGUS", true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownOutput)
	r.step(time.Second)
	assert.Equal(t, before, r.c.Telemetry().Outputs)

	r.c.SetManualOverride(false)
	for _, name := range r.reg.OutputNames() {
		assert.False(t, r.on(name), "%s still on after override off", name)
	}
	assert.False(t, r.c.ManualOverride())
	assert.Equal(t, 1, r.count(EventOverrideOff))
}

func TestManualOverrideBypassesShortCycleButNotLPS(t *testing.T) {
	r := newRig(t, testConfig(), 0)
	r.begin()
	r.c.SetManualOverride(true)

	require.NoError(t, r.c.SetManualOutput(PinCNT, true))
	r.step(time.Second)
	require.True(t, r.on(PinCNT))

	require.NoError(t, r.c.SetManualOutput(PinCNT, false))
	r.step(time.Second)
	require.NoError(t, r.c.SetManualOutput(PinCNT, true))
	r.step(time.Second)
	assert.True(t, r.on(PinCNT), "manual writes are not short-cycle deferred")

	r.set(PinLPS, true)
	r.step(time.Second)
	assert.False(t, r.on(PinCNT))
	assert.True(t, r.c.ManualOverride())
}

func TestManualOverrideExpires(t *testing.T) {
	r := newRig(t, testConfig(), 0)
	r.begin()
	r.c.SetManualOverride(true)
	require.NoError(t, r.c.SetManualOutput(PinW, true))
	r.step(time.Second)

	assert.Equal(t, 29*60+59, r.c.Telemetry().ManualOverrideRemainSec)
	r.step(30*time.Minute - time.Second)
	assert.False(t, r.c.ManualOverride())
	assert.False(t, r.on(PinW))
	assert.Equal(t, 1, r.count(EventOverrideExpired))
}

func TestShortCycleDefersRestart(t *testing.T) {
	cfg := testConfig()
	cfg.CNTDelay = 5 * time.Second
	r := newRig(t, cfg, 0)
	r.begin()

	r.set(PinY, true)
	r.c.Update()
	r.run(5 * time.Second)
	require.True(t, r.on(PinCNT))

	r.set(PinY, false)
	r.step(time.Second)
	require.False(t, r.on(PinCNT))
	offAt := r.clk.NowMs()

	r.set(PinY, true)
	r.step(time.Second)
	r.run(5 * time.Second)
	assert.False(t, r.on(PinCNT))
	assert.True(t, r.c.ShortCycleProtection())

	for !r.on(PinCNT) {
		r.step(time.Second)
	}
	assert.Equal(t, uint32(30000), clock.Elapsed(r.clk.NowMs(), offAt))
	assert.False(t, r.c.ShortCycleProtection())
	assert.Equal(t, 1, r.count(EventShortCycle))
}

func TestRuntimeAccumulatesAcrossWrap(t *testing.T) {
	r := newRig(t, testConfig(), ^uint32(0)-10000)
	r.begin()

	r.set(PinY, true)
	r.set(PinO, true)
	r.c.Update()
	r.run(30 * time.Second)
	require.True(t, r.on(PinCNT))
	require.Zero(t, r.c.HeatRuntimeMs())

	r.run(60 * time.Second)
	assert.Equal(t, uint64(60000), r.c.HeatRuntimeMs())

	// COOL does not accumulate.
	r.set(PinO, false)
	r.run(10 * time.Second)
	assert.Equal(t, uint64(61000), r.c.HeatRuntimeMs())

	r.c.ResetHeatRuntime()
	assert.Zero(t, r.c.HeatRuntimeMs())
}

func TestStateCallbackOncePerTransition(t *testing.T) {
	r := newRig(t, testConfig(), 0)
	r.begin()

	r.set(PinY, true)
	r.set(PinO, true)
	r.c.Update()
	r.run(time.Minute)
	r.set(PinO, false)
	r.run(time.Minute)
	r.set(PinY, false)
	r.run(time.Minute)

	assert.Equal(t, [][2]State{
		{StateOff, StateHeat},
		{StateHeat, StateCool},
		{StateCool, StateOff},
	}, r.states)
}

func TestEdgesAreDrainedOnUpdate(t *testing.T) {
	r := newRig(t, testConfig(), 0)
	r.begin()

	r.edges.Record(PinY, true, r.clk.NowMs())
	r.c.Update()
	assert.True(t, r.c.InputActive(PinY))
	assert.Equal(t, StateCool, r.c.State())
}

func TestCheckOutputsReportsMismatch(t *testing.T) {
	r := newRig(t, testConfig(), 0)
	r.begin()
	r.c.Update()

	r.lines[PinW].Level = 1
	r.c.CheckOutputs()
	assert.Equal(t, 1, r.count(EventOutputMismatch))
	assert.Equal(t, 0, r.lines[PinW].Level)
}

func TestTelemetryFieldNames(t *testing.T) {
	cfg := testConfig()
	cfg.StartupLockout = 3 * time.Minute
	r := newRig(t, cfg, 0)
	r.begin()
	r.step(500 * time.Millisecond)

	tel := r.c.Telemetry()
	assert.True(t, tel.StartupLockout)
	assert.Equal(t, 180, tel.StartupLockoutRemainSec)

	raw, err := json.Marshal(tel)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))

	for _, key := range []string{
		"state", "defrost", "lpsFault", "lowTemp", "compressorOverTemp",
		"suctionLowTemp", "startupLockout", "startupLockoutRemainSec",
		"shortCycleProtection", "rvFail", "highSuctionTemp",
		"defrostTransition", "defrostTransitionRemainSec", "defrostCntPending",
		"defrostCntPendingRemainSec", "defrostExiting", "manualOverride",
		"manualOverrideRemainSec",
	} {
		assert.Contains(t, fields, key)
	}
	assert.Equal(t, "OFF", fields["state"])
}

func TestThresholdSettersTakeEffectNextPass(t *testing.T) {
	r := newRig(t, testConfig(), 0)
	r.begin()

	r.temp(SensorAmbient, 25)
	r.c.Update()
	require.False(t, r.c.LowAmbientLockout())

	r.c.SetAmbientLowTemp(30)
	assert.False(t, r.c.LowAmbientLockout())
	r.step(time.Second)
	assert.True(t, r.c.LowAmbientLockout())
	assert.Equal(t, 30.0, r.c.Config().AmbientLowTemp)
}
