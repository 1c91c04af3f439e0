// Package control contains the heat-pump state machine: mode derivation,
// contactor debounce, defrost, protections, runtime accumulation and manual
// override. It has no I/O of its own: pins come from a registry, time from
// an injected clock, and everything observable leaves through callbacks.
package control

import (
	"errors"
	"time"
)

// Logical pin names.
const (
	PinLPS = "LPS" // low-pressure switch, active = fault
	PinDFT = "DFT" // defrost call
	PinY   = "Y"   // compressor call
	PinO   = "O"   // heat select

	PinCNT = "CNT" // compressor contactor
	PinRV  = "RV"  // reversing valve
	PinW   = "W"   // auxiliary heat
	PinFAN = "FAN" // outdoor fan
)

// Sensor keys.
const (
	SensorAmbient    = "AMBIENT_TEMP"
	SensorSuction    = "SUCTION_TEMP"
	SensorCompressor = "COMPRESSOR_TEMP"
	SensorCondenser  = "CONDENSER_TEMP"
)

// RequiredInputs must be registered before Begin.
var RequiredInputs = []string{PinLPS, PinDFT, PinY, PinO}

// RequiredOutputs must be registered before Begin.
var RequiredOutputs = []string{PinCNT}

// State is the derived operating mode.
type State string

const (
	StateOff     State = "OFF"
	StateCool    State = "COOL"
	StateHeat    State = "HEAT"
	StateDefrost State = "DEFROST"
	StateError   State = "ERROR"
	StateLowTemp State = "LOW_TEMP"
)

// Fault identifies a latched fault reported through the fault callback.
type Fault string

const (
	FaultLPS    Fault = "LPS"
	FaultRVFail Fault = "RV_FAIL"
)

// DefrostPhase is the defrost sub-state. Phases only advance in order.
type DefrostPhase string

const (
	PhaseNone       DefrostPhase = "NONE"
	PhaseActive     DefrostPhase = "ACTIVE"
	PhaseTransition DefrostPhase = "TRANSITION"
	PhaseCNTPending DefrostPhase = "CNT_PENDING"
	PhaseExiting    DefrostPhase = "EXITING"
)

// DefrostTrigger records what started a defrost cycle.
type DefrostTrigger string

const (
	TriggerNone     DefrostTrigger = ""
	TriggerHardware DefrostTrigger = "hardware"
	TriggerRuntime  DefrostTrigger = "runtime"
	TriggerManual   DefrostTrigger = "manual"
)

// Defrost exit reasons carried in EventDefrostEnd.Detail.
const (
	ExitNatural = "natural"
	ExitTimeout = "timeout"
)

// EventType names a log-worthy transition inside the controller.
type EventType string

const (
	EventYActive   EventType = "Y_ACTIVE"
	EventCNTArmed  EventType = "CNT_ARMED"
	EventYInactive EventType = "Y_INACTIVE"

	EventStartupLockoutEnd EventType = "STARTUP_LOCKOUT_END"

	EventLPSFault        EventType = "LPS_FAULT"
	EventLPSClear        EventType = "LPS_CLEAR"
	EventLowAmbient      EventType = "LOW_AMBIENT_LOCKOUT"
	EventLowAmbientClear EventType = "LOW_AMBIENT_CLEAR"
	EventOverTemp        EventType = "COMPRESSOR_OVERTEMP"
	EventOverTempClear   EventType = "COMPRESSOR_OVERTEMP_CLEAR"
	EventSuctionWarn     EventType = "SUCTION_WARN"
	EventSuctionWarnEnd  EventType = "SUCTION_WARN_CLEAR"
	EventSuctionCritical EventType = "SUCTION_CRITICAL"
	EventSuctionClear    EventType = "SUCTION_CRITICAL_CLEAR"
	EventShortCycle      EventType = "SHORT_CYCLE_DEFERRED"
	EventRVFail          EventType = "RV_FAIL"
	EventRVFailClear     EventType = "RV_FAIL_CLEAR"

	EventDefrostStart    EventType = "DEFROST_START"
	EventDefrostBlocked  EventType = "DEFROST_BLOCKED"
	EventDefrostRecheck  EventType = "DEFROST_RECHECK"
	EventDefrostEnd      EventType = "DEFROST_END"
	EventDefrostPhase    EventType = "DEFROST_PHASE"
	EventDefrostComplete EventType = "DEFROST_COMPLETE"

	EventOverrideOn      EventType = "OVERRIDE_ON"
	EventOverrideOff     EventType = "OVERRIDE_OFF"
	EventOverrideExpired EventType = "OVERRIDE_EXPIRED"

	EventOutputMismatch    EventType = "OUTPUT_MISMATCH"
	EventOutputError       EventType = "OUTPUT_ERROR"
	EventCompressorRunning EventType = "COMPRESSOR_RUNNING"
)

// Event is a transition report. Detail and Value carry event-specific
// context (a pin name, a trigger, a temperature, a duration in ms).
type Event struct {
	Tick   uint32
	Type   EventType
	Detail string
	Value  float64
}

// Errors returned by controller operations. They are routine results for
// operator commands, not program errors.
var (
	ErrNotStarted        = errors.New("controller not started")
	ErrAlreadyStarted    = errors.New("controller already started")
	ErrMissingPin        = errors.New("required pin not registered")
	ErrUnknownOutput     = errors.New("unknown output")
	ErrOverrideInactive  = errors.New("manual override not active")
	ErrAlreadyDefrosting = errors.New("defrost already in progress")
	ErrStartupLockout    = errors.New("startup lockout active")
	ErrDefrostBlocked    = errors.New("defrost blocked by active protection")
	ErrLPSInputActive    = errors.New("low-pressure switch still in fault")
)

// Config holds every threshold and delay. Temperatures are °F.
type Config struct {
	CNTDelay               time.Duration `yaml:"cnt_delay"`
	StartupLockout         time.Duration `yaml:"startup_lockout"`
	ShortCycleDelay        time.Duration `yaml:"short_cycle_delay"`
	DefrostMinRun          time.Duration `yaml:"defrost_min_run"`
	DefrostTimeout         time.Duration `yaml:"defrost_timeout"`
	DefrostTransitionDelay time.Duration `yaml:"defrost_transition_delay"`
	HeatRuntimeThreshold   time.Duration `yaml:"heat_runtime_threshold"`
	ManualOverrideTimeout  time.Duration `yaml:"manual_override_timeout"`
	RecheckInterval        time.Duration `yaml:"recheck_interval"`
	CompressorRunReport    time.Duration `yaml:"compressor_run_report"`

	DefrostExitTemp   float64 `yaml:"defrost_exit_temp"`
	AmbientLowTemp    float64 `yaml:"ambient_low_temp"`
	HighSuctionTemp   float64 `yaml:"high_suction_temp"`
	OverTempTrip      float64 `yaml:"overtemp_trip"`
	OverTempResume    float64 `yaml:"overtemp_resume"`
	SuctionWarnTemp   float64 `yaml:"suction_warn_temp"`
	SuctionCritical   float64 `yaml:"suction_critical_temp"`
	SuctionResumeTemp float64 `yaml:"suction_resume_temp"`
}

// DefaultConfig returns the manufacturer envelope defaults.
func DefaultConfig() Config {
	return Config{
		CNTDelay:               30 * time.Second,
		StartupLockout:         3 * time.Minute,
		ShortCycleDelay:        30 * time.Second,
		DefrostMinRun:          3 * time.Minute,
		DefrostTimeout:         15 * time.Minute,
		DefrostTransitionDelay: 30 * time.Second,
		HeatRuntimeThreshold:   90 * time.Minute,
		ManualOverrideTimeout:  30 * time.Minute,
		RecheckInterval:        time.Minute,
		CompressorRunReport:    15 * time.Minute,

		DefrostExitTemp:   60,
		AmbientLowTemp:    20,
		HighSuctionTemp:   140,
		OverTempTrip:      240,
		OverTempResume:    190,
		SuctionWarnTemp:   34,
		SuctionCritical:   32,
		SuctionResumeTemp: 40,
	}
}
