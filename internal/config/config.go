// Package config loads the controller configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/heatpump-controller/internal/control"
)

// DefaultPath is where the service looks for its config file.
const DefaultPath = "/etc/heatpump-controller/config.yaml"

// Config holds the full service configuration.
type Config struct {
	PollInterval time.Duration `yaml:"poll_interval" json:"pollInterval"`

	GPIO    GPIOConfig     `yaml:"gpio" json:"gpio"`
	Sensors SensorsConfig  `yaml:"sensors" json:"sensors"`
	Control control.Config `yaml:"control" json:"control"`
	MQTT    MQTTConfig     `yaml:"mqtt" json:"mqtt"`
	HTTP    HTTPConfig     `yaml:"http" json:"http"`
	Store   StoreConfig    `yaml:"store" json:"store"`
	Log     LogConfig      `yaml:"log" json:"log"`
}

// PinConfig maps a logical pin to a GPIO line offset. An input with Analog
// set has no line and is derived from a sensor reading instead.
type PinConfig struct {
	Line      int           `yaml:"line" json:"line"`
	ActiveLow bool          `yaml:"active_low" json:"activeLow"`
	Debounce  time.Duration `yaml:"debounce,omitempty" json:"debounce,omitempty"`
	Analog    *AnalogConfig `yaml:"analog,omitempty" json:"analog,omitempty"`
}

// AnalogConfig drives an input from a named sensor: active while the
// reading is at or above Threshold.
type AnalogConfig struct {
	Sensor    string  `yaml:"sensor" json:"sensor"`
	Threshold float64 `yaml:"threshold" json:"threshold"`
}

type GPIOConfig struct {
	Chip    string               `yaml:"chip" json:"chip"`
	Inputs  map[string]PinConfig `yaml:"inputs" json:"inputs"`
	Outputs map[string]PinConfig `yaml:"outputs" json:"outputs"`
}

// SensorsConfig maps 1-wire device ids (e.g. "28-0316a2795aff") to sensor
// names. Devices found on the bus but not listed are ignored.
type SensorsConfig struct {
	Dir      string            `yaml:"dir" json:"dir"`
	Interval time.Duration     `yaml:"interval" json:"interval"`
	Devices  map[string]string `yaml:"devices" json:"devices"`
}

type MQTTConfig struct {
	Broker      string        `yaml:"broker" json:"broker"` // empty disables MQTT
	ClientID    string        `yaml:"client_id" json:"clientId"`
	TopicPrefix string        `yaml:"topic_prefix" json:"topicPrefix"`
	Heartbeat   time.Duration `yaml:"heartbeat" json:"heartbeat"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr" json:"addr"` // empty disables the status server
}

type StoreConfig struct {
	Path       string        `yaml:"path" json:"path"` // empty disables persistence
	Checkpoint time.Duration `yaml:"checkpoint" json:"checkpoint"`
}

type LogConfig struct {
	Level string `yaml:"level" json:"level"`
	JSON  bool   `yaml:"json" json:"json"`
}

// DefaultConfig returns a config with the stock wiring of the controller
// board and the manufacturer's control envelope.
func DefaultConfig() *Config {
	return &Config{
		PollInterval: 100 * time.Millisecond,
		GPIO: GPIOConfig{
			Chip: "gpiochip0",
			Inputs: map[string]PinConfig{
				control.PinLPS: {Line: 17, Debounce: 250 * time.Millisecond},
				control.PinDFT: {Line: 27, Debounce: 250 * time.Millisecond},
				control.PinY:   {Line: 22, Debounce: 250 * time.Millisecond},
				control.PinO:   {Line: 23, Debounce: 250 * time.Millisecond},
			},
			Outputs: map[string]PinConfig{
				control.PinCNT: {Line: 5},
				control.PinRV:  {Line: 6},
				control.PinW:   {Line: 13},
				control.PinFAN: {Line: 19},
			},
		},
		Sensors: SensorsConfig{
			Dir:      "/sys/bus/w1/devices",
			Interval: 5 * time.Second,
			Devices:  map[string]string{},
		},
		Control: control.DefaultConfig(),
		MQTT: MQTTConfig{
			Broker:      "tcp://192.168.1.200:1883",
			ClientID:    "heatpump-controller",
			TopicPrefix: "heatpump",
			Heartbeat:   15 * time.Minute,
		},
		HTTP: HTTPConfig{Addr: ":80"},
		Store: StoreConfig{
			Path:       "/var/lib/heatpump-controller/state.db",
			Checkpoint: 5 * time.Minute,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads config from a YAML file and applies environment overrides. A
// missing file yields the defaults; a malformed one is an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Environment overrides.
const (
	EnvBroker   = "HP_BROKER"
	EnvHTTP     = "HP_HTTP"
	EnvLogLevel = "HP_LOG_LEVEL"
	EnvDB       = "HP_DB"
	EnvPollMs   = "HP_POLL_MS"
)

func (c *Config) applyEnvOverrides() {
	if v, ok := os.LookupEnv(EnvBroker); ok {
		c.MQTT.Broker = v
	}
	if v, ok := os.LookupEnv(EnvHTTP); ok {
		c.HTTP.Addr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v, ok := os.LookupEnv(EnvDB); ok {
		c.Store.Path = v
	}
	if v := os.Getenv(EnvPollMs); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.PollInterval = time.Duration(n) * time.Millisecond
		}
	}
}

// Validate checks the wiring and threshold ordering.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %v", c.PollInterval)
	}
	for _, name := range control.RequiredInputs {
		if _, ok := c.GPIO.Inputs[name]; !ok {
			return fmt.Errorf("gpio.inputs: missing required pin %s", name)
		}
	}
	for _, name := range control.RequiredOutputs {
		if _, ok := c.GPIO.Outputs[name]; !ok {
			return fmt.Errorf("gpio.outputs: missing required pin %s", name)
		}
	}

	for name, p := range c.GPIO.Outputs {
		if p.Analog != nil {
			return fmt.Errorf("gpio: output %s cannot be analog", name)
		}
	}
	used := map[int]string{}
	for _, pins := range []map[string]PinConfig{c.GPIO.Inputs, c.GPIO.Outputs} {
		for name, p := range pins {
			if p.Analog != nil {
				if p.Analog.Sensor == "" {
					return fmt.Errorf("gpio: analog input %s needs a sensor", name)
				}
				continue
			}
			if p.Line < 0 {
				return fmt.Errorf("gpio: pin %s has negative line %d", name, p.Line)
			}
			if other, ok := used[p.Line]; ok {
				return fmt.Errorf("gpio: line %d used by both %s and %s", p.Line, other, name)
			}
			used[p.Line] = name
		}
	}

	ctl := c.Control
	if ctl.OverTempResume >= ctl.OverTempTrip {
		return fmt.Errorf("control: overtemp_resume (%v) must be below overtemp_trip (%v)", ctl.OverTempResume, ctl.OverTempTrip)
	}
	if !(ctl.SuctionCritical <= ctl.SuctionWarnTemp && ctl.SuctionWarnTemp < ctl.SuctionResumeTemp) {
		return fmt.Errorf("control: suction thresholds must satisfy critical <= warn < resume, got %v/%v/%v",
			ctl.SuctionCritical, ctl.SuctionWarnTemp, ctl.SuctionResumeTemp)
	}
	if ctl.DefrostMinRun > ctl.DefrostTimeout {
		return fmt.Errorf("control: defrost_min_run (%v) exceeds defrost_timeout (%v)", ctl.DefrostMinRun, ctl.DefrostTimeout)
	}
	if ctl.RecheckInterval <= 0 {
		return fmt.Errorf("control: recheck_interval must be positive")
	}
	if c.Sensors.Interval <= 0 {
		return fmt.Errorf("sensors.interval must be positive")
	}
	return nil
}

// Marshal renders the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
