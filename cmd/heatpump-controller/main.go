// Command heatpump-controller drives a heat-pump outdoor unit from the
// thermostat wires and publishes its state to MQTT and HTTP.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sweeney/heatpump-controller/internal/clock"
	"github.com/sweeney/heatpump-controller/internal/config"
	"github.com/sweeney/heatpump-controller/internal/control"
	"github.com/sweeney/heatpump-controller/internal/driver"
	"github.com/sweeney/heatpump-controller/internal/gpio"
	"github.com/sweeney/heatpump-controller/internal/mqtt"
	"github.com/sweeney/heatpump-controller/internal/pins"
	"github.com/sweeney/heatpump-controller/internal/sensor"
	"github.com/sweeney/heatpump-controller/internal/status"
	"github.com/sweeney/heatpump-controller/internal/store"
	"github.com/sweeney/heatpump-controller/internal/web"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	runE := func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		return run(cfg, newLogger(cfg.Log, os.Stderr))
	}

	root := &cobra.Command{
		Use:          "heatpump-controller",
		Short:        "Heat-pump outdoor unit controller",
		SilenceUsage: true,
		RunE:         runE,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", config.DefaultPath, "config file (YAML)")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the controller (default)",
		RunE:  runE,
	})
	root.AddCommand(&cobra.Command{
		Use:   "state",
		Short: "Print current inputs and temperatures and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			return printState(cmd.OutOrStdout(), cfg, newLogger(cfg.Log, io.Discard))
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			out, err := cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	return root
}

func newLogger(lc config.LogConfig, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	lvl, err := logrus.ParseLevel(lc.Level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	if lc.JSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

// lineSpecs turns the pin map into a name-sorted list of line specs.
// Analog inputs have no line and are skipped.
func lineSpecs(pinMap map[string]config.PinConfig) []gpio.LineSpec {
	names := make([]string, 0, len(pinMap))
	for name, pc := range pinMap {
		if pc.Analog == nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	specs := make([]gpio.LineSpec, 0, len(names))
	for _, name := range names {
		pc := pinMap[name]
		specs = append(specs, gpio.LineSpec{Name: name, Offset: pc.Line, ActiveLow: pc.ActiveLow})
	}
	return specs
}

// newInput builds the debounced input for one configured pin.
func newInput(name string, pc config.PinConfig) *pins.Input {
	if pc.Analog != nil {
		return pins.NewAnalogInput(name, pc.Debounce, pc.Analog.Threshold)
	}
	return pins.NewInput(name, pc.Debounce)
}

// analogSources maps sensor name to the analog input it drives.
func analogSources(inputs map[string]config.PinConfig) map[string]string {
	m := map[string]string{}
	for name, pc := range inputs {
		if pc.Analog != nil {
			m[pc.Analog.Sensor] = name
		}
	}
	return m
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	log := logger.WithField("component", "main")

	// Store first so the checkpoint is available before Begin.
	var st *store.Store
	if cfg.Store.Path != "" {
		if cfg.Store.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
				return fmt.Errorf("store dir: %w", err)
			}
		}
		var err error
		st, err = store.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("init store: %w", err)
		}
		defer st.Close()
	}

	clk := clock.NewReal()
	reg := pins.NewRegistry()
	edges := &pins.EdgeQueue{}

	bank, err := gpio.NewRealBank(cfg.GPIO.Chip, lineSpecs(cfg.GPIO.Inputs), lineSpecs(cfg.GPIO.Outputs),
		func(name string, level bool) { edges.Record(name, level, clk.NowMs()) })
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer bank.Close()

	ctrl := control.New(clk, reg, edges, cfg.Control)
	for name, pc := range cfg.GPIO.Inputs {
		if err := ctrl.RegisterInput(newInput(name, pc)); err != nil {
			return err
		}
	}
	for name := range cfg.GPIO.Outputs {
		line, _ := bank.Output(name)
		if err := ctrl.RegisterOutput(pins.NewOutput(name, line)); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := sensor.NewBus(cfg.Sensors.Dir, cfg.Sensors.Devices, logger.WithField("component", "sensor"))
	if ids, err := bus.Discover(); err != nil {
		log.WithError(err).Warn("1-wire bus not available")
	} else {
		log.WithFields(logrus.Fields{"found": ids, "configured": bus.Names()}).Info("1-wire devices")
	}
	readings := make(chan []sensor.Reading, 1)
	go sensor.Poll(ctx, bus, cfg.Sensors.Interval, readings)

	tracker := status.NewTracker(time.Now(), status.Config{
		PollMs:      cfg.PollInterval.Milliseconds(),
		HeartbeatMs: cfg.MQTT.Heartbeat.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		HTTPAddr:    cfg.HTTP.Addr,
		StorePath:   cfg.Store.Path,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	opts := driver.Options{
		Controller: ctrl,
		Registry:   reg,
		Bank:       bank,
		Clock:      clk,
		Edges:      edges,
		Tracker:    tracker,
		Readings:   readings,
		Analog:     analogSources(cfg.GPIO.Inputs),
		// Three missed polls before a sensor is treated as gone.
		SensorStale: 3 * cfg.Sensors.Interval,
		Network:     readNetworkInfo,
		Log:         logger.WithField("component", "driver"),
	}
	var faults web.FaultHistory
	if st != nil {
		opts.Store = st
		faults = st
	}
	drv := driver.New(opts)
	if err := drv.Restore(); err != nil {
		log.WithError(err).Warn("checkpoint restore failed, starting fresh")
	}

	var publisher mqtt.Publisher
	if cfg.MQTT.Broker != "" {
		pub := mqtt.NewRealPublisher(mqtt.Options{
			Broker:    cfg.MQTT.Broker,
			ClientID:  cfg.MQTT.ClientID,
			Topics:    mqtt.NewTopics(cfg.MQTT.TopicPrefix),
			OnCommand: drv.HandleMQTTCommand,
			Log:       logger.WithField("component", "mqtt"),
		})
		defer pub.Close()
		drv.SetPublisher(pub, pub)
		publisher = pub
	}

	if err := ctrl.Begin(); err != nil {
		return fmt.Errorf("start controller: %w", err)
	}

	// Publish startup event with full status snapshot
	tracker.Update(ctrl.Telemetry(), ctrl.Started())
	if publisher != nil {
		snap := tracker.Snapshot()
		startup := mqtt.SystemEvent{
			Timestamp:  snap.Now,
			Event:      "STARTUP",
			Retained:   true,
			RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
		}
		if err := publisher.PublishSystem(startup); err != nil {
			log.WithError(err).Warn("failed to publish startup event")
		} else {
			log.Info("published startup event")
		}
	}

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, drv, faults, logger.WithField("component", "web"))
		drv.SetHub(srv.Hub())
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("http server error")
			}
		}()
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutCtx)
		}()
		log.WithField("addr", cfg.HTTP.Addr).Info("http status server listening")
	}

	log.WithFields(logrus.Fields{
		"poll":      cfg.PollInterval,
		"broker":    cfg.MQTT.Broker,
		"heartbeat": cfg.MQTT.Heartbeat,
		"lockout":   cfg.Control.StartupLockout,
	}).Info("started")

	poll := time.NewTicker(cfg.PollInterval)
	defer poll.Stop()
	outputs := time.NewTicker(driver.DefaultOutputCheck)
	defer outputs.Stop()
	telemetry := time.NewTicker(driver.DefaultTelemetry)
	defer telemetry.Stop()

	ticks := driver.Ticks{
		Poll:        poll.C,
		OutputCheck: outputs.C,
		Telemetry:   telemetry.C,
	}
	if st != nil && cfg.Store.Checkpoint > 0 {
		t := time.NewTicker(cfg.Store.Checkpoint)
		defer t.Stop()
		ticks.Checkpoint = t.C
	}
	if publisher != nil && cfg.MQTT.Heartbeat > 0 {
		t := time.NewTicker(cfg.MQTT.Heartbeat)
		defer t.Stop()
		ticks.Heartbeat = t.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return drv.Run(ticks, sigCh)
}

// printState reads every input and configured sensor once.
func printState(w io.Writer, cfg *config.Config, logger *logrus.Logger) error {
	bank, err := gpio.NewRealBank(cfg.GPIO.Chip, lineSpecs(cfg.GPIO.Inputs), nil, nil)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer bank.Close()

	levels, err := bank.Read()
	if err != nil {
		return fmt.Errorf("read gpio: %w", err)
	}
	bus := sensor.NewBus(cfg.Sensors.Dir, cfg.Sensors.Devices, logger.WithField("component", "sensor"))
	fmt.Fprint(w, formatState(levels, bus.ReadAll()))
	return nil
}

func formatState(levels map[string]bool, readings []sensor.Reading) string {
	names := make([]string, 0, len(levels))
	for name := range levels {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, stateString(levels[name])))
	}
	b.WriteString(strings.Join(parts, ", "))
	b.WriteString("\n")
	for _, r := range readings {
		if r.Valid() {
			fmt.Fprintf(&b, "%s: %.1f°F\n", r.Name, r.Value)
		} else {
			fmt.Fprintf(&b, "%s: invalid (%v)\n", r.Name, r.Err)
		}
	}
	return b.String()
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

func stateString(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
