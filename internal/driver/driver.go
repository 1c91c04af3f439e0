// Package driver owns the controller on a single goroutine. It feeds it
// GPIO levels and temperature readings, runs the periodic tasks, applies
// operator commands and fans controller output out to MQTT, the status
// tracker, the websocket hub and the store.
package driver

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/heatpump-controller/internal/clock"
	"github.com/sweeney/heatpump-controller/internal/command"
	"github.com/sweeney/heatpump-controller/internal/control"
	"github.com/sweeney/heatpump-controller/internal/gpio"
	"github.com/sweeney/heatpump-controller/internal/mqtt"
	"github.com/sweeney/heatpump-controller/internal/pins"
	"github.com/sweeney/heatpump-controller/internal/sensor"
	"github.com/sweeney/heatpump-controller/internal/status"
	"github.com/sweeney/heatpump-controller/internal/store"
)

// Defaults for the periodic tasks.
const (
	DefaultOutputCheck    = time.Minute
	DefaultTelemetry      = time.Minute
	DefaultCommandTimeout = 5 * time.Second

	// faultHistoryKeep is how many fault rows survive a checkpoint prune.
	faultHistoryKeep = 1000
)

var (
	ErrStopped = errors.New("control loop stopped")
	ErrBusy    = errors.New("control loop busy")
)

// Store is the persistence the driver needs. *store.Store implements it.
type Store interface {
	SaveCheckpoint(heatRuntimeMs uint64, rvFail bool) error
	LoadCheckpoint() (store.Checkpoint, bool, error)
	RecordFault(rec store.FaultRecord) error
	PruneFaults(keep int) (int64, error)
}

// Broadcaster receives telemetry for live clients. *web.Hub implements it.
type Broadcaster interface {
	Broadcast(t control.Telemetry)
}

// Ticks are the timer channels driving Run. A nil channel disables its
// task.
type Ticks struct {
	Poll        <-chan time.Time
	OutputCheck <-chan time.Time
	Checkpoint  <-chan time.Time
	Heartbeat   <-chan time.Time
	Telemetry   <-chan time.Time
}

// Options wires a Driver. Controller, Registry, Bank and Clock are
// required and Clock must be the one the controller was built with. The
// other collaborators may be nil.
type Options struct {
	Controller *control.Controller
	Registry   *pins.Registry
	Bank       gpio.Bank
	Clock      clock.Clock
	// Edges is the queue the controller drains. Polled levels are queued
	// behind interrupt edges so every input sees samples in tick order.
	Edges *pins.EdgeQueue

	Publisher mqtt.Publisher
	MQTT      mqtt.ConnectionStatus
	Store     Store
	Tracker   *status.Tracker
	Hub       Broadcaster
	Readings  <-chan []sensor.Reading

	// Analog maps a sensor name to the analog input its readings drive.
	Analog map[string]string
	// SensorStale invalidates a sensor whose last reading is older than
	// this. Zero disables the check.
	SensorStale time.Duration

	// Now is the wall clock used for published timestamps.
	Now func() time.Time
	// Network refreshes network info for heartbeats.
	Network func() *status.NetworkInfo

	CommandTimeout time.Duration
	Log            *logrus.Entry
}

type request struct {
	cmd   command.Command
	reply chan error
}

// Driver runs the control loop.
type Driver struct {
	ctrl     *control.Controller
	reg      *pins.Registry
	edges    *pins.EdgeQueue
	bank     gpio.Bank
	clk      clock.Clock
	pub      mqtt.Publisher
	conn     mqtt.ConnectionStatus
	store    Store
	tracker  *status.Tracker
	hub      Broadcaster
	readings <-chan []sensor.Reading
	analog   map[string]string
	stale    uint32
	now      func() time.Time
	network  func() *status.NetworkInfo
	timeout  time.Duration
	log      *logrus.Entry

	requests chan request
	done     chan struct{}

	dirty     bool
	readFails int

	// pending holds callback notices until control returns to the loop.
	pending []notice
}

type noticeKind int

const (
	noticeEvent noticeKind = iota
	noticeFault
	noticeState
)

// notice is one controller callback, captured without doing any I/O.
type notice struct {
	kind   noticeKind
	at     time.Time
	state  control.State
	event  control.Event
	fault  control.Fault
	active bool
	from   control.State
}

// New creates a Driver and installs the controller callbacks. It must be
// called before the controller's first Update.
func New(o Options) *Driver {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = DefaultCommandTimeout
	}
	if o.Log == nil {
		o.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	d := &Driver{
		ctrl:     o.Controller,
		reg:      o.Registry,
		edges:    o.Edges,
		bank:     o.Bank,
		clk:      o.Clock,
		pub:      o.Publisher,
		conn:     o.MQTT,
		store:    o.Store,
		tracker:  o.Tracker,
		hub:      o.Hub,
		readings: o.Readings,
		analog:   o.Analog,
		stale:    clock.Ms(o.SensorStale),
		now:      o.Now,
		network:  o.Network,
		timeout:  o.CommandTimeout,
		log:      o.Log,
		requests: make(chan request),
		done:     make(chan struct{}),
	}
	d.ctrl.OnEvent(d.onEvent)
	d.ctrl.OnFault(d.onFault)
	d.ctrl.OnStateChange(d.onState)
	return d
}

// SetPublisher attaches the MQTT publisher after construction, for when
// the publisher's command handler needs the driver first. Call before Run.
func (d *Driver) SetPublisher(pub mqtt.Publisher, conn mqtt.ConnectionStatus) {
	d.pub = pub
	d.conn = conn
}

// SetHub attaches the live telemetry hub. Call before Run.
func (d *Driver) SetHub(h Broadcaster) { d.hub = h }

// Restore loads the last checkpoint into the controller. Call before
// Begin.
func (d *Driver) Restore() error {
	if d.store == nil {
		return nil
	}
	cp, ok, err := d.store.LoadCheckpoint()
	if err != nil {
		return err
	}
	if !ok {
		d.log.Info("no checkpoint, starting with zero heat runtime")
		return nil
	}
	d.ctrl.SetHeatRuntimeMs(cp.HeatRuntimeMs)
	d.ctrl.RestoreRVFail(cp.RVFail)
	d.log.WithFields(logrus.Fields{
		"heat_runtime": time.Duration(cp.HeatRuntimeMs) * time.Millisecond,
		"rv_fail":      cp.RVFail,
		"saved":        cp.UpdatedAt,
	}).Info("restored checkpoint")
	return nil
}

// Submit hands a command to the control loop and waits for its result.
// Safe to call from any goroutine.
func (d *Driver) Submit(cmd command.Command) error {
	req := request{cmd: cmd, reply: make(chan error, 1)}
	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case d.requests <- req:
	case <-d.done:
		return ErrStopped
	case <-timer.C:
		return ErrBusy
	}
	select {
	case err := <-req.reply:
		return err
	case <-d.done:
		return ErrStopped
	case <-timer.C:
		return ErrBusy
	}
}

// HandleMQTTCommand parses a message from the command topic and submits
// it. It is the mqtt.CommandFunc wired into the publisher.
func (d *Driver) HandleMQTTCommand(topic string, payload []byte) {
	kind := mqtt.CommandKind(topic)
	log := d.log.WithFields(logrus.Fields{"source": "mqtt", "command": kind})
	cmd, err := command.Parse(kind, payload)
	if err != nil {
		log.WithError(err).Warn("rejected command")
		return
	}
	if err := d.Submit(cmd); err != nil {
		log.WithError(err).Warn("command refused")
	}
}

// Run is the control loop. It returns after a signal arrives, once the
// checkpoint is saved and SHUTDOWN is published.
func (d *Driver) Run(t Ticks, sig <-chan os.Signal) error {
	defer close(d.done)
	d.publishTelemetry()

	for {
		select {
		case s := <-sig:
			d.shutdown(signalName(s))
			return nil

		case <-t.Poll:
			d.poll()

		case batch := <-d.readings:
			d.applyReadings(batch)

		case req := <-d.requests:
			req.reply <- d.apply(req.cmd)

		case <-t.OutputCheck:
			d.checkOutputs()

		case <-t.Checkpoint:
			d.checkpoint()
			d.pruneFaults()

		case <-t.Heartbeat:
			d.heartbeat()

		case <-t.Telemetry:
			d.publishTelemetry()
		}

		d.flush()
	}
}

// flush delivers any queued notices and publishes telemetry once per loop
// iteration if anything changed.
func (d *Driver) flush() {
	d.dispatch()
	if d.dirty {
		d.publishTelemetry()
	}
}

// checkOutputs reconciles output lines with their software state.
func (d *Driver) checkOutputs() {
	d.ctrl.CheckOutputs()
	d.dispatch()
}

func (d *Driver) poll() {
	levels, err := d.bank.Read()
	if err != nil {
		d.readFails++
		if d.readFails == 1 {
			d.log.WithError(err).Warn("gpio read failed")
		}
	} else {
		if d.readFails > 0 {
			d.log.WithField("failures", d.readFails).Info("gpio read recovered")
			d.readFails = 0
		}
		now := d.clk.NowMs()
		for name, level := range levels {
			if d.edges != nil {
				d.edges.Record(name, level, now)
			} else if in, ok := d.reg.Input(name); ok {
				in.Sample(level, now)
			}
		}
	}

	d.expireSensors()
	d.ctrl.Update()
	d.dispatch()

	if d.tracker != nil {
		d.tracker.Update(d.ctrl.Telemetry(), d.ctrl.Started())
		if d.conn != nil {
			d.tracker.SetMQTTConnected(d.conn.IsConnected())
		}
	}
}

// applyReadings pushes a sensor batch into the registry, registering
// sensors the first time they are seen.
func (d *Driver) applyReadings(batch []sensor.Reading) {
	now := d.clk.NowMs()
	for _, r := range batch {
		s, ok := d.reg.Sensor(r.Name)
		if !ok {
			s = pins.NewSensor(r.Name)
			if err := d.ctrl.RegisterSensor(s); err != nil {
				d.log.WithError(err).WithField("sensor", r.Name).Warn("register sensor")
				continue
			}
			d.log.WithField("sensor", r.Name).Info("sensor registered")
		}
		if !r.Valid() {
			s.Invalidate(now)
			continue
		}
		s.Update(r.Value, now)
		if name, ok := d.analog[r.Name]; ok {
			if in, ok := d.reg.Input(name); ok {
				in.SampleAnalog(r.Value, now)
			}
		}
	}
}

// expireSensors invalidates sensors that have stopped reporting.
func (d *Driver) expireSensors() {
	if d.stale == 0 {
		return
	}
	now := d.clk.NowMs()
	for _, name := range d.reg.SensorNames() {
		s, _ := d.reg.Sensor(name)
		if s.Valid() && clock.HasElapsed(now, s.UpdatedAt(), d.stale) {
			d.log.WithField("sensor", name).Warn("sensor stale, marking invalid")
			s.Invalidate(now)
		}
	}
}

func (d *Driver) apply(cmd command.Command) error {
	log := d.log.WithFields(logrus.Fields{"command": cmd.Kind})
	if cmd.Kind == command.KindOutput {
		log = log.WithFields(logrus.Fields{"output": cmd.Output, "on": cmd.On})
	}
	err := cmd.Apply(d.ctrl)
	d.dispatch()
	if err != nil {
		log.WithError(err).Info("command refused")
		return fmt.Errorf("%s: %w", cmd.Kind, err)
	}
	log.Info("command applied")
	switch cmd.Kind {
	case command.KindResetRuntime, command.KindClearRVFail:
		d.checkpoint()
	}
	d.dirty = true
	return nil
}

// The controller callbacks run inside Update and must not block, so they
// only queue a notice. dispatch does the logging, publishing and storage.

func (d *Driver) onEvent(e control.Event) {
	d.dirty = true
	d.pending = append(d.pending, notice{kind: noticeEvent, at: d.now(), state: d.ctrl.State(), event: e})
}

func (d *Driver) onFault(f control.Fault, active bool) {
	d.dirty = true
	d.pending = append(d.pending, notice{kind: noticeFault, at: d.now(), state: d.ctrl.State(), fault: f, active: active})
}

func (d *Driver) onState(from, to control.State) {
	d.dirty = true
	d.pending = append(d.pending, notice{kind: noticeState, at: d.now(), state: to, from: from})
}

// dispatch delivers queued notices in the order they were raised.
func (d *Driver) dispatch() {
	if len(d.pending) == 0 {
		return
	}
	queued := d.pending
	d.pending = nil
	for _, n := range queued {
		switch n.kind {
		case noticeEvent:
			d.deliverEvent(n)
		case noticeFault:
			d.deliverFault(n)
		case noticeState:
			d.log.WithFields(logrus.Fields{"from": n.from, "to": n.state}).Info("state change")
		}
	}
}

func (d *Driver) deliverEvent(n notice) {
	e := n.event
	entry := d.log.WithFields(logrus.Fields{
		"event": e.Type,
		"state": n.state,
	})
	if e.Detail != "" {
		entry = entry.WithField("detail", e.Detail)
	}
	if e.Value != 0 {
		entry = entry.WithField("value", e.Value)
	}
	if warnEvents[e.Type] {
		entry.Warn("controller event")
	} else {
		entry.Info("controller event")
	}

	if d.tracker != nil {
		d.tracker.RecordEvent(n.at, e)
	}
	if d.pub != nil {
		if err := d.pub.PublishEvent(mqtt.Event{Timestamp: n.at, Event: e, State: n.state}); err != nil {
			d.log.WithError(err).Debug("publish event")
		}
	}
}

func (d *Driver) deliverFault(n notice) {
	d.log.WithFields(logrus.Fields{"fault": n.fault, "active": n.active, "state": n.state}).Warn("fault")

	if d.pub != nil {
		if err := d.pub.PublishFault(mqtt.FaultEvent{Timestamp: n.at, Fault: n.fault, Active: n.active, State: n.state}); err != nil {
			d.log.WithError(err).Debug("publish fault")
		}
	}
	if d.store != nil {
		rec := store.FaultRecord{Fault: string(n.fault), Active: n.active, State: string(n.state)}
		if err := d.store.RecordFault(rec); err != nil {
			d.log.WithError(err).Warn("record fault")
		}
	}
	if n.fault == control.FaultRVFail {
		d.checkpoint()
	}
}

func (d *Driver) publishTelemetry() {
	d.dirty = false
	t := d.ctrl.Telemetry()
	if d.hub != nil {
		d.hub.Broadcast(t)
	}
	if d.pub != nil {
		if err := d.pub.PublishTelemetry(t); err != nil {
			d.log.WithError(err).Debug("publish telemetry")
		}
	}
}

func (d *Driver) checkpoint() {
	if d.store == nil {
		return
	}
	if err := d.store.SaveCheckpoint(d.ctrl.HeatRuntimeMs(), d.ctrl.RVFail()); err != nil {
		d.log.WithError(err).Warn("checkpoint failed")
		return
	}
	d.log.WithField("heat_runtime_ms", d.ctrl.HeatRuntimeMs()).Debug("checkpoint saved")
}

func (d *Driver) pruneFaults() {
	if d.store == nil {
		return
	}
	n, err := d.store.PruneFaults(faultHistoryKeep)
	if err != nil {
		d.log.WithError(err).Warn("prune fault history")
		return
	}
	if n > 0 {
		d.log.WithField("deleted", n).Debug("pruned fault history")
	}
}

func (d *Driver) heartbeat() {
	ev := mqtt.SystemEvent{Timestamp: d.now(), Event: "HEARTBEAT"}
	if d.tracker != nil {
		if d.network != nil {
			if net := d.network(); net != nil {
				d.tracker.SetNetwork(net)
			}
		}
		d.syncTracker()
		ev.RawPayload = status.FormatStatusEvent(d.tracker.Snapshot(), "HEARTBEAT", "")
	}
	d.log.WithFields(logrus.Fields{
		"state":           d.ctrl.State(),
		"heat_runtime_ms": d.ctrl.HeatRuntimeMs(),
	}).Info("heartbeat")
	if d.pub != nil {
		if err := d.pub.PublishSystem(ev); err != nil {
			d.log.WithError(err).Warn("heartbeat publish error")
		}
	}
}

func (d *Driver) shutdown(reason string) {
	d.log.WithField("signal", reason).Info("shutting down")
	d.checkpoint()

	ev := mqtt.SystemEvent{Timestamp: d.now(), Event: "SHUTDOWN", Reason: reason, Retained: true}
	if d.tracker != nil {
		d.syncTracker()
		ev.RawPayload = status.FormatStatusEvent(d.tracker.Snapshot(), "SHUTDOWN", reason)
	}
	if d.pub != nil {
		if err := d.pub.PublishSystem(ev); err != nil {
			d.log.WithError(err).Warn("failed to publish shutdown event")
		} else {
			d.log.Info("published shutdown event")
		}
	}
}

func (d *Driver) syncTracker() {
	d.tracker.Update(d.ctrl.Telemetry(), d.ctrl.Started())
	if d.conn != nil {
		d.tracker.SetMQTTConnected(d.conn.IsConnected())
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// warnEvents are logged at warning level.
var warnEvents = map[control.EventType]bool{
	control.EventLPSFault:        true,
	control.EventLowAmbient:      true,
	control.EventOverTemp:        true,
	control.EventSuctionWarn:     true,
	control.EventSuctionCritical: true,
	control.EventRVFail:          true,
	control.EventDefrostBlocked:  true,
	control.EventOverrideExpired: true,
	control.EventOutputMismatch:  true,
	control.EventOutputError:     true,
}
