// Package status provides a thread-safe status tracker for the heat-pump
// controller. The control loop writes it; HTTP handlers and system events
// read it.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/heatpump-controller/internal/control"
)

// maxRecentEvents bounds the event list kept for the status page.
const maxRecentEvents = 20

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	PollMs      int64
	HeartbeatMs int64
	Broker      string
	TopicPrefix string
	HTTPAddr    string
	StorePath   string
}

// EventRecord is a controller event with its wall-clock time.
type EventRecord struct {
	Time   time.Time
	Type   control.EventType
	Detail string
	Value  float64
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Telemetry     control.Telemetry
	Started       bool
	Events        []EventRecord // newest first
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update stores the latest controller telemetry. Called from the control
// loop after every pass.
func (t *Tracker) Update(tel control.Telemetry, started bool) {
	t.mu.Lock()
	t.snap.Telemetry = tel
	t.snap.Started = started
	t.mu.Unlock()
}

// RecordEvent prepends a controller event, dropping the oldest beyond
// maxRecentEvents.
func (t *Tracker) RecordEvent(at time.Time, e control.Event) {
	rec := EventRecord{Time: at, Type: e.Type, Detail: e.Detail, Value: e.Value}
	t.mu.Lock()
	events := make([]EventRecord, 0, maxRecentEvents)
	events = append(events, rec)
	for _, old := range t.snap.Events {
		if len(events) == maxRecentEvents {
			break
		}
		events = append(events, old)
	}
	t.snap.Events = events
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
