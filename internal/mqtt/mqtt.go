// Package mqtt publishes controller events and telemetry to an MQTT broker
// and receives operator commands from it.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/sweeney/heatpump-controller/internal/control"
)

// Topics holds the topic names derived from a prefix.
type Topics struct {
	Events    string // controller events, QoS 0
	Faults    string // LPS / RV-fail edges, QoS 1
	Telemetry string // retained status snapshot
	System    string // STARTUP, SHUTDOWN, HEARTBEAT, OFFLINE
	Command   string // subscription filter, prefix/cmd/<kind>
}

// NewTopics builds the topic set under prefix (e.g. "heatpump").
func NewTopics(prefix string) Topics {
	prefix = strings.TrimSuffix(prefix, "/")
	return Topics{
		Events:    prefix + "/events",
		Faults:    prefix + "/faults",
		Telemetry: prefix + "/telemetry",
		System:    prefix + "/system",
		Command:   prefix + "/cmd/+",
	}
}

// CommandKind returns the <kind> segment of a command topic.
func CommandKind(topic string) string {
	i := strings.LastIndex(topic, "/")
	return topic[i+1:]
}

// Publisher publishes to MQTT.
type Publisher interface {
	// PublishEvent sends a controller event.
	// Returns error if publishing fails (should not crash the process).
	PublishEvent(event Event) error

	// PublishFault sends a fault edge.
	PublishFault(fault FaultEvent) error

	// PublishTelemetry sends the retained status snapshot.
	PublishTelemetry(t control.Telemetry) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Event is a controller event stamped with wall-clock time and the mode
// at the moment it fired.
type Event struct {
	Timestamp time.Time
	Event     control.Event
	State     control.State
}

// FaultEvent is a fault activation or clearance.
type FaultEvent struct {
	Timestamp time.Time
	Fault     control.Fault
	Active    bool
	State     control.State
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// EventPayload is the JSON body published on the events topic.
type EventPayload struct {
	HeatPump EventInner `json:"heatpump"`
}

type EventInner struct {
	Timestamp string  `json:"timestamp"`
	Event     string  `json:"event"`
	State     string  `json:"state"`
	Detail    string  `json:"detail,omitempty"`
	Value     float64 `json:"value,omitempty"`
}

// FormatEvent creates the JSON payload for a controller event.
func FormatEvent(e Event) ([]byte, error) {
	return json.Marshal(EventPayload{
		HeatPump: EventInner{
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
			Event:     string(e.Event.Type),
			State:     string(e.State),
			Detail:    e.Event.Detail,
			Value:     e.Event.Value,
		},
	})
}

// FaultPayload is the JSON body published on the faults topic.
type FaultPayload struct {
	Fault FaultInner `json:"fault"`
}

type FaultInner struct {
	Timestamp string `json:"timestamp"`
	Fault     string `json:"fault"`
	Active    bool   `json:"active"`
	State     string `json:"state"`
}

// FormatFault creates the JSON payload for a fault edge.
func FormatFault(f FaultEvent) ([]byte, error) {
	return json.Marshal(FaultPayload{
		Fault: FaultInner{
			Timestamp: f.Timestamp.UTC().Format(time.RFC3339),
			Fault:     string(f.Fault),
			Active:    f.Active,
			State:     string(f.State),
		},
	})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
