package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/heatpump-controller/internal/control"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string            `json:"event,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	State         string            `json:"state"`
	Ready         bool              `json:"ready"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	StartTime     string            `json:"start_time"`
	Timestamp     string            `json:"timestamp"`
	MQTT          MQTTStatus        `json:"mqtt"`
	Controller    control.Telemetry `json:"controller"`
	RecentEvents  []EventJSON       `json:"recent_events,omitempty"`
	Network       *NetworkJSON      `json:"network,omitempty"`
	Config        ConfigJSON        `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// EventJSON is the JSON representation of a recent controller event.
type EventJSON struct {
	Time   string  `json:"time"`
	Event  string  `json:"event"`
	Detail string  `json:"detail,omitempty"`
	Value  float64 `json:"value,omitempty"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs      int64  `json:"poll_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	TopicPrefix string `json:"topic_prefix"`
	HTTPAddr    string `json:"http_addr"`
	StorePath   string `json:"store_path,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	state := string(snap.Telemetry.State)
	if state == "" || !snap.Started {
		state = "UNKNOWN"
	}

	inner := StatusInner{
		State:         state,
		Ready:         snap.Started && !snap.Telemetry.StartupLockout,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Controller:    snap.Telemetry,
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			TopicPrefix: snap.Config.TopicPrefix,
			HTTPAddr:    snap.Config.HTTPAddr,
			StorePath:   snap.Config.StorePath,
		},
	}
	for _, e := range snap.Events {
		inner.RecentEvents = append(inner.RecentEvents, EventJSON{
			Time:   e.Time.UTC().Format(time.RFC3339),
			Event:  string(e.Type),
			Detail: e.Detail,
			Value:  e.Value,
		})
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
// Recent events are left out to keep retained payloads small.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	inner.RecentEvents = nil
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
