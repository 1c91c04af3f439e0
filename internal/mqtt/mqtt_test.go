package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/heatpump-controller/internal/control"
)

func TestNewTopics(t *testing.T) {
	topics := NewTopics("heatpump/")
	want := Topics{
		Events:    "heatpump/events",
		Faults:    "heatpump/faults",
		Telemetry: "heatpump/telemetry",
		System:    "heatpump/system",
		Command:   "heatpump/cmd/+",
	}
	if topics != want {
		t.Errorf("got %+v, want %+v", topics, want)
	}
}

func TestCommandKind(t *testing.T) {
	tests := map[string]string{
		"heatpump/cmd/defrost":  "defrost",
		"heatpump/cmd/override": "override",
		"defrost":               "defrost",
	}
	for topic, want := range tests {
		if got := CommandKind(topic); got != want {
			t.Errorf("CommandKind(%q): got %q, want %q", topic, got, want)
		}
	}
}

func TestFormatEventExactJSON(t *testing.T) {
	e := Event{
		Timestamp: time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC),
		Event:     control.Event{Type: control.EventDefrostEnd, Detail: control.ExitTimeout, Value: 900000},
		State:     control.StateDefrost,
	}

	payload, err := FormatEvent(e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"heatpump":{"timestamp":"2026-02-02T22:18:12Z","event":"DEFROST_END","state":"DEFROST","detail":"timeout","value":900000}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatEventOmitsEmptyDetail(t *testing.T) {
	e := Event{
		Timestamp: time.Now(),
		Event:     control.Event{Type: control.EventStartupLockoutEnd},
		State:     control.StateOff,
	}
	payload, err := FormatEvent(e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed map[string]map[string]any
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := parsed["heatpump"]["detail"]; ok {
		t.Error("detail should be omitted when empty")
	}
	if _, ok := parsed["heatpump"]["value"]; ok {
		t.Error("value should be omitted when zero")
	}
}

func TestFormatFault(t *testing.T) {
	payload, err := FormatFault(FaultEvent{
		Timestamp: time.Date(2026, 2, 3, 10, 30, 45, 0, time.UTC),
		Fault:     control.FaultLPS,
		Active:    true,
		State:     control.StateError,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := `{"fault":{"timestamp":"2026-02-03T10:30:45Z","fault":"LPS","active":true,"state":"ERROR"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatSystemPayloadExactJSON(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 3, 10, 30, 45, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "SIGTERM",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-02-03T10:30:45Z","event":"SHUTDOWN","reason":"SIGTERM"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(payload), expected)
	}
}

func TestFormatSystemPayloadOmitsReason(t *testing.T) {
	payload, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed map[string]map[string]any
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, exists := parsed["system"]["reason"]; exists {
		t.Error("reason field should be omitted when empty")
	}
}

func TestFormatSystemPayloadRaw(t *testing.T) {
	raw := []byte(`{"custom":true}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: "STARTUP", RawPayload: raw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != string(raw) {
		t.Errorf("expected raw payload passthrough, got %s", payload)
	}
}

func TestFakePublisher(t *testing.T) {
	f := NewFakePublisher()

	if err := f.PublishEvent(Event{Event: control.Event{Type: control.EventYActive}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.PublishFault(FaultEvent{Fault: control.FaultRVFail, Active: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.PublishTelemetry(control.Telemetry{State: control.StateHeat}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.PublishSystem(SystemEvent{Event: "HEARTBEAT"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := f.EventTypes(); len(got) != 1 || got[0] != control.EventYActive {
		t.Errorf("events: got %v", got)
	}
	if len(f.Faults) != 1 || f.Faults[0].Fault != control.FaultRVFail {
		t.Errorf("faults: got %v", f.Faults)
	}
	if len(f.Telemetry) != 1 || f.Telemetry[0].State != control.StateHeat {
		t.Errorf("telemetry: got %v", f.Telemetry)
	}
	if len(f.SystemPayloads) != 1 {
		t.Errorf("expected 1 system payload, got %d", len(f.SystemPayloads))
	}
}

func TestFakePublisherError(t *testing.T) {
	f := NewFakePublisher()
	f.PublishError = errors.New("simulated error")

	if err := f.PublishEvent(Event{}); err == nil {
		t.Error("expected error")
	}
	if err := f.PublishSystem(SystemEvent{Event: "SHUTDOWN"}); err == nil {
		t.Error("expected error")
	}
	if len(f.Events) != 0 || len(f.SystemEvents) != 0 {
		t.Error("nothing should be recorded on error")
	}
}

func TestFakePublisherReset(t *testing.T) {
	f := NewFakePublisher()
	f.PublishEvent(Event{})
	f.PublishSystem(SystemEvent{Event: "STARTUP"})
	f.Close()
	f.Connected = true
	f.PublishError = errors.New("error")

	f.Reset()

	if len(f.Events) != 0 || len(f.SystemEvents) != 0 || len(f.SystemPayloads) != 0 {
		t.Error("recorded messages should be cleared")
	}
	if f.Closed || f.Connected || f.PublishError != nil {
		t.Error("flags should be reset")
	}
}
