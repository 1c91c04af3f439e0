package mqtt

import (
	"sync"

	"github.com/sweeney/heatpump-controller/internal/control"
)

// FakePublisher records published messages for test assertions.
type FakePublisher struct {
	mu sync.Mutex

	// Events contains all controller events that were published.
	Events []Event

	// Faults contains all fault edges that were published.
	Faults []FaultEvent

	// Telemetry contains every published snapshot.
	Telemetry []control.Telemetry

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, will be returned by every Publish method.
	PublishError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishEvent records the controller event.
func (f *FakePublisher) PublishEvent(e Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Events = append(f.Events, e)
	return nil
}

// PublishFault records the fault edge.
func (f *FakePublisher) PublishFault(fe FaultEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Faults = append(f.Faults, fe)
	return nil
}

// PublishTelemetry records the snapshot.
func (f *FakePublisher) PublishTelemetry(t control.Telemetry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Telemetry = append(f.Telemetry, t)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}

	f.SystemEvents = append(f.SystemEvents, event)

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemPayloads = append(f.SystemPayloads, payload)

	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// EventTypes returns the types of the recorded events in order.
func (f *FakePublisher) EventTypes() []control.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]control.EventType, len(f.Events))
	for i, e := range f.Events {
		out[i] = e.Event.Type
	}
	return out
}

// Reset clears recorded messages.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Events = nil
	f.Faults = nil
	f.Telemetry = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishError = nil
	f.Connected = false
}
