package sensor

import "sync"

// FakeReader returns preset readings for testing.
type FakeReader struct {
	mu       sync.Mutex
	readings []Reading
	calls    int
}

// Set replaces the readings returned by ReadAll.
func (f *FakeReader) Set(readings ...Reading) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readings = append([]Reading(nil), readings...)
}

// ReadAll returns a copy of the preset readings.
func (f *FakeReader) ReadAll() []Reading {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return append([]Reading(nil), f.readings...)
}

// Calls returns how many times ReadAll has been called.
func (f *FakeReader) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
