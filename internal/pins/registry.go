package pins

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrDuplicate is returned when a name is registered twice.
var ErrDuplicate = errors.New("pin already registered")

// Registry owns every input, output and sensor handle by name. The
// controller borrows it for its lifetime; registration happens before
// Begin and sensor re-discovery happens on the driver goroutine.
type Registry struct {
	inputs  map[string]*Input
	outputs map[string]*Output
	sensors map[string]*Sensor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		inputs:  make(map[string]*Input),
		outputs: make(map[string]*Output),
		sensors: make(map[string]*Sensor),
	}
}

// AddInput registers an input under its name.
func (r *Registry) AddInput(in *Input) error {
	if _, ok := r.inputs[in.Name()]; ok {
		return fmt.Errorf("input %q: %w", in.Name(), ErrDuplicate)
	}
	r.inputs[in.Name()] = in
	return nil
}

// AddOutput registers an output under its name.
func (r *Registry) AddOutput(out *Output) error {
	if _, ok := r.outputs[out.Name()]; ok {
		return fmt.Errorf("output %q: %w", out.Name(), ErrDuplicate)
	}
	r.outputs[out.Name()] = out
	return nil
}

// AddSensor registers a sensor under its name.
func (r *Registry) AddSensor(s *Sensor) error {
	if _, ok := r.sensors[s.Name()]; ok {
		return fmt.Errorf("sensor %q: %w", s.Name(), ErrDuplicate)
	}
	r.sensors[s.Name()] = s
	return nil
}

// Input looks up an input by name.
func (r *Registry) Input(name string) (*Input, bool) {
	in, ok := r.inputs[name]
	return in, ok
}

// Output looks up an output by name.
func (r *Registry) Output(name string) (*Output, bool) {
	out, ok := r.outputs[name]
	return out, ok
}

// Sensor looks up a sensor by name.
func (r *Registry) Sensor(name string) (*Sensor, bool) {
	s, ok := r.sensors[name]
	return s, ok
}

// InputNames returns registered input names in sorted order.
func (r *Registry) InputNames() []string { return sortedKeys(r.inputs) }

// OutputNames returns registered output names in sorted order.
func (r *Registry) OutputNames() []string { return sortedKeys(r.outputs) }

// SensorNames returns registered sensor names in sorted order.
func (r *Registry) SensorNames() []string { return sortedKeys(r.sensors) }

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Edge is a level change captured by an interrupt handler.
type Edge struct {
	Name  string
	Level bool
	Tick  uint32
}

// EdgeQueue collects edges from interrupt context. Record does the minimum
// (append under a mutex); the controller drains it on its own goroutine.
type EdgeQueue struct {
	mu    sync.Mutex
	edges []Edge
}

// Record stores an edge. Safe to call from any goroutine.
func (q *EdgeQueue) Record(name string, level bool, tick uint32) {
	q.mu.Lock()
	q.edges = append(q.edges, Edge{Name: name, Level: level, Tick: tick})
	q.mu.Unlock()
}

// Drain returns pending edges in arrival order and empties the queue.
func (q *EdgeQueue) Drain() []Edge {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.edges) == 0 {
		return nil
	}
	out := q.edges
	q.edges = nil
	return out
}
