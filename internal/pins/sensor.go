package pins

// Sensor is a named temperature reading (°F) published by the acquisition
// layer and read by the controller.
type Sensor struct {
	name      string
	value     float64
	valid     bool
	updatedAt uint32
}

// NewSensor creates a sensor with no valid reading.
func NewSensor(name string) *Sensor {
	return &Sensor{name: name}
}

// Name returns the sensor key.
func (s *Sensor) Name() string { return s.name }

// Update stores a new valid reading.
func (s *Sensor) Update(value float64, now uint32) {
	s.value = value
	s.valid = true
	s.updatedAt = now
}

// Invalidate marks the sensor as not currently readable. The last value is
// kept for display but Value reports it as invalid.
func (s *Sensor) Invalidate(now uint32) {
	s.valid = false
	s.updatedAt = now
}

// Value returns the last reading and whether it is currently valid.
func (s *Sensor) Value() (float64, bool) { return s.value, s.valid }

// Valid reports whether the last acquisition succeeded.
func (s *Sensor) Valid() bool { return s.valid }

// UpdatedAt returns the tick of the last Update or Invalidate.
func (s *Sensor) UpdatedAt() uint32 { return s.updatedAt }
