package pins

// FakeLine is an in-memory Line for tests.
type FakeLine struct {
	// Level is the current hardware value.
	Level int

	// Writes counts SetValue calls.
	Writes int

	// WriteError, if set, is returned by SetValue.
	WriteError error

	// ReadError, if set, is returned by Value.
	ReadError error
}

// SetValue records the written value.
func (f *FakeLine) SetValue(value int) error {
	if f.WriteError != nil {
		return f.WriteError
	}
	f.Writes++
	f.Level = value
	return nil
}

// Value returns the current hardware value.
func (f *FakeLine) Value() (int, error) {
	if f.ReadError != nil {
		return 0, f.ReadError
	}
	return f.Level, nil
}
