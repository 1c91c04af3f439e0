package pins

import (
	"fmt"
	"time"

	"github.com/sweeney/heatpump-controller/internal/clock"
)

// Line is the hardware side of an output. *gpiocdev.Line satisfies it.
type Line interface {
	SetValue(value int) error
	Value() (int, error)
}

// DefaultPWMPeriod is the software PWM window used for percent-on control.
const DefaultPWMPeriod = 10 * time.Second

type runtimeHook struct {
	every    uint32
	lastFire uint32
	fn       func(name string, onFor uint32)
}

// Output is a named relay or switch. Percent-on between 1 and 99 is
// rendered as a slow software PWM by Service.
type Output struct {
	name      string
	line      Line
	percent   uint8
	lineOn    bool
	everOn    bool
	changedAt uint32
	pwmPeriod uint32
	pwmStart  uint32
	hook      *runtimeHook
}

// NewOutput creates an output bound to line. A nil line makes a
// software-only output (useful for dry runs).
func NewOutput(name string, line Line) *Output {
	return &Output{name: name, line: line, pwmPeriod: clock.Ms(DefaultPWMPeriod)}
}

// Name returns the logical pin name.
func (o *Output) Name() string { return o.name }

// On reports whether the output is commanded on (any percent above zero).
func (o *Output) On() bool { return o.percent > 0 }

// Percent returns the commanded duty.
func (o *Output) Percent() uint8 { return o.percent }

// ChangedAt returns the tick of the last on/off change.
func (o *Output) ChangedAt() uint32 { return o.changedAt }

// OnFor returns how long the output has been on, or 0 while off.
func (o *Output) OnFor(now uint32) uint32 {
	if !o.On() {
		return 0
	}
	return clock.Elapsed(now, o.changedAt)
}

// OffFor returns how long the output has been off. ok is false while the
// output is on or if it has never been on since start.
func (o *Output) OffFor(now uint32) (d uint32, ok bool) {
	if o.On() || !o.everOn {
		return 0, false
	}
	return clock.Elapsed(now, o.changedAt), true
}

// Set switches the output fully on or off. It returns whether the
// commanded state changed and any line write error.
func (o *Output) Set(on bool, now uint32) (bool, error) {
	if on {
		return o.SetPercent(100, now)
	}
	return o.SetPercent(0, now)
}

// SetPercent commands a duty between 0 and 100.
func (o *Output) SetPercent(pct uint8, now uint32) (bool, error) {
	if pct > 100 {
		pct = 100
	}
	wasOn := o.On()
	o.percent = pct
	changed := wasOn != o.On()
	if changed {
		o.changedAt = now
		o.pwmStart = now
		if o.On() {
			o.everOn = true
			if o.hook != nil {
				o.hook.lastFire = now
			}
		}
	}
	return changed, o.drive(o.levelAt(now))
}

// SetRuntimeHook registers fn to be called from Service every `every` while
// the output stays on. onFor is the continuous on-time at the call.
func (o *Output) SetRuntimeHook(every time.Duration, fn func(name string, onFor uint32)) {
	o.hook = &runtimeHook{every: clock.Ms(every), lastFire: o.changedAt, fn: fn}
}

// Service advances software PWM and fires the runtime hook.
func (o *Output) Service(now uint32) error {
	if o.hook != nil && o.On() && o.hook.every > 0 && clock.HasElapsed(now, o.hook.lastFire, o.hook.every) {
		o.hook.lastFire = now
		o.hook.fn(o.name, o.OnFor(now))
	}
	return o.drive(o.levelAt(now))
}

// Reconcile reads the line back and rewrites it if hardware disagrees with
// the software state. It reports whether a mismatch was found.
func (o *Output) Reconcile() (bool, error) {
	if o.line == nil {
		return false, nil
	}
	v, err := o.line.Value()
	if err != nil {
		return false, fmt.Errorf("read %s: %w", o.name, err)
	}
	if (v != 0) == o.lineOn {
		return false, nil
	}
	if err := o.write(o.lineOn); err != nil {
		return true, err
	}
	return true, nil
}

func (o *Output) levelAt(now uint32) bool {
	switch {
	case o.percent == 0:
		return false
	case o.percent >= 100 || o.pwmPeriod == 0:
		return true
	}
	pos := clock.Elapsed(now, o.pwmStart) % o.pwmPeriod
	return pos < o.pwmPeriod*uint32(o.percent)/100
}

func (o *Output) drive(level bool) error {
	if level == o.lineOn {
		return nil
	}
	o.lineOn = level
	return o.write(level)
}

func (o *Output) write(level bool) error {
	if o.line == nil {
		return nil
	}
	v := 0
	if level {
		v = 1
	}
	if err := o.line.SetValue(v); err != nil {
		return fmt.Errorf("write %s: %w", o.name, err)
	}
	return nil
}
