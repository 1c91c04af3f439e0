// Package clock provides the wrapping millisecond tick source used for all
// controller timing. Ticks are uint32 and wrap after 2^32 ms (~49.7 days);
// durations must always be computed with Elapsed, never by comparing ticks.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current tick in milliseconds.
type Clock interface {
	NowMs() uint32
}

// Elapsed returns the milliseconds between since and now using modular
// arithmetic, so it stays correct across a counter wrap.
func Elapsed(now, since uint32) uint32 {
	return now - since
}

// HasElapsed reports whether at least d ms have passed since the given tick.
func HasElapsed(now, since, d uint32) bool {
	return Elapsed(now, since) >= d
}

// Remaining returns how many ms of a d-long window starting at since are left,
// or 0 if the window has closed.
func Remaining(now, since, d uint32) uint32 {
	e := Elapsed(now, since)
	if e >= d {
		return 0
	}
	return d - e
}

// Ms converts a duration to a tick count, saturating at the tick range.
func Ms(d time.Duration) uint32 {
	ms := d.Milliseconds()
	if ms <= 0 {
		return 0
	}
	if ms > int64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(ms)
}

// Real derives ticks from the process monotonic clock.
type Real struct {
	start time.Time
}

// NewReal creates a Real clock whose tick 0 is now.
func NewReal() *Real {
	return &Real{start: time.Now()}
}

// NowMs returns milliseconds since construction, truncated to 32 bits.
func (r *Real) NowMs() uint32 {
	return uint32(time.Since(r.start).Milliseconds())
}

// Fake is a manually advanced clock for tests.
type Fake struct {
	mu  sync.Mutex
	now uint32
}

// NewFake creates a Fake clock starting at the given tick.
func NewFake(start uint32) *Fake {
	return &Fake{now: start}
}

// NowMs returns the current fake tick.
func (f *Fake) NowMs() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward, wrapping like the real counter.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now += uint32(d.Milliseconds())
	f.mu.Unlock()
}

// Set jumps the clock to an absolute tick.
func (f *Fake) Set(tick uint32) {
	f.mu.Lock()
	f.now = tick
	f.mu.Unlock()
}
