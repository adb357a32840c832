// Package clock abstracts the timers used by the rename cooldown and the
// vote deadline so tests can drive them deterministically.
package clock

import "time"

// Clock is the subset of the time package the engines depend on.
// Production code uses Real(); tests use Fake().
type Clock interface {
	Now() time.Time

	// AfterFunc calls f in its own goroutine (Real) or synchronously
	// during Advance (Fake) once d has elapsed.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a handle to a scheduled callback.
type Timer struct {
	stop func() bool
}

// Stop cancels the callback. It reports false when the callback has
// already run or the timer was already stopped.
func (t *Timer) Stop() bool {
	if t == nil || t.stop == nil {
		return false
	}
	return t.stop()
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	timer := time.AfterFunc(d, f)
	return &Timer{stop: timer.Stop}
}
