// Package clock abstracts time behind an interface so every timer-driven
// state machine in the viewer can run against a controllable schedule in
// tests. Production code uses Real; tests use Fake and advance it by hand.
package clock

import "time"

// Clock provides the current time and one-shot timers.
type Clock interface {
	Now() time.Time
	// AfterFunc schedules fn to run once after d and returns the pending timer.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a pending callback scheduled through a Clock.
type Timer interface {
	// Stop cancels the timer. It reports whether the call prevented the
	// callback from running.
	Stop() bool
}

type realClock struct{}

// Real returns a Clock backed by the system time.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return realTimer{time.AfterFunc(d, fn)}
}

type realTimer struct{ t *time.Timer }

func (t realTimer) Stop() bool { return t.t.Stop() }
