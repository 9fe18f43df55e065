package clock

import (
	"sync"
	"time"
)

// Fake is a manually advanced Clock. Timer callbacks run synchronously on
// the goroutine calling Advance, in due order, which matches the cooperative
// single-threaded scheduling model the viewer components assume.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	pending []*fakeTimer
}

// NewFake returns a Fake positioned at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTimer{clock: f, at: f.now.Add(d), seq: f.seq, fn: fn}
	f.pending = append(f.pending, t)
	return t
}

// Advance moves the clock forward by d, firing every timer that comes due.
// Callbacks may schedule further timers; those fire as well when they fall
// inside the window.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	for {
		t := f.popDueLocked(target)
		if t == nil {
			break
		}
		if t.at.After(f.now) {
			f.now = t.at
		}
		fn := t.fn
		f.mu.Unlock()
		fn()
		f.mu.Lock()
	}
	f.now = target
	f.mu.Unlock()
}

// popDueLocked removes and returns the earliest live timer at or before
// target, or nil when none is due.
func (f *Fake) popDueLocked(target time.Time) *fakeTimer {
	best := -1
	for i, t := range f.pending {
		if t.stopped || t.at.After(target) {
			continue
		}
		if best == -1 {
			best = i
			continue
		}
		b := f.pending[best]
		if t.at.Before(b.at) || (t.at.Equal(b.at) && t.seq < b.seq) {
			best = i
		}
	}
	if best == -1 {
		return nil
	}
	t := f.pending[best]
	f.pending = append(f.pending[:best], f.pending[best+1:]...)
	return t
}

type fakeTimer struct {
	clock   *Fake
	at      time.Time
	seq     int
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	for _, p := range t.clock.pending {
		if p == t {
			return true
		}
	}
	return false
}
