package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeFiresInOrder(t *testing.T) {
	f := NewFake(time.Unix(0, 0))

	var fired []string
	f.AfterFunc(3*time.Second, func() { fired = append(fired, "c") })
	f.AfterFunc(1*time.Second, func() { fired = append(fired, "a") })
	f.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })

	f.Advance(5 * time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, fired)
	assert.Equal(t, time.Unix(5, 0), f.Now())
}

func TestFakeStopPreventsFiring(t *testing.T) {
	f := NewFake(time.Unix(0, 0))

	fired := false
	timer := f.AfterFunc(time.Second, func() { fired = true })
	assert.True(t, timer.Stop())

	f.Advance(time.Minute)
	assert.False(t, fired)
	assert.False(t, timer.Stop(), "second stop reports nothing prevented")
}

func TestFakeCallbackMaySchedule(t *testing.T) {
	f := NewFake(time.Unix(0, 0))

	var at []time.Time
	var tick func()
	tick = func() {
		at = append(at, f.Now())
		f.AfterFunc(2*time.Second, tick)
	}
	f.AfterFunc(2*time.Second, tick)

	f.Advance(7 * time.Second)
	assert.Equal(t, []time.Time{time.Unix(2, 0), time.Unix(4, 0), time.Unix(6, 0)}, at)
}

func TestFakeNowDuringCallback(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	f.AfterFunc(3*time.Second, func() {
		assert.Equal(t, time.Unix(3, 0), f.Now())
	})
	f.Advance(10 * time.Second)
}
