package coordinator

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursecast/internal/clock"
	"coursecast/internal/sharedstate"
)

func newTestEnv() (*sharedstate.Shared, *clock.Fake) {
	return sharedstate.NewShared(), clock.NewFake(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
}

// crash simulates a context dying without cleanup: its timers stop firing
// and it never releases the claim.
func crash(c *Coordinator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.state = stateStopped
}

func TestFirstContextBecomesActive(t *testing.T) {
	hub, clk := newTestEnv()
	c := New(hub.Attach(), clk, zerolog.Nop())

	demoted := false
	c.Start(func() { demoted = true })

	assert.True(t, c.Active())
	assert.False(t, demoted)
}

func TestSecondContextStandsByImmediately(t *testing.T) {
	hub, clk := newTestEnv()
	a := New(hub.Attach(), clk, zerolog.Nop())
	a.Start(nil)

	demotions := 0
	b := New(hub.Attach(), clk, zerolog.Nop())
	b.Start(func() { demotions++ })

	// B observes a fresh heartbeat and yields at once, not after a timeout.
	assert.True(t, a.Active())
	assert.False(t, b.Active())
	assert.Equal(t, 1, demotions)
}

func TestStartIsIdempotent(t *testing.T) {
	hub, clk := newTestEnv()
	c := New(hub.Attach(), clk, zerolog.Nop())

	calls := 0
	c.Start(func() { calls++ })
	c.Start(func() { calls += 100 })

	assert.True(t, c.Active())
	clk.Advance(10 * time.Second)
	assert.True(t, c.Active())
	assert.Equal(t, 0, calls)
}

func TestMutualExclusion(t *testing.T) {
	hub, clk := newTestEnv()

	var coords []*Coordinator
	for i := 0; i < 4; i++ {
		c := New(hub.Attach(), clk, zerolog.Nop())
		c.Start(nil)
		coords = append(coords, c)
		clk.Advance(6 * time.Second)
	}

	for step := 0; step < 20; step++ {
		active := 0
		for _, c := range coords {
			if c.Active() {
				active++
			}
		}
		assert.LessOrEqual(t, active, 1, "more than one active context")
		clk.Advance(time.Second)
	}
}

func TestDemotionOnForeignClaim(t *testing.T) {
	hub, clk := newTestEnv()
	a := New(hub.Attach(), clk, zerolog.Nop())

	demotions := 0
	a.Start(func() { demotions++ })
	require.True(t, a.Active())

	// Another context seizes the claim (takeover on login elsewhere).
	b := hub.Attach()
	require.NoError(t, b.Set(sharedstate.KeyActiveClaim, `{"owner":"intruder"}`))

	// The change notification demotes A immediately.
	assert.False(t, a.Active())
	assert.Equal(t, 1, demotions)

	// Repeated notifications and later ticks never fire the callback again.
	require.NoError(t, b.Set(sharedstate.KeyActiveClaim, `{"owner":"intruder"}`))
	clk.Advance(10 * time.Second)
	assert.Equal(t, 1, demotions)
}

func TestDemotedContextNeverReclaims(t *testing.T) {
	hub, clk := newTestEnv()
	a := New(hub.Attach(), clk, zerolog.Nop())
	a.Start(nil)

	other := hub.Attach()
	require.NoError(t, other.Set(sharedstate.KeyActiveClaim, `{"owner":"intruder"}`))
	require.False(t, a.Active())

	// The intruder never heartbeats, so its claim goes stale. A demoted
	// context still must not take it back.
	clk.Advance(time.Minute)
	assert.False(t, a.Active())
}

func TestAbandonedClaimRecovery(t *testing.T) {
	hub, clk := newTestEnv()

	// A starts at t=0, B at t=1s. A dies right after its t=8s heartbeat;
	// B may claim only once that heartbeat is older than the timeout, which
	// its t=15s check is the first to observe.
	a := New(hub.Attach(), clk, zerolog.Nop())
	a.Start(nil)

	clk.Advance(1 * time.Second) // t=1s
	b := New(hub.Attach(), clk, zerolog.Nop())
	b.Start(nil)
	require.False(t, b.Active(), "fresh heartbeat must park B immediately")

	clk.Advance(7 * time.Second) // t=8s: A's heartbeats landed at 2,4,6,8
	crash(a)

	clk.Advance(5 * time.Second) // t=13s: B's check sees age 5s, not yet expired
	assert.False(t, b.Active(), "claim must not be taken before the timeout")

	clk.Advance(2 * time.Second) // t=15s: B's check sees age 7s and takes over
	assert.True(t, b.Active(), "stale claim must be reclaimed after the timeout")
}

func TestPromotionCallback(t *testing.T) {
	hub, clk := newTestEnv()
	a := New(hub.Attach(), clk, zerolog.Nop())
	a.Start(nil)

	b := New(hub.Attach(), clk, zerolog.Nop())
	promoted := false
	b.OnPromoted = func() { promoted = true }
	b.Start(nil)

	crash(a)
	clk.Advance(10 * time.Second)

	assert.True(t, b.Active())
	assert.True(t, promoted)
}

func TestStopReleasesOwnClaimOnly(t *testing.T) {
	hub, clk := newTestEnv()
	a := New(hub.Attach(), clk, zerolog.Nop())
	a.Start(nil)
	require.True(t, a.Active())

	a.Stop()
	_, ok := hub.Attach().Get(sharedstate.KeyActiveClaim)
	assert.False(t, ok, "clean stop must release the claim")

	// A context that lost the claim must not delete the new owner's claim.
	b := New(hub.Attach(), clk, zerolog.Nop())
	b.Start(nil)
	require.True(t, b.Active())

	other := hub.Attach()
	require.NoError(t, other.Set(sharedstate.KeyActiveClaim, `{"owner":"intruder"}`))
	b.Stop()

	raw, ok := other.Get(sharedstate.KeyActiveClaim)
	require.True(t, ok)
	assert.Contains(t, raw, "intruder")
}

func TestNoCallbackAfterStop(t *testing.T) {
	hub, clk := newTestEnv()
	a := New(hub.Attach(), clk, zerolog.Nop())

	demotions := 0
	a.Start(func() { demotions++ })
	a.Stop()

	other := hub.Attach()
	require.NoError(t, other.Set(sharedstate.KeyActiveClaim, `{"owner":"intruder"}`))
	clk.Advance(time.Minute)
	assert.Equal(t, 0, demotions)
}

func TestCleanReleaseDoesNotAutoPromote(t *testing.T) {
	hub, clk := newTestEnv()
	a := New(hub.Attach(), clk, zerolog.Nop())
	a.Start(nil)

	clk.Advance(time.Second)
	b := New(hub.Attach(), clk, zerolog.Nop())
	b.Start(nil)
	require.False(t, b.Active())

	// A releases cleanly: the deletion itself promotes nobody. B only takes
	// over through its own periodic check of the now-unclaimed store.
	a.Stop()
	assert.False(t, b.Active())
	clk.Advance(2 * time.Second)
	assert.True(t, b.Active())
}

// failingStore forces every operation to fail, as when storage is disabled.
type failingStore struct{}

func (failingStore) Get(string) (string, bool)                              { return "", false }
func (failingStore) Set(string, string) error                               { return errors.New("storage disabled") }
func (failingStore) Delete(string) error                                    { return errors.New("storage disabled") }
func (failingStore) OnChange(string, sharedstate.ChangeFunc) (func())       { return func() {} }
func (failingStore) Close() error                                           { return nil }

func TestStorageFailureDegradesToActive(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	c := New(failingStore{}, clk, zerolog.Nop())

	demoted := false
	c.Start(func() { demoted = true })

	// Without working coordination a single context must still play.
	assert.True(t, c.Active())
	assert.False(t, demoted)
	clk.Advance(time.Minute)
	assert.True(t, c.Active())
}
