package liveness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"coursecast/internal/clock"
	"coursecast/internal/viewer/api"
)

type fakePinger struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (f *fakePinger) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	return nil
}

func (f *fakePinger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestPingsImmediatelyAndOnInterval(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	p := &fakePinger{}
	m := New(p, clk, zerolog.Nop())

	m.Start()
	clk.Advance(0)
	assert.Equal(t, 1, p.count(), "one ping right at start")

	clk.Advance(PingInterval - time.Second)
	assert.Equal(t, 1, p.count())

	clk.Advance(time.Second)
	assert.Equal(t, 2, p.count())

	clk.Advance(2 * PingInterval)
	assert.Equal(t, 4, p.count())
}

func TestStartWhileRunningIsNoOp(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	p := &fakePinger{}
	m := New(p, clk, zerolog.Nop())

	m.Start()
	m.Start()
	clk.Advance(0)
	assert.Equal(t, 1, p.count())
}

func TestNetworkFailureIsSwallowed(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	p := &fakePinger{errs: []error{fmt.Errorf("dial tcp: %w", errors.New("refused"))}}
	m := New(p, clk, zerolog.Nop())

	m.Start()
	clk.Advance(0)

	// The failed ping changes nothing; the loop keeps going.
	clk.Advance(PingInterval)
	assert.Equal(t, 2, p.count())
}

func TestAuthorizationFailureStopsMonitor(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	p := &fakePinger{errs: []error{fmt.Errorf("%w: session expired", api.ErrUnauthorized)}}
	m := New(p, clk, zerolog.Nop())

	m.Start()
	clk.Advance(0)
	assert.Equal(t, 1, p.count())

	clk.Advance(3 * PingInterval)
	assert.Equal(t, 1, p.count(), "monitor must retire after invalidation")
}

func TestStopCancelsPendingPing(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	p := &fakePinger{}
	m := New(p, clk, zerolog.Nop())

	m.Start()
	clk.Advance(0)
	m.Stop()

	clk.Advance(3 * PingInterval)
	assert.Equal(t, 1, p.count())

	// Stop when not running is safe.
	m.Stop()
}
