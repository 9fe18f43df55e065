// Package liveness keeps the server aware that the session is still in use.
// It pings a no-op authenticated endpoint on an interval; the interesting
// work happens when a ping, or any other authenticated call, reveals that the
// server already invalidated the session.
package liveness

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"coursecast/internal/clock"
	"coursecast/internal/viewer/api"
)

// PingInterval is the steady-state heartbeat to the server.
const PingInterval = 5 * time.Minute

const pingTimeout = 30 * time.Second

// Pinger is the slice of the API client the monitor needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor runs the periodic liveness ping for one viewer context.
type Monitor struct {
	pinger Pinger
	clock  clock.Clock
	logger zerolog.Logger

	mu      sync.Mutex
	running bool
	timer   clock.Timer
}

func New(pinger Pinger, clk clock.Clock, logger zerolog.Logger) *Monitor {
	return &Monitor{
		pinger: pinger,
		clock:  clk,
		logger: logger.With().Str("component", "liveness").Logger(),
	}
}

// Start sends one immediate ping and then one every PingInterval. Calling it
// while running is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.timer = m.clock.AfterFunc(0, m.tick)
}

// Stop cancels the loop; safe to call when not running. No tick fires after
// Stop returns with the lock released.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Monitor) tick() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	err := m.pinger.Ping(ctx)
	cancel()

	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			// The API client already ran the invalidation handler; the
			// session is gone, so the monitor retires itself.
			m.logger.Info().Msg("session invalidated, stopping liveness pings")
			m.Stop()
			return
		}
		// Transient network trouble is not an invalidation signal.
		m.logger.Warn().Err(err).Msg("liveness ping failed")
	}

	m.mu.Lock()
	if m.running {
		m.timer = m.clock.AfterFunc(PingInterval, m.tick)
	}
	m.mu.Unlock()
}
