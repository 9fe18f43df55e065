// Package coordinator elects exactly one active viewer context per identity.
// Contexts share nothing but the sharedstate store; liveness is proven by a
// heartbeat record and a claim whose heartbeat has gone stale counts as
// abandoned. The claim lifecycle is Unclaimed -> Claimed(owner) -> Abandoned
// -> Unclaimed; there is no lock, only last-write-wins plus bounded staleness.
package coordinator

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"coursecast/internal/clock"
	"coursecast/internal/sharedstate"
)

const (
	// HeartbeatInterval is how often the active context refreshes its
	// heartbeat, and how often a standby context checks for abandonment.
	HeartbeatInterval = 2 * time.Second
	// HeartbeatTimeout is the age beyond which a claim counts as abandoned.
	HeartbeatTimeout = 5 * time.Second
)

type state int

const (
	stateIdle state = iota
	stateActive
	stateStandby // never held the claim; may pick up an abandoned one
	stateDemoted // lost the claim to a live context; terminal until restart
	stateStopped
)

type claimRecord struct {
	Owner string `json:"owner"`
}

type heartbeatRecord struct {
	Owner string `json:"owner"`
	AtMS  int64  `json:"at_ms"`
}

// Coordinator runs the election for one viewer context.
type Coordinator struct {
	store  sharedstate.Store
	clock  clock.Clock
	logger zerolog.Logger

	id        string
	createdAt time.Time

	// OnPromoted, when set before Start, runs once a standby context picks
	// up an abandoned claim. Demotion is terminal, so promotion can only
	// happen from standby.
	OnPromoted func()

	mu          sync.Mutex
	state       state
	onDemoted   func()
	timer       clock.Timer
	unsubscribe func()
}

// New builds a coordinator for one context. The identity is generated here
// and lives only as long as the process.
func New(store sharedstate.Store, clk clock.Clock, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:     store,
		clock:     clk,
		logger:    logger.With().Str("component", "coordinator").Logger(),
		id:        uuid.NewString(),
		createdAt: clk.Now(),
	}
}

// ID returns this context's election identity.
func (c *Coordinator) ID() string { return c.id }

// Active reports whether this context currently holds the claim.
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateActive
}

// Start attempts to claim leadership and begins the heartbeat loop. Calling
// it again after the first call is a no-op. onDemoted runs when this context
// observes that another context holds the claim, at most once per demotion.
func (c *Coordinator) Start(onDemoted func()) {
	c.mu.Lock()
	if c.state != stateIdle {
		c.mu.Unlock()
		return
	}
	c.onDemoted = onDemoted

	owner, held := c.currentOwner()
	if !held {
		c.claimLocked()
	} else {
		c.logger.Info().Str("owner", owner).Msg("another viewer is active, standing by")
		c.state = stateStandby
	}
	c.scheduleTickLocked()
	c.unsubscribe = c.store.OnChange(sharedstate.KeyActiveClaim, c.onClaimChange)

	demote := c.state == stateStandby
	cb := c.onDemoted
	c.mu.Unlock()

	if demote && cb != nil {
		cb()
	}
}

// Stop cancels the loop and releases the claim, but only if this context
// still owns it. Safe to call more than once.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.state == stateStopped {
		c.mu.Unlock()
		return
	}
	wasActive := c.state == stateActive
	c.state = stateStopped
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	unsub := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if wasActive {
		if rec, ok := c.readClaim(); ok && rec.Owner == c.id {
			_ = c.store.Delete(sharedstate.KeyActiveClaim)
			_ = c.store.Delete(sharedstate.KeyHeartbeat)
		}
	}
}

// currentOwner reads the claim and reports whether a live context holds it.
// A claim without a fresh heartbeat is abandoned and counts as unclaimed.
func (c *Coordinator) currentOwner() (string, bool) {
	rec, ok := c.readClaim()
	if !ok {
		return "", false
	}
	hb, ok := c.readHeartbeat()
	if !ok || hb.Owner != rec.Owner {
		return "", false
	}
	age := c.clock.Now().Sub(time.UnixMilli(hb.AtMS))
	if age > HeartbeatTimeout {
		return "", false
	}
	return rec.Owner, true
}

func (c *Coordinator) readClaim() (claimRecord, bool) {
	raw, ok := c.store.Get(sharedstate.KeyActiveClaim)
	if !ok {
		return claimRecord{}, false
	}
	var rec claimRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.Owner == "" {
		return claimRecord{}, false
	}
	return rec, true
}

func (c *Coordinator) readHeartbeat() (heartbeatRecord, bool) {
	raw, ok := c.store.Get(sharedstate.KeyHeartbeat)
	if !ok {
		return heartbeatRecord{}, false
	}
	var rec heartbeatRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.Owner == "" {
		return heartbeatRecord{}, false
	}
	return rec, true
}

// claimLocked writes this context as the owner and refreshes the heartbeat.
// Store failures degrade to uncoordinated mode: a single context is still
// correct without coordination, so we stay active and keep trying.
func (c *Coordinator) claimLocked() {
	claim, _ := json.Marshal(claimRecord{Owner: c.id})
	if err := c.store.Set(sharedstate.KeyActiveClaim, string(claim)); err != nil {
		c.logger.Warn().Err(err).Msg("claim write failed, continuing uncoordinated")
	}
	c.writeHeartbeatLocked()
	c.state = stateActive
}

func (c *Coordinator) writeHeartbeatLocked() {
	hb, _ := json.Marshal(heartbeatRecord{Owner: c.id, AtMS: c.clock.Now().UnixMilli()})
	if err := c.store.Set(sharedstate.KeyHeartbeat, string(hb)); err != nil {
		c.logger.Warn().Err(err).Msg("heartbeat write failed")
	}
}

func (c *Coordinator) scheduleTickLocked() {
	c.timer = c.clock.AfterFunc(HeartbeatInterval, c.tick)
}

// tick is the per-interval check. The claim read and the reaction to it
// happen under one lock hold, so there is no gap between observing a foreign
// owner and demoting.
func (c *Coordinator) tick() {
	c.mu.Lock()
	switch c.state {
	case stateActive:
		if rec, ok := c.readClaim(); ok && rec.Owner != c.id {
			c.demoteLocked(rec.Owner)
			return // demoteLocked released the lock
		}
		// Missing or own claim: refresh both records. Rewriting the claim
		// repairs a cleared store without giving up leadership.
		c.claimLocked()
		c.scheduleTickLocked()
	case stateStandby:
		if _, held := c.currentOwner(); !held {
			c.logger.Info().Msg("claim abandoned, taking over")
			c.claimLocked()
			cb := c.OnPromoted
			c.scheduleTickLocked()
			c.mu.Unlock()
			if cb != nil {
				cb()
			}
			return
		}
		c.scheduleTickLocked()
	default:
		// Demoted contexts keep no timer; stopped ones must never tick.
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
}

// onClaimChange runs when another context rewrites the claim. Deletions are
// ignored: a clean release elsewhere does not promote anyone by itself, the
// standby tick picks the claim up instead.
func (c *Coordinator) onClaimChange(value string, ok bool) {
	if !ok {
		return
	}
	var rec claimRecord
	if err := json.Unmarshal([]byte(value), &rec); err != nil || rec.Owner == "" {
		return
	}
	c.mu.Lock()
	if c.state != stateActive || rec.Owner == c.id {
		c.mu.Unlock()
		return
	}
	c.demoteLocked(rec.Owner)
}

// demoteLocked transitions active -> demoted and fires the callback exactly
// once. Demotion is terminal: the context stays inactive until restart.
// Releases c.mu.
func (c *Coordinator) demoteLocked(newOwner string) {
	c.state = stateDemoted
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	cb := c.onDemoted
	c.onDemoted = nil
	c.mu.Unlock()

	c.logger.Info().Str("new_owner", newOwner).Msg("demoted, another viewer took over")
	if cb != nil {
		cb()
	}
}
