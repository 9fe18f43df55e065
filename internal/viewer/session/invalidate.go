package session

import (
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Reason says why the server ended the session.
type Reason int

const (
	// ReasonExpired means the session aged out.
	ReasonExpired Reason = iota
	// ReasonSuperseded means the account signed in somewhere else.
	ReasonSuperseded
)

// Message is the user-facing explanation shown on the sign-in screen.
func (r Reason) Message() string {
	switch r {
	case ReasonSuperseded:
		return "Your account was signed in on another device, so this session was signed out. Sign in again to continue here."
	default:
		return "Your session has expired. Please sign in again."
	}
}

func (r Reason) String() string {
	if r == ReasonSuperseded {
		return "superseded"
	}
	return "expired"
}

// Invalidator tears the session down when the server invalidates it. Any
// number of components may trigger it for the same event; exactly one
// teardown and navigation happens.
type Invalidator struct {
	store    *Store
	logger   zerolog.Logger
	navigate func(Reason)
	fired    atomic.Bool
}

// NewInvalidator wires the teardown. navigate sends the user back to the
// sign-in entry point; it runs at most once.
func NewInvalidator(store *Store, navigate func(Reason), logger zerolog.Logger) *Invalidator {
	return &Invalidator{store: store, navigate: navigate, logger: logger}
}

// Invalidate clears local credentials, persists the explanation for the next
// start, and navigates to sign-in. Concurrent and repeated calls collapse
// into one.
func (i *Invalidator) Invalidate(reason Reason) {
	if !i.fired.CompareAndSwap(false, true) {
		return
	}
	i.logger.Info().Stringer("reason", reason).Msg("session invalidated by server")
	i.store.Clear()
	i.store.SetNotice(reason.Message())
	if i.navigate != nil {
		i.navigate(reason)
	}
}

// Fired reports whether invalidation already happened.
func (i *Invalidator) Fired() bool { return i.fired.Load() }
