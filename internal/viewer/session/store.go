// Package session owns the client-side auth state: the persisted token/user
// pair every viewer component reads, and the invalidation handler that tears
// it down when the server ends the session.
package session

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"coursecast/internal/sharedstate"
)

// User is the signed-in identity as returned by the login endpoint.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// State is the current session. Zero value means signed out.
type State struct {
	Token         string `json:"token"`
	RefreshToken  string `json:"refresh_token"`
	User          User   `json:"user"`
	Authenticated bool   `json:"authenticated"`
}

// Store persists the session through the shared state store so every context
// of the same identity sees the same sign-in.
type Store struct {
	shared sharedstate.Store
	logger zerolog.Logger

	mu    sync.Mutex
	state State
}

// NewStore loads any persisted session from shared.
func NewStore(shared sharedstate.Store, logger zerolog.Logger) *Store {
	s := &Store{shared: shared, logger: logger}
	if raw, ok := shared.Get(sharedstate.KeySession); ok {
		var st State
		if err := json.Unmarshal([]byte(raw), &st); err == nil {
			s.state = st
		}
	}
	return s
}

// Current returns a copy of the session state.
func (s *Store) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Token returns the current access token, empty when signed out.
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Token
}

// SetSession records a successful login and persists it.
func (s *Store) SetSession(token, refresh string, user User) {
	s.mu.Lock()
	s.state = State{Token: token, RefreshToken: refresh, User: user, Authenticated: true}
	s.persistLocked()
	s.mu.Unlock()
}

// SetTokens replaces the token pair after a refresh, keeping the user.
func (s *Store) SetTokens(token, refresh string) {
	s.mu.Lock()
	s.state.Token = token
	s.state.RefreshToken = refresh
	s.persistLocked()
	s.mu.Unlock()
}

// Clear wipes the session locally and from the shared store.
func (s *Store) Clear() {
	s.mu.Lock()
	s.state = State{}
	s.mu.Unlock()
	if err := s.shared.Delete(sharedstate.KeySession); err != nil {
		s.logger.Warn().Err(err).Msg("clearing persisted session failed")
	}
}

func (s *Store) persistLocked() {
	raw, _ := json.Marshal(s.state)
	if err := s.shared.Set(sharedstate.KeySession, string(raw)); err != nil {
		s.logger.Warn().Err(err).Msg("persisting session failed")
	}
}

// SetNotice stores a sign-out explanation for the next start.
func (s *Store) SetNotice(msg string) {
	if err := s.shared.Set(sharedstate.KeyAuthNotice, msg); err != nil {
		s.logger.Warn().Err(err).Msg("persisting auth notice failed")
	}
}

// TakeNotice returns and clears a stored sign-out explanation.
func (s *Store) TakeNotice() (string, bool) {
	msg, ok := s.shared.Get(sharedstate.KeyAuthNotice)
	if ok {
		_ = s.shared.Delete(sharedstate.KeyAuthNotice)
	}
	return msg, ok
}
