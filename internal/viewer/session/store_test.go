package session

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursecast/internal/sharedstate"
)

func TestSessionPersistsAcrossContexts(t *testing.T) {
	hub := sharedstate.NewShared()

	a := NewStore(hub.Attach(), zerolog.Nop())
	a.SetSession("tok", "refresh", User{ID: "u1", Email: "u@example.com"})

	// A second context of the same identity sees the sign-in.
	b := NewStore(hub.Attach(), zerolog.Nop())
	st := b.Current()
	assert.True(t, st.Authenticated)
	assert.Equal(t, "tok", st.Token)
	assert.Equal(t, "u1", st.User.ID)
}

func TestClearRemovesPersistedSession(t *testing.T) {
	hub := sharedstate.NewShared()
	s := NewStore(hub.Attach(), zerolog.Nop())
	s.SetSession("tok", "refresh", User{ID: "u1"})

	s.Clear()
	assert.Empty(t, s.Token())
	assert.False(t, NewStore(hub.Attach(), zerolog.Nop()).Current().Authenticated)
}

func TestNoticeRoundTrip(t *testing.T) {
	hub := sharedstate.NewShared()
	s := NewStore(hub.Attach(), zerolog.Nop())

	_, ok := s.TakeNotice()
	require.False(t, ok)

	s.SetNotice("signed out")
	msg, ok := s.TakeNotice()
	require.True(t, ok)
	assert.Equal(t, "signed out", msg)

	// Taking consumes the notice.
	_, ok = s.TakeNotice()
	assert.False(t, ok)
}

func TestInvalidateIdempotentUnderConcurrency(t *testing.T) {
	hub := sharedstate.NewShared()
	store := NewStore(hub.Attach(), zerolog.Nop())
	store.SetSession("tok", "refresh", User{ID: "u1"})

	var mu sync.Mutex
	navigations := 0
	inv := NewInvalidator(store, func(Reason) {
		mu.Lock()
		navigations++
		mu.Unlock()
	}, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		reason := ReasonExpired
		if i%2 == 0 {
			reason = ReasonSuperseded
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			inv.Invalidate(reason)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, navigations, "exactly one redirect")
	assert.True(t, inv.Fired())
	assert.Empty(t, store.Token(), "credentials cleared")
}

func TestInvalidatePersistsReasonForNextStart(t *testing.T) {
	hub := sharedstate.NewShared()
	store := NewStore(hub.Attach(), zerolog.Nop())
	store.SetSession("tok", "refresh", User{ID: "u1"})

	inv := NewInvalidator(store, nil, zerolog.Nop())
	inv.Invalidate(ReasonSuperseded)

	// The next start, possibly in another context, reads the explanation.
	next := NewStore(hub.Attach(), zerolog.Nop())
	msg, ok := next.TakeNotice()
	require.True(t, ok)
	assert.Contains(t, msg, "another device")
}
