package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursecast/internal/sharedstate"
	"coursecast/internal/viewer/session"
)

type clientEnv struct {
	client      *Client
	store       *session.Store
	navigations []session.Reason
}

func newClientEnv(t *testing.T, handler http.Handler) *clientEnv {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	env := &clientEnv{}
	env.store = session.NewStore(sharedstate.NewShared().Attach(), zerolog.Nop())
	inv := session.NewInvalidator(env.store, func(r session.Reason) {
		env.navigations = append(env.navigations, r)
	}, zerolog.Nop())
	env.client = NewClient(srv.URL, env.store, inv, zerolog.Nop())
	return env
}

func TestLoginStoresSession(t *testing.T) {
	env := newClientEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/login", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "kiosk-7", req["deviceLabel"])
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "tok",
			"refresh_token": "ref",
			"user":          map[string]string{"id": "u1", "email": "s@example.com"},
		})
	}))

	err := env.client.Login(context.Background(), "s@example.com", "pw", "kiosk-7", false)
	require.NoError(t, err)

	st := env.store.Current()
	assert.True(t, st.Authenticated)
	assert.Equal(t, "tok", st.Token)
	assert.Equal(t, "u1", st.User.ID)
}

func TestLoginConflictReturnsActiveSessionError(t *testing.T) {
	env := newClientEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"active":            true,
			"ownerLabel":        "Living room TV",
			"retryAfterSeconds": 42,
		})
	}))

	err := env.client.Login(context.Background(), "s@example.com", "pw", "kiosk-7", false)
	var ase *ActiveSessionError
	require.ErrorAs(t, err, &ase)
	assert.Equal(t, "Living room TV", ase.OwnerLabel)
	assert.Equal(t, 42*time.Second, ase.RetryAfter)
	assert.False(t, env.store.Current().Authenticated)
}

func TestFlagsInOrdinaryResponseTriggerInvalidation(t *testing.T) {
	env := newClientEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A 200 whose payload carries the supersession flag: the cross-
		// cutting contract applies to every authenticated response.
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":            "ok",
			"loggedInElsewhere": true,
		})
	}))
	env.store.SetSession("tok", "ref", session.User{ID: "u1"})

	err := env.client.UpdateProgress(context.Background(), "vid", 3*time.Second)
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Equal(t, []session.Reason{session.ReasonSuperseded}, env.navigations)
	assert.Empty(t, env.store.Token(), "local credentials cleared")
}

func TestExpiredFlagOnPing(t *testing.T) {
	env := newClientEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"sessionExpired": true})
	}))
	env.store.SetSession("tok", "ref", session.User{ID: "u1"})

	err := env.client.Ping(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Equal(t, []session.Reason{session.ReasonExpired}, env.navigations)
}

func TestRepeatedInvalidationNavigatesOnce(t *testing.T) {
	env := newClientEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"loggedInElsewhere": true})
	}))
	env.store.SetSession("tok", "ref", session.User{ID: "u1"})

	// A ping and a CRUD call both notice the same invalidation.
	_ = env.client.Ping(context.Background())
	_ = env.client.UpdateProgress(context.Background(), "vid", time.Second)

	assert.Len(t, env.navigations, 1)
}

func TestPlaybackInfo(t *testing.T) {
	env := newClientEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/videos/vid-9/playback-info", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"url":              "/stream/vid-9/index.m3u8?token=abc",
			"isSegmented":      true,
			"expiresInSeconds": 900,
		})
	}))
	env.store.SetSession("tok", "ref", session.User{ID: "u1"})

	cred, err := env.client.PlaybackInfo(context.Background(), "vid-9")
	require.NoError(t, err)
	assert.True(t, cred.Segmented)
	assert.Equal(t, 900*time.Second, cred.ExpiresIn)
	assert.Contains(t, cred.URL, "/stream/vid-9/index.m3u8")
	assert.WithinDuration(t, time.Now().Add(900*time.Second), cred.ExpiresAt, 5*time.Second)
}

func TestNetworkErrorKeepsSession(t *testing.T) {
	env := newClientEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	env.store.SetSession("tok", "ref", session.User{ID: "u1"})

	// Point the client at a closed port.
	dead := NewClient("http://127.0.0.1:1", env.store, session.NewInvalidator(env.store, nil, zerolog.Nop()), zerolog.Nop())
	err := dead.Ping(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, "tok", env.store.Token(), "transport failure must not clear the session")
}
