package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundtrip(t *testing.T) {
	svc := NewService("test-secret")

	access, refresh, err := svc.GenerateTokens("u1", "student", "sess-1")
	require.NoError(t, err)
	require.NotEmpty(t, refresh)

	claims, err := svc.ParseToken(access)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "student", claims.Role)
	assert.Equal(t, "sess-1", claims.SessionID)
}

func TestRefreshKeepsSession(t *testing.T) {
	svc := NewService("test-secret")
	_, refresh, err := svc.GenerateTokens("u1", "student", "sess-1")
	require.NoError(t, err)

	access, _, err := svc.Refresh(refresh)
	require.NoError(t, err)
	claims, err := svc.ParseToken(access)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", claims.SessionID)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	access, _, err := NewService("secret-a").GenerateTokens("u1", "student", "s")
	require.NoError(t, err)
	_, err = NewService("secret-b").ParseToken(access)
	assert.Error(t, err)
}

func TestPlaybackToken(t *testing.T) {
	svc := NewService("test-secret")

	tok, err := svc.GeneratePlaybackToken("vid-1", "sess-1", 15*time.Minute)
	require.NoError(t, err)

	sid, err := svc.ParsePlaybackToken(tok, "vid-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sid)

	_, err = svc.ParsePlaybackToken(tok, "vid-2")
	assert.Error(t, err, "token is bound to the video it was issued for")
}

func TestPlaybackTokenExpires(t *testing.T) {
	svc := NewService("test-secret")
	tok, err := svc.GeneratePlaybackToken("vid-1", "sess-1", -time.Minute)
	require.NoError(t, err)
	_, err = svc.ParsePlaybackToken(tok, "vid-1")
	assert.Error(t, err)
}

func TestRequireAuth(t *testing.T) {
	svc := NewService("test-secret")
	access, _, err := svc.GenerateTokens("u1", "admin", "sess-1")
	require.NoError(t, err)

	handler := svc.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFromContext(r.Context())
		require.NotNil(t, claims)
		assert.Equal(t, "u1", claims.UserID)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRole(t *testing.T) {
	svc := NewService("test-secret")
	access, _, err := svc.GenerateTokens("u1", "student", "sess-1")
	require.NoError(t, err)

	handler := svc.RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
