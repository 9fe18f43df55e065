package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursecast/internal/clock"
)

func manifestServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEngineLoadAndReady(t *testing.T) {
	srv := manifestServer(t, sampleManifest, http.StatusOK)
	e := NewEngine(srv.Client(), clock.Real(), zerolog.Nop())
	defer e.Close()

	require.NoError(t, e.Load(context.Background(), srv.URL+"/index.m3u8"))
	require.NoError(t, e.Ready(context.Background()))

	assert.Equal(t, 16500*time.Millisecond, e.Duration())
	uri, ok := e.SegmentURI()
	require.True(t, ok)
	assert.Equal(t, "seg000.ts", uri)
}

func TestEnginePlayheadFollowsClock(t *testing.T) {
	srv := manifestServer(t, sampleManifest, http.StatusOK)
	clk := clock.NewFake(time.Unix(0, 0))
	e := NewEngine(srv.Client(), clk, zerolog.Nop())
	defer e.Close()

	require.NoError(t, e.Load(context.Background(), srv.URL+"/index.m3u8"))
	require.NoError(t, e.Ready(context.Background()))

	e.SetPlaying(true)
	clk.Advance(7 * time.Second)
	assert.Equal(t, 7*time.Second, e.Position())

	uri, _ := e.SegmentURI()
	assert.Equal(t, "seg001.ts", uri)

	e.SetPlaying(false)
	clk.Advance(time.Minute)
	assert.Equal(t, 7*time.Second, e.Position(), "paused playhead stands still")

	// Position is clamped to the known timeline.
	e.SetPosition(time.Hour)
	assert.Equal(t, e.Duration(), e.Position())
}

func TestEngineReloadKeepsInstance(t *testing.T) {
	srv := manifestServer(t, sampleManifest, http.StatusOK)
	clk := clock.NewFake(time.Unix(0, 0))
	e := NewEngine(srv.Client(), clk, zerolog.Nop())
	defer e.Close()

	require.NoError(t, e.Load(context.Background(), srv.URL+"/a.m3u8"))
	require.NoError(t, e.Ready(context.Background()))
	e.SetPosition(10 * time.Second)
	e.SetPlaying(true)

	// A reload replaces the source in place and resets the playhead; the
	// scheduler is responsible for restoring it afterwards.
	require.NoError(t, e.Load(context.Background(), srv.URL+"/b.m3u8"))
	require.NoError(t, e.Ready(context.Background()))
	assert.Equal(t, time.Duration(0), e.Position())
	assert.False(t, e.Playing())

	e.SetPosition(10 * time.Second)
	e.SetPlaying(true)
	assert.Equal(t, 10*time.Second, e.Position())
}

func TestEngineRetriesNetworkErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(sampleManifest))
	}))
	defer srv.Close()

	e := NewEngine(srv.Client(), clock.Real(), zerolog.Nop())
	defer e.Close()

	require.NoError(t, e.Load(context.Background(), srv.URL+"/index.m3u8"))
	require.NoError(t, e.Ready(context.Background()))
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestEngineRecoversFromOneBadManifest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte("<html>oops</html>"))
			return
		}
		_, _ = w.Write([]byte(sampleManifest))
	}))
	defer srv.Close()

	e := NewEngine(srv.Client(), clock.Real(), zerolog.Nop())
	defer e.Close()

	require.NoError(t, e.Load(context.Background(), srv.URL+"/index.m3u8"))
	require.NoError(t, e.Ready(context.Background()))
}

func TestEngineSurfacesFatalError(t *testing.T) {
	srv := manifestServer(t, "<html>gone</html>", http.StatusOK)
	e := NewEngine(srv.Client(), clock.Real(), zerolog.Nop())
	defer e.Close()

	require.NoError(t, e.Load(context.Background(), srv.URL+"/index.m3u8"))
	err := e.Ready(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMedia)
}

func TestEngineClosedRejectsLoad(t *testing.T) {
	srv := manifestServer(t, sampleManifest, http.StatusOK)
	e := NewEngine(srv.Client(), clock.Real(), zerolog.Nop())
	require.NoError(t, e.Close())
	assert.ErrorIs(t, e.Load(context.Background(), srv.URL), ErrClosed)
}
