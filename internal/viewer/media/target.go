// Package media provides the playback backends the credential scheduler
// drives. Both backends satisfy Target, so the hot-swap protocol (snapshot,
// load, wait for ready, restore) is the same whether the source is a direct
// file or a segmented stream.
package media

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"coursecast/internal/clock"
)

var (
	// ErrUnsupported means no backend can play the requested format.
	ErrUnsupported = errors.New("unsupported media format")
	// ErrNetwork marks transport failures; the engine retries these itself.
	ErrNetwork = errors.New("media network error")
	// ErrMedia marks malformed stream data; the engine attempts one recovery.
	ErrMedia = errors.New("media data error")
	// ErrClosed is returned by operations on a closed target.
	ErrClosed = errors.New("media target closed")
)

// Target is a playback backend holding one source at a time.
type Target interface {
	// Load replaces the current source with url. For the segmented engine
	// this reuses the engine instance rather than recreating it.
	Load(ctx context.Context, url string) error
	// Ready blocks until the freshly loaded source is seekable.
	Ready(ctx context.Context) error
	// Position is the current playhead.
	Position() time.Duration
	// SetPosition seeks. Positions beyond the known end are clamped.
	SetPosition(pos time.Duration)
	Playing() bool
	SetPlaying(playing bool)
	Close() error
}

// Selector picks a backend for a credential's format.
type Selector struct {
	HTTP   *http.Client
	Clock  clock.Clock
	Logger zerolog.Logger
	// DisableSegmented mimics a runtime without a segmented-media engine.
	DisableSegmented bool
}

// New returns a backend able to play the given format, or ErrUnsupported.
func (s *Selector) New(segmented bool) (Target, error) {
	clk := s.Clock
	if clk == nil {
		clk = clock.Real()
	}
	httpc := s.HTTP
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	if !segmented {
		return NewProgressive(httpc, clk, s.Logger), nil
	}
	if s.DisableSegmented {
		return nil, ErrUnsupported
	}
	return NewEngine(httpc, clk, s.Logger), nil
}
