package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"coursecast/internal/clock"
)

const (
	// engineNetworkRetries is how often a manifest fetch is retried on
	// transport failures before the error is surfaced.
	engineNetworkRetries = 3
	engineRetryDelay     = 250 * time.Millisecond
)

// Engine plays segmented media. Load fetches and parses the manifest in the
// background; Ready blocks until the timeline is known. Loading a new
// manifest into an existing engine replaces the source without tearing the
// engine down, which is what the credential scheduler does on every renewal.
//
// Error handling mirrors the usual engine contract: transport failures are
// retried internally, malformed manifests get one recovery refetch, anything
// still failing is returned from Ready for the caller to surface.
type Engine struct {
	http   *http.Client
	clock  clock.Clock
	logger zerolog.Logger

	mu       sync.Mutex
	url      string
	manifest *Manifest
	head     playhead
	closed   bool

	loadCancel context.CancelFunc
	readyCh    chan struct{}
	loadErr    error
}

func NewEngine(httpc *http.Client, clk clock.Clock, logger zerolog.Logger) *Engine {
	return &Engine{
		http:   httpc,
		clock:  clk,
		logger: logger.With().Str("component", "engine").Logger(),
		head:   playhead{clock: clk},
	}
}

// Load starts fetching url's manifest, cancelling any load in progress.
func (e *Engine) Load(ctx context.Context, url string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.loadCancel != nil {
		e.loadCancel()
	}
	loadCtx, cancel := context.WithCancel(ctx)
	e.loadCancel = cancel
	e.url = url
	e.manifest = nil
	e.head.reset()
	ready := make(chan struct{})
	e.readyCh = ready
	e.loadErr = nil
	e.mu.Unlock()

	go e.fetch(loadCtx, url, ready)
	return nil
}

// fetch retrieves and parses the manifest, retrying per the error class, and
// closes ready when done.
func (e *Engine) fetch(ctx context.Context, url string, ready chan struct{}) {
	defer close(ready)

	var (
		manifest  *Manifest
		err       error
		recovered bool
	)
	for attempt := 0; ; attempt++ {
		manifest, err = e.fetchOnce(ctx, url)
		if err == nil || ctx.Err() != nil {
			break
		}
		if isNetworkErr(err) && attempt < engineNetworkRetries {
			e.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("manifest fetch failed, retrying")
			select {
			case <-ctx.Done():
			case <-time.After(engineRetryDelay):
				continue
			}
			break
		}
		if isMediaErr(err) && !recovered {
			recovered = true
			e.logger.Warn().Err(err).Msg("malformed manifest, attempting recovery reload")
			continue
		}
		break
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.readyCh != ready || e.closed {
		// A newer load superseded this one; drop the result.
		return
	}
	if ctx.Err() != nil {
		e.loadErr = ctx.Err()
		return
	}
	if err != nil {
		e.loadErr = err
		return
	}
	e.manifest = manifest
}

func (e *Engine) fetchOnce(ctx context.Context, url string) (*Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMedia, err)
	}
	resp, err := e.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: manifest returned %d", ErrNetwork, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: manifest returned %d", ErrMedia, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	manifest, err := parseManifest(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMedia, err)
	}
	return manifest, nil
}

// Ready blocks until the pending load settles and returns its outcome.
func (e *Engine) Ready(ctx context.Context) error {
	e.mu.Lock()
	ready := e.readyCh
	e.mu.Unlock()
	if ready == nil {
		return fmt.Errorf("%w: no source loaded", ErrMedia)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ready:
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadErr
}

// Duration is the summed timeline of the loaded manifest, zero before Ready.
func (e *Engine) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.manifest == nil {
		return 0
	}
	return e.manifest.TotalDuration
}

// SegmentURI returns the segment covering the current position. The playback
// loop uses it to decide what to download next.
func (e *Engine) SegmentURI() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.manifest == nil {
		return "", false
	}
	idx := e.manifest.segmentAt(e.head.position())
	if idx < 0 {
		return "", false
	}
	return e.manifest.Segments[idx].URI, true
}

func (e *Engine) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos := e.head.position()
	if e.manifest != nil && pos > e.manifest.TotalDuration {
		return e.manifest.TotalDuration
	}
	return pos
}

func (e *Engine) SetPosition(pos time.Duration) {
	e.mu.Lock()
	if e.manifest != nil && pos > e.manifest.TotalDuration {
		pos = e.manifest.TotalDuration
	}
	e.head.seek(pos)
	e.mu.Unlock()
}

func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.head.playing
}

func (e *Engine) SetPlaying(playing bool) {
	e.mu.Lock()
	if !e.closed && e.manifest != nil {
		e.head.setPlaying(playing)
	}
	e.mu.Unlock()
}

// Close cancels any pending load and releases the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	if e.loadCancel != nil {
		e.loadCancel()
		e.loadCancel = nil
	}
	e.head.setPlaying(false)
	e.mu.Unlock()
	return nil
}

func isNetworkErr(err error) bool { return errors.Is(err, ErrNetwork) }
func isMediaErr(err error) bool   { return errors.Is(err, ErrMedia) }
