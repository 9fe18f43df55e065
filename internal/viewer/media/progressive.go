package media

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"coursecast/internal/clock"
)

// Progressive plays a direct (non-segmented) source. Loading validates the
// URL with a ranged probe; like a real media element, a load resets the
// playhead, the scheduler restores it afterwards.
type Progressive struct {
	http   *http.Client
	clock  clock.Clock
	logger zerolog.Logger

	mu     sync.Mutex
	url    string
	head   playhead
	loaded bool
	closed bool
}

func NewProgressive(httpc *http.Client, clk clock.Clock, logger zerolog.Logger) *Progressive {
	return &Progressive{
		http:   httpc,
		clock:  clk,
		logger: logger.With().Str("component", "progressive").Logger(),
		head:   playhead{clock: clk},
	}
}

func (p *Progressive) Load(ctx context.Context, url string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMedia, err)
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: source returned %d", ErrNetwork, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: source returned %d", ErrMedia, resp.StatusCode)
	}

	p.mu.Lock()
	p.url = url
	p.loaded = true
	p.head.reset()
	p.mu.Unlock()
	return nil
}

// Ready is immediate for progressive sources: the probe in Load already
// proved the source serves bytes.
func (p *Progressive) Ready(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if !p.loaded {
		return fmt.Errorf("%w: no source loaded", ErrMedia)
	}
	return ctx.Err()
}

func (p *Progressive) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.head.position()
}

func (p *Progressive) SetPosition(pos time.Duration) {
	p.mu.Lock()
	p.head.seek(pos)
	p.mu.Unlock()
}

func (p *Progressive) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.head.playing
}

func (p *Progressive) SetPlaying(playing bool) {
	p.mu.Lock()
	if !p.closed && p.loaded {
		p.head.setPlaying(playing)
	}
	p.mu.Unlock()
}

func (p *Progressive) Close() error {
	p.mu.Lock()
	p.closed = true
	p.head.setPlaying(false)
	p.mu.Unlock()
	return nil
}
