package media

import (
	"time"

	"coursecast/internal/clock"
)

// playhead tracks a clock-driven playback position. While playing, the
// position advances with the clock; while paused it stands still. Not
// goroutine safe, callers hold their own lock.
type playhead struct {
	clock   clock.Clock
	base    time.Duration
	started time.Time
	playing bool
}

func (p *playhead) position() time.Duration {
	if !p.playing {
		return p.base
	}
	return p.base + p.clock.Now().Sub(p.started)
}

func (p *playhead) seek(pos time.Duration) {
	if pos < 0 {
		pos = 0
	}
	p.base = pos
	p.started = p.clock.Now()
}

func (p *playhead) setPlaying(playing bool) {
	if playing == p.playing {
		return
	}
	p.base = p.position()
	p.started = p.clock.Now()
	p.playing = playing
}

func (p *playhead) reset() {
	p.base = 0
	p.playing = false
}
