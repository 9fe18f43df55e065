// Package credentials keeps one playback instance supplied with a valid
// time-boxed streaming credential. A renewal fires at a fixed fraction of the
// credential lifetime and hot-swaps the media source while preserving the
// playhead and play state, so long sessions never outlive their URL.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"coursecast/internal/clock"
	"coursecast/internal/viewer/media"
)

const (
	// RenewalFraction of the credential lifetime after which the renewal
	// fetch fires.
	RenewalFraction = 0.8
	// retryInterval paces renewal retries after a failed fetch.
	retryInterval = 15 * time.Second
	// fetchTimeout bounds a single credential fetch.
	fetchTimeout = 30 * time.Second
)

// ErrNoPlayback marks failures that end the playback attempt; the message is
// suitable for showing to the user.
var ErrNoPlayback = errors.New("playback unavailable")

// Credential authorizes streaming one video for a bounded time. Immutable;
// renewal produces a fresh one.
type Credential struct {
	URL       string
	Segmented bool
	ExpiresIn time.Duration
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Fetcher obtains playback credentials, typically the platform API client.
type Fetcher interface {
	PlaybackInfo(ctx context.Context, videoID string) (Credential, error)
}

// TargetFactory builds the playback backend for the initial credential. The
// same backend instance is reused for every renewal after that.
type TargetFactory func(cred Credential) (media.Target, error)

// Config wires a Scheduler.
type Config struct {
	Fetcher   Fetcher
	VideoID   string
	NewTarget TargetFactory
	Clock     clock.Clock
	Logger    zerolog.Logger
	// OnFailure surfaces terminal, user-facing playback failures that occur
	// after initialization, e.g. renewal still failing at expiry.
	OnFailure func(error)
}

// Scheduler manages the credential lifecycle of one playback instance.
type Scheduler struct {
	fetch     Fetcher
	videoID   string
	newTarget TargetFactory
	clock     clock.Clock
	logger    zerolog.Logger
	onFailure func(error)

	mu       sync.Mutex
	cred     Credential
	target   media.Target
	timer    clock.Timer
	gen      int
	disposed bool
}

func New(cfg Config) *Scheduler {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Scheduler{
		fetch:     cfg.Fetcher,
		videoID:   cfg.VideoID,
		newTarget: cfg.NewTarget,
		clock:     clk,
		logger:    cfg.Logger.With().Str("component", "credentials").Str("video_id", cfg.VideoID).Logger(),
		onFailure: cfg.OnFailure,
	}
}

// Initialize fetches the first credential, attaches the media backend, and
// schedules the first renewal. Errors are user-facing and final for this
// playback attempt.
func (s *Scheduler) Initialize(ctx context.Context) error {
	cred, err := s.fetchCredential(ctx)
	if err != nil {
		return fmt.Errorf("%w: could not authorize playback, check your connection and try again", ErrNoPlayback)
	}

	target, err := s.newTarget(cred)
	if err != nil {
		if errors.Is(err, media.ErrUnsupported) {
			return fmt.Errorf("%w: this video format is not supported on this device", ErrNoPlayback)
		}
		return fmt.Errorf("%w: %v", ErrNoPlayback, err)
	}

	if err := target.Load(ctx, cred.URL); err != nil {
		_ = target.Close()
		return fmt.Errorf("%w: the video source could not be opened", ErrNoPlayback)
	}
	if err := target.Ready(ctx); err != nil {
		_ = target.Close()
		return fmt.Errorf("%w: the video source did not become ready", ErrNoPlayback)
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		_ = target.Close()
		return fmt.Errorf("%w: disposed", ErrNoPlayback)
	}
	s.cred = cred
	s.target = target
	s.scheduleRenewalLocked(cred)
	s.mu.Unlock()
	return nil
}

// Target exposes the attached backend, nil before Initialize.
func (s *Scheduler) Target() media.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Credential returns the credential currently in use.
func (s *Scheduler) Credential() Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred
}

// Dispose cancels the pending renewal and releases the backend. An in-flight
// renewal fetch resolving later is discarded without touching the backend.
func (s *Scheduler) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	target := s.target
	s.target = nil
	s.mu.Unlock()

	if target != nil {
		_ = target.Close()
	}
}

// scheduleRenewalLocked books the renewal wake-up; any previously pending
// timer is replaced, keeping exactly one per playback instance.
func (s *Scheduler) scheduleRenewalLocked(cred Credential) {
	if s.timer != nil {
		s.timer.Stop()
	}
	delay := time.Duration(float64(cred.ExpiresIn) * RenewalFraction)
	s.timer = s.clock.AfterFunc(delay, s.renew)
}

func (s *Scheduler) fetchCredential(ctx context.Context) (Credential, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	cred, err := s.fetch.PlaybackInfo(ctx, s.videoID)
	if err != nil {
		return Credential{}, err
	}
	if cred.IssuedAt.IsZero() {
		cred.IssuedAt = s.clock.Now()
	}
	if cred.ExpiresAt.IsZero() {
		cred.ExpiresAt = cred.IssuedAt.Add(cred.ExpiresIn)
	}
	return cred, nil
}

// renew fetches a fresh credential and hot-swaps the source: snapshot the
// playhead, load the new URL into the same backend, wait for it to become
// seekable, then restore position and play state.
func (s *Scheduler) renew() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	cred, err := s.fetchCredential(context.Background())

	s.mu.Lock()
	if s.disposed || s.gen != gen {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.handleRenewalFailureLocked(fmt.Errorf("credential fetch: %w", err))
		return
	}
	target := s.target
	s.mu.Unlock()

	swapCtx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()
	swapErr := s.swap(swapCtx, target, cred, gen)

	s.mu.Lock()
	if s.disposed || s.gen != gen {
		s.mu.Unlock()
		return
	}
	if swapErr != nil {
		s.handleRenewalFailureLocked(fmt.Errorf("source swap: %w", swapErr))
		return
	}
	s.cred = cred
	s.scheduleRenewalLocked(cred)
	s.mu.Unlock()
	s.logger.Debug().Time("expires_at", cred.ExpiresAt).Msg("playback credential renewed")
}

// swap runs the two-phase source replacement outside the scheduler lock. The
// generation check before each mutation keeps a disposed scheduler from
// touching the backend.
func (s *Scheduler) swap(ctx context.Context, target media.Target, cred Credential, gen int) error {
	s.mu.Lock()
	if s.disposed || s.gen != gen {
		s.mu.Unlock()
		return nil
	}
	pos := target.Position()
	playing := target.Playing()
	s.mu.Unlock()

	if err := target.Load(ctx, cred.URL); err != nil {
		return err
	}
	if err := target.Ready(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	if s.disposed || s.gen != gen {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	target.SetPosition(pos)
	target.SetPlaying(playing)
	return nil
}

// handleRenewalFailureLocked decides between a quiet retry and a terminal
// failure. While the current credential still has comfortable life left the
// user sees nothing; once expiry is imminent the failure surfaces and the
// scheduler stops. Releases s.mu.
func (s *Scheduler) handleRenewalFailureLocked(err error) {
	remaining := s.cred.ExpiresAt.Sub(s.clock.Now())
	if remaining > 2*retryInterval {
		s.logger.Warn().Err(err).Dur("credential_remaining", remaining).Msg("credential renewal failed, will retry")
		if s.timer != nil {
			s.timer.Stop()
		}
		s.timer = s.clock.AfterFunc(retryInterval, s.renew)
		s.mu.Unlock()
		return
	}
	s.timer = nil
	onFailure := s.onFailure
	s.mu.Unlock()

	s.logger.Error().Err(err).Msg("credential renewal failed with expiry imminent")
	if onFailure != nil {
		onFailure(fmt.Errorf("%w: playback authorization could not be renewed before it expired, reload to retry", ErrNoPlayback))
	}
}
