// The viewer is a headless playback agent. Several viewer processes may run
// under the same identity (desk machine, lab kiosk, laptop); they share state
// through Redis and elect exactly one active player among themselves, the
// same way browser tabs would. The active one streams a lesson, keeps its
// credential fresh, and reports watch progress; the rest stand by.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"coursecast/internal/clock"
	"coursecast/internal/sharedstate"
	"coursecast/internal/viewer/api"
	"coursecast/internal/viewer/coordinator"
	"coursecast/internal/viewer/credentials"
	"coursecast/internal/viewer/liveness"
	"coursecast/internal/viewer/media"
	"coursecast/internal/viewer/session"
	"coursecast/pkg/logger"
)

const progressInterval = 30 * time.Second

type config struct {
	APIBase          string
	Email            string
	Password         string
	DeviceLabel      string
	VideoID          string
	RedisAddr        string
	Namespace        string
	Takeover         bool
	DisableSegmented bool
}

func loadConfig() (config, error) {
	cfg := config{
		APIBase:          os.Getenv("API_BASE"),
		Email:            os.Getenv("VIEWER_EMAIL"),
		Password:         os.Getenv("VIEWER_PASSWORD"),
		DeviceLabel:      envDefault("DEVICE_LABEL", hostLabel()),
		VideoID:          os.Getenv("VIDEO_ID"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		Namespace:        envDefault("STATE_NAMESPACE", "coursecast:viewer"),
		Takeover:         os.Getenv("TAKEOVER") == "1",
		DisableSegmented: os.Getenv("DISABLE_SEGMENTED") == "1",
	}
	if cfg.APIBase == "" {
		return cfg, fmt.Errorf("API_BASE is required")
	}
	if cfg.VideoID == "" {
		return cfg, fmt.Errorf("VIDEO_ID is required")
	}
	return cfg, nil
}

func main() {
	log := logger.New("viewer")
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	var store sharedstate.Store
	if cfg.RedisAddr != "" {
		rs, err := sharedstate.NewRedis(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), cfg.Namespace, log)
		if err != nil {
			log.Fatal().Err(err).Msg("shared state unavailable")
		}
		store = rs
	} else {
		// Without Redis this process coordinates only with itself.
		log.Warn().Msg("REDIS_ADDR not set, running uncoordinated")
		store = sharedstate.NewShared().Attach()
	}
	defer store.Close()

	sessions := session.NewStore(store, log)
	if notice, ok := sessions.TakeNotice(); ok {
		log.Warn().Str("notice", notice).Msg("previous session ended")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Server-side invalidation has no sign-in screen to navigate to here;
	// the agent just shuts down and leaves the notice for the next start.
	invalidator := session.NewInvalidator(sessions, func(r session.Reason) {
		log.Warn().Stringer("reason", r).Msg("session invalidated by server, shutting down")
		cancel()
	}, log)
	client := api.NewClient(cfg.APIBase, sessions, invalidator, log)

	if !sessions.Current().Authenticated {
		if cfg.Email == "" || cfg.Password == "" {
			log.Fatal().Msg("VIEWER_EMAIL and VIEWER_PASSWORD are required when no session is stored")
		}
		if err := login(ctx, client, cfg); err != nil {
			log.Fatal().Err(err).Msg("login failed")
		}
		log.Info().Str("email", cfg.Email).Msg("signed in")
	}

	monitor := liveness.New(client, clock.Real(), log)
	monitor.Start()
	defer monitor.Stop()

	player := &player{client: client, cfg: cfg, log: log}

	coord := coordinator.New(store, clock.Real(), log)
	coord.OnPromoted = func() { player.start(ctx) }
	coord.Start(func() { player.stop() })
	defer coord.Stop()

	if coord.Active() {
		player.start(ctx)
	}

	<-ctx.Done()
	player.stop()
	log.Info().Msg("viewer stopping")
}

func login(ctx context.Context, client *api.Client, cfg config) error {
	err := client.Login(ctx, cfg.Email, cfg.Password, cfg.DeviceLabel, false)
	var active *api.ActiveSessionError
	if errors.As(err, &active) {
		if !cfg.Takeover {
			return fmt.Errorf("account in use on %q (retry in %s), set TAKEOVER=1 to displace it", active.OwnerLabel, active.RetryAfter)
		}
		return client.Login(ctx, cfg.Email, cfg.Password, cfg.DeviceLabel, true)
	}
	return err
}

// player owns the playback lifecycle of the active context: a credential
// scheduler plus a progress reporting loop. start and stop are idempotent
// and may race with coordinator callbacks.
type player struct {
	client *api.Client
	cfg    config
	log    zerolog.Logger

	mu     sync.Mutex
	sched  *credentials.Scheduler
	cancel context.CancelFunc
}

func (p *player) start(ctx context.Context) {
	p.mu.Lock()
	if p.sched != nil {
		p.mu.Unlock()
		return
	}
	selector := &media.Selector{
		HTTP:             &http.Client{Timeout: 30 * time.Second},
		Clock:            clock.Real(),
		Logger:           p.log,
		DisableSegmented: p.cfg.DisableSegmented,
	}
	sched := credentials.New(credentials.Config{
		Fetcher: p.client,
		VideoID: p.cfg.VideoID,
		NewTarget: func(cred credentials.Credential) (media.Target, error) {
			return selector.New(cred.Segmented)
		},
		Clock:  clock.Real(),
		Logger: p.log,
		OnFailure: func(err error) {
			p.log.Error().Err(err).Msg("playback ended")
			p.stop()
		},
	})
	p.sched = sched
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	go func() {
		if err := sched.Initialize(runCtx); err != nil {
			p.log.Error().Err(err).Msg("playback failed to start")
			p.stop()
			return
		}
		target := sched.Target()
		if target == nil {
			return
		}
		if pos, err := p.client.Progress(runCtx, p.cfg.VideoID); err == nil && pos > 0 {
			target.SetPosition(time.Duration(pos) * time.Millisecond)
		}
		target.SetPlaying(true)
		p.log.Info().Str("video_id", p.cfg.VideoID).Msg("playback started")
		p.reportProgress(runCtx, sched)
	}()
}

func (p *player) stop() {
	p.mu.Lock()
	sched := p.sched
	cancel := p.cancel
	p.sched = nil
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sched != nil {
		sched.Dispose()
		p.log.Info().Msg("playback stopped")
	}
}

func (p *player) reportProgress(ctx context.Context, sched *credentials.Scheduler) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			target := sched.Target()
			if target == nil {
				return
			}
			pos := target.Position()
			if err := p.client.UpdateProgress(ctx, p.cfg.VideoID, pos); err != nil {
				p.log.Warn().Err(err).Msg("progress report failed")
			}
		}
	}
}

func envDefault(key, val string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return val
}

func hostLabel() string {
	host, err := os.Hostname()
	if err != nil {
		return "viewer agent"
	}
	return host
}
