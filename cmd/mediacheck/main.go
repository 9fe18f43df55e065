// mediacheck periodically verifies that every lesson's video file is
// actually present and readable on disk, and records the result next to the
// lesson so instructors see broken material before students do.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"coursecast/pkg/db"
	"coursecast/pkg/logger"
)

type lesson struct {
	ID        string
	VideoPath string
	Segmented bool
}

type config struct {
	DBURL      string
	Interval   time.Duration
	Concurrent int
}

func loadConfig() (config, error) {
	interval, _ := time.ParseDuration(getenv("CHECK_INTERVAL", "5m"))
	concurrency := atoiDefault(os.Getenv("CHECK_CONCURRENCY"), 8)
	return config{
		DBURL:      os.Getenv("DB_URL"),
		Interval:   interval,
		Concurrent: concurrency,
	}, nil
}

func main() {
	log := logger.New("mediacheck")
	cfg, _ := loadConfig()
	if cfg.DBURL == "" {
		log.Fatal().Msg("DB_URL required")
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DBURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	defer pool.Close()

	if err := ensureEventsTable(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("ensure schema failed")
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		runChecks(ctx, pool, cfg.Concurrent, log)
		<-ticker.C
	}
}

func ensureEventsTable(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS media_events (
		lesson_id uuid NOT NULL,
		status text NOT NULL,
		at timestamptz NOT NULL
	)`)
	return err
}

func runChecks(ctx context.Context, pool *pgxpool.Pool, concurrent int, log zerolog.Logger) {
	lessons, err := loadLessons(ctx, pool)
	if err != nil {
		log.Error().Err(err).Msg("load lessons")
		return
	}
	sem := make(chan struct{}, concurrent)
	var wg sync.WaitGroup
	for _, l := range lessons {
		wg.Add(1)
		sem <- struct{}{}
		go func(l lesson) {
			defer wg.Done()
			defer func() { <-sem }()
			ok := probe(l)
			if err := updateAvailability(ctx, pool, l.ID, ok); err != nil {
				log.Error().Err(err).Str("lesson", l.ID).Msg("update availability")
			}
		}(l)
	}
	wg.Wait()
}

func loadLessons(ctx context.Context, pool *pgxpool.Pool) ([]lesson, error) {
	rows, err := pool.Query(ctx, "SELECT id,video_path,segmented FROM lessons WHERE video_path <> ''")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []lesson
	for rows.Next() {
		var l lesson
		if err := rows.Scan(&l.ID, &l.VideoPath, &l.Segmented); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// probe checks the lesson's media on disk: a readable file for progressive
// lessons, a playlist inside the directory for segmented ones.
func probe(l lesson) bool {
	path := l.VideoPath
	if l.Segmented {
		path = filepath.Join(l.VideoPath, "index.m3u8")
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	info, err := f.Stat()
	return err == nil && !info.IsDir() && info.Size() > 0
}

func updateAvailability(ctx context.Context, pool *pgxpool.Pool, lessonID string, ok bool) error {
	status := "missing"
	if ok {
		status = "available"
	}
	now := time.Now()
	if _, err := pool.Exec(ctx, "UPDATE lessons SET available=$1,last_checked=$2 WHERE id=$3", ok, now, lessonID); err != nil {
		return err
	}
	_, err := pool.Exec(ctx, "INSERT INTO media_events (lesson_id,status,at) VALUES ($1,$2,$3)", lessonID, status, now)
	return err
}

// helpers (tiny to avoid extra deps)
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func atoiDefault(v string, def int) int {
	if v == "" {
		return def
	}
	var out int
	_, err := fmt.Sscanf(v, "%d", &out)
	if err != nil {
		return def
	}
	return out
}
