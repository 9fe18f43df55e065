// Package catalog owns the course video library: listing, lookup, watch
// progress, and the filesystem scan that registers new lessons.
package catalog

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/rs/zerolog"

	"coursecast/internal/db"
)

var ErrNotFound = errors.New("not found")

const listCacheTTL = 30 * time.Second

type Service struct {
	session  *gocql.Session
	keyspace string
	cache    *cacheStore
	logger   zerolog.Logger
}

func NewService(session *gocql.Session, keyspace string, logger zerolog.Logger) *Service {
	return &Service{
		session:  session,
		keyspace: keyspace,
		cache:    newCache(),
		logger:   logger.With().Str("component", "catalog").Logger(),
	}
}

// List returns the library, optionally filtered by a title substring. The
// unfiltered list is served from a short-lived cache since every viewer
// start hits it.
func (s *Service) List(ctx context.Context, query string) ([]db.Video, error) {
	now := time.Now()
	videos, ok := s.cache.Get("all", now)
	if !ok {
		var err error
		videos, err = db.ListVideos(ctx, s.session, s.keyspace)
		if err != nil {
			return nil, err
		}
		s.cache.Set("all", videos, listCacheTTL, now)
	}
	if query == "" {
		return videos, nil
	}
	out := make([]db.Video, 0, len(videos))
	for _, v := range videos {
		if strings.Contains(strings.ToLower(v.Title), strings.ToLower(query)) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id string) (db.Video, error) {
	v, err := db.GetVideo(ctx, s.session, s.keyspace, id)
	if errors.Is(err, gocql.ErrNotFound) {
		return db.Video{}, ErrNotFound
	}
	if err != nil {
		return db.Video{}, err
	}
	return v, nil
}

func (s *Service) UpdateProgress(ctx context.Context, userID, videoID string, positionMS int64) error {
	return db.SavePlayState(ctx, s.session, s.keyspace, userID, videoID, positionMS)
}

func (s *Service) Progress(ctx context.Context, userID, videoID string) (int64, error) {
	return db.GetPlayState(ctx, s.session, s.keyspace, userID, videoID)
}
