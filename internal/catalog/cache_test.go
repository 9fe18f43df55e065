package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"coursecast/internal/db"
)

func TestCacheExpiry(t *testing.T) {
	c := newCache()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	videos := []db.Video{{ID: "v1", Title: "Intro"}}

	c.Set("all", videos, 30*time.Second, now)

	got, ok := c.Get("all", now.Add(29*time.Second))
	assert.True(t, ok)
	assert.Equal(t, videos, got)

	_, ok = c.Get("all", now.Add(31*time.Second))
	assert.False(t, ok)
}

func TestCacheInvalidate(t *testing.T) {
	c := newCache()
	now := time.Now()
	c.Set("all", []db.Video{{ID: "v1"}}, time.Minute, now)
	c.Invalidate("all")
	_, ok := c.Get("all", now)
	assert.False(t, ok)
}

func TestCacheCopiesSlices(t *testing.T) {
	c := newCache()
	now := time.Now()
	videos := []db.Video{{ID: "v1", Title: "Intro"}}
	c.Set("all", videos, time.Minute, now)

	videos[0].Title = "mutated"
	got, ok := c.Get("all", now)
	assert.True(t, ok)
	assert.Equal(t, "Intro", got[0].Title)
}
