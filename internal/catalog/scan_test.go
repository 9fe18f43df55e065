package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTitleFromName(t *testing.T) {
	cases := map[string]string{
		"03-intro-to-goroutines.mp4": "Intro To Goroutines",
		"channels_basics.mp4":        "Channels Basics",
		"01.closing.channels.mp4":    "Closing Channels",
		"overview.mp4":               "Overview",
		"12":                         "12",
	}
	for in, want := range cases {
		assert.Equal(t, want, titleFromName(in), in)
	}
}

func TestCourseFromPath(t *testing.T) {
	root := filepath.FromSlash("/srv/courses")
	assert.Equal(t, "go-101", courseFromPath(root, filepath.FromSlash("/srv/courses/go-101/01-intro.mp4")))
	assert.Equal(t, "go-101", courseFromPath(root, filepath.FromSlash("/srv/courses/go-101/week2/lecture.mp4")))
	assert.Equal(t, "misc", courseFromPath(root, filepath.FromSlash("/srv/courses/orphan.mp4")))
}

func TestIsSegmentedDir(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, isSegmentedDir(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.m3u8"), []byte("#EXTM3U\n"), 0o644))
	assert.True(t, isSegmentedDir(dir))
}

func TestIsProgressiveFile(t *testing.T) {
	assert.True(t, isProgressiveFile("lesson.mp4"))
	assert.True(t, isProgressiveFile("lesson.MP4"))
	assert.False(t, isProgressiveFile("seg000.ts"))
	assert.False(t, isProgressiveFile("notes.pdf"))
}
