package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"coursecast/internal/db"
)

// ScanRoots walks the course roots and registers every lesson video it
// finds. Progressive lessons are single .mp4 files; segmented lessons are
// directories holding an index.m3u8. Returns how many were newly added.
func (s *Service) ScanRoots(ctx context.Context, roots []string) (int, error) {
	if len(roots) == 0 {
		return 0, fmt.Errorf("no course roots configured")
	}
	added := 0
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			continue
		}
		n, err := s.scanRoot(ctx, root)
		added += n
		if err != nil {
			return added, err
		}
	}
	if added > 0 {
		s.cache.Invalidate("all")
		s.logger.Info().Int("added", added).Msg("catalog scan registered new videos")
	}
	return added, nil
}

func (s *Service) scanRoot(ctx context.Context, root string) (int, error) {
	added := 0
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		var candidate db.Video
		switch {
		case info.IsDir() && isSegmentedDir(path):
			candidate = db.Video{
				CourseID:  courseFromPath(root, path),
				Title:     titleFromName(filepath.Base(path)),
				Path:      filepath.Clean(path),
				Segmented: true,
			}
		case !info.IsDir() && isProgressiveFile(path):
			// Segment files inside an HLS dir are not lessons themselves.
			if isSegmentedDir(filepath.Dir(path)) {
				return nil
			}
			candidate = db.Video{
				CourseID:  courseFromPath(root, path),
				Title:     titleFromName(info.Name()),
				Path:      filepath.Clean(path),
				Segmented: false,
			}
		default:
			return nil
		}

		_, inserted, err := db.UpsertVideo(ctx, s.session, s.keyspace, candidate)
		if err != nil {
			return err
		}
		if inserted {
			added++
		}
		if info.IsDir() {
			return filepath.SkipDir
		}
		return nil
	})
	return added, err
}

func isProgressiveFile(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == ".mp4"
}

// isSegmentedDir reports whether dir is an HLS lesson, identified by a
// top-level index.m3u8.
func isSegmentedDir(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, "index.m3u8"))
	return err == nil && !info.IsDir()
}

// courseFromPath uses the first directory under the root as the course id,
// or "misc" for videos sitting directly in the root.
func courseFromPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "misc"
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 {
		return "misc"
	}
	return parts[0]
}

// titleFromName turns "03-intro-to-goroutines.mp4" into "Intro To Goroutines".
func titleFromName(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	base = strings.NewReplacer("-", " ", "_", " ", ".", " ").Replace(base)
	parts := strings.Fields(base)
	// Drop a leading lesson number.
	if len(parts) > 1 && isDigits(parts[0]) {
		parts = parts[1:]
	}
	for i, p := range parts {
		if len(p) > 0 {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	title := strings.Join(parts, " ")
	if title == "" {
		return base
	}
	return title
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
