package media

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Segment is one entry of a segmented-media manifest.
type Segment struct {
	URI      string
	Duration time.Duration
}

// Manifest is the parsed form of an HLS media playlist: the segment list,
// the summed timeline, and whether the presentation is complete.
type Manifest struct {
	Segments      []Segment
	TotalDuration time.Duration
	Ended         bool
}

// parseManifest reads an HLS media playlist, summing EXTINF durations into a
// seekable timeline. Malformed input fails hard so the engine can classify it
// as a media error rather than playing garbage.
func parseManifest(body string) (*Manifest, error) {
	scanner := bufio.NewScanner(strings.NewReader(body))
	m := &Manifest{}

	sawHeader := false
	var nextDuration time.Duration
	haveDuration := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !sawHeader {
			if line != "#EXTM3U" {
				return nil, fmt.Errorf("not a playlist: first line %q", line)
			}
			sawHeader = true
			continue
		}

		if line == "#EXT-X-ENDLIST" {
			m.Ended = true
			continue
		}
		if strings.HasPrefix(line, "#EXTINF:") {
			durPart := strings.TrimPrefix(line, "#EXTINF:")
			if idx := strings.Index(durPart, ","); idx != -1 {
				durPart = durPart[:idx]
			}
			secs, err := strconv.ParseFloat(durPart, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid EXTINF duration %q", durPart)
			}
			nextDuration = time.Duration(secs * float64(time.Second))
			haveDuration = true
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}

		// URI line: one segment.
		if !haveDuration {
			return nil, fmt.Errorf("segment %q without EXTINF", line)
		}
		m.Segments = append(m.Segments, Segment{URI: line, Duration: nextDuration})
		m.TotalDuration += nextDuration
		haveDuration = false
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !sawHeader {
		return nil, fmt.Errorf("empty playlist")
	}
	if len(m.Segments) == 0 {
		return nil, fmt.Errorf("playlist has no segments")
	}
	return m, nil
}

// segmentAt maps a timeline position to a segment index.
func (m *Manifest) segmentAt(pos time.Duration) int {
	var offset time.Duration
	for i, seg := range m.Segments {
		offset += seg.Duration
		if pos < offset {
			return i
		}
	}
	return len(m.Segments) - 1
}
