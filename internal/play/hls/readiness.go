package hls

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// MediaPlaylistName is the live playlist file the encoder writes segment
// references into as it produces them.
const MediaPlaylistName = "media.m3u8"

var segmentLineRe = regexp.MustCompile(`(\d+)\.m4s`)

// FirstLastTranscodedSegment parses the live media playlist in scratchDir and
// returns the first and last segment numbers referenced by non-comment
// lines. Returns (-1, -1) if the playlist doesn't exist yet.
//
// Readiness is derived from playlist lines, not from stat-ing segment files,
// because the encoder only creates a segment file and references it in the
// playlist atomically together — a file may exist on disk moments before its
// playlist line is flushed, and treating that as "ready" would race.
func FirstLastTranscodedSegment(scratchDir string) (first, last int) {
	first, last = -1, -1
	path := filepath.Join(scratchDir, MediaPlaylistName)
	data, err := os.ReadFile(path)
	if err != nil {
		return first, last
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.Contains(line, "#") {
			continue
		}
		m := segmentLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		last = n
		if first < 0 {
			first = n
		}
	}
	return first, last
}

// IsSegmentReady reports whether segment n has already been flushed into the
// live playlist.
func IsSegmentReady(scratchDir string, n int) bool {
	first, last := FirstLastTranscodedSegment(scratchDir)
	return n >= first && n <= last
}

// SegmentPath is the on-disk path of segment n in scratchDir.
func SegmentPath(scratchDir string, n int) string {
	return filepath.Join(scratchDir, "media"+strconv.Itoa(n)+".m4s")
}

// InitSegmentPath is the on-disk path of the fMP4 init segment.
func InitSegmentPath(scratchDir string) string {
	return filepath.Join(scratchDir, "init.mp4")
}

// WaitForSegmentTimeout is the bounded wait for one segment to appear in the
// live playlist.
const WaitForSegmentTimeout = 10 * time.Second

// pollInterval is the correctness-baseline sleep; a fsnotify watch (when
// available) wakes the waiter earlier, but the loop always falls back to
// this fixed cadence so behavior never depends on the filesystem supporting
// inotify.
const pollInterval = 100 * time.Millisecond

// WaitForSegment blocks (cooperatively — it never busy-spins) until segment n
// is ready, the context is cancelled, or WaitForSegmentTimeout elapses. It
// returns false on timeout or cancellation.
func WaitForSegment(ctx context.Context, scratchDir string, n int) bool {
	ctx, cancel := context.WithTimeout(ctx, WaitForSegmentTimeout)
	defer cancel()

	if IsSegmentReady(scratchDir, n) {
		return true
	}

	wake := make(chan struct{}, 1)
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if werr := watcher.Add(scratchDir); werr == nil {
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case _, ok := <-watcher.Events:
						if !ok {
							return
						}
						select {
						case wake <- struct{}{}:
						default:
						}
					case <-watcher.Errors:
					}
				}
			}()
		}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if IsSegmentReady(scratchDir, n) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		case <-wake:
		}
	}
}

// ReseekWindow is the number of segments past the last produced segment
// within which a request waits rather than triggering an encoder restart.
const ReseekWindow = 7

// NeedsReseek reports whether a segment request for n, given the session's
// currently produced range [first, last], must restart the encoder rather
// than simply wait.
func NeedsReseek(first, last, n int) bool {
	if first < 0 {
		return true // no session output yet at all
	}
	if n >= first && n <= last {
		return false
	}
	return n < first || n > last+ReseekWindow
}
