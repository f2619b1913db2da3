package history

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/mantonx/playserver/internal/logger"
)

// CleanupConfig configures the background sweep.
type CleanupConfig struct {
	ScratchRoot      string
	Interval         time.Duration
	OrphanAge        time.Duration // how old an on-disk dir with no live session must be before it's reaped
	MaxTotalSizeBytes int64        // 0 disables size-budget eviction
}

// Sweeper periodically reaps orphaned scratch directories (ones that
// outlived their session, e.g. after a crash) and, if the configured size
// budget is exceeded, evicts the oldest directories until back under it.
// It never touches a directory belonging to a currently-live session —
// liveness is checked against the registry's own id set, passed in on each
// sweep, not against this package's history rows (which can lag a crash).
type Sweeper struct {
	cfg   CleanupConfig
	store *Store
}

// NewSweeper returns a Sweeper. store may be nil — PruneOlderThan is simply
// skipped for that sweep.
func NewSweeper(cfg CleanupConfig, store *Store) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.OrphanAge <= 0 {
		cfg.OrphanAge = time.Hour
	}
	return &Sweeper{cfg: cfg, store: store}
}

// LiveIDs is supplied by the caller (the session registry) on each sweep so
// the sweeper never races a just-registered session whose directory exists
// but isn't yet a history row.
type LiveIDs func() map[string]bool

// Run blocks, sweeping on cfg.Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, liveIDs LiveIDs) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.sweep(liveIDs())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(liveIDs())
		}
	}
}

func (s *Sweeper) sweep(live map[string]bool) {
	if s.store != nil {
		if n, err := s.store.PruneOlderThan(time.Now().Add(-7 * 24 * time.Hour)); err != nil {
			logger.Warn("history: prune failed: %v", err)
		} else if n > 0 {
			logger.Info("history: pruned %d old rows", n)
		}
	}

	dirs, err := s.listSessionDirs()
	if err != nil {
		logger.Warn("history: cleanup: reading scratch root: %v", err)
		return
	}

	var totalSize int64
	var candidates []sessionDir
	for _, d := range dirs {
		if live[d.id] {
			totalSize += d.size
			continue
		}
		if time.Since(d.modTime) < s.cfg.OrphanAge {
			// Too young to be confident it's actually orphaned rather than
			// a session whose registration hasn't landed yet.
			totalSize += d.size
			continue
		}
		if err := os.RemoveAll(d.path); err != nil {
			logger.Warn("history: cleanup: removing %s: %v", d.path, err)
			totalSize += d.size
			continue
		}
		logger.Info("history: reaped orphaned scratch dir %s", d.path)
	}

	if s.cfg.MaxTotalSizeBytes <= 0 || totalSize <= s.cfg.MaxTotalSizeBytes {
		return
	}

	// Emergency eviction: oldest-first among directories still present
	// (live sessions are never evicted here, and the orphan sweep above
	// skips them too — only the session registry removes a live session's
	// directory).
	for _, d := range dirs {
		if !live[d.id] {
			candidates = append(candidates, d)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].modTime.Before(candidates[j].modTime) })

	target := s.cfg.MaxTotalSizeBytes * 9 / 10
	for _, d := range candidates {
		if totalSize <= target {
			break
		}
		if time.Since(d.modTime) < time.Hour {
			continue // too recent, likely actively streaming
		}
		logger.Warn("history: emergency eviction of %s (%d bytes) to stay under size budget", d.path, d.size)
		if err := os.RemoveAll(d.path); err != nil {
			logger.Warn("history: cleanup: emergency removal of %s: %v", d.path, err)
			continue
		}
		totalSize -= d.size
	}
}

type sessionDir struct {
	id      string
	path    string
	size    int64
	modTime time.Time
}

func (s *Sweeper) listSessionDirs() ([]sessionDir, error) {
	entries, err := os.ReadDir(s.cfg.ScratchRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var dirs []sessionDir
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(s.cfg.ScratchRoot, e.Name())
		dirs = append(dirs, sessionDir{
			id:      e.Name(),
			path:    path,
			size:    dirSize(path),
			modTime: info.ModTime(),
		})
	}
	return dirs, nil
}

func dirSize(root string) int64 {
	var total int64
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total
}
