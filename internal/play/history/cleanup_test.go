package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeSessionDir(t *testing.T, root, id string, size int, age time.Duration) string {
	t.Helper()
	dir := filepath.Join(root, id)
	require.NoError(t, os.Mkdir(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seg.m4s"), make([]byte, size), 0o644))

	modTime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(dir, modTime, modTime))
	return dir
}

func TestNewSweeperAppliesDefaults(t *testing.T) {
	s := NewSweeper(CleanupConfig{}, nil)
	assert.Equal(t, 5*time.Minute, s.cfg.Interval)
	assert.Equal(t, time.Hour, s.cfg.OrphanAge)
}

func TestNewSweeperKeepsExplicitConfig(t *testing.T) {
	s := NewSweeper(CleanupConfig{Interval: time.Minute, OrphanAge: 10 * time.Minute}, nil)
	assert.Equal(t, time.Minute, s.cfg.Interval)
	assert.Equal(t, 10*time.Minute, s.cfg.OrphanAge)
}

func TestSweepReapsOldOrphanedDirs(t *testing.T) {
	root := t.TempDir()
	makeSessionDir(t, root, "orphan-old", 100, 2*time.Hour)

	s := NewSweeper(CleanupConfig{ScratchRoot: root, OrphanAge: time.Hour}, nil)
	s.sweep(map[string]bool{})

	_, err := os.Stat(filepath.Join(root, "orphan-old"))
	assert.True(t, os.IsNotExist(err))
}

func TestSweepKeepsYoungOrphanedDirs(t *testing.T) {
	root := t.TempDir()
	makeSessionDir(t, root, "orphan-young", 100, time.Minute)

	s := NewSweeper(CleanupConfig{ScratchRoot: root, OrphanAge: time.Hour}, nil)
	s.sweep(map[string]bool{})

	_, err := os.Stat(filepath.Join(root, "orphan-young"))
	assert.NoError(t, err)
}

func TestSweepNeverTouchesLiveDirs(t *testing.T) {
	root := t.TempDir()
	makeSessionDir(t, root, "live-old", 100, 2*time.Hour)

	s := NewSweeper(CleanupConfig{ScratchRoot: root, OrphanAge: time.Hour}, nil)
	s.sweep(map[string]bool{"live-old": true})

	_, err := os.Stat(filepath.Join(root, "live-old"))
	assert.NoError(t, err)
}

func TestSweepMissingScratchRootIsNotAnError(t *testing.T) {
	s := NewSweeper(CleanupConfig{ScratchRoot: filepath.Join(t.TempDir(), "does-not-exist")}, nil)
	assert.NotPanics(t, func() { s.sweep(map[string]bool{}) })
}

// Emergency eviction only ever considers a directory that the orphan-reap
// pass left behind (i.e. younger than OrphanAge, so not already deleted)
// and that is itself older than an hour (the "likely actively streaming"
// recency guard). This test keeps OrphanAge generous enough that all four
// directories survive the first pass, then exercises eviction among them.
func TestSweepEmergencyEvictionEvictsOldestFirstAndSparesRecentOrLive(t *testing.T) {
	root := t.TempDir()
	makeSessionDir(t, root, "stale-small", 300, 2*time.Hour+50*time.Minute)
	makeSessionDir(t, root, "stale-big", 5000, 2*time.Hour)
	makeSessionDir(t, root, "fresh", 5000, 20*time.Minute)
	makeSessionDir(t, root, "live-big", 5000, 2*time.Hour)

	s := NewSweeper(CleanupConfig{
		ScratchRoot:       root,
		OrphanAge:         3 * time.Hour,
		MaxTotalSizeBytes: 5000,
	}, nil)
	s.sweep(map[string]bool{"live-big": true})

	_, err := os.Stat(filepath.Join(root, "stale-small"))
	assert.True(t, os.IsNotExist(err), "oldest non-live candidate should be evicted")

	_, err = os.Stat(filepath.Join(root, "stale-big"))
	assert.True(t, os.IsNotExist(err), "next-oldest non-live candidate should be evicted")

	_, err = os.Stat(filepath.Join(root, "fresh"))
	assert.NoError(t, err, "a directory under an hour old is spared even over budget")

	_, err = os.Stat(filepath.Join(root, "live-big"))
	assert.NoError(t, err, "a live session's directory is never evicted")
}

func TestDirSize(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a"), make([]byte, 10), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b"), make([]byte, 20), 0o644))

	assert.Equal(t, int64(30), dirSize(root))
}
