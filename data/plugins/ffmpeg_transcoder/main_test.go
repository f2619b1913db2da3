package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTranscoder() *transcoder {
	return &transcoder{ffmpegPath: "sh", procs: make(map[string]*ffmpegProcess)}
}

// sleepArgs fakes an ffmpeg invocation with a long-lived shell command; the
// real argv's last element still needs to look like an HLS output path for
// ScratchDirFromArgs, so FFREPORT env building doesn't panic on an empty arg
// list.
func sleepArgs(scratch string) []string {
	return []string{"-c", "sleep 5", scratch + "/media.m3u8"}
}

func TestLaunchSupersedesExistingProcessForSameSession(t *testing.T) {
	tr := newTestTranscoder()
	scratch := t.TempDir()

	require.NoError(t, tr.Launch("sess-1", sleepArgs(scratch)))

	tr.mu.Lock()
	first := tr.procs["sess-1"]
	tr.mu.Unlock()
	require.NotNil(t, first)
	firstPID := first.cmd.Process.Pid

	require.NoError(t, tr.Launch("sess-1", sleepArgs(scratch)))

	select {
	case <-first.done:
	case <-time.After(3 * time.Second):
		t.Fatal("superseded process was not killed")
	}

	tr.mu.Lock()
	second := tr.procs["sess-1"]
	tr.mu.Unlock()
	require.NotNil(t, second)
	assert.NotEqual(t, firstPID, second.cmd.Process.Pid)
	assert.True(t, tr.Running("sess-1"))

	require.NoError(t, tr.Stop("sess-1"))
}

func TestLaunchWithoutExistingSessionStartsCleanly(t *testing.T) {
	tr := newTestTranscoder()
	scratch := t.TempDir()

	require.NoError(t, tr.Launch("sess-fresh", sleepArgs(scratch)))
	assert.True(t, tr.Running("sess-fresh"))

	require.NoError(t, tr.Stop("sess-fresh"))
	assert.Eventually(t, func() bool { return !tr.Running("sess-fresh") }, 3*time.Second, 10*time.Millisecond)
}

func TestLaunchSetsFFREPORTEnv(t *testing.T) {
	tr := newTestTranscoder()
	scratch := t.TempDir()

	require.NoError(t, tr.Launch("sess-env", sleepArgs(scratch)))
	tr.mu.Lock()
	p := tr.procs["sess-env"]
	tr.mu.Unlock()
	require.NotNil(t, p)

	var found bool
	for _, kv := range p.cmd.Env {
		if kv == "FFREPORT=file='"+scratch+"/ffmpeg_sess-env_transcode.log':level=32" {
			found = true
			break
		}
	}
	assert.True(t, found, "expected FFREPORT in process env, got: %v", p.cmd.Env)

	require.NoError(t, tr.Stop("sess-env"))
}
