// Command ffmpeg_transcoder is a standalone external Transcoder plugin,
// dispensed to the host process over pkg/plugins' go-plugin bridge. It
// exists to prove the external-transcoder seam works end to end: it runs
// the exact ffmpeg argv the host already built (internal/play/ffmpeg
// assembles those from the negotiated session, the same as Controller
// would've run in-process) and tracks one process per session.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/mantonx/playserver/internal/play/ffmpeg"
)

type ffmpegProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
}

type transcoder struct {
	ffmpegPath string

	mu    sync.Mutex
	procs map[string]*ffmpegProcess
}

func (t *transcoder) Launch(session string, args []string) error {
	t.mu.Lock()
	existing, ok := t.procs[session]
	t.mu.Unlock()
	if ok {
		// A relaunch under the same session id supersedes the old process —
		// the re-seek path restarts the encoder at a new position under the
		// same id, exactly like the in-process Controller does.
		t.killAndWait(existing)
	}

	cmd := exec.Command(t.ffmpegPath, args...)
	cmd.Env = append(os.Environ(), ffmpeg.ReportEnv(ffmpeg.ScratchDirFromArgs(args), session))
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg_transcoder: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg_transcoder: start: %w", err)
	}

	p := &ffmpegProcess{cmd: cmd, done: make(chan struct{})}
	t.mu.Lock()
	t.procs[session] = p
	t.mu.Unlock()

	go t.supervise(session, p, stderr)
	return nil
}

func (t *transcoder) supervise(session string, p *ffmpegProcess, stderr io.ReadCloser) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		fmt.Fprintf(os.Stderr, "[%s] %s\n", session, scanner.Text())
	}
	p.cmd.Wait()
	close(p.done)

	t.mu.Lock()
	if t.procs[session] == p {
		delete(t.procs, session)
	}
	t.mu.Unlock()
}

func (t *transcoder) Stop(session string) error {
	t.mu.Lock()
	p, ok := t.procs[session]
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return t.killAndWait(p)
}

// killAndWait kills p's process and blocks until its supervise goroutine has
// observed it exit, best-effort — a kill error is logged to stderr rather
// than returned, since the caller (Launch's supersede path) has no recovery
// action to take for it anyway.
func (t *transcoder) killAndWait(p *ffmpegProcess) error {
	if p.cmd.Process != nil {
		if err := p.cmd.Process.Kill(); err != nil {
			fmt.Fprintf(os.Stderr, "ffmpeg_transcoder: kill: %v\n", err)
		}
	}
	<-p.done
	return nil
}

func (t *transcoder) Running(session string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.procs[session]
	return ok
}

func main() {
	ffmpegPath := os.Getenv("FFMPEG_PATH")
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	serve(&transcoder{ffmpegPath: ffmpegPath, procs: make(map[string]*ffmpegProcess)})
}
