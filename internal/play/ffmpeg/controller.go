package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mantonx/playserver/internal/logger"
)

// Transcoder is the boundary between a play session and whatever actually
// runs the encoder. The in-process Controller below is the default
// implementation; pkg/plugins additionally exposes an out-of-process
// implementation that talks to a hashicorp/go-plugin child process, sharing
// this same interface.
type Transcoder interface {
	// Launch starts an encoder for one session and returns once the process
	// has been started (not once output exists — callers wait for segment
	// readiness separately via internal/play/hls.WaitForSegment).
	Launch(ctx context.Context, session string, args []string) error
	// Stop terminates the encoder for session, if running.
	Stop(session string) error
	// Running reports whether session currently has a live encoder process.
	Running(session string) bool
}

// Controller supervises ffmpeg subprocesses directly via os/exec. Each
// session gets an independent context so that an HTTP request's context
// being cancelled (a client disconnect mid-segment) never kills the
// encoder — other viewers of the same session, or a later request for a
// later segment, still need it running.
type Controller struct {
	ffmpegPath string

	mu    sync.Mutex
	procs map[string]*process
}

type process struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	done   chan struct{}
}

// NewController returns a Controller invoking the given ffmpeg binary
// ("ffmpeg" if path is empty).
func NewController(ffmpegPath string) *Controller {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Controller{ffmpegPath: ffmpegPath, procs: make(map[string]*process)}
}

// Launch starts ffmpeg with args for session, replacing any prior process
// for the same session id.
func (c *Controller) Launch(ctx context.Context, session string, args []string) error {
	c.mu.Lock()
	if existing, ok := c.procs[session]; ok {
		c.mu.Unlock()
		c.stopProcess(existing)
		c.mu.Lock()
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, c.ffmpegPath, args...)
	cmd.Stdin = nil
	cmd.Env = append(os.Environ(), ReportEnv(ScratchDirFromArgs(args), session))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		c.mu.Unlock()
		return fmt.Errorf("ffmpeg: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		c.mu.Unlock()
		return fmt.Errorf("ffmpeg: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		c.mu.Unlock()
		return fmt.Errorf("ffmpeg: start: %w", err)
	}

	p := &process{cmd: cmd, cancel: cancel, done: make(chan struct{})}
	c.procs[session] = p
	c.mu.Unlock()

	go c.supervise(session, p, stdout, stderr)

	return nil
}

// supervise runs the fixed set of per-process background goroutines — stdout
// drain, stderr drain, wait — under a single errgroup so the three are
// managed as one unit; the group's error is whatever cmd.Wait() returned,
// since the drain goroutines only ever discard or log and never fail.
func (c *Controller) supervise(session string, p *process, stdout, stderr io.ReadCloser) {
	var g errgroup.Group
	g.Go(func() error {
		drain(session, "stdout", stdout)
		return nil
	})
	g.Go(func() error {
		drain(session, "stderr", stderr)
		return nil
	})
	g.Go(func() error {
		return p.cmd.Wait()
	})
	err := g.Wait()
	close(p.done)

	c.mu.Lock()
	if c.procs[session] == p {
		delete(c.procs, session)
	}
	c.mu.Unlock()

	if err != nil {
		logger.Error("[%s] encoder exited: %v", session, err)
	} else {
		logger.Info("[%s] encoder exited", session)
	}
}

func drain(session, stream string, r io.ReadCloser) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logger.Debug("[%s] %s: %s", session, stream, scanner.Text())
	}
}

// Stop terminates session's encoder, if one is running, and blocks until
// its process has exited.
func (c *Controller) Stop(session string) error {
	c.mu.Lock()
	p, ok := c.procs[session]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	c.stopProcess(p)
	return nil
}

func (c *Controller) stopProcess(p *process) {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	p.cancel()
	select {
	case <-p.done:
	case <-time.After(5 * time.Second):
	}
}

// Running reports whether session has a live encoder process.
func (c *Controller) Running(session string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.procs[session]
	return ok
}
