// Package session implements the Session Registry: the in-memory map of
// live transcode sessions, their idle-eviction timers, and the
// singleflight-collapsed cold-start path so two requests racing to start
// the same new session don't launch two encoders.
package session

import (
	"context"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mantonx/playserver/internal/logger"
	"github.com/mantonx/playserver/internal/play"
)

// Teardown stops whatever the session's encoder is (killing the process).
// The registry invokes it after dropping a session record on close, idle
// eviction or shutdown, then removes the scratch directory itself; a
// replacement via Register does not invoke it.
type Teardown func(s *play.Session)

type entry struct {
	session    *play.Session
	timer      *time.Timer
	generation uint64
}

// Registry is the Session Registry. All create/replace/close operations on
// a given id are serialized through mu; the idle-timer callback and an
// explicit close each remove the entry under mu before tearing it down, so
// a timer firing just as a client closes can never double-teardown or teardown a session that was
// already replaced (the generation check makes a stale timer a no-op).
type Registry struct {
	mu          sync.Mutex
	sessions    map[string]*entry
	idleTimeout time.Duration
	teardown    Teardown

	starts singleflight.Group
}

// New returns an empty Registry. idleTimeout is the configured
// session_timeout; teardown is called (outside the registry's lock) to stop
// an encoder, after which the registry removes the session's scratch
// directory.
func New(idleTimeout time.Duration, teardown Teardown) *Registry {
	return &Registry{
		sessions:    make(map[string]*entry),
		idleTimeout: idleTimeout,
		teardown:    teardown,
	}
}

// Get returns the session for id, or ErrUnknownSession.
func (r *Registry) Get(id string) (*play.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, play.ErrUnknownSession
	}
	return e.session, nil
}

// Ensure returns the live session for id, starting one via start if none
// exists yet. Concurrent callers racing on the same id that don't already
// have a session collapse onto a single invocation of start — the other
// callers block and receive its result, rather than each launching their
// own encoder.
func (r *Registry) Ensure(ctx context.Context, id string, start func(ctx context.Context) (*play.Session, error)) (*play.Session, error) {
	if s, err := r.Get(id); err == nil {
		r.Touch(id)
		return s, nil
	}

	result, err, _ := r.starts.Do(id, func() (interface{}, error) {
		if s, err := r.Get(id); err == nil {
			return s, nil
		}
		s, err := start(ctx)
		if err != nil {
			return nil, err
		}
		r.Register(s)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*play.Session), nil
}

// Register inserts s, or replaces an existing session with the same id. A
// replace never runs the teardown callback or removes the scratch dir: by
// the time a caller registers a replacement under the same id, it has
// already launched the new encoder, which itself supersedes whatever the
// old one was running under that id — invoking the generic teardown here
// too would race the brand new encoder and its freshly written scratch dir
// against a stop/remove meant for the one it just replaced. Only the old
// entry's idle timer is stopped; the generation counter still increments so
// any in-flight timer callback for the old entry becomes a no-op.
func (r *Registry) Register(s *play.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	gen := uint64(1)
	if old, ok := r.sessions[s.ID]; ok {
		gen = old.generation + 1
		old.timer.Stop()
	}

	e := &entry{session: s, generation: gen}
	e.timer = time.AfterFunc(r.idleTimeout, func() { r.fireIdle(s.ID, gen) })
	r.sessions[s.ID] = e

	logger.Info("[%s] registered", s.ID)
}

// Touch resets the idle timer for id.
func (r *Registry) Touch(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return play.ErrUnknownSession
	}
	e.timer.Reset(r.idleTimeout)
	return nil
}

// Close tears down and removes the session for id, if present. Closing an
// id that isn't (or is no longer) live is a no-op info log, not an error —
// callers never need to distinguish "already gone" from "just closed". Safe
// to call concurrently with the idle timer firing for the same id.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		logger.Info("[%s] close: no such session, nothing to do", id)
		return nil
	}
	e.timer.Stop()
	delete(r.sessions, id)
	r.mu.Unlock()

	r.teardownSync(e.session)
	return nil
}

// fireIdle is the idle-timer callback. gen pins it to the entry that was
// live when the timer was scheduled; if the session has since been replaced
// (new generation) or closed (absent), firing is a no-op.
func (r *Registry) fireIdle(id string, gen uint64) {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if !ok || e.generation != gen {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, id)
	r.mu.Unlock()

	logger.Info("[%s] idle timeout, closing", id)
	r.teardownSync(e.session)
}

// Shutdown tears down every live session; called once, at process shutdown.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	all := make([]*entry, 0, len(r.sessions))
	for id, e := range r.sessions {
		e.timer.Stop()
		all = append(all, e)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range all {
		wg.Add(1)
		go func(s *play.Session) {
			defer wg.Done()
			r.teardownSync(s)
		}(e.session)
	}
	wg.Wait()
}

// List returns a snapshot of all live sessions, for the operator-facing
// GET /sessions endpoint.
func (r *Registry) List() []*play.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*play.Session, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e.session)
	}
	return out
}

func (r *Registry) teardownSync(s *play.Session) {
	if r.teardown != nil {
		r.teardown(s)
	}
	removeScratchDir(s)
}

func removeScratchDir(s *play.Session) {
	if s.ScratchDir == "" {
		return
	}
	if err := os.RemoveAll(s.ScratchDir); err != nil {
		logger.Warn("[%s] failed removing scratch dir %s: %v", s.ID, s.ScratchDir, err)
	}
}
