// Package handlers holds the gin handler functions for the play server's
// HTTP surface. Each handler is a closure over a Deps value rather than a
// package-level global, so tests can construct a Deps with fakes instead of
// reaching for process-wide state.
package handlers

import (
	"time"

	"github.com/mantonx/playserver/internal/play/engine"
)

// Deps bundles what a handler needs beyond the request itself.
type Deps struct {
	Engine *engine.Engine
	// Debug shortens the encoder-startup wait from 60s to 20s.
	Debug bool
}

// StartupTimeout is the encoder-startup wait this Deps should use.
func (d Deps) StartupTimeout() time.Duration {
	if d.Debug {
		return engine.StartupTimeoutDebug
	}
	return engine.StartupTimeout
}
