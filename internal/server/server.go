// Package server wires gin, the play engine, and the cleanup sweep into one
// HTTP server.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mantonx/playserver/internal/config"
	"github.com/mantonx/playserver/internal/database"
	"github.com/mantonx/playserver/internal/logger"
	"github.com/mantonx/playserver/internal/play/catalog"
	"github.com/mantonx/playserver/internal/play/engine"
	"github.com/mantonx/playserver/internal/play/ffmpeg"
	"github.com/mantonx/playserver/internal/play/history"
	"github.com/mantonx/playserver/internal/server/handlers"
	"github.com/mantonx/playserver/pkg/plugins"
)

// Server bundles the HTTP server and the engine it serves, so main can
// shut both down in the right order.
type Server struct {
	httpServer *http.Server
	engine     *engine.Engine
	sweeper    *history.Sweeper
	sweepDone  context.CancelFunc
	extPlugin  *plugins.ExternalTranscoder
}

// New builds the full server: opens/reuses the database connection, wires
// the play engine with the in-process transcoder (or with the external
// plugin transcoder when Play.ExternalTranscoderPlugin names a plugin
// binary), and registers the HTTP routes. resolver is the catalog-store collaborator a real deployment
// supplies; nil is only valid if the caller never hits a route that needs
// it (e.g. in narrow tests).
func New(resolver catalog.Resolver) (*Server, error) {
	cfg := config.Get()

	var historyStore *history.Store
	if db := database.GetDB(); db != nil {
		store, err := history.New(db)
		if err != nil {
			return nil, err
		}
		historyStore = store
	}

	var transcoder ffmpeg.Transcoder
	var extPlugin *plugins.ExternalTranscoder
	if cfg.Play.ExternalTranscoderPlugin != "" {
		ext, err := plugins.Dial(cfg.Play.ExternalTranscoderPlugin)
		if err != nil {
			return nil, fmt.Errorf("server: external transcoder plugin: %w", err)
		}
		transcoder = ext
		extPlugin = ext
	} else {
		transcoder = ffmpeg.NewController(cfg.Play.FFmpegPath)
	}

	eng := engine.New(engine.Config{
		ScratchRoot:     cfg.Play.ScratchRoot,
		FFmpegPath:      cfg.Play.FFmpegPath,
		FFprobePath:     cfg.Play.FFprobePath,
		SessionTimeout:  cfg.Play.SessionIdleTimeout,
		HWAccelEnabled:  cfg.Play.HardwareAccelEnabled,
		HWAccelCacheTTL: cfg.Play.HardwareAccelCacheTTL,
		TonemapEnabled:  cfg.Play.TonemapEnabled,
	}, resolver, transcoder, historyStore)

	deps := handlers.Deps{Engine: eng, Debug: cfg.Logging.Level == "debug"}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Server.EnableCORS {
		router.Use(corsMiddleware(cfg.Security.AllowedOrigins))
	}

	setupRoutes(router, deps, cfg.Play.ScratchRoot)

	httpServer := &http.Server{
		Addr:           cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	sweepCtx, cancel := context.WithCancel(context.Background())
	sweeper := history.NewSweeper(history.CleanupConfig{
		ScratchRoot:       cfg.Play.ScratchRoot,
		Interval:          cfg.Play.CleanupInterval,
		OrphanAge:         cfg.Play.OrphanScratchAge,
		MaxTotalSizeBytes: cfg.Play.MaxScratchSizeBytes,
	}, historyStore)
	go sweeper.Run(sweepCtx, func() map[string]bool {
		live := make(map[string]bool)
		for _, s := range eng.Registry().List() {
			live[s.ID] = true
		}
		return live
	})

	return &Server{httpServer: httpServer, engine: eng, sweeper: sweeper, sweepDone: cancel, extPlugin: extPlugin}, nil
}

// ListenAndServe blocks serving HTTP until Shutdown is called.
func (s *Server) ListenAndServe() error {
	logger.Info("server: listening on %s", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests, stops the cleanup sweep, and tears
// down every live session.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.sweepDone()
	s.engine.Shutdown()
	if s.extPlugin != nil {
		s.extPlugin.Close()
	}
	return err
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" && originAllowed(origin, allowedOrigins) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, HEAD, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Range, Content-Type")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return len(allowed) == 0
}

