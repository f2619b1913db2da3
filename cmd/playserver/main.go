package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mantonx/playserver/internal/config"
	"github.com/mantonx/playserver/internal/database"
	"github.com/mantonx/playserver/internal/logger"
	"github.com/mantonx/playserver/internal/play"
	"github.com/mantonx/playserver/internal/play/catalog"
	"github.com/mantonx/playserver/internal/server"
)

// unconfiguredCatalog is the seam a real deployment fills with its catalog
// store. This repo only defines the Resolver interface (see
// internal/play/catalog); scanning, indexing, and serving a media library
// is an external collaborator's job.
type unconfiguredCatalog struct{}

func (unconfiguredCatalog) Sources(ctx context.Context, id play.PlayID) ([]play.SourceMetadata, error) {
	return nil, play.ErrNoMetadata
}

func main() {
	configPath := os.Getenv("PLAY_CONFIG_FILE")
	if err := config.Load(configPath); err != nil {
		log.Fatalf("config: %v", err)
	}
	cfg := config.Get()

	logger.Info("playserver starting: %s:%d", cfg.Server.Host, cfg.Server.Port)

	if err := database.Initialize(); err != nil {
		log.Fatalf("database: %v", err)
	}

	var resolver catalog.Resolver = unconfiguredCatalog{}

	srv, err := server.New(resolver)
	if err != nil {
		log.Fatalf("server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("playserver: shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("playserver: shutdown error: %v", err)
		}
		cancel()
	}()

	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("playserver: %v", err)
	}

	<-ctx.Done()
	logger.Info("playserver: shutdown complete")
}
