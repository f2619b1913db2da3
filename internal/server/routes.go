package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mantonx/playserver/internal/apiroutes"
	"github.com/mantonx/playserver/internal/server/handlers"
)

// setupRoutes wires the play server's HTTP surface onto r, self-registering
// each route with apiroutes as it goes.
func setupRoutes(r *gin.Engine, deps handlers.Deps, scratchRoot string) {
	register := func(method, path, description string, h gin.HandlerFunc) {
		apiroutes.Register(path, method, description)
		r.Handle(method, path, h)
	}

	register(http.MethodGet, "/health", "Liveness check", handlers.HealthCheck)
	register(http.MethodGet, "/api", "List registered routes", handlers.APIRoot)

	register(http.MethodGet, "/sources", "List sources for a play id", handlers.Sources(deps))
	register(http.MethodGet, "/request-media", "Negotiate playback for a play id", handlers.RequestMedia(deps))

	register(http.MethodGet, "/source", "Byte-range download of the decoded source", handlers.Source(deps))
	register(http.MethodHead, "/source", "Byte-range download of the decoded source", handlers.Source(deps))

	register(http.MethodGet, "/hls/main.m3u8", "HLS master playlist", handlers.MainPlaylist(deps))
	register(http.MethodGet, "/hls/media.m3u8", "HLS media playlist", handlers.MediaPlaylist(deps))
	register(http.MethodGet, "/hls/media:segment", "HLS segment", handlers.Segment(deps))
	register(http.MethodGet, "/hls/init.mp4", "HLS fMP4 init segment", handlers.InitSegment(deps))

	register(http.MethodPost, "/keep-alive/:session", "Extend session idle timeout", handlers.KeepAlive(deps))
	register(http.MethodPost, "/close-session/:session", "Force session teardown", handlers.CloseSession(deps))
	register(http.MethodGet, "/sessions", "List active and recent sessions", handlers.ListSessions(deps))

	// /subtitle-file and /thumbnails/* belong to external collaborators this
	// server doesn't implement; registered as explicit 501s so the route
	// table documents the boundary instead of 404ing silently.
	register(http.MethodGet, "/subtitle-file", "External collaborator (not implemented here)", handlers.NotImplemented)
	register(http.MethodGet, "/thumbnails/*filepath", "External collaborator (not implemented here)", handlers.NotImplemented)

	if scratchRoot != "" {
		apiroutes.Register("/files/*filepath", http.MethodGet, "Read-only scratch tree")
		r.StaticFS("/files", http.Dir(scratchRoot))
	}
}
