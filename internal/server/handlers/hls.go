package handlers

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mantonx/playserver/internal/play"
)

// withStartupTimeout bounds a cold-start request by the configured encoder
// startup readiness timeout (60s, 20s in debug mode).
func withStartupTimeout(c *gin.Context, deps Deps) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), deps.StartupTimeout())
}

// MainPlaylist serves GET /hls/main.m3u8: the master playlist naming the
// single variant this server ever produces for a session.
func MainPlaylist(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		cap := play.ParseCapabilityDescriptor(c.Request.URL.Query())

		id, err := deps.Engine.ResolvePlayID(cap.PlayID)
		if err != nil {
			abortWithError(c, err)
			return
		}

		result, err := deps.Engine.RequestMedia(c.Request.Context(), id, cap)
		if err != nil {
			abortWithError(c, err)
			return
		}

		// result.HLSURL carries the session id RequestMedia assigns when the
		// caller didn't supply one -- use its query, not the raw request's, so
		// the media playlist link the client follows next actually names a
		// session.
		query := result.HLSURL
		if i := strings.IndexByte(query, '?'); i >= 0 {
			query = query[i+1:]
		} else {
			query = ""
		}
		body := deps.Engine.MainPlaylist(result.Decision, result.Decision.OutputBitrate, query)
		c.Data(http.StatusOK, "application/vnd.apple.mpegurl", []byte(body))
	}
}

// MediaPlaylist serves GET /hls/media.m3u8: the per-session media playlist,
// cold-starting a session at plan[t=0] if one doesn't exist yet.
func MediaPlaylist(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		cap := play.ParseCapabilityDescriptor(c.Request.URL.Query())
		if !play.ValidSessionID(cap.Session) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session id too short"})
			return
		}

		id, err := deps.Engine.ResolvePlayID(cap.PlayID)
		if err != nil {
			abortWithError(c, err)
			return
		}

		ctx, cancel := withStartupTimeout(c, deps)
		defer cancel()

		startSegment := cap.StartSegment
		s, err := deps.Engine.EnsureSession(ctx, id, cap.Session, cap, startSegment)
		if err != nil {
			abortWithError(c, err)
			return
		}

		query := c.Request.URL.RawQuery
		body := deps.Engine.MediaPlaylist(s, query)
		c.Data(http.StatusOK, "application/vnd.apple.mpegurl", []byte(body))
	}
}

// segmentNumberFromPath extracts the segment number from a "media{N}.m4s" path segment.
var segmentNumberFromPath = func(name string) (int, bool) {
	name = strings.TrimSuffix(name, ".m4s")
	name = strings.TrimPrefix(name, "media")
	n, err := strconv.Atoi(name)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Segment serves GET /hls/media{N}.m4s, waiting for encoder readiness and
// restarting the encoder on a re-seek when necessary.
func Segment(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, ok := segmentNumberFromPath(c.Param("segment"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid segment name"})
			return
		}

		cap := play.ParseCapabilityDescriptor(c.Request.URL.Query())
		if !play.ValidSessionID(cap.Session) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session id too short"})
			return
		}

		id, err := deps.Engine.ResolvePlayID(cap.PlayID)
		if err != nil {
			abortWithError(c, err)
			return
		}

		path, err := deps.Engine.ServeSegment(c.Request.Context(), id, cap.Session, cap, n)
		if err != nil {
			abortSegmentError(c, err)
			return
		}
		c.File(path)
	}
}

// InitSegment serves GET /hls/init.mp4: the fMP4 initialization segment for
// an already-running session.
func InitSegment(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		cap := play.ParseCapabilityDescriptor(c.Request.URL.Query())

		s, err := deps.Engine.Registry().Get(cap.Session)
		if err != nil {
			abortWithError(c, err)
			return
		}

		path := deps.Engine.InitSegmentPath(s)
		if _, err := os.Stat(path); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "init segment not ready"})
			return
		}
		c.File(path)
	}
}
