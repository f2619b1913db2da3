package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// KeepAlive serves POST /keep-alive/{session}: extends the session's idle
// eviction deadline.
func KeepAlive(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("session")
		if err := deps.Engine.KeepAlive(id); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// CloseSession serves POST /close-session/{session}: forces teardown. It's
// idempotent — closing an already-gone session is a 200, not an error,
// since Registry.Close itself is a no-op on an unknown id.
func CloseSession(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("session")
		if err := deps.Engine.CloseSession(id); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// ListSessions serves GET /sessions: live sessions plus recent
// history-backed ones, for operator/debug visibility.
func ListSessions(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		summaries := deps.Engine.ListSessions()
		out := make([]gin.H, 0, len(summaries))
		for _, s := range summaries {
			out = append(out, gin.H{
				"id":          s.ID,
				"live":        s.Live,
				"started_at":  s.StartedAt,
				"video_codec": s.VideoCodec,
				"audio_codec": s.AudioCodec,
			})
		}
		c.JSON(http.StatusOK, gin.H{"sessions": out})
	}
}
