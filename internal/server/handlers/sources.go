package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Sources lists every known source variant for a play id: per source index,
// resolution, codecs, and duration.
func Sources(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := deps.Engine.ResolvePlayID(c.Query("play_id"))
		if err != nil {
			abortWithError(c, err)
			return
		}

		sources, err := deps.Engine.ListSources(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}

		out := make([]gin.H, 0, len(sources))
		for _, s := range sources {
			out = append(out, gin.H{
				"index":       s.Index,
				"width":       s.Width,
				"height":      s.Height,
				"video_codec": s.VideoCodec,
				"audio_codec": s.AudioCodec,
				"duration":    s.Duration,
			})
		}
		c.JSON(http.StatusOK, gin.H{"sources": out})
	}
}
