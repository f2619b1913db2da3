package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mantonx/playserver/internal/play"
)

// RequestMedia runs capability negotiation for one play id + capability
// descriptor and returns the URLs the client should use next.
func RequestMedia(deps Deps) gin.HandlerFunc {
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

		c.JSON(http.StatusOK, gin.H{
			"direct_play_url": result.DirectPlayURL,
			"can_direct_play": result.CanDirectPlay,
			"hls_url":         result.HLSURL,
		})
	}
}
