package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/mantonx/playserver/internal/play"
	"github.com/mantonx/playserver/internal/play/rangehttp"
)

// Source serves GET/HEAD /source: a byte-range download of the decoded
// source file, for direct-play and copy-video/copy-audio clients.
func Source(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		cap := play.ParseCapabilityDescriptor(c.Request.URL.Query())

		id, err := deps.Engine.ResolvePlayID(cap.PlayID)
		if err != nil {
			abortWithError(c, err)
			return
		}

		path, err := deps.Engine.SourceFilePath(c.Request.Context(), id, cap.SourceIndex)
		if err != nil {
			abortWithError(c, err)
			return
		}

		if err := rangehttp.ServeFile(c.Writer, c.Request, path); err != nil {
			abortWithError(c, err)
		}
	}
}
