package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mantonx/playserver/internal/play"
)

// statusFor maps a play package error to the HTTP status this server
// reports it as. The default (500) covers ProbeFailure and anything else
// this server doesn't recognize explicitly.
func statusFor(err error) int {
	switch {
	case errors.Is(err, play.ErrInvalidPlayID):
		return http.StatusBadRequest
	case errors.Is(err, play.ErrUnknownSession):
		return http.StatusNotFound
	case errors.Is(err, play.ErrNoMetadata):
		return http.StatusNotFound
	case errors.Is(err, play.ErrNoVideoStream):
		return http.StatusInternalServerError
	case errors.Is(err, play.ErrRangeNotSatisfiable):
		return http.StatusRequestedRangeNotSatisfiable
	case errors.Is(err, play.ErrEncoderStartTimeout):
		return http.StatusInternalServerError
	case errors.Is(err, play.ErrEncoderLaunchFailure):
		return http.StatusInternalServerError
	case errors.Is(err, play.ErrSegmentWaitTimeout):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError maps err to its HTTP status and writes a JSON error body.
func abortWithError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// abortSegmentError is the /hls/media{N}.m4s variant of abortWithError:
// EncoderStartTimeout surfaces as 404 here rather than the 500 it gets on
// the playlist path.
func abortSegmentError(c *gin.Context, err error) {
	if errors.Is(err, play.ErrEncoderStartTimeout) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	abortWithError(c, err)
}
