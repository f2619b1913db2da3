package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mantonx/playserver/internal/apiroutes"
	"github.com/mantonx/playserver/internal/database"
)

// HealthCheck reports basic liveness: the process is up and, if a database
// was configured, it answers.
func HealthCheck(c *gin.Context) {
	status := "ok"
	dbOK := true
	if err := database.HealthCheck(); err != nil {
		dbOK = false
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"database": dbOK,
	})
}

// APIRoot lists every route this server has registered, for operators
// poking at it without the docs handy.
func APIRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"routes": apiroutes.Get(),
	})
}

// NotImplemented serves endpoints this repo deliberately doesn't implement —
// subtitle extraction and thumbnail generation are external collaborators.
func NotImplemented(c *gin.Context) {
	c.JSON(http.StatusNotImplemented, gin.H{"error": "not implemented by this server"})
}
