package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const serviceName = "matchmaking-service"

// HealthCheck godoc
// @Summary Health check
// @Description Check if the matchmaking server is running
// @Tags system
// @Produce json
// @Success 200 {object} map[string]string "Server is healthy"
// @Router /health [get]
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"service":   serviceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
