package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"proofplus-coordinator/internal/services"
)

// ListenerHealth liveness of the event listeners
type ListenerHealth interface {
	Listeners() []services.ListenerStatus
	Healthy() bool
}

// HealthHandler GET /health, 503 once any listener has failed
func HealthHandler(health ListenerHealth) gin.HandlerFunc {
	return func(c *gin.Context) {
		code, status := http.StatusOK, "ok"
		if !health.Healthy() {
			code, status = http.StatusServiceUnavailable, "degraded"
		}
		c.JSON(code, gin.H{
			"status":    status,
			"service":   "proofplus-coordinator",
			"listeners": health.Listeners(),
		})
	}
}
