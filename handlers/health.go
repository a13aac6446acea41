package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/r0xsh/spotizerr/services"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	queue services.QueueManager
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(queue services.QueueManager) *HealthHandler {
	return &HealthHandler{queue: queue}
}

// HealthCheck returns the health status of the service
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "spotizerr-queue",
		"version":   "1.0.0",
		"timestamp": time.Now().Unix(),
	})
}

// APIStatus returns the status of the API along with queue counters
func (h *HealthHandler) APIStatus(c *gin.Context) {
	records := h.queue.Records()

	active := 0
	for _, record := range records {
		if !record.Status.IsTerminal() {
			active++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Spotizerr queue API is running",
		"records": len(records),
		"active":  active,
		"visible": h.queue.Visible(),
	})
}
