package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/r0xsh/spotizerr/services"
	"github.com/r0xsh/spotizerr/types"
	"github.com/r0xsh/spotizerr/websocket"
)

// DownloadHandler handles download queue endpoints
type DownloadHandler struct {
	queue services.QueueManager
	hub   websocket.Hub
}

// NewDownloadHandler creates a new download handler
func NewDownloadHandler(queue services.QueueManager, hub websocket.Hub) *DownloadHandler {
	return &DownloadHandler{
		queue: queue,
		hub:   hub,
	}
}

// AddDownload creates a queue record for a backend-issued progress
// handle. Monitoring starts immediately unless autoStart is false.
func (h *DownloadHandler) AddDownload(c *gin.Context) {
	var req types.AddDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid request body",
			"details": err.Error(),
		})
		return
	}

	autoStart := true
	if req.AutoStart != nil {
		autoStart = *req.AutoStart
	}

	meta := types.DisplayMetadata{Name: req.Name, Artist: req.Artist}
	id, err := h.queue.AddDownload(meta, req.Kind, req.ProgressHandle, req.Request, autoStart)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "could not queue download",
			"details": err.Error(),
		})
		return
	}

	record, _ := h.queue.GetRecord(id)
	c.JSON(http.StatusCreated, gin.H{
		"message": "Download queued successfully",
		"record":  record,
	})
}

// AddArtistDownload fans one artist request out into independent album
// records, one per progress handle reported by the backend
func (h *DownloadHandler) AddArtistDownload(c *gin.Context) {
	var req types.AddArtistDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid request body",
			"details": err.Error(),
		})
		return
	}

	autoStart := true
	if req.AutoStart != nil {
		autoStart = *req.AutoStart
	}

	meta := types.DisplayMetadata{Name: req.Name, Artist: req.Artist}
	ids, err := h.queue.AddArtistDownload(meta, req.ProgressHandles, req.Request, autoStart)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "could not queue artist download",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Artist download queued successfully",
		"ids":     ids,
		"total":   len(ids),
	})
}

// StartMonitoring begins polling for a record once the caller has
// confirmed the progress handle exists server-side. Idempotent.
func (h *DownloadHandler) StartMonitoring(c *gin.Context) {
	id := c.Param("jobId")
	if err := h.queue.StartEntryMonitoring(id); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, services.ErrRecordNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{
			"error":   "could not start monitoring",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "monitoring started",
	})
}

// GetAllRecords returns every record in the queue
func (h *DownloadHandler) GetAllRecords(c *gin.Context) {
	records := h.queue.Records()
	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"total":   len(records),
	})
}

// GetRecord returns a specific record by ID
func (h *DownloadHandler) GetRecord(c *gin.Context) {
	record, exists := h.queue.GetRecord(c.Param("jobId"))
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "record not found",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"record": record,
	})
}

// RemoveRecord dismisses a record, cancelling it first when still active
func (h *DownloadHandler) RemoveRecord(c *gin.Context) {
	id := c.Param("jobId")
	if err := h.queue.Remove(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "record not found",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "record removed",
	})
}

// RetryRecord retries a failed record through the backend
func (h *DownloadHandler) RetryRecord(c *gin.Context) {
	id := c.Param("jobId")
	if err := h.queue.Retry(id); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, services.ErrRecordNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{
			"error":   "could not retry record",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "retry started",
	})
}

// ToggleVisibility flips (or forces) the queue panel visibility flag
func (h *DownloadHandler) ToggleVisibility(c *gin.Context) {
	var req types.VisibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid request body",
			"details": err.Error(),
		})
		return
	}

	var visible bool
	if req.ForceOpen != nil {
		visible = h.queue.ToggleVisibility(*req.ForceOpen)
	} else {
		visible = h.queue.ToggleVisibility()
	}

	c.JSON(http.StatusOK, gin.H{
		"visible": visible,
	})
}

// HandleWebSocketConnection handles WebSocket connections for one
// record's progress
func (h *DownloadHandler) HandleWebSocketConnection(c *gin.Context) {
	id := c.Param("jobId")
	if _, exists := h.queue.GetRecord(id); !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return
	}

	upgrader := websocket.GetUpgrader()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := websocket.NewClient(h.hub, conn, id)
	h.hub.RegisterClient(client)
	client.StartPumps()
}

// HandleWebSocketAllConnection handles WebSocket connections for the
// whole queue feed
func (h *DownloadHandler) HandleWebSocketAllConnection(c *gin.Context) {
	upgrader := websocket.GetUpgrader()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := websocket.NewClient(h.hub, conn, "all")
	h.hub.RegisterClient(client)
	client.StartPumps()
}
