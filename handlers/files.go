package handlers

import (
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/r0xsh/spotizerr/services"
)

// FileHandler handles endpoints for browsing finished downloads
type FileHandler struct {
	fileService services.FileService
}

// NewFileHandler creates a new file handler
func NewFileHandler(fs services.FileService) *FileHandler {
	return &FileHandler{fileService: fs}
}

// ListFiles returns the audio files found in the download location
func (h *FileHandler) ListFiles(c *gin.Context) {
	audioFiles, err := h.fileService.ScanAudioFiles()
	if err != nil {
		log.Printf("Error scanning audio files: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to scan files",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"files": audioFiles,
		"count": len(audioFiles),
	})
}

// StreamFile streams a downloaded audio file, with range request
// support for seeking
func (h *FileHandler) StreamFile(c *gin.Context) {
	requestedPath := strings.TrimPrefix(c.Param("filepath"), "/")

	if err := h.fileService.ValidateFilePath(requestedPath); err != nil {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "path security violation",
			"details": err.Error(),
		})
		return
	}

	ext := strings.ToLower(filepath.Ext(requestedPath))
	if ext != ".flac" && ext != ".mp3" {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "file extension not allowed",
			"details": "only .flac and .mp3 files can be streamed",
		})
		return
	}

	root := h.fileService.Root()
	fullPath := filepath.Join(root, requestedPath)

	// The resolved path must stay inside the download location
	absRoot, err := filepath.Abs(root)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server configuration error"})
		return
	}
	absRequest, err := filepath.Abs(fullPath)
	if err != nil || !strings.HasPrefix(absRequest, absRoot) {
		c.JSON(http.StatusForbidden, gin.H{"error": "path traversal not allowed"})
		return
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "file not found",
				"path":  requestedPath,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "file access error",
			"details": err.Error(),
		})
		return
	}
	if info.IsDir() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is a directory, not a file"})
		return
	}

	c.Header("Content-Type", h.fileService.GetContentType(requestedPath))
	c.Header("Cache-Control", "public, max-age=3600")
	// http.ServeFile handles Range headers for seeking
	http.ServeFile(c.Writer, c.Request, fullPath)
}
