package cmd

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/r0xsh/spotizerr/api"
	"github.com/r0xsh/spotizerr/config"
	"github.com/r0xsh/spotizerr/handlers"
	"github.com/r0xsh/spotizerr/middleware"
	"github.com/r0xsh/spotizerr/services"
	"github.com/r0xsh/spotizerr/websocket"
)

// StartWebServer wires the queue core together and serves it until
// interrupted. Teardown stops every poller and flushes the store.
func StartWebServer(cfg *config.Config) {
	if mode := os.Getenv("GIN_MODE"); mode != "" {
		gin.SetMode(mode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	store, err := services.NewQueueStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open queue store: %v", err)
	}

	hub := websocket.NewHub()
	go hub.Run()

	client := api.NewClient(cfg.BackendURL, cfg.RequestTimeout)

	queue, err := services.NewQueueManager(cfg, store, client, hub)
	if err != nil {
		log.Fatalf("Failed to initialize queue: %v", err)
	}

	fileService := services.NewFileService(cfg.DownloadLocation)

	// Initialize handlers
	downloadHandler := handlers.NewDownloadHandler(queue, hub)
	fileHandler := handlers.NewFileHandler(fileService)
	healthHandler := handlers.NewHealthHandler(queue)

	// Setup router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.Logging())
	r.Use(middleware.Security())

	setupRoutes(r, downloadHandler, fileHandler, healthHandler)

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Port),
		Handler: r,
	}

	go func() {
		log.Printf("Spotizerr queue server starting on port %d", cfg.Port)
		log.Printf("Backend: %s", cfg.BackendURL)
		log.Printf("Queue database: %s", cfg.DBPath)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}

	queue.Shutdown()
	if err := store.Close(); err != nil {
		log.Printf("Close queue store: %v", err)
	}
}

// setupRoutes configures all the HTTP routes
func setupRoutes(r *gin.Engine, downloadHandler *handlers.DownloadHandler, fileHandler *handlers.FileHandler, healthHandler *handlers.HealthHandler) {
	// Health check endpoint
	r.GET("/health", healthHandler.HealthCheck)

	// API routes group
	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/status", healthHandler.APIStatus)

		// Download queue endpoints
		downloadsGroup := apiGroup.Group("/downloads")
		{
			downloadsGroup.POST("", downloadHandler.AddDownload)
			downloadsGroup.POST("/artist", downloadHandler.AddArtistDownload)

			downloadsGroup.GET("", downloadHandler.GetAllRecords)
			downloadsGroup.GET("/:jobId", downloadHandler.GetRecord)
			downloadsGroup.POST("/:jobId/start", downloadHandler.StartMonitoring)
			downloadsGroup.POST("/:jobId/retry", downloadHandler.RetryRecord)
			downloadsGroup.DELETE("/:jobId", downloadHandler.RemoveRecord)
		}

		// Queue panel visibility toggle
		apiGroup.POST("/queue/visibility", downloadHandler.ToggleVisibility)

		// WebSocket endpoints for real-time progress
		wsGroup := apiGroup.Group("/ws")
		{
			wsGroup.GET("/downloads/:jobId", downloadHandler.HandleWebSocketConnection)
			wsGroup.GET("/downloads", downloadHandler.HandleWebSocketAllConnection)
		}

		// Finished download browsing
		apiGroup.GET("/files", fileHandler.ListFiles)
		apiGroup.GET("/files/stream/*filepath", fileHandler.StreamFile)
	}
}
