package middleware

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS returns a configured CORS middleware for the given origins
// (comma separated)
func CORS(origins string) gin.HandlerFunc {
	if origins == "" {
		origins = "http://localhost:3000,http://localhost:5173" // Default for frontend dev
	}

	config := cors.DefaultConfig()
	config.AllowOrigins = strings.Split(origins, ",")
	config.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}

	return cors.New(config)
}
