package middleware

import (
	"github.com/gin-gonic/gin"
)

// Logging returns a logging middleware for HTTP requests
func Logging() gin.HandlerFunc {
	return gin.Logger()
}

// Security returns a middleware that sets basic security headers
func Security() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Next()
	}
}
