package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/silmaril/trickle/internal/api/handlers"
)

func SetupRoutes(h *handlers.Handlers, logger *slog.Logger) *gin.Engine {
	// Set Gin to release mode for production
	gin.SetMode(gin.ReleaseMode)

	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()

	// Add middleware
	router.Use(requestLogger(logger))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Health and status endpoints
		v1.GET("/health", h.Health)
		v1.GET("/status", h.Status)

		// Transfer endpoints
		transfers := v1.Group("/transfers")
		{
			transfers.GET("", h.ListTransfers)
			transfers.GET("/:id", h.GetTransfer)
			transfers.DELETE("/:id", h.CancelTransfer)
		}
	}

	// Throttled file downloads
	router.GET("/files/*path", h.ServeFile)

	// Catch-all for undefined routes
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "endpoint not found",
			"path":  c.Request.URL.Path,
		})
	})

	return router
}

// requestLogger logs one line per request through slog
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"bytes", c.Writer.Size(),
			"duration", time.Since(start),
			"client", c.ClientIP())
	}
}

// corsMiddleware adds CORS headers for local development
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "http://localhost:*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
