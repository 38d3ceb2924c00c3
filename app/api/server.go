package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lysyi3m/rss-streams/app/logger"
)

// NewServer creates the HTTP router with all routes configured
func NewServer(handler *Handler, debug bool) *gin.Engine {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(requestLogger())
	r.Use(gin.Recovery())

	setupRoutes(r, handler)

	return r
}

func setupRoutes(r *gin.Engine, handler *Handler) {
	// Poller control
	r.POST("/poll", handler.Poll)
	r.GET("/poll/toggle", handler.TogglePoller)
	r.POST("/poll/wake", handler.WakePoller)

	// PubSubHubbub
	r.POST("/subscribe", handler.Subscribe)
	r.POST("/unsubscribe", handler.Unsubscribe)
	r.GET("/callback/:stream_id", handler.VerifyCallback)
	r.POST("/callback/:stream_id", handler.ContentCallback)

	// Stream management
	streams := r.Group("/streams")
	{
		streams.GET("", handler.ListStreams)
		streams.POST("", handler.CreateStream)
		streams.GET("/:stream_id", handler.GetStream)
		streams.PUT("/:stream_id", handler.UpdateStream)
		streams.DELETE("/:stream_id", handler.DeleteStream)
	}

	r.GET("/health", handler.GetHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/favicon.ico", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		fields := []interface{}{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
			"user_agent", c.Request.UserAgent(),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "error", c.Errors.String())
		}

		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("HTTP request", fields...)
			return
		}
		logger.Info("HTTP request", fields...)
	}
}
