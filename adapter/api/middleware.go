package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/felixgeelhaar/agora/pkg/observability"
)

const (
	headerRequestID     = "X-Request-ID"
	headerCorrelationID = "X-Correlation-ID"
)

// RequestContext attaches request and correlation ids to the request
// context and echoes them back.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := observability.WithRequestID(c.Request.Context(), c.GetHeader(headerRequestID))
		ctx = observability.WithCorrelationID(ctx, c.GetHeader(headerCorrelationID))
		c.Request = c.Request.WithContext(ctx)

		c.Header(headerRequestID, observability.RequestIDFromContext(ctx))
		c.Header(headerCorrelationID, observability.CorrelationIDFromContext(ctx))
		c.Next()
	}
}

// AccessLog logs one line per request.
func AccessLog(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= 500 {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
