package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"

	apperrors "github.com/allisson/agentbroker/internal/errors"
	"github.com/allisson/agentbroker/internal/httputil"
)

// CustomLoggerMiddleware logs one line per request with its request id.
func CustomLoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}

		logger.Log(c.Request.Context(), level, "http request",
			slog.String("request_id", requestid.Get(c)),
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
			slog.String("client_ip", c.ClientIP()),
		)
	}
}

// BrokerGateMiddleware rejects every broker route with 503 while the broker is disabled.
func BrokerGateMiddleware(enabled bool, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			httputil.HandleErrorGin(c, apperrors.ErrDisabled, logger)
			c.Abort()
			return
		}
		c.Next()
	}
}
