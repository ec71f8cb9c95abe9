// Package http provides the server-sent events endpoint for session progress.
package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	authDomain "github.com/allisson/agentbroker/internal/auth/domain"
	authHTTP "github.com/allisson/agentbroker/internal/auth/http"
	"github.com/allisson/agentbroker/internal/httputil"
	"github.com/allisson/agentbroker/internal/metrics"
	sessionDomain "github.com/allisson/agentbroker/internal/session/domain"
	"github.com/allisson/agentbroker/internal/stream/http/dto"
	streamUseCase "github.com/allisson/agentbroker/internal/stream/usecase"
)

// Stream frame names besides the automation event types.
const (
	FrameOpen = "open"
	FrameEnd  = "end"
)

// closeDisconnected is reported when the consumer leaves before the session closes.
const closeDisconnected = "disconnected"

// StreamHandler serves session event streams.
type StreamHandler struct {
	gateway   streamUseCase.Gateway
	retry     time.Duration
	heartbeat time.Duration
	metrics   metrics.BrokerMetrics
	logger    *slog.Logger
}

// NewStreamHandler creates a stream handler. retry is advertised to the consumer as
// the reconnection delay; a non-positive heartbeat disables keep-alive comments.
func NewStreamHandler(
	gateway streamUseCase.Gateway,
	retry, heartbeat time.Duration,
	brokerMetrics metrics.BrokerMetrics,
	logger *slog.Logger,
) *StreamHandler {
	if brokerMetrics == nil {
		brokerMetrics = metrics.NewNoOpBrokerMetrics()
	}
	return &StreamHandler{
		gateway:   gateway,
		retry:     retry,
		heartbeat: heartbeat,
		metrics:   brokerMetrics,
		logger:    logger,
	}
}

// EventsHandler streams the automation events of an allowed session.
// GET /events/:sessionId[?wait=true] - Requires ownership of the session.
// Writes an open frame carrying the retry hint, one frame per event in emission
// order, then an end frame with the close reason.
func (h *StreamHandler) EventsHandler(c *gin.Context) {
	ctx := c.Request.Context()

	userID, ok := authHTTP.GetUserID(ctx)
	if !ok {
		httputil.HandleErrorGin(c, authDomain.ErrUnauthenticated, h.logger)
		return
	}

	sessionID, err := uuid.Parse(c.Param("sessionId"))
	if err != nil {
		httputil.HandleErrorGin(c, sessionDomain.ErrSessionNotFound, h.logger)
		return
	}

	wait, err := strconv.ParseBool(c.DefaultQuery("wait", "false"))
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	stream, err := h.gateway.Open(ctx, userID, sessionID, wait)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			// The consumer left while waiting for consent; nobody reads a response.
			h.logger.Debug("event stream consumer left before attach",
				slog.String("session_id", sessionID.String()),
				slog.Any("error", err),
			)
			c.Abort()
			return
		}
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}
	defer stream.Close()

	attached := time.Now()
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.Render(-1, sse.Event{
		Event: FrameOpen,
		Retry: uint(h.retry.Milliseconds()),
		Data:  dto.OpenResponse{SessionID: sessionID.String()},
	})
	c.Writer.Flush()

	var heartbeat <-chan time.Time
	if h.heartbeat > 0 {
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	events := stream.Events()
	count := 0

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				c.Render(-1, sse.Event{
					Event: FrameEnd,
					Data:  dto.EndResponse{Reason: stream.CloseReason()},
				})
				return false
			}
			count++
			h.metrics.RecordStreamEvent(ctx, string(event.Type))
			c.Render(-1, sse.Event{
				Id:    event.ID,
				Event: string(event.Type),
				Data:  dto.MapEventToResponse(event),
			})
			return true
		case <-heartbeat:
			_, _ = io.WriteString(w, ": keepalive\n\n")
			return true
		case <-ctx.Done():
			return false
		}
	})

	reason := stream.CloseReason()
	if reason == "" {
		reason = closeDisconnected
	}
	h.metrics.RecordStreamClosed(context.WithoutCancel(ctx), reason, time.Since(attached))

	h.logger.Info("event stream closed",
		slog.String("session_id", sessionID.String()),
		slog.Int("events", count),
		slog.String("close_reason", reason),
	)
}
