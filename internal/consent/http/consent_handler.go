// Package http exposes the consent broker to the local consent UI over a WebSocket
// and an invoke-style decision endpoint.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/allisson/agentbroker/internal/consent/http/dto"
	consentUseCase "github.com/allisson/agentbroker/internal/consent/usecase"
	"github.com/allisson/agentbroker/internal/httputil"
	customValidation "github.com/allisson/agentbroker/internal/validation"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 4096
)

// ConsentHandler serves the consent UI channel.
type ConsentHandler struct {
	broker   *consentUseCase.Broker
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewConsentHandler creates a consent handler. allowedOrigins restricts which browser
// origins may open the socket; when empty only same-host or origin-less clients are accepted.
func NewConsentHandler(broker *consentUseCase.Broker, allowedOrigins []string, logger *slog.Logger) *ConsentHandler {
	return &ConsentHandler{
		broker: broker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		logger: logger,
	}
}

// DecisionHandler applies a consent decision.
// POST /consent - Returns 200 OK with {"applied": bool}. Unknown sessions are not an error.
func (h *ConsentHandler) DecisionHandler(c *gin.Context) {
	var req dto.DecisionRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	decision, err := req.ToDomain()
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	applied := h.broker.Decide(c.Request.Context(), decision)
	c.JSON(http.StatusOK, dto.NewDecisionResponse(decision, applied))
}

// WebSocketHandler attaches a consent UI.
// GET /consent/ws - Pushes prompt and resolved notices; accepts decision messages.
func (h *ConsentHandler) WebSocketHandler(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("consent websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	// The request context ends with the handler, not with the socket.
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	sub, err := h.broker.Subscribe(ctx)
	if err != nil {
		h.logger.Error("consent subscribe failed", slog.Any("error", err))
		return
	}
	defer sub.Close()

	h.logger.Info("consent ui attached", slog.String("remote_addr", c.Request.RemoteAddr))

	acks := make(chan dto.DecisionResponse, 8)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		// Closing unblocks the reader when the writer fails first.
		defer func() {
			_ = conn.Close()
		}()
		h.writePump(ctx, conn, sub, acks)
	}()

	h.readPump(ctx, conn, acks)
	cancel()
	wg.Wait()

	h.logger.Info("consent ui detached", slog.String("remote_addr", c.Request.RemoteAddr))
}

func (h *ConsentHandler) readPump(ctx context.Context, conn *websocket.Conn, acks chan<- dto.DecisionResponse) {
	conn.SetReadLimit(maxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req dto.DecisionRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("consent websocket read failed", slog.Any("error", err))
			}
			return
		}

		if err := req.Validate(); err != nil {
			h.logger.Warn("invalid consent decision", slog.Any("error", err))
			continue
		}

		decision, err := req.ToDomain()
		if err != nil {
			continue
		}

		applied := h.broker.Decide(ctx, decision)

		select {
		case acks <- dto.NewDecisionResponse(decision, applied):
		case <-ctx.Done():
			return
		}
	}
}

func (h *ConsentHandler) writePump(
	ctx context.Context,
	conn *websocket.Conn,
	sub *consentUseCase.Subscription,
	acks <-chan dto.DecisionResponse,
) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(v any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(v) == nil
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			return
		case notice, ok := <-sub.Notices():
			if !ok || !write(dto.MapNoticeToResponse(notice)) {
				return
			}
		case ack := <-acks:
			if !write(ack) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// checkOrigin accepts clients without an Origin header (native UIs), same-host
// origins, and any origin listed in allowed.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	normalized := make([]string, 0, len(allowed))
	for _, origin := range allowed {
		normalized = append(normalized, strings.TrimSuffix(strings.ToLower(origin), "/"))
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}

		if slices.Contains(normalized, strings.ToLower(origin)) {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}
