// Package http provides HTTP handlers for brokered session operations.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	authDomain "github.com/allisson/agentbroker/internal/auth/domain"
	authHTTP "github.com/allisson/agentbroker/internal/auth/http"
	"github.com/allisson/agentbroker/internal/httputil"
	sessionDomain "github.com/allisson/agentbroker/internal/session/domain"
	"github.com/allisson/agentbroker/internal/session/http/dto"
	sessionUseCase "github.com/allisson/agentbroker/internal/session/usecase"
	customValidation "github.com/allisson/agentbroker/internal/validation"
)

// SessionHandler handles HTTP requests for session creation and inspection.
type SessionHandler struct {
	sessionUseCase sessionUseCase.SessionUseCase
	logger         *slog.Logger
}

// NewSessionHandler creates a new session handler with required dependencies.
func NewSessionHandler(useCase sessionUseCase.SessionUseCase, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		sessionUseCase: useCase,
		logger:         logger,
	}
}

// StartHandler mints a capability token and creates a pending session.
// POST /start - Requires a bearer identity.
// Returns 201 Created with the token and the session summary.
func (h *SessionHandler) StartHandler(c *gin.Context) {
	userID, ok := authHTTP.GetUserID(c.Request.Context())
	if !ok {
		httputil.HandleErrorGin(c, authDomain.ErrUnauthenticated, h.logger)
		return
	}

	var req dto.StartSessionRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	input, err := req.ToDomain(userID)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	output, err := h.sessionUseCase.Start(c.Request.Context(), input)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusCreated, dto.MapStartOutputToResponse(output))
}

// GetHandler returns the summary of a session owned by the caller.
// GET /sessions/:sessionId - Returns 404 for unknown, expired or foreign sessions.
func (h *SessionHandler) GetHandler(c *gin.Context) {
	userID, sessionID, ok := h.ownedSessionParams(c)
	if !ok {
		return
	}

	session, err := h.sessionUseCase.Get(c.Request.Context(), userID, sessionID)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapSummaryToResponse(session.Summary()))
}

// CancelHandler cancels a pending session owned by the caller.
// POST /sessions/:sessionId/cancel - Returns 200 OK with the resulting summary.
func (h *SessionHandler) CancelHandler(c *gin.Context) {
	userID, sessionID, ok := h.ownedSessionParams(c)
	if !ok {
		return
	}

	summary, err := h.sessionUseCase.CancelOwned(c.Request.Context(), userID, sessionID)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapSummaryToResponse(summary))
}

// ownedSessionParams reads the caller and the session id. Malformed ids are reported
// as not found so they are indistinguishable from foreign sessions.
func (h *SessionHandler) ownedSessionParams(c *gin.Context) (string, uuid.UUID, bool) {
	userID, ok := authHTTP.GetUserID(c.Request.Context())
	if !ok {
		httputil.HandleErrorGin(c, authDomain.ErrUnauthenticated, h.logger)
		return "", uuid.Nil, false
	}

	sessionID, err := uuid.Parse(c.Param("sessionId"))
	if err != nil {
		httputil.HandleErrorGin(c, sessionDomain.ErrSessionNotFound, h.logger)
		return "", uuid.Nil, false
	}

	return userID, sessionID, true
}
