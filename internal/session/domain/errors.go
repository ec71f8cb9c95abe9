package domain

import (
	"github.com/allisson/agentbroker/internal/errors"
)

// Session errors.
var (
	// ErrSessionNotFound indicates the session does not exist, expired, or belongs to another user.
	ErrSessionNotFound = errors.WithCode(errors.Wrap(errors.ErrNotFound, "session not found"), "NOT_FOUND")

	// ErrDuplicateToken indicates the token id is already bound to a live session.
	ErrDuplicateToken = errors.WithCode(errors.Wrap(errors.ErrConflict, "token already bound to a session"), "DUPLICATE_TOKEN")

	// ErrSessionNotReady indicates the session is not in the allowed state or is already streaming.
	ErrSessionNotReady = errors.WithCode(errors.Wrap(errors.ErrConflict, "session not ready"), "SESSION_NOT_READY")

	// ErrEventsClosed indicates an emit after the event channel was closed.
	ErrEventsClosed = errors.New("session event channel closed")

	// ErrRunStopped indicates an emit after the run already reported its outcome.
	ErrRunStopped = errors.New("session run already stopped")

	// ErrInvalidSessionRequest indicates the requested URL or actions don't match the token.
	ErrInvalidSessionRequest = errors.Wrap(errors.ErrInvalidInput, "invalid session request")
)

// ErrUploadNotAllowed indicates a form image outside the configured upload directory.
var ErrUploadNotAllowed = errors.WithCode(errors.Wrap(errors.ErrInvalidInput, "upload not allowed"), "INVALID_INPUT")

// ErrUnsupportedDomain indicates a session was requested for a domain outside the allowlist.
var ErrUnsupportedDomain = errors.WithCode(errors.Wrap(errors.ErrInvalidInput, "unsupported domain"), "POLICY_VIOLATION")
