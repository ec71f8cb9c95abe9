package domain

import (
	"time"

	authDomain "github.com/allisson/agentbroker/internal/auth/domain"
)

// StartInput is the request to open a brokered session for a user.
type StartInput struct {
	UserID       string
	Domain       string
	Actions      []authDomain.Action
	RequestedURL string
	Device       Device
	Form         Form
}

// StartOutput carries the minted token and the created session.
type StartOutput struct {
	Token     string
	ExpiresAt time.Time
	Session   *Summary
}

// CreateInput binds a session to verified claims.
type CreateInput struct {
	Claims *authDomain.Claims
	// RequestedURL defaults to https://<claims domain>/ when empty.
	RequestedURL string
	// Actions defaults to the claims' actions when empty.
	Actions []authDomain.Action
	Device  Device
	Form    Form
}
