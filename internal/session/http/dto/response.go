package dto

import (
	"time"

	authDomain "github.com/allisson/agentbroker/internal/auth/domain"
	sessionDomain "github.com/allisson/agentbroker/internal/session/domain"
)

// SessionResponse is the public summary of a session.
type SessionResponse struct {
	ID           string    `json:"id"`
	ConsentState string    `json:"consentState"`
	Domain       string    `json:"domain"`
	Actions      []string  `json:"actions"`
	RequestedURL string    `json:"requestedUrl"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// StartSessionResponse carries the capability token and the created session.
type StartSessionResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expiresAt"`
	Session   SessionResponse `json:"session"`
}

// MapSummaryToResponse converts a session summary to its API representation.
func MapSummaryToResponse(summary *sessionDomain.Summary) SessionResponse {
	return SessionResponse{
		ID:           summary.ID.String(),
		ConsentState: string(summary.ConsentState),
		Domain:       summary.Domain,
		Actions:      authDomain.ActionStrings(summary.Actions),
		RequestedURL: summary.RequestedURL,
		CreatedAt:    summary.CreatedAt,
		ExpiresAt:    summary.ExpiresAt,
	}
}

// MapStartOutputToResponse converts the start use case output to its API representation.
func MapStartOutputToResponse(output *sessionDomain.StartOutput) StartSessionResponse {
	return StartSessionResponse{
		Token:     output.Token,
		ExpiresAt: output.ExpiresAt,
		Session:   MapSummaryToResponse(output.Session),
	}
}
