// Package usecase implements the session lifecycle: creation from verified claims,
// the consent state machine, expiry sweeping and the per-action authorization gate.
package usecase

import (
	"context"

	"github.com/google/uuid"

	authDomain "github.com/allisson/agentbroker/internal/auth/domain"
	sessionDomain "github.com/allisson/agentbroker/internal/session/domain"
)

// SessionRepository defines the registry of live sessions.
type SessionRepository interface {
	// Insert adds a session, failing with ErrDuplicateToken if its token id is already bound.
	Insert(ctx context.Context, session *sessionDomain.Session) error
	Get(ctx context.Context, sessionID uuid.UUID) (*sessionDomain.Session, error)
	// Delete removes the session and releases its token binding.
	Delete(ctx context.Context, sessionID uuid.UUID) error
	List(ctx context.Context) ([]*sessionDomain.Session, error)
}

// LifecycleListener is notified after a session is created and after its consent
// decision is applied. Calls are synchronous and must not block.
type LifecycleListener interface {
	SessionCreated(ctx context.Context, summary *sessionDomain.Summary)
	SessionDecided(ctx context.Context, summary *sessionDomain.Summary)
}

// SessionUseCase defines the session manager operations.
type SessionUseCase interface {
	// Start validates the domain against policy, mints a capability token, verifies it
	// and creates the session bound to the verified claims.
	Start(ctx context.Context, input *sessionDomain.StartInput) (*sessionDomain.StartOutput, error)
	// Create binds a new pending session to verified claims.
	Create(ctx context.Context, input *sessionDomain.CreateInput) (*sessionDomain.Summary, error)
	// HandleConsent applies the user's decision. First decision wins; unknown or decided
	// sessions are left untouched and false is returned.
	HandleConsent(ctx context.Context, sessionID uuid.UUID, allow bool) bool
	// Cancel applies the cancelled decision to a pending session.
	Cancel(ctx context.Context, sessionID uuid.UUID) bool
	// CancelOwned cancels a pending session on behalf of its owner.
	CancelOwned(ctx context.Context, userID string, sessionID uuid.UUID) (*sessionDomain.Summary, error)
	// Get returns the session owned by userID. Sessions owned by someone else are not found.
	Get(ctx context.Context, userID string, sessionID uuid.UUID) (*sessionDomain.Session, error)
	// ListPending returns pending sessions, newest first.
	ListPending(ctx context.Context) ([]*sessionDomain.Summary, error)
	// ClearExpired removes every expired session and returns how many were removed.
	ClearExpired(ctx context.Context) (int, error)
	// AuthorizeAction gates one automation action against policy and the session rate window.
	// targetURL is the navigation target for open actions and may be empty otherwise.
	AuthorizeAction(ctx context.Context, sessionID uuid.UUID, action authDomain.Action, targetURL string) error
	// AddListener registers a lifecycle listener.
	AddListener(listener LifecycleListener)
}
