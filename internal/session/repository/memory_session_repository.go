// Package repository provides session storage implementations.
package repository

import (
	"context"
	"sync"

	"github.com/google/uuid"

	sessionDomain "github.com/allisson/agentbroker/internal/session/domain"
)

// MemorySessionRepository keeps live sessions in process memory. The registry lock
// guards the id and token indexes only; session state has its own lock.
type MemorySessionRepository struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]*sessionDomain.Session
	byToken map[string]uuid.UUID
}

// NewMemorySessionRepository creates an empty in-memory session registry.
func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		byID:    make(map[uuid.UUID]*sessionDomain.Session),
		byToken: make(map[string]uuid.UUID),
	}
}

// Insert adds session. Checking and binding the token id happen under one lock, so of
// two concurrent inserts with the same token id exactly one succeeds.
func (r *MemorySessionRepository) Insert(_ context.Context, session *sessionDomain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, bound := r.byToken[session.TokenID]; bound {
		return sessionDomain.ErrDuplicateToken
	}
	if _, exists := r.byID[session.ID]; exists {
		return sessionDomain.ErrDuplicateToken
	}

	r.byID[session.ID] = session
	r.byToken[session.TokenID] = session.ID
	return nil
}

// Get returns the session by id.
func (r *MemorySessionRepository) Get(_ context.Context, sessionID uuid.UUID) (*sessionDomain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.byID[sessionID]
	if !ok {
		return nil, sessionDomain.ErrSessionNotFound
	}
	return session, nil
}

// Delete removes the session and releases its token id.
func (r *MemorySessionRepository) Delete(_ context.Context, sessionID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.byID[sessionID]
	if !ok {
		return sessionDomain.ErrSessionNotFound
	}

	delete(r.byID, sessionID)
	if r.byToken[session.TokenID] == sessionID {
		delete(r.byToken, session.TokenID)
	}
	return nil
}

// List returns a snapshot of all sessions in no particular order.
func (r *MemorySessionRepository) List(_ context.Context) ([]*sessionDomain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*sessionDomain.Session, 0, len(r.byID))
	for _, session := range r.byID {
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// Len returns the number of live sessions.
func (r *MemorySessionRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
