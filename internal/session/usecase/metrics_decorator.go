package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	authDomain "github.com/allisson/agentbroker/internal/auth/domain"
	"github.com/allisson/agentbroker/internal/metrics"
	sessionDomain "github.com/allisson/agentbroker/internal/session/domain"
)

// sessionUseCaseWithMetrics decorates SessionUseCase with metrics instrumentation.
type sessionUseCaseWithMetrics struct {
	next    SessionUseCase
	metrics metrics.BrokerMetrics
}

// NewSessionUseCaseWithMetrics wraps a SessionUseCase with metrics recording.
func NewSessionUseCaseWithMetrics(useCase SessionUseCase, m metrics.BrokerMetrics) SessionUseCase {
	return &sessionUseCaseWithMetrics{
		next:    useCase,
		metrics: m,
	}
}

func (s *sessionUseCaseWithMetrics) record(ctx context.Context, operation string, start time.Time, status string) {
	s.metrics.RecordSessionOperation(ctx, operation, status, time.Since(start))
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func appliedStatus(applied bool) string {
	if applied {
		return "applied"
	}
	return "ignored"
}

// Start records metrics for session start operations.
func (s *sessionUseCaseWithMetrics) Start(
	ctx context.Context,
	input *sessionDomain.StartInput,
) (*sessionDomain.StartOutput, error) {
	start := time.Now()
	output, err := s.next.Start(ctx, input)
	s.record(ctx, "session_start", start, statusOf(err))
	return output, err
}

// Create records metrics for session creation.
func (s *sessionUseCaseWithMetrics) Create(
	ctx context.Context,
	input *sessionDomain.CreateInput,
) (*sessionDomain.Summary, error) {
	start := time.Now()
	summary, err := s.next.Create(ctx, input)
	s.record(ctx, "session_create", start, statusOf(err))
	return summary, err
}

// HandleConsent records consent decisions as applied or ignored.
func (s *sessionUseCaseWithMetrics) HandleConsent(ctx context.Context, sessionID uuid.UUID, allow bool) bool {
	start := time.Now()
	applied := s.next.HandleConsent(ctx, sessionID, allow)
	operation := "consent_deny"
	if allow {
		operation = "consent_allow"
	}
	s.record(ctx, operation, start, appliedStatus(applied))
	return applied
}

// Cancel records consent cancellations.
func (s *sessionUseCaseWithMetrics) Cancel(ctx context.Context, sessionID uuid.UUID) bool {
	start := time.Now()
	applied := s.next.Cancel(ctx, sessionID)
	s.record(ctx, "consent_cancel", start, appliedStatus(applied))
	return applied
}

// CancelOwned records owner cancellations.
func (s *sessionUseCaseWithMetrics) CancelOwned(
	ctx context.Context,
	userID string,
	sessionID uuid.UUID,
) (*sessionDomain.Summary, error) {
	start := time.Now()
	summary, err := s.next.CancelOwned(ctx, userID, sessionID)
	s.record(ctx, "session_cancel", start, statusOf(err))
	return summary, err
}

// Get records metrics for session lookups.
func (s *sessionUseCaseWithMetrics) Get(
	ctx context.Context,
	userID string,
	sessionID uuid.UUID,
) (*sessionDomain.Session, error) {
	start := time.Now()
	session, err := s.next.Get(ctx, userID, sessionID)
	s.record(ctx, "session_get", start, statusOf(err))
	return session, err
}

// ListPending is not instrumented; it runs on every consent UI connect.
func (s *sessionUseCaseWithMetrics) ListPending(ctx context.Context) ([]*sessionDomain.Summary, error) {
	return s.next.ListPending(ctx)
}

// ClearExpired records sweep runs.
func (s *sessionUseCaseWithMetrics) ClearExpired(ctx context.Context) (int, error) {
	start := time.Now()
	removed, err := s.next.ClearExpired(ctx)
	s.record(ctx, "session_sweep", start, statusOf(err))
	return removed, err
}

// AuthorizeAction records action authorizations per action.
func (s *sessionUseCaseWithMetrics) AuthorizeAction(
	ctx context.Context,
	sessionID uuid.UUID,
	action authDomain.Action,
	targetURL string,
) error {
	start := time.Now()
	err := s.next.AuthorizeAction(ctx, sessionID, action, targetURL)
	s.record(ctx, "action_"+string(action), start, statusOf(err))
	return err
}

// AddListener forwards to the wrapped use case.
func (s *sessionUseCaseWithMetrics) AddListener(listener LifecycleListener) {
	s.next.AddListener(listener)
}
