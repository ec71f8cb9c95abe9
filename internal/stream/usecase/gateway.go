// Package usecase implements the event stream gateway: it admits one consumer per
// allowed session and runs the automation for it.
package usecase

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	automationDomain "github.com/allisson/agentbroker/internal/automation/domain"
	automationUseCase "github.com/allisson/agentbroker/internal/automation/usecase"
	sessionDomain "github.com/allisson/agentbroker/internal/session/domain"
	sessionUseCase "github.com/allisson/agentbroker/internal/session/usecase"
)

// Gateway opens event streams for session owners.
type Gateway interface {
	// Open validates ownership and consent state, attaches the caller as the single
	// consumer and starts the automation run. With wait set, a pending session is
	// awaited until it is decided, ctx ends or the session expires.
	Open(ctx context.Context, userID string, sessionID uuid.UUID, wait bool) (*Stream, error)
}

// Stream is an attached consumer of one session's events.
type Stream struct {
	session *sessionDomain.Session
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// Events delivers the run's events in emission order and is closed when the run ends.
func (s *Stream) Events() <-chan automationDomain.Event {
	return s.session.Events()
}

// CloseReason reports why the event channel closed. Valid once Events is drained.
func (s *Stream) CloseReason() string {
	return s.session.CloseReason()
}

// Close detaches the consumer, cancels the run and waits for it to return.
func (s *Stream) Close() {
	s.once.Do(s.cancel)
	<-s.done
}

type gateway struct {
	sessions sessionUseCase.SessionUseCase
	runner   automationUseCase.Runner
	logger   *slog.Logger
}

// NewGateway creates a new event stream gateway.
func NewGateway(
	sessions sessionUseCase.SessionUseCase,
	runner automationUseCase.Runner,
	logger *slog.Logger,
) Gateway {
	return &gateway{
		sessions: sessions,
		runner:   runner,
		logger:   logger,
	}
}

func (g *gateway) Open(ctx context.Context, userID string, sessionID uuid.UUID, wait bool) (*Stream, error) {
	session, err := g.sessions.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	if session.State() == sessionDomain.StatePending {
		if !wait {
			return nil, sessionDomain.ErrSessionNotReady
		}

		select {
		case <-session.Decided():
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-session.Context().Done():
			return nil, sessionDomain.ErrSessionNotFound
		}
	}

	if session.State() != sessionDomain.StateAllowed {
		return nil, sessionDomain.ErrSessionNotReady
	}

	if !session.Attach() {
		return nil, sessionDomain.ErrSessionNotReady
	}

	// The run ends with the session or with the consumer, whichever goes first.
	runCtx, cancel := context.WithCancel(session.Context())
	stop := context.AfterFunc(ctx, cancel)

	stream := &Stream{
		session: session,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	g.logger.Info("event stream attached", slog.String("session_id", session.ID.String()))

	go func() {
		defer close(stream.done)
		defer stop()
		defer cancel()

		g.runner.Run(runCtx, session)
		session.CloseEvents(sessionDomain.CloseCompleted)

		g.logger.Info("event stream run finished",
			slog.String("session_id", session.ID.String()),
			slog.String("close_reason", session.CloseReason()),
		)
	}()

	return stream, nil
}
