// Package usecase implements the consent broker: it fans session prompts out to
// attached consent UIs and routes their decisions back to the session manager.
package usecase

import (
	"context"
	"log/slog"
	"sync"

	consentDomain "github.com/allisson/agentbroker/internal/consent/domain"
	sessionDomain "github.com/allisson/agentbroker/internal/session/domain"
	sessionUseCase "github.com/allisson/agentbroker/internal/session/usecase"
)

// Broker holds no session state of its own. Each subscriber gets a bounded channel;
// a full channel drops the notice rather than stalling session creation.
type Broker struct {
	sessions sessionUseCase.SessionUseCase
	buffer   int
	logger   *slog.Logger

	mu          sync.RWMutex
	subscribers map[*Subscription]struct{}
}

// Subscription is one attached consent UI.
type Subscription struct {
	broker *Broker
	notice chan consentDomain.Notice
	once   sync.Once
}

// Notices delivers prompts and resolutions. It is closed by Close.
func (s *Subscription) Notices() <-chan consentDomain.Notice {
	return s.notice
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.broker.mu.Lock()
		delete(s.broker.subscribers, s)
		close(s.notice)
		s.broker.mu.Unlock()
	})
}

// NewBroker creates a broker and registers it with the session manager.
func NewBroker(sessions sessionUseCase.SessionUseCase, buffer int, logger *slog.Logger) *Broker {
	if buffer <= 0 {
		buffer = 1
	}

	b := &Broker{
		sessions:    sessions,
		buffer:      buffer,
		logger:      logger,
		subscribers: make(map[*Subscription]struct{}),
	}
	sessions.AddListener(b)
	return b
}

// SessionCreated pushes a prompt for the new session to every subscriber.
func (b *Broker) SessionCreated(_ context.Context, summary *sessionDomain.Summary) {
	b.publish(consentDomain.NewPromptNotice(summary))
}

// SessionDecided tells every subscriber the session's prompt is resolved.
func (b *Broker) SessionDecided(_ context.Context, summary *sessionDomain.Summary) {
	b.publish(consentDomain.NewResolvedNotice(summary))
}

func (b *Broker) publish(notice consentDomain.Notice) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub.notice <- notice:
		default:
			b.logger.Warn("consent subscriber is slow, notice dropped",
				slog.String("session_id", notice.SessionID.String()),
				slog.String("type", string(notice.Type)),
			)
		}
	}
}

// Subscribe attaches a consent UI. Pending sessions are replayed newest first, up
// to the subscriber buffer. The subscriber is registered before the pending list is
// read, so a session created meanwhile is published, replayed, or both.
func (b *Broker) Subscribe(ctx context.Context) (*Subscription, error) {
	sub := &Subscription{
		broker: b,
		notice: make(chan consentDomain.Notice, b.buffer),
	}

	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()

	pending, err := b.sessions.ListPending(ctx)
	if err != nil {
		sub.Close()
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	replayed := 0
	for _, summary := range pending {
		if len(sub.notice) == cap(sub.notice) {
			break
		}
		sub.notice <- consentDomain.NewPromptNotice(summary)
		replayed++
	}

	b.logger.Debug("consent subscriber attached", slog.Int("replayed", replayed))
	return sub, nil
}

// Decide routes a decision to the session manager and reports whether it was applied.
// Decisions for unknown, expired or already decided sessions are no-ops.
func (b *Broker) Decide(ctx context.Context, decision consentDomain.Decision) bool {
	if decision.Dismissed {
		return b.sessions.Cancel(ctx, decision.SessionID)
	}
	return b.sessions.HandleConsent(ctx, decision.SessionID, decision.Allow)
}

// Subscribers returns the number of attached consent UIs.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
