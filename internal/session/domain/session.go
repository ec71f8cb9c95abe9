// Package domain defines the automation session and its consent state machine.
package domain

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	authDomain "github.com/allisson/agentbroker/internal/auth/domain"
	automationDomain "github.com/allisson/agentbroker/internal/automation/domain"
	"github.com/allisson/agentbroker/internal/ratelimit"
)

// ConsentState is the lifecycle stage of a session's human authorization decision.
type ConsentState string

const (
	StatePending   ConsentState = "pending"
	StateAllowed   ConsentState = "allowed"
	StateDenied    ConsentState = "denied"
	StateCancelled ConsentState = "cancelled"
)

// Terminal reports whether no further transition is permitted from s.
func (s ConsentState) Terminal() bool {
	return s != StatePending
}

// Close reasons reported with the stream terminal marker.
const (
	CloseCompleted = "completed"
	CloseExpired   = "expired"
	CloseDiscarded = "discarded"
)

// Device describes the caller's device as reported by the extension.
type Device struct {
	Name      string
	Platform  string
	UserAgent string
}

// FormField is one value to type into a form input.
type FormField struct {
	Selector string
	Value    string
}

// FormImage is one file to attach to a file input.
type FormImage struct {
	Selector string
	Path     string
}

// Form is the payload the executor applies to the requested page.
type Form struct {
	Fields          []FormField
	Images          []FormImage
	SubmitSelector  string
	SuccessSelector string
}

func (f Form) clone() Form {
	f.Fields = append([]FormField(nil), f.Fields...)
	f.Images = append([]FormImage(nil), f.Images...)
	return f
}

// Summary is an immutable snapshot of a session for callers and the consent UI.
type Summary struct {
	ID           uuid.UUID
	UserID       string
	ConsentState ConsentState
	Domain       string
	RequestedURL string
	Actions      []authDomain.Action
	Device       Device
	Form         Form
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Session is one authorized automation run against one target domain.
//
// Identity fields are immutable after construction. Mutable state is guarded by mu;
// the event channel has its own lock so a blocked emitter never stalls state reads.
type Session struct {
	ID           uuid.UUID
	UserID       string
	Domain       string
	RequestedURL string
	Actions      []authDomain.Action
	TokenID      string
	Device       Device
	Form         Form
	CreatedAt    time.Time
	ExpiresAt    time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     ConsentState
	decidedAt time.Time
	decided   chan struct{}
	attached  bool
	window    ratelimit.Window

	eventsMu    sync.Mutex
	events      chan automationDomain.Event
	closed      bool
	stopped     bool
	closeReason string
}

// NewSessionParams holds the fields of a new session.
type NewSessionParams struct {
	ID           uuid.UUID
	UserID       string
	Domain       string
	RequestedURL string
	Actions      []authDomain.Action
	TokenID      string
	Device       Device
	Form         Form
	CreatedAt    time.Time
	ExpiresAt    time.Time
	EventBuffer  int
}

// NewSession creates a session in the pending state. Its context is cancelled at
// ExpiresAt or when Close is called, whichever comes first.
func NewSession(p NewSessionParams) *Session {
	if p.EventBuffer <= 0 {
		p.EventBuffer = 1
	}

	ctx, cancel := context.WithDeadline(context.Background(), p.ExpiresAt)

	return &Session{
		ID:           p.ID,
		UserID:       p.UserID,
		Domain:       p.Domain,
		RequestedURL: p.RequestedURL,
		Actions:      append([]authDomain.Action(nil), p.Actions...),
		TokenID:      p.TokenID,
		Device:       p.Device,
		Form:         p.Form,
		CreatedAt:    p.CreatedAt,
		ExpiresAt:    p.ExpiresAt,
		ctx:          ctx,
		cancel:       cancel,
		state:        StatePending,
		decided:      make(chan struct{}),
		events:       make(chan automationDomain.Event, p.EventBuffer),
	}
}

// State returns the current consent state.
func (s *Session) State() ConsentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Decide applies a terminal consent state if the session is still pending.
// The first decision wins; later calls return false and change nothing.
func (s *Session) Decide(state ConsentState, at time.Time) bool {
	if !state.Terminal() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return false
	}

	s.state = state
	s.decidedAt = at
	close(s.decided)
	return true
}

// Decided is closed once a consent decision has been applied.
func (s *Session) Decided() <-chan struct{} {
	return s.decided
}

// Context is cancelled when the session expires or is removed.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Expired reports whether the session's absolute deadline has passed at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Permits reports whether action is one of the session's permitted actions.
func (s *Session) Permits(action authDomain.Action) bool {
	return authDomain.ContainsAll(s.Actions, []authDomain.Action{action})
}

// AllowAction counts one action against the session's rate window.
func (s *Session) AllowAction(now time.Time, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window.Allow(now, limit)
}

// Attach marks the session as having an event consumer. Only one consumer is allowed.
func (s *Session) Attach() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attached {
		return false
	}
	s.attached = true
	return true
}

// Emit appends an event to the session's channel in emission order. It blocks while
// the channel is full and gives up when ctx or the session context is done. Once a
// stopping event was delivered, later events are rejected with ErrRunStopped.
func (s *Session) Emit(ctx context.Context, event automationDomain.Event) error {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()

	if s.closed {
		return ErrEventsClosed
	}
	if s.stopped {
		return ErrRunStopped
	}

	select {
	case s.events <- event:
		s.stopped = event.Type.Stops()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// Events is the consumer side of the event channel. It is closed by Close or CloseEvents.
func (s *Session) Events() <-chan automationDomain.Event {
	return s.events
}

// CloseEvents closes the event channel with reason. Idempotent; the first reason is kept.
func (s *Session) CloseEvents(reason string) {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.closeReason = reason
	close(s.events)
}

// CloseReason returns why the event channel was closed, or "" while open.
func (s *Session) CloseReason() string {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	return s.closeReason
}

// Close cancels the session context, then closes the event channel with reason.
// Cancelling first releases any emitter blocked on a full channel.
func (s *Session) Close(reason string) {
	s.cancel()
	s.CloseEvents(reason)
}

// Summary returns a snapshot of the session.
func (s *Session) Summary() *Summary {
	return &Summary{
		ID:           s.ID,
		UserID:       s.UserID,
		ConsentState: s.State(),
		Domain:       s.Domain,
		RequestedURL: s.RequestedURL,
		Actions:      append([]authDomain.Action(nil), s.Actions...),
		Device:       s.Device,
		Form:         s.Form.clone(),
		CreatedAt:    s.CreatedAt,
		ExpiresAt:    s.ExpiresAt,
	}
}
