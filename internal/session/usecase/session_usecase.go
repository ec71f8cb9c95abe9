package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	authDomain "github.com/allisson/agentbroker/internal/auth/domain"
	authService "github.com/allisson/agentbroker/internal/auth/service"
	apperrors "github.com/allisson/agentbroker/internal/errors"
	policyDomain "github.com/allisson/agentbroker/internal/policy/domain"
	policyService "github.com/allisson/agentbroker/internal/policy/service"
	sessionDomain "github.com/allisson/agentbroker/internal/session/domain"
)

// sessionUseCase implements SessionUseCase on top of a SessionRepository.
type sessionUseCase struct {
	repo        SessionRepository
	tokens      authService.TokenService
	engine      *policyService.Engine
	tokenTTL    time.Duration
	eventBuffer int
	logger      *slog.Logger
	now         func() time.Time

	listenersMu sync.RWMutex
	listeners   []LifecycleListener
}

// Start validates, mints, verifies and creates in that order. No session exists unless
// the freshly minted token passed Verify.
func (s *sessionUseCase) Start(
	ctx context.Context,
	input *sessionDomain.StartInput,
) (*sessionDomain.StartOutput, error) {
	domain := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(input.Domain)), ".")
	if err := s.engine.CheckDomain(domain); err != nil {
		return nil, apperrors.Wrap(sessionDomain.ErrUnsupportedDomain, err.Error())
	}

	requestedURL, err := resolveRequestedURL(domain, input.RequestedURL)
	if err != nil {
		return nil, err
	}
	if err := s.engine.CheckURL(requestedURL); err != nil {
		return nil, apperrors.Wrap(sessionDomain.ErrUnsupportedDomain, err.Error())
	}

	minted, err := s.tokens.Mint(&authDomain.MintTokenInput{
		UserID:  input.UserID,
		Domain:  domain,
		Actions: input.Actions,
		TTL:     s.tokenTTL,
	})
	if err != nil {
		return nil, err
	}

	claims, err := s.tokens.Verify(minted.Token)
	if err != nil {
		return nil, err
	}

	summary, err := s.Create(ctx, &sessionDomain.CreateInput{
		Claims:       claims,
		RequestedURL: requestedURL,
		Device:       input.Device,
		Form:         input.Form,
	})
	if err != nil {
		return nil, err
	}

	return &sessionDomain.StartOutput{
		Token:     minted.Token,
		ExpiresAt: claims.ExpiresAt,
		Session:   summary,
	}, nil
}

// Create binds a new pending session to verified claims.
func (s *sessionUseCase) Create(
	ctx context.Context,
	input *sessionDomain.CreateInput,
) (*sessionDomain.Summary, error) {
	claims := input.Claims
	if claims == nil {
		return nil, apperrors.Wrap(authDomain.ErrInvalidToken, "missing claims")
	}

	now := s.now()
	if !now.Before(claims.ExpiresAt) {
		return nil, apperrors.Wrap(authDomain.ErrInvalidToken, "token expired")
	}

	actions := input.Actions
	if len(actions) == 0 {
		actions = claims.Actions
	} else if !authDomain.ContainsAll(claims.Actions, actions) {
		return nil, apperrors.Wrap(sessionDomain.ErrInvalidSessionRequest, "actions exceed token scope")
	}

	domain := strings.ToLower(claims.Domain)
	requestedURL, err := resolveRequestedURL(domain, input.RequestedURL)
	if err != nil {
		return nil, err
	}

	form, err := s.resolveForm(input.Form)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to generate session id")
	}

	session := sessionDomain.NewSession(sessionDomain.NewSessionParams{
		ID:           id,
		UserID:       claims.UserID,
		Domain:       domain,
		RequestedURL: requestedURL,
		Actions:      actions,
		TokenID:      claims.TokenID,
		Device:       input.Device,
		Form:         form,
		CreatedAt:    now,
		ExpiresAt:    claims.ExpiresAt,
		EventBuffer:  s.eventBuffer,
	})

	if err := s.repo.Insert(ctx, session); err != nil {
		session.Close(sessionDomain.CloseDiscarded)
		return nil, err
	}

	s.logger.Info("session created",
		slog.String("session_id", id.String()),
		slog.String("domain", domain),
		slog.Any("actions", authDomain.ActionStrings(actions)),
		slog.Time("expires_at", claims.ExpiresAt),
	)

	summary := session.Summary()
	s.notifyCreated(ctx, summary)

	return summary, nil
}

// HandleConsent applies allow or deny to a pending session.
func (s *sessionUseCase) HandleConsent(ctx context.Context, sessionID uuid.UUID, allow bool) bool {
	state := sessionDomain.StateDenied
	if allow {
		state = sessionDomain.StateAllowed
	}
	return s.decide(ctx, sessionID, state)
}

// Cancel applies the cancelled decision to a pending session.
func (s *sessionUseCase) Cancel(ctx context.Context, sessionID uuid.UUID) bool {
	return s.decide(ctx, sessionID, sessionDomain.StateCancelled)
}

// CancelOwned cancels a pending session owned by userID. Already decided sessions
// are returned unchanged.
func (s *sessionUseCase) CancelOwned(
	ctx context.Context,
	userID string,
	sessionID uuid.UUID,
) (*sessionDomain.Summary, error) {
	session, err := s.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	s.decide(ctx, session.ID, sessionDomain.StateCancelled)
	return session.Summary(), nil
}

func (s *sessionUseCase) decide(ctx context.Context, sessionID uuid.UUID, state sessionDomain.ConsentState) bool {
	session, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return false
	}

	now := s.now()
	if session.Expired(now) {
		return false
	}

	applied := session.Decide(state, now)
	if applied {
		s.logger.Info("session consent decided",
			slog.String("session_id", sessionID.String()),
			slog.String("consent_state", string(state)),
		)
		s.notifyDecided(ctx, session.Summary())
	} else {
		s.logger.Debug("session consent ignored",
			slog.String("session_id", sessionID.String()),
			slog.String("consent_state", string(session.State())),
		)
	}

	return applied
}

// Get returns the live session owned by userID.
func (s *sessionUseCase) Get(
	ctx context.Context,
	userID string,
	sessionID uuid.UUID,
) (*sessionDomain.Session, error) {
	session, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if userID == "" || session.UserID != userID || session.Expired(s.now()) {
		return nil, sessionDomain.ErrSessionNotFound
	}

	return session, nil
}

// ListPending returns summaries of live pending sessions, newest first.
func (s *sessionUseCase) ListPending(ctx context.Context) ([]*sessionDomain.Summary, error) {
	sessions, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	summaries := make([]*sessionDomain.Summary, 0, len(sessions))
	for _, session := range sessions {
		if session.Expired(now) {
			continue
		}
		summary := session.Summary()
		if summary.ConsentState == sessionDomain.StatePending {
			summaries = append(summaries, summary)
		}
	}

	slices.SortFunc(summaries, func(a, b *sessionDomain.Summary) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID.String(), a.ID.String())
	})

	return summaries, nil
}

// ClearExpired removes expired sessions regardless of state. Removing a session releases
// its token binding and rate window, cancels its context and closes its event channel.
func (s *sessionUseCase) ClearExpired(ctx context.Context) (int, error) {
	sessions, err := s.repo.List(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	removed := 0
	for _, session := range sessions {
		if !session.Expired(now) {
			continue
		}

		if err := s.repo.Delete(ctx, session.ID); err != nil {
			if apperrors.Is(err, apperrors.ErrNotFound) {
				continue
			}
			return removed, err
		}

		session.Close(sessionDomain.CloseExpired)
		removed++

		s.logger.Info("session expired",
			slog.String("session_id", session.ID.String()),
			slog.String("consent_state", string(session.State())),
		)
	}

	return removed, nil
}

// AuthorizeAction checks, in order: liveness, consent, action scope, domain policy,
// navigation policy and finally the rate window. Rejected actions are not counted.
func (s *sessionUseCase) AuthorizeAction(
	ctx context.Context,
	sessionID uuid.UUID,
	action authDomain.Action,
	targetURL string,
) error {
	session, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	now := s.now()
	if session.Expired(now) {
		return sessionDomain.ErrSessionNotFound
	}

	if session.State() != sessionDomain.StateAllowed {
		return sessionDomain.ErrSessionNotReady
	}

	if !session.Permits(action) {
		return apperrors.Wrap(policyDomain.ErrPolicyViolation, fmt.Sprintf("action %q is not permitted", action))
	}

	if err := s.engine.CheckDomain(session.Domain); err != nil {
		return err
	}

	if targetURL != "" {
		if err := s.engine.CheckNavigation(session.RequestedURL, targetURL); err != nil {
			return err
		}
	}

	return session.AllowAction(now, s.engine.MaxActionsPerMinute())
}

// AddListener registers a lifecycle listener.
func (s *sessionUseCase) AddListener(listener LifecycleListener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, listener)
}

func (s *sessionUseCase) notifyCreated(ctx context.Context, summary *sessionDomain.Summary) {
	for _, listener := range s.snapshotListeners() {
		listener.SessionCreated(ctx, summary)
	}
}

func (s *sessionUseCase) notifyDecided(ctx context.Context, summary *sessionDomain.Summary) {
	for _, listener := range s.snapshotListeners() {
		listener.SessionDecided(ctx, summary)
	}
}

func (s *sessionUseCase) snapshotListeners() []LifecycleListener {
	s.listenersMu.RLock()
	defer s.listenersMu.RUnlock()
	return slices.Clone(s.listeners)
}

// resolveForm pins every image path to the policy upload directory. The resolved paths
// are what the consent prompt shows and what the driver uploads.
func (s *sessionUseCase) resolveForm(form sessionDomain.Form) (sessionDomain.Form, error) {
	if len(form.Images) == 0 {
		return form, nil
	}

	images := make([]sessionDomain.FormImage, 0, len(form.Images))
	for _, image := range form.Images {
		path, err := s.engine.ResolveUpload(image.Path)
		if err != nil {
			return sessionDomain.Form{}, apperrors.Wrap(sessionDomain.ErrUploadNotAllowed, err.Error())
		}
		images = append(images, sessionDomain.FormImage{Selector: image.Selector, Path: path})
	}
	form.Images = images
	return form, nil
}

// resolveRequestedURL defaults an empty URL to the domain root and otherwise requires
// an http(s) URL on the domain or one of its subdomains.
func resolveRequestedURL(domain, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "https://" + domain + "/", nil
	}

	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return "", apperrors.Wrap(sessionDomain.ErrInvalidSessionRequest, "requested url must be an absolute http(s) url")
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host != domain && !strings.HasSuffix(host, "."+domain) {
		return "", apperrors.Wrap(
			sessionDomain.ErrInvalidSessionRequest,
			fmt.Sprintf("requested url host %q is outside domain %q", host, domain),
		)
	}

	return u.String(), nil
}

// NewSessionUseCase creates a session manager. A nil now uses time.Now.
func NewSessionUseCase(
	repo SessionRepository,
	tokens authService.TokenService,
	engine *policyService.Engine,
	tokenTTL time.Duration,
	eventBuffer int,
	logger *slog.Logger,
	now func() time.Time,
) SessionUseCase {
	if now == nil {
		now = time.Now
	}

	return &sessionUseCase{
		repo:        repo,
		tokens:      tokens,
		engine:      engine,
		tokenTTL:    tokenTTL,
		eventBuffer: eventBuffer,
		logger:      logger,
		now:         now,
	}
}
