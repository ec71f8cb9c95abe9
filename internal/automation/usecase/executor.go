// Package usecase implements the automation executor that drives one authorized
// session against its target page and reports progress as events.
package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	authDomain "github.com/allisson/agentbroker/internal/auth/domain"
	automationDomain "github.com/allisson/agentbroker/internal/automation/domain"
	apperrors "github.com/allisson/agentbroker/internal/errors"
	sessionDomain "github.com/allisson/agentbroker/internal/session/domain"
)

// ActionAuthorizer gates every interaction. It is implemented by the session manager.
type ActionAuthorizer interface {
	AuthorizeAction(ctx context.Context, sessionID uuid.UUID, action authDomain.Action, targetURL string) error
}

// Pacer supplies the humanized delays and the navigation policy.
type Pacer interface {
	Pause(ctx context.Context) error
	TypingDelay() time.Duration
	CheckNavigation(originURL, targetURL string) error
}

// Runner executes one session run.
type Runner interface {
	Run(ctx context.Context, session *sessionDomain.Session)
}

// Executor runs the permitted actions of a session in canonical order. Every failure
// is reported as an event; Run itself never returns an error to the transport.
type Executor struct {
	driver     automationDomain.Driver
	authorizer ActionAuthorizer
	pacer      Pacer
	logger     *slog.Logger
	now        func() time.Time
}

// NewExecutor creates an executor.
func NewExecutor(
	driver automationDomain.Driver,
	authorizer ActionAuthorizer,
	pacer Pacer,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		driver:     driver,
		authorizer: authorizer,
		pacer:      pacer,
		logger:     logger,
		now:        time.Now,
	}
}

// run carries the per-run state.
type run struct {
	*Executor
	session *sessionDomain.Session
	page    automationDomain.Page
	started bool
}

// Run executes the session's actions and emits one event per completed phase. It
// stops at the first failure, emitting NEEDS_LOGIN, CHALLENGE_DETECTED or ERROR.
// Cancellation of ctx is observed between interactions.
func (e *Executor) Run(ctx context.Context, session *sessionDomain.Session) {
	r := &run{Executor: e, session: session}
	defer r.closePage()

	logger := e.logger.With(slog.String("session_id", session.ID.String()))
	logger.Info("automation run started", slog.Any("actions", authDomain.ActionStrings(session.Actions)))

	for _, action := range authDomain.AllActions {
		if !session.Permits(action) {
			continue
		}

		var err error
		switch action {
		case authDomain.OpenAction:
			err = r.open(ctx)
		case authDomain.FillAction:
			err = r.fill(ctx)
		case authDomain.UploadAction:
			err = r.upload(ctx)
		case authDomain.ClickAction:
			err = r.click(ctx)
		}

		if err != nil {
			r.fail(ctx, err)
			logger.Info("automation run stopped", slog.String("action", string(action)), slog.Any("error", err))
			return
		}
	}

	if err := r.emit(ctx, automationDomain.EventPublished, map[string]any{"url": r.currentURL()}); err != nil {
		logger.Debug("automation completion not delivered", slog.Any("error", err))
		return
	}
	logger.Info("automation run published")
}

// step checks cancellation, inserts the typing delay between interactions, then
// authorizes the interaction.
func (r *run) step(ctx context.Context, action authDomain.Action, targetURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if r.started {
		if err := r.pacer.Pause(ctx); err != nil {
			return err
		}
	}
	r.started = true

	return r.authorizer.AuthorizeAction(ctx, r.session.ID, action, targetURL)
}

func (r *run) open(ctx context.Context) error {
	target := r.session.RequestedURL

	if err := r.step(ctx, authDomain.OpenAction, target); err != nil {
		return err
	}

	if err := r.emit(ctx, automationDomain.EventOpening, map[string]any{"url": target}); err != nil {
		return err
	}

	page, err := r.driver.NewPage(ctx, automationDomain.PageOptions{
		Guard: func(targetURL string) error {
			return r.pacer.CheckNavigation(r.session.RequestedURL, targetURL)
		},
		KeyDelay: r.pacer.TypingDelay,
	})
	if err != nil {
		return err
	}
	r.page = page

	if err := page.Navigate(ctx, target); err != nil {
		return err
	}

	return r.emit(ctx, automationDomain.EventOpenedForm, map[string]any{"url": page.URL()})
}

func (r *run) fill(ctx context.Context) error {
	fields := r.session.Form.Fields
	if len(fields) == 0 {
		if err := r.step(ctx, authDomain.FillAction, ""); err != nil {
			return err
		}
	}

	for _, field := range fields {
		if err := r.step(ctx, authDomain.FillAction, ""); err != nil {
			return err
		}
		if r.page == nil {
			return automationDomain.ErrPageNotOpen
		}
		if err := r.page.Fill(ctx, field.Selector, field.Value); err != nil {
			return err
		}
	}

	return r.emit(ctx, automationDomain.EventFilledFields, map[string]any{"count": len(fields)})
}

func (r *run) upload(ctx context.Context) error {
	images := r.session.Form.Images
	if len(images) == 0 {
		if err := r.step(ctx, authDomain.UploadAction, ""); err != nil {
			return err
		}
	}

	for _, image := range images {
		if err := r.step(ctx, authDomain.UploadAction, ""); err != nil {
			return err
		}
		if r.page == nil {
			return automationDomain.ErrPageNotOpen
		}
		if err := r.page.Upload(ctx, image.Selector, image.Path); err != nil {
			return err
		}
	}

	return r.emit(ctx, automationDomain.EventUploadedImages, map[string]any{"count": len(images)})
}

func (r *run) click(ctx context.Context) error {
	if err := r.step(ctx, authDomain.ClickAction, ""); err != nil {
		return err
	}

	form := r.session.Form
	if form.SubmitSelector != "" {
		if r.page == nil {
			return automationDomain.ErrPageNotOpen
		}
		if err := r.page.Click(ctx, form.SubmitSelector); err != nil {
			return err
		}
	}

	if err := r.emit(ctx, automationDomain.EventSubmitted, map[string]any{"url": r.currentURL()}); err != nil {
		return err
	}

	if form.SuccessSelector != "" && r.page != nil {
		return r.page.WaitFor(ctx, form.SuccessSelector)
	}
	return nil
}

func (r *run) emit(ctx context.Context, eventType automationDomain.EventType, data map[string]any) error {
	return r.session.Emit(ctx, automationDomain.Event{
		ID:        ulid.Make().String(),
		Type:      eventType,
		Timestamp: r.now().UTC(),
		Data:      data,
	})
}

// fail reports err as the run's terminal event.
func (r *run) fail(ctx context.Context, err error) {
	switch {
	case errors.Is(err, automationDomain.ErrNeedsLogin):
		_ = r.emit(ctx, automationDomain.EventNeedsLogin, map[string]any{"url": r.currentURL()})
	case errors.Is(err, automationDomain.ErrChallenge):
		_ = r.emit(ctx, automationDomain.EventChallengeDetected, map[string]any{"url": r.currentURL()})
	default:
		// A cancelled run usually has no consumer left, so this emit is best effort.
		_ = r.emit(ctx, automationDomain.EventError, map[string]any{
			"code":    causeOf(err),
			"message": err.Error(),
		})
	}
}

func (r *run) currentURL() string {
	if r.page == nil {
		return r.session.RequestedURL
	}
	return r.page.URL()
}

func (r *run) closePage() {
	if r.page == nil {
		return
	}
	if err := r.page.Close(); err != nil {
		r.logger.Debug("failed to close page", slog.Any("error", err))
	}
}

// causeOf maps a run failure to the code reported in the ERROR event.
func causeOf(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return automationDomain.CauseCancelled
	case errors.Is(err, sessionDomain.ErrSessionNotFound), errors.Is(err, sessionDomain.ErrSessionNotReady):
		return automationDomain.CauseCancelled
	}

	switch code := apperrors.Code(err); code {
	case automationDomain.CausePolicyViolation, automationDomain.CauseRateLimited:
		return code
	}

	return automationDomain.CauseExecution
}
