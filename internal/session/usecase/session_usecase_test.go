package usecase

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authDomain "github.com/allisson/agentbroker/internal/auth/domain"
	authService "github.com/allisson/agentbroker/internal/auth/service"
	apperrors "github.com/allisson/agentbroker/internal/errors"
	policyDomain "github.com/allisson/agentbroker/internal/policy/domain"
	"github.com/allisson/agentbroker/internal/ratelimit"
	sessionDomain "github.com/allisson/agentbroker/internal/session/domain"
	"github.com/allisson/agentbroker/internal/session/repository"
	"github.com/allisson/agentbroker/internal/testutil"
)

type recordingListener struct {
	mu      sync.Mutex
	created []*sessionDomain.Summary
	decided []*sessionDomain.Summary
}

func (l *recordingListener) SessionCreated(_ context.Context, summary *sessionDomain.Summary) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.created = append(l.created, summary)
}

func (l *recordingListener) SessionDecided(_ context.Context, summary *sessionDomain.Summary) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.decided = append(l.decided, summary)
}

func (l *recordingListener) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.created)
}

func (l *recordingListener) Decided() []*sessionDomain.Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.decided)
}

type fixture struct {
	useCase SessionUseCase
	repo    *repository.MemorySessionRepository
	tokens  authService.TokenService
	clock   *testutil.Clock
}

func newFixture(t *testing.T, mutate func(p *policyDomain.Policy)) *fixture {
	t.Helper()

	clock := testutil.NewClock()
	tokens := testutil.NewTokenService(t, clock)
	repo := repository.NewMemorySessionRepository()
	useCase := NewSessionUseCase(
		repo,
		tokens,
		testutil.NewEngine(t, mutate),
		120*time.Second,
		8,
		testutil.Logger(),
		clock.Now,
	)

	return &fixture{useCase: useCase, repo: repo, tokens: tokens, clock: clock}
}

func (f *fixture) create(t *testing.T, userID, domain string, actions ...authDomain.Action) *sessionDomain.Summary {
	t.Helper()

	claims := testutil.MintClaims(t, f.tokens, userID, domain, 120*time.Second, actions...)
	summary, err := f.useCase.Create(context.Background(), &sessionDomain.CreateInput{Claims: claims})
	require.NoError(t, err)
	return summary
}

func TestSessionUseCase_Start(t *testing.T) {
	ctx := context.Background()

	t.Run("Success_MintsTokenAndCreatesPendingSession", func(t *testing.T) {
		f := newFixture(t, nil)
		listener := &recordingListener{}
		f.useCase.AddListener(listener)

		out, err := f.useCase.Start(ctx, &sessionDomain.StartInput{
			UserID:       "user-1",
			Domain:       "Example.com",
			Actions:      []authDomain.Action{authDomain.OpenAction, authDomain.FillAction},
			RequestedURL: "https://example.com/sell",
		})
		require.NoError(t, err)

		assert.NotEmpty(t, out.Token)
		assert.Equal(t, testutil.Epoch.Add(120*time.Second), out.ExpiresAt)
		assert.Equal(t, sessionDomain.StatePending, out.Session.ConsentState)
		assert.Equal(t, "example.com", out.Session.Domain)
		assert.Equal(t, []authDomain.Action{authDomain.OpenAction, authDomain.FillAction}, out.Session.Actions)
		assert.Equal(t, 1, listener.Len())

		claims, err := f.tokens.Verify(out.Token)
		require.NoError(t, err)
		assert.Equal(t, "user-1", claims.UserID)
	})

	t.Run("Error_DomainOutsideAllowlist", func(t *testing.T) {
		f := newFixture(t, nil)

		_, err := f.useCase.Start(ctx, &sessionDomain.StartInput{
			UserID:  "user-1",
			Domain:  "blocked.example",
			Actions: []authDomain.Action{authDomain.OpenAction},
		})

		assert.True(t, apperrors.Is(err, apperrors.ErrInvalidInput))
		assert.Equal(t, "POLICY_VIOLATION", apperrors.Code(err))
		assert.Zero(t, f.repo.Len())
	})

	t.Run("Error_RequestedURLOnAnotherDomain", func(t *testing.T) {
		f := newFixture(t, nil)

		_, err := f.useCase.Start(ctx, &sessionDomain.StartInput{
			UserID:       "user-1",
			Domain:       "example.com",
			Actions:      []authDomain.Action{authDomain.OpenAction},
			RequestedURL: "https://evil.com/",
		})

		assert.True(t, apperrors.Is(err, apperrors.ErrInvalidInput))
		assert.Zero(t, f.repo.Len())
	})

	t.Run("Error_MissingSecret", func(t *testing.T) {
		tokens, err := authService.NewTokenService("", time.Minute, nil)
		require.NoError(t, err)

		useCase := NewSessionUseCase(
			repository.NewMemorySessionRepository(),
			tokens,
			testutil.NewEngine(t, nil),
			time.Minute,
			8,
			testutil.Logger(),
			nil,
		)

		_, err = useCase.Start(ctx, &sessionDomain.StartInput{
			UserID:  "user-1",
			Domain:  "example.com",
			Actions: []authDomain.Action{authDomain.OpenAction},
		})

		assert.ErrorIs(t, err, authDomain.ErrMissingSecret)
		assert.Equal(t, "CONFIG_ERROR", apperrors.Code(err))
	})
}

func TestSessionUseCase_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("Success_DefaultsURLAndActionsFromClaims", func(t *testing.T) {
		f := newFixture(t, nil)

		summary := f.create(t, "user-1", "example.com", authDomain.OpenAction, authDomain.ClickAction)

		session, err := f.useCase.Get(ctx, "user-1", summary.ID)
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/", session.RequestedURL)
		assert.Equal(t, []authDomain.Action{authDomain.OpenAction, authDomain.ClickAction}, session.Actions)
		assert.Equal(t, testutil.Epoch.Add(120*time.Second), session.ExpiresAt)
	})

	t.Run("Error_SameTokenTwice", func(t *testing.T) {
		f := newFixture(t, nil)
		claims := testutil.MintClaims(t, f.tokens, "user-1", "example.com", time.Minute)

		_, err := f.useCase.Create(ctx, &sessionDomain.CreateInput{Claims: claims})
		require.NoError(t, err)

		_, err = f.useCase.Create(ctx, &sessionDomain.CreateInput{Claims: claims})
		assert.ErrorIs(t, err, sessionDomain.ErrDuplicateToken)
		assert.Equal(t, "DUPLICATE_TOKEN", apperrors.Code(err))
		assert.Equal(t, 1, f.repo.Len())
	})

	t.Run("Error_ConcurrentCreatesWithSameTokenLeaveOneSession", func(t *testing.T) {
		f := newFixture(t, nil)
		claims := testutil.MintClaims(t, f.tokens, "user-1", "example.com", time.Minute)

		const workers = 32
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
			dupes     int
		)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.useCase.Create(ctx, &sessionDomain.CreateInput{Claims: claims})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					succeeded++
				case apperrors.Is(err, sessionDomain.ErrDuplicateToken):
					dupes++
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, succeeded)
		assert.Equal(t, workers-1, dupes)
		assert.Equal(t, 1, f.repo.Len())
	})

	t.Run("Error_ActionsExceedTokenScope", func(t *testing.T) {
		f := newFixture(t, nil)
		claims := testutil.MintClaims(t, f.tokens, "user-1", "example.com", time.Minute, authDomain.OpenAction)

		_, err := f.useCase.Create(ctx, &sessionDomain.CreateInput{
			Claims:  claims,
			Actions: []authDomain.Action{authDomain.OpenAction, authDomain.ClickAction},
		})
		assert.True(t, apperrors.Is(err, apperrors.ErrInvalidInput))
	})

	t.Run("Error_ExpiredClaims", func(t *testing.T) {
		f := newFixture(t, nil)
		claims := testutil.MintClaims(t, f.tokens, "user-1", "example.com", time.Minute)
		f.clock.Advance(time.Minute)

		_, err := f.useCase.Create(ctx, &sessionDomain.CreateInput{Claims: claims})
		assert.ErrorIs(t, err, authDomain.ErrInvalidToken)
	})
}

func TestSessionUseCase_HandleConsent(t *testing.T) {
	ctx := context.Background()

	t.Run("FirstDecisionWins", func(t *testing.T) {
		f := newFixture(t, nil)
		listener := &recordingListener{}
		f.useCase.AddListener(listener)
		summary := f.create(t, "user-1", "example.com")
		session, err := f.useCase.Get(ctx, "user-1", summary.ID)
		require.NoError(t, err)

		assert.True(t, f.useCase.HandleConsent(ctx, summary.ID, true))
		assert.False(t, f.useCase.HandleConsent(ctx, summary.ID, false))
		assert.False(t, f.useCase.Cancel(ctx, summary.ID))

		assert.Equal(t, sessionDomain.StateAllowed, session.State())
		decided := listener.Decided()
		require.Len(t, decided, 1)
		assert.Equal(t, sessionDomain.StateAllowed, decided[0].ConsentState)
		select {
		case <-session.Decided():
		default:
			t.Fatal("decision signal not closed")
		}
	})

	t.Run("DenyIsTerminal", func(t *testing.T) {
		f := newFixture(t, nil)
		summary := f.create(t, "user-1", "example.com")

		assert.True(t, f.useCase.HandleConsent(ctx, summary.ID, false))
		assert.False(t, f.useCase.HandleConsent(ctx, summary.ID, true))

		session, err := f.useCase.Get(ctx, "user-1", summary.ID)
		require.NoError(t, err)
		assert.Equal(t, sessionDomain.StateDenied, session.State())
	})

	t.Run("UnknownSessionIsNoop", func(t *testing.T) {
		f := newFixture(t, nil)
		assert.False(t, f.useCase.HandleConsent(ctx, uuid.Must(uuid.NewV7()), true))
	})

	t.Run("ExpiredSessionIsNoop", func(t *testing.T) {
		f := newFixture(t, nil)
		summary := f.create(t, "user-1", "example.com")
		f.clock.Advance(121 * time.Second)

		assert.False(t, f.useCase.HandleConsent(ctx, summary.ID, true))
	})

	t.Run("ConcurrentDecisionsApplyOnce", func(t *testing.T) {
		f := newFixture(t, nil)
		summary := f.create(t, "user-1", "example.com")

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			applied int
		)
		for i := range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if f.useCase.HandleConsent(ctx, summary.ID, i%2 == 0) {
					mu.Lock()
					applied++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, applied)
	})
}

func TestSessionUseCase_CancelOwned(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	summary := f.create(t, "user-1", "example.com")

	_, err := f.useCase.CancelOwned(ctx, "user-2", summary.ID)
	assert.ErrorIs(t, err, sessionDomain.ErrSessionNotFound)

	cancelled, err := f.useCase.CancelOwned(ctx, "user-1", summary.ID)
	require.NoError(t, err)
	assert.Equal(t, sessionDomain.StateCancelled, cancelled.ConsentState)

	again, err := f.useCase.CancelOwned(ctx, "user-1", summary.ID)
	require.NoError(t, err)
	assert.Equal(t, sessionDomain.StateCancelled, again.ConsentState)
}

func TestSessionUseCase_Get(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	summary := f.create(t, "user-1", "example.com")

	_, err := f.useCase.Get(ctx, "user-1", summary.ID)
	require.NoError(t, err)

	_, err = f.useCase.Get(ctx, "user-2", summary.ID)
	assert.ErrorIs(t, err, sessionDomain.ErrSessionNotFound)

	_, err = f.useCase.Get(ctx, "", summary.ID)
	assert.ErrorIs(t, err, sessionDomain.ErrSessionNotFound)

	_, err = f.useCase.Get(ctx, "user-1", uuid.Must(uuid.NewV7()))
	assert.ErrorIs(t, err, sessionDomain.ErrSessionNotFound)
	assert.Equal(t, "NOT_FOUND", apperrors.Code(err))
}

func TestSessionUseCase_ListPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	first := f.create(t, "user-1", "example.com")
	f.clock.Advance(time.Second)
	second := f.create(t, "user-2", "shop.ebay.com")
	f.clock.Advance(time.Second)
	decided := f.create(t, "user-1", "example.com")
	require.True(t, f.useCase.HandleConsent(ctx, decided.ID, true))

	pending, err := f.useCase.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, second.ID, pending[0].ID)
	assert.Equal(t, first.ID, pending[1].ID)
}

func TestSessionUseCase_ClearExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	pending := f.create(t, "user-1", "example.com")
	allowed := f.create(t, "user-1", "example.com")
	require.True(t, f.useCase.HandleConsent(ctx, allowed.ID, true))
	allowedSession, err := f.useCase.Get(ctx, "user-1", allowed.ID)
	require.NoError(t, err)

	f.clock.Advance(60 * time.Second)
	fresh := f.create(t, "user-1", "example.com")

	removed, err := f.useCase.ClearExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)

	f.clock.Advance(61 * time.Second)
	removed, err = f.useCase.ClearExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = f.repo.Get(ctx, pending.ID)
	assert.ErrorIs(t, err, sessionDomain.ErrSessionNotFound)
	_, err = f.repo.Get(ctx, allowed.ID)
	assert.ErrorIs(t, err, sessionDomain.ErrSessionNotFound)
	_, err = f.repo.Get(ctx, fresh.ID)
	assert.NoError(t, err)

	_, open := <-allowedSession.Events()
	assert.False(t, open)
	assert.Equal(t, sessionDomain.CloseExpired, allowedSession.CloseReason())
	assert.Error(t, allowedSession.Context().Err())
}

func TestSessionUseCase_AuthorizeAction(t *testing.T) {
	ctx := context.Background()

	newAllowed := func(t *testing.T, f *fixture, actions ...authDomain.Action) uuid.UUID {
		t.Helper()
		summary := f.create(t, "user-1", "example.com", actions...)
		require.True(t, f.useCase.HandleConsent(ctx, summary.ID, true))
		return summary.ID
	}

	t.Run("Error_PendingSessionNotReady", func(t *testing.T) {
		f := newFixture(t, nil)
		summary := f.create(t, "user-1", "example.com")

		err := f.useCase.AuthorizeAction(ctx, summary.ID, authDomain.OpenAction, "")
		assert.ErrorIs(t, err, sessionDomain.ErrSessionNotReady)
	})

	t.Run("Error_FourthActionInWindowIsRateLimited", func(t *testing.T) {
		f := newFixture(t, func(p *policyDomain.Policy) { p.MaxActionsPerMinute = 3 })
		id := newAllowed(t, f)

		for range 3 {
			require.NoError(t, f.useCase.AuthorizeAction(ctx, id, authDomain.FillAction, ""))
		}

		err := f.useCase.AuthorizeAction(ctx, id, authDomain.FillAction, "")
		assert.ErrorIs(t, err, ratelimit.ErrRateLimited)
		assert.Equal(t, "RATE_LIMITED", apperrors.Code(err))

		f.clock.Advance(60 * time.Second)
		assert.NoError(t, f.useCase.AuthorizeAction(ctx, id, authDomain.FillAction, ""))
	})

	t.Run("Error_ActionNotPermitted", func(t *testing.T) {
		f := newFixture(t, nil)
		id := newAllowed(t, f, authDomain.OpenAction)

		err := f.useCase.AuthorizeAction(ctx, id, authDomain.ClickAction, "")
		assert.ErrorIs(t, err, policyDomain.ErrPolicyViolation)
		assert.Equal(t, "POLICY_VIOLATION", apperrors.Code(err))
	})

	t.Run("Error_CrossOriginNavigation", func(t *testing.T) {
		f := newFixture(t, nil)
		id := newAllowed(t, f)

		assert.NoError(t, f.useCase.AuthorizeAction(ctx, id, authDomain.OpenAction, "https://example.com/form"))

		err := f.useCase.AuthorizeAction(ctx, id, authDomain.OpenAction, "https://evil.com/")
		assert.ErrorIs(t, err, policyDomain.ErrPolicyViolation)
	})

	t.Run("Error_PolicyRejectionsDoNotConsumeBudget", func(t *testing.T) {
		f := newFixture(t, func(p *policyDomain.Policy) { p.MaxActionsPerMinute = 1 })
		id := newAllowed(t, f)

		for range 3 {
			assert.Error(t, f.useCase.AuthorizeAction(ctx, id, authDomain.OpenAction, "https://evil.com/"))
		}
		assert.NoError(t, f.useCase.AuthorizeAction(ctx, id, authDomain.OpenAction, ""))
	})
}

func TestSessionUseCase_CreateFormUploads(t *testing.T) {
	ctx := context.Background()

	createWithImage := func(t *testing.T, f *fixture, path string) (*sessionDomain.Summary, error) {
		t.Helper()
		claims := testutil.MintClaims(t, f.tokens, "user-1", "example.com", 120*time.Second,
			authDomain.OpenAction, authDomain.UploadAction)
		return f.useCase.Create(ctx, &sessionDomain.CreateInput{
			Claims: claims,
			Form: sessionDomain.Form{
				Images: []sessionDomain.FormImage{{Selector: "#photo", Path: path}},
			},
		})
	}

	t.Run("Rejected", func(t *testing.T) {
		tests := []struct {
			name string
			path string
		}{
			{name: "private key", path: "/root/.ssh/id_rsa"},
			{name: "dot segments escape", path: "/tmp/../root/.ssh/id_rsa"},
			{name: "relative escape", path: "../etc/passwd"},
			{name: "upload dir itself", path: "/tmp"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				f := newFixture(t, nil)
				summary, err := createWithImage(t, f, tt.path)

				require.Error(t, err)
				assert.Nil(t, summary)
				assert.ErrorIs(t, err, sessionDomain.ErrUploadNotAllowed)
				assert.True(t, apperrors.Is(err, apperrors.ErrInvalidInput))
				assert.Equal(t, "INVALID_INPUT", apperrors.Code(err))
				assert.Zero(t, f.repo.Len())
			})
		}
	})

	t.Run("UploadsDisabled", func(t *testing.T) {
		f := newFixture(t, func(p *policyDomain.Policy) { p.UploadDir = "" })
		_, err := createWithImage(t, f, "/tmp/lamp.jpg")
		assert.ErrorIs(t, err, sessionDomain.ErrUploadNotAllowed)
	})

	t.Run("PathsResolvedIntoSummary", func(t *testing.T) {
		f := newFixture(t, nil)
		summary, err := createWithImage(t, f, "listings/./lamp.jpg")
		require.NoError(t, err)

		require.Len(t, summary.Form.Images, 1)
		assert.Equal(t, "/tmp/listings/lamp.jpg", summary.Form.Images[0].Path)
		assert.Equal(t, "#photo", summary.Form.Images[0].Selector)
	})
}
