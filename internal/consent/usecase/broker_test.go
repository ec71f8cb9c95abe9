package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authDomain "github.com/allisson/agentbroker/internal/auth/domain"
	authService "github.com/allisson/agentbroker/internal/auth/service"
	consentDomain "github.com/allisson/agentbroker/internal/consent/domain"
	sessionDomain "github.com/allisson/agentbroker/internal/session/domain"
	"github.com/allisson/agentbroker/internal/session/repository"
	sessionUseCase "github.com/allisson/agentbroker/internal/session/usecase"
	"github.com/allisson/agentbroker/internal/testutil"
)

type fixture struct {
	broker   *Broker
	sessions sessionUseCase.SessionUseCase
	tokens   authService.TokenService
	clock    *testutil.Clock
}

func newFixture(t *testing.T, buffer int) *fixture {
	t.Helper()

	clock := testutil.NewClock()
	tokens := testutil.NewTokenService(t, clock)
	sessions := sessionUseCase.NewSessionUseCase(
		repository.NewMemorySessionRepository(),
		tokens,
		testutil.NewEngine(t, nil),
		time.Minute,
		8,
		testutil.Logger(),
		clock.Now,
	)

	return &fixture{
		broker:   NewBroker(sessions, buffer, testutil.Logger()),
		sessions: sessions,
		tokens:   tokens,
		clock:    clock,
	}
}

func (f *fixture) create(t *testing.T) *sessionDomain.Summary {
	t.Helper()

	claims := testutil.MintClaims(t, f.tokens, "user-1", "example.com", time.Minute, authDomain.OpenAction)
	summary, err := f.sessions.Create(context.Background(), &sessionDomain.CreateInput{
		Claims:       claims,
		RequestedURL: "https://example.com/sell",
	})
	require.NoError(t, err)
	return summary
}

func receive(t *testing.T, sub *Subscription) consentDomain.Notice {
	t.Helper()

	select {
	case notice, ok := <-sub.Notices():
		require.True(t, ok, "subscription closed")
		return notice
	case <-time.After(time.Second):
		t.Fatal("no notice received")
		return consentDomain.Notice{}
	}
}

func TestBroker_PromptOnSessionCreated(t *testing.T) {
	f := newFixture(t, 8)
	sub, err := f.broker.Subscribe(context.Background())
	require.NoError(t, err)
	defer sub.Close()

	summary := f.create(t)

	notice := receive(t, sub)
	assert.Equal(t, consentDomain.NoticePrompt, notice.Type)
	require.NotNil(t, notice.Prompt)
	assert.Equal(t, summary.ID, notice.Prompt.SessionID)
	assert.Equal(t, "example.com", notice.Prompt.Domain)
	assert.Equal(t, "https://example.com/sell", notice.Prompt.URL)
	assert.Equal(t, []authDomain.Action{authDomain.OpenAction}, notice.Prompt.Actions)
	assert.Equal(t, summary.ExpiresAt, notice.Prompt.ExpiresAt)
}

func TestBroker_PromptListsFormFieldsAndUploads(t *testing.T) {
	f := newFixture(t, 8)
	sub, err := f.broker.Subscribe(context.Background())
	require.NoError(t, err)
	defer sub.Close()

	claims := testutil.MintClaims(t, f.tokens, "user-1", "example.com", time.Minute,
		authDomain.OpenAction, authDomain.FillAction, authDomain.UploadAction)
	_, err = f.sessions.Create(context.Background(), &sessionDomain.CreateInput{
		Claims:       claims,
		RequestedURL: "https://example.com/sell",
		Form: sessionDomain.Form{
			Fields: []sessionDomain.FormField{{Selector: "#title", Value: "Lamp"}},
			Images: []sessionDomain.FormImage{{Selector: "#photo", Path: "listings/lamp.jpg"}},
		},
	})
	require.NoError(t, err)

	notice := receive(t, sub)
	require.NotNil(t, notice.Prompt)
	assert.Equal(t, []string{"#title"}, notice.Prompt.Fields)
	assert.Equal(t, []sessionDomain.FormImage{{Selector: "#photo", Path: "/tmp/listings/lamp.jpg"}}, notice.Prompt.Uploads)
}

func TestBroker_LateSubscriberReplaysPendingNewestFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 8)

	first := f.create(t)
	f.clock.Advance(time.Second)
	second := f.create(t)
	f.clock.Advance(time.Second)
	decided := f.create(t)
	require.True(t, f.broker.Decide(ctx, consentDomain.Decision{SessionID: decided.ID, Allow: true}))

	sub, err := f.broker.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	assert.Equal(t, second.ID, receive(t, sub).SessionID)
	assert.Equal(t, first.ID, receive(t, sub).SessionID)
	assert.Empty(t, sub.Notices())
}

func TestBroker_Decide(t *testing.T) {
	ctx := context.Background()

	t.Run("FirstDecisionWinsAndResolves", func(t *testing.T) {
		f := newFixture(t, 8)
		summary := f.create(t)
		sub, err := f.broker.Subscribe(ctx)
		require.NoError(t, err)
		defer sub.Close()
		receive(t, sub)

		assert.True(t, f.broker.Decide(ctx, consentDomain.Decision{SessionID: summary.ID, Allow: true}))
		assert.False(t, f.broker.Decide(ctx, consentDomain.Decision{SessionID: summary.ID, Allow: false}))

		notice := receive(t, sub)
		assert.Equal(t, consentDomain.NoticeResolved, notice.Type)
		assert.Equal(t, sessionDomain.StateAllowed, notice.ConsentState)
		assert.Empty(t, sub.Notices())
	})

	t.Run("DismissedCancels", func(t *testing.T) {
		f := newFixture(t, 8)
		summary := f.create(t)

		assert.True(t, f.broker.Decide(ctx, consentDomain.Decision{SessionID: summary.ID, Allow: true, Dismissed: true}))

		session, err := f.sessions.Get(ctx, "user-1", summary.ID)
		require.NoError(t, err)
		assert.Equal(t, sessionDomain.StateCancelled, session.State())
	})
}

func TestBroker_SlowSubscriberDropsNotices(t *testing.T) {
	f := newFixture(t, 1)
	sub, err := f.broker.Subscribe(context.Background())
	require.NoError(t, err)
	defer sub.Close()

	first := f.create(t)
	f.create(t)
	f.create(t)

	assert.Equal(t, first.ID, receive(t, sub).SessionID)
	assert.Empty(t, sub.Notices())
}

func TestSubscription_Close(t *testing.T) {
	f := newFixture(t, 1)
	sub, err := f.broker.Subscribe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.broker.Subscribers())

	sub.Close()
	sub.Close()
	assert.Zero(t, f.broker.Subscribers())

	_, open := <-sub.Notices()
	assert.False(t, open)

	f.create(t)
}

// racingSessions creates a session from inside ListPending, after the pending list was
// taken and before Subscribe returns.
type racingSessions struct {
	sessionUseCase.SessionUseCase
	onList func()
}

func (r *racingSessions) ListPending(ctx context.Context) ([]*sessionDomain.Summary, error) {
	pending, err := r.SessionUseCase.ListPending(ctx)
	if r.onList != nil {
		r.onList()
	}
	return pending, err
}

func TestBroker_SubscribeDoesNotMissSessionCreatedDuringReplay(t *testing.T) {
	f := newFixture(t, 8)
	existing := f.create(t)

	racing := &racingSessions{SessionUseCase: f.sessions}
	broker := NewBroker(racing, 8, testutil.Logger())

	var created *sessionDomain.Summary
	racing.onList = func() {
		f.clock.Advance(time.Second)
		created = f.create(t)
	}

	sub, err := broker.Subscribe(context.Background())
	require.NoError(t, err)
	defer sub.Close()

	got := map[string]bool{}
	for range 2 {
		got[receive(t, sub).SessionID.String()] = true
	}
	assert.True(t, got[existing.ID.String()])
	assert.True(t, got[created.ID.String()])
}

func TestBroker_SubscribeListError(t *testing.T) {
	f := newFixture(t, 8)
	broker := NewBroker(&failingSessions{SessionUseCase: f.sessions}, 8, testutil.Logger())

	sub, err := broker.Subscribe(context.Background())
	assert.Error(t, err)
	assert.Nil(t, sub)
	assert.Zero(t, broker.Subscribers())
}

type failingSessions struct {
	sessionUseCase.SessionUseCase
}

func (f *failingSessions) ListPending(context.Context) ([]*sessionDomain.Summary, error) {
	return nil, assert.AnError
}
