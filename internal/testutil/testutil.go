// Package testutil provides shared fixtures for broker unit tests: a manual clock,
// a permissive policy engine and a token service bound to that clock.
//
//	clock := testutil.NewClock()
//	tokens := testutil.NewTokenService(t, clock)
//	engine := testutil.NewEngine(t, nil)
package testutil

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	authDomain "github.com/allisson/agentbroker/internal/auth/domain"
	authService "github.com/allisson/agentbroker/internal/auth/service"
	policyDomain "github.com/allisson/agentbroker/internal/policy/domain"
	policyService "github.com/allisson/agentbroker/internal/policy/service"
)

// TestSecret is the token signing secret used by NewTokenService.
const TestSecret = "test-signing-secret"

// Epoch is the initial time of a new Clock. It follows the wall clock because session
// contexts carry real deadlines; whole seconds match token timestamp precision.
var Epoch = time.Now().UTC().Truncate(time.Second)

// Clock is a manually advanced clock safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock set to Epoch.
func NewClock() *Clock {
	return &Clock{now: Epoch}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Policy returns a test policy allowing example.com and *.ebay.com, without typing
// delay, with 30 actions per minute and uploads from /tmp.
func Policy() *policyDomain.Policy {
	return &policyDomain.Policy{
		AllowedDomains:      []string{"example.com", "*.ebay.com"},
		TypingDelayMin:      0,
		TypingDelayMax:      0,
		MaxActionsPerMinute: 30,
		SameOriginOnly:      true,
		UploadDir:           "/tmp",
	}
}

// NewEngine builds a policy engine from Policy, optionally adjusted by mutate.
func NewEngine(t *testing.T, mutate func(p *policyDomain.Policy)) *policyService.Engine {
	t.Helper()

	p := Policy()
	if mutate != nil {
		mutate(p)
	}

	engine, err := policyService.NewEngine(p)
	require.NoError(t, err)
	return engine
}

// NewTokenService builds a token service signing with TestSecret on clock's time.
func NewTokenService(t *testing.T, clock *Clock) authService.TokenService {
	t.Helper()

	svc, err := authService.NewTokenService(TestSecret, 10*time.Minute, clock.Now)
	require.NoError(t, err)
	return svc
}

// MintClaims mints and verifies a token for userID on domain, returning its claims.
func MintClaims(
	t *testing.T,
	tokens authService.TokenService,
	userID, domain string,
	ttl time.Duration,
	actions ...authDomain.Action,
) *authDomain.Claims {
	t.Helper()

	if len(actions) == 0 {
		actions = authDomain.AllActions
	}

	minted, err := tokens.Mint(&authDomain.MintTokenInput{
		UserID:  userID,
		Domain:  domain,
		Actions: actions,
		TTL:     ttl,
	})
	require.NoError(t, err)

	claims, err := tokens.Verify(minted.Token)
	require.NoError(t, err)
	return claims
}
