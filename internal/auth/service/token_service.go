package service

import (
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/hkdf"

	authDomain "github.com/allisson/agentbroker/internal/auth/domain"
	apperrors "github.com/allisson/agentbroker/internal/errors"
)

// signingKeyInfo is the HKDF info label for capability token keys.
const signingKeyInfo = "capability-token-signing-v1"

// capabilityClaims is the JWT payload of a capability token.
type capabilityClaims struct {
	Domain  string   `json:"domain"`
	Actions []string `json:"actions"`
	jwt.RegisteredClaims
}

// tokenService implements TokenService with HS256-signed JWTs.
type tokenService struct {
	signingKey []byte
	maxAge     time.Duration
	now        func() time.Time
}

// NewTokenService creates a TokenService signing with a key derived from secret.
// maxAge bounds the accepted token age; now may be nil to use the wall clock.
// An empty secret yields a service whose operations fail with ErrMissingSecret.
func NewTokenService(secret string, maxAge time.Duration, now func() time.Time) (TokenService, error) {
	if now == nil {
		now = time.Now
	}

	t := &tokenService{maxAge: maxAge, now: now}
	if secret == "" {
		return t, nil
	}

	key, err := deriveSigningKey([]byte(secret))
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to derive token signing key")
	}
	t.signingKey = key

	return t, nil
}

// deriveSigningKey uses HKDF-SHA256 to derive a 32-byte HMAC key from the configured secret.
func deriveSigningKey(secret []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, nil, []byte(signingKeyInfo))

	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}

	return key, nil
}

// Mint signs a new capability token. Timestamps are truncated to whole seconds so the
// returned claims equal what Verify reports for the same token.
func (t *tokenService) Mint(input *authDomain.MintTokenInput) (*authDomain.MintTokenOutput, error) {
	if t.signingKey == nil {
		return nil, authDomain.ErrMissingSecret
	}
	if input.TTL <= 0 {
		return nil, authDomain.ErrInvalidTTL
	}

	now := t.now().UTC().Truncate(time.Second)
	claims := &authDomain.Claims{
		TokenID:   ulid.Make().String(),
		UserID:    input.UserID,
		Domain:    input.Domain,
		Actions:   append([]authDomain.Action(nil), input.Actions...),
		IssuedAt:  now,
		ExpiresAt: now.Add(input.TTL).Truncate(time.Second),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &capabilityClaims{
		Domain:  claims.Domain,
		Actions: authDomain.ActionStrings(claims.Actions),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        claims.TokenID,
			Subject:   claims.UserID,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	})

	signed, err := token.SignedString(t.signingKey)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to sign capability token")
	}

	return &authDomain.MintTokenOutput{Token: signed, Claims: claims}, nil
}

// Verify validates a capability token and returns its claims.
func (t *tokenService) Verify(token string) (*authDomain.Claims, error) {
	if t.signingKey == nil {
		return nil, authDomain.ErrMissingSecret
	}

	parsed, err := jwt.ParseWithClaims(
		token,
		&capabilityClaims{},
		func(*jwt.Token) (interface{}, error) { return t.signingKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(t.now),
		jwt.WithStrictDecoding(),
	)
	if err != nil {
		return nil, apperrors.Wrap(authDomain.ErrInvalidToken, err.Error())
	}

	c, ok := parsed.Claims.(*capabilityClaims)
	if !ok || !parsed.Valid {
		return nil, authDomain.ErrInvalidToken
	}

	if err := t.checkShape(c); err != nil {
		return nil, apperrors.Wrap(authDomain.ErrInvalidToken, err.Error())
	}

	actions, err := authDomain.ParseActions(c.Actions)
	if err != nil {
		return nil, apperrors.Wrap(authDomain.ErrInvalidToken, err.Error())
	}

	return &authDomain.Claims{
		TokenID:   c.ID,
		UserID:    c.Subject,
		Domain:    c.Domain,
		Actions:   actions,
		IssuedAt:  c.IssuedAt.UTC(),
		ExpiresAt: c.ExpiresAt.UTC(),
	}, nil
}

// checkShape enforces the required claims and the maximum token age.
func (t *tokenService) checkShape(c *capabilityClaims) error {
	if _, err := ulid.ParseStrict(c.ID); err != nil {
		return fmt.Errorf("jti: %w", err)
	}
	if c.Subject == "" {
		return fmt.Errorf("sub is required")
	}
	if c.Domain == "" {
		return fmt.Errorf("domain is required")
	}
	if c.ExpiresAt == nil {
		return fmt.Errorf("exp is required")
	}
	if c.IssuedAt == nil {
		return fmt.Errorf("iat is required")
	}
	if t.maxAge > 0 && t.now().Sub(c.IssuedAt.Time) > t.maxAge {
		return fmt.Errorf("token is older than %s", t.maxAge)
	}
	if !c.ExpiresAt.After(c.IssuedAt.Time) {
		return fmt.Errorf("exp must be after iat")
	}
	return nil
}
