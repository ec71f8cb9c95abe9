// Package service provides technical services for capability token operations.
//
// This package is the trust root of the broker: every session is created from
// claims returned by TokenService.Verify.
package service

import (
	authDomain "github.com/allisson/agentbroker/internal/auth/domain"
)

// TokenService defines operations for minting and verifying capability tokens.
// Implementations must be safe for concurrent use and must not keep per-token state.
type TokenService interface {
	// Mint signs a new capability token bound to a user, a domain and a set of actions.
	// Returns ErrMissingSecret when no signing secret is configured.
	Mint(input *authDomain.MintTokenInput) (*authDomain.MintTokenOutput, error)

	// Verify checks the token signature, algorithm, age and claim shapes and returns
	// the claims it carries. Any failure is reported as ErrInvalidToken.
	Verify(token string) (*authDomain.Claims, error)
}
