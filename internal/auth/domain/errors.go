package domain

import (
	"github.com/allisson/agentbroker/internal/errors"
)

// Capability token and identity errors.
var (
	// ErrInvalidToken indicates a token failed signature, algorithm, age or shape checks.
	ErrInvalidToken = errors.WithCode(errors.Wrap(errors.ErrUnauthorized, "invalid token"), "INVALID_TOKEN")

	// ErrMissingSecret indicates no signing secret is configured.
	ErrMissingSecret = errors.WithCode(
		errors.Wrap(errors.ErrMisconfigured, "token signing secret is not configured"),
		"CONFIG_ERROR",
	)

	// ErrUnauthenticated indicates the caller did not present a bearer identity.
	ErrUnauthenticated = errors.WithCode(errors.Wrap(errors.ErrUnauthorized, "unauthenticated"), "UNAUTHENTICATED")

	// ErrInvalidTTL indicates a non-positive token lifetime was requested.
	ErrInvalidTTL = errors.Wrap(errors.ErrInvalidInput, "token ttl must be positive")
)
