package domain

import (
	"github.com/allisson/agentbroker/internal/errors"
)

// Policy errors.
var (
	// ErrPolicyViolation indicates a domain or navigation outside the policy.
	ErrPolicyViolation = errors.WithCode(errors.Wrap(errors.ErrForbidden, "policy violation"), "POLICY_VIOLATION")

	// ErrInvalidPolicy indicates the configured policy failed validation.
	ErrInvalidPolicy = errors.WithCode(errors.Wrap(errors.ErrMisconfigured, "invalid policy"), "CONFIG_ERROR")
)
