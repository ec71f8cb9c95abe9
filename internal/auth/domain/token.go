package domain

import (
	"time"
)

// Claims are the verified contents of a capability token. Immutable once minted.
type Claims struct {
	// TokenID is the unique token id (jti). It binds at most one session.
	TokenID string
	// UserID is the subject (sub) the token was minted for.
	UserID    string
	Domain    string
	Actions   []Action
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// MintTokenInput contains the parameters for minting a capability token.
type MintTokenInput struct {
	UserID  string
	Domain  string
	Actions []Action
	TTL     time.Duration
}

// MintTokenOutput is a signed token together with the claims it carries.
type MintTokenOutput struct {
	Token  string
	Claims *Claims
}
