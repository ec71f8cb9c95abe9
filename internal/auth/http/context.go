// Package http provides HTTP middleware and utilities for caller identity.
package http

import (
	"context"
)

// userIDKey is a context key type for storing the caller's user id.
type userIDKey struct{}

// WithUserID stores the caller's user id in the context.
// This is typically called by the identity middleware after reading the bearer identity.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// GetUserID retrieves the caller's user id from the context.
// Returns ("", false) if no identity was set.
func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey{}).(string)
	return userID, ok && userID != ""
}
