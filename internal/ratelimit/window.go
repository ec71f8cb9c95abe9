// Package ratelimit implements the per-session action window.
//
// Each session owns one Window. The window counts actions since its start and
// restarts lazily: the first action after the span has elapsed opens a new window,
// so no background reset is needed. The caller serializes access (the session lock).
package ratelimit

import (
	"fmt"
	"time"

	"github.com/allisson/agentbroker/internal/errors"
)

// Span is the length of an action window.
const Span = 60 * time.Second

// ErrRateLimited indicates the session exhausted its action budget for the current window.
var ErrRateLimited = errors.WithCode(errors.Wrap(errors.ErrTooManyRequests, "rate limited"), "RATE_LIMITED")

// Window is a {start, count} action counter. The zero value is an empty window.
type Window struct {
	Start time.Time
	Count int
}

// Allow records one action at now if fewer than limit actions were recorded in the
// current window, and returns ErrRateLimited otherwise. A rejected action is not counted.
func (w *Window) Allow(now time.Time, limit int) error {
	if w.Start.IsZero() || now.Sub(w.Start) >= Span {
		w.Start = now
		w.Count = 0
	}

	if w.Count >= limit {
		retryIn := Span - now.Sub(w.Start)
		return errors.Wrap(ErrRateLimited, fmt.Sprintf("%d actions per minute, retry in %s", limit, retryIn.Round(time.Second)))
	}

	w.Count++
	return nil
}

