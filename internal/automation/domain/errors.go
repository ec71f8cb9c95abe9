package domain

import (
	"github.com/allisson/agentbroker/internal/errors"
)

// Driver errors. They end a run with a dedicated event instead of ERROR.
var (
	// ErrNeedsLogin indicates the target page requires the user to sign in.
	ErrNeedsLogin = errors.New("page requires login")

	// ErrChallenge indicates the target page shows a captcha or bot challenge.
	ErrChallenge = errors.New("page shows a bot challenge")

	// ErrPageNotOpen indicates an interaction before the open action loaded a page.
	ErrPageNotOpen = errors.WithCode(errors.New("no page is open"), CauseExecution)
)
