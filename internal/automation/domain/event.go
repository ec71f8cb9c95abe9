// Package domain defines the automation event contract and the browser driver boundary.
package domain

import (
	"time"
)

// EventType is a phase reported by the automation executor. The set is closed.
type EventType string

const (
	// EventOpening is emitted before navigating to the requested URL.
	EventOpening EventType = "OPENING"
	// EventOpenedForm is emitted once the form page is loaded.
	EventOpenedForm EventType = "OPENED_FORM"
	// EventFilledFields is emitted after all form fields were typed.
	EventFilledFields EventType = "FILLED_FIELDS"
	// EventUploadedImages is emitted after files were attached.
	EventUploadedImages EventType = "UPLOADED_IMAGES"
	// EventSubmitted is emitted after the submit control was clicked.
	EventSubmitted EventType = "SUBMITTED"
	// EventPublished is emitted when the run completed successfully.
	EventPublished EventType = "PUBLISHED"
	// EventNeedsLogin stops the run: the page asks for credentials.
	EventNeedsLogin EventType = "NEEDS_LOGIN"
	// EventChallengeDetected stops the run: the page shows a bot challenge.
	EventChallengeDetected EventType = "CHALLENGE_DETECTED"
	// EventError stops the run with a structured cause.
	EventError EventType = "ERROR"
)

// Stops reports whether the event ends the run.
func (t EventType) Stops() bool {
	switch t {
	case EventPublished, EventNeedsLogin, EventChallengeDetected, EventError:
		return true
	}
	return false
}

// Event is one append-only automation progress record.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Data      map[string]any
}

// Error codes carried in ERROR event data.
const (
	CauseExecution       = "EXECUTION_ERROR"
	CausePolicyViolation = "POLICY_VIOLATION"
	CauseRateLimited     = "RATE_LIMITED"
	CauseCancelled       = "CANCELLED"
)
