// Package dto provides the event stream frames.
package dto

import (
	"time"

	automationDomain "github.com/allisson/agentbroker/internal/automation/domain"
)

// OpenResponse is the data of the first frame of a stream.
type OpenResponse struct {
	SessionID string `json:"sessionId"`
}

// EventResponse is the data of one automation event frame.
type EventResponse struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// EndResponse is the data of the terminal frame.
type EndResponse struct {
	Reason string `json:"reason"`
}

// MapEventToResponse converts an automation event into a stream frame.
func MapEventToResponse(event automationDomain.Event) EventResponse {
	return EventResponse{
		ID:        event.ID,
		Type:      string(event.Type),
		Timestamp: event.Timestamp,
		Data:      event.Data,
	}
}
