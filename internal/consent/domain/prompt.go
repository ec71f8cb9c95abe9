// Package domain defines the messages exchanged with the local consent UI.
package domain

import (
	"time"

	"github.com/google/uuid"

	authDomain "github.com/allisson/agentbroker/internal/auth/domain"
	sessionDomain "github.com/allisson/agentbroker/internal/session/domain"
)

// NoticeType discriminates notices pushed to the consent UI.
type NoticeType string

const (
	// NoticePrompt asks the user to allow or deny a session.
	NoticePrompt NoticeType = "prompt"
	// NoticeResolved tells the UI a session no longer needs a decision.
	NoticeResolved NoticeType = "resolved"
)

// Prompt is the consent request shown to the user. Fields and Uploads list what the
// run will type into and which local files it will send, so both are approved together.
type Prompt struct {
	SessionID uuid.UUID
	Domain    string
	URL       string
	Actions   []authDomain.Action
	Fields    []string
	Uploads   []sessionDomain.FormImage
	Device    sessionDomain.Device
	ExpiresAt time.Time
}

// Notice is one message pushed to a consent UI subscriber.
type Notice struct {
	Type         NoticeType
	SessionID    uuid.UUID
	Prompt       *Prompt
	ConsentState sessionDomain.ConsentState
}

// Decision is the user's answer to a prompt. Dismissed takes precedence over Allow.
type Decision struct {
	SessionID uuid.UUID
	Allow     bool
	Dismissed bool
}

// NewPromptNotice builds a prompt notice from a session summary.
func NewPromptNotice(summary *sessionDomain.Summary) Notice {
	fields := make([]string, 0, len(summary.Form.Fields))
	for _, field := range summary.Form.Fields {
		fields = append(fields, field.Selector)
	}

	return Notice{
		Type:      NoticePrompt,
		SessionID: summary.ID,
		Prompt: &Prompt{
			SessionID: summary.ID,
			Domain:    summary.Domain,
			URL:       summary.RequestedURL,
			Actions:   summary.Actions,
			Fields:    fields,
			Uploads:   append([]sessionDomain.FormImage(nil), summary.Form.Images...),
			Device:    summary.Device,
			ExpiresAt: summary.ExpiresAt,
		},
		ConsentState: summary.ConsentState,
	}
}

// NewResolvedNotice builds a resolution notice from a decided session summary.
func NewResolvedNotice(summary *sessionDomain.Summary) Notice {
	return Notice{
		Type:         NoticeResolved,
		SessionID:    summary.ID,
		ConsentState: summary.ConsentState,
	}
}
