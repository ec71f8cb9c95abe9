// Package dto provides data transfer objects for the consent UI channel.
package dto

import (
	"time"

	"github.com/google/uuid"
	validation "github.com/jellydator/validation"
	"github.com/jellydator/validation/is"

	authDomain "github.com/allisson/agentbroker/internal/auth/domain"
	consentDomain "github.com/allisson/agentbroker/internal/consent/domain"
	customValidation "github.com/allisson/agentbroker/internal/validation"
)

// DecisionRequest is a consent decision sent by the UI.
type DecisionRequest struct {
	SessionID string `json:"sessionId"`
	Allow     bool   `json:"allow"`
	Dismissed bool   `json:"dismissed"`
}

// Validate checks if the decision request is valid.
func (r *DecisionRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.SessionID, validation.Required, customValidation.NoWhitespace, is.UUID),
	)
}

// ToDomain converts the request into a consent decision.
func (r *DecisionRequest) ToDomain() (consentDomain.Decision, error) {
	id, err := uuid.Parse(r.SessionID)
	if err != nil {
		return consentDomain.Decision{}, err
	}
	return consentDomain.Decision{SessionID: id, Allow: r.Allow, Dismissed: r.Dismissed}, nil
}

// DecisionResponse reports whether a decision changed the session.
type DecisionResponse struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Applied   bool   `json:"applied"`
}

// NewDecisionResponse builds the acknowledgement for a decision.
func NewDecisionResponse(decision consentDomain.Decision, applied bool) DecisionResponse {
	return DecisionResponse{
		Type:      "ack",
		SessionID: decision.SessionID.String(),
		Applied:   applied,
	}
}

// DeviceResponse describes the device the session was requested from.
type DeviceResponse struct {
	Name      string `json:"name,omitempty"`
	Platform  string `json:"platform,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// UploadResponse is one local file the run will attach.
type UploadResponse struct {
	Selector string `json:"selector"`
	Path     string `json:"path"`
}

// NoticeResponse is the wire form of a notice pushed to the UI.
type NoticeResponse struct {
	Type         string           `json:"type"`
	SessionID    string           `json:"sessionId"`
	Domain       string           `json:"domain,omitempty"`
	URL          string           `json:"url,omitempty"`
	Actions      []string         `json:"actions,omitempty"`
	Fields       []string         `json:"fields,omitempty"`
	Uploads      []UploadResponse `json:"uploads,omitempty"`
	Device       *DeviceResponse  `json:"device,omitempty"`
	ExpiresAt    *time.Time       `json:"expiresAt,omitempty"`
	ConsentState string           `json:"consentState,omitempty"`
}

// MapNoticeToResponse converts a notice to its wire form.
func MapNoticeToResponse(notice consentDomain.Notice) NoticeResponse {
	response := NoticeResponse{
		Type:         string(notice.Type),
		SessionID:    notice.SessionID.String(),
		ConsentState: string(notice.ConsentState),
	}

	if p := notice.Prompt; p != nil {
		expiresAt := p.ExpiresAt
		response.Domain = p.Domain
		response.URL = p.URL
		response.Actions = authDomain.ActionStrings(p.Actions)
		if len(p.Fields) > 0 {
			response.Fields = p.Fields
		}
		for _, upload := range p.Uploads {
			response.Uploads = append(response.Uploads, UploadResponse{Selector: upload.Selector, Path: upload.Path})
		}
		response.ExpiresAt = &expiresAt
		if p.Device.Name != "" || p.Device.Platform != "" || p.Device.UserAgent != "" {
			response.Device = &DeviceResponse{
				Name:      p.Device.Name,
				Platform:  p.Device.Platform,
				UserAgent: p.Device.UserAgent,
			}
		}
	}

	return response
}
