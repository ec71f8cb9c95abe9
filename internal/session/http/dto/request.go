// Package dto provides data transfer objects for session HTTP request and response handling.
package dto

import (
	"strings"

	validation "github.com/jellydator/validation"
	"github.com/jellydator/validation/is"

	authDomain "github.com/allisson/agentbroker/internal/auth/domain"
	sessionDomain "github.com/allisson/agentbroker/internal/session/domain"
	customValidation "github.com/allisson/agentbroker/internal/validation"
)

// maxFormEntries bounds the number of fields or images in one form payload.
const maxFormEntries = 64

// DeviceRequest describes the caller's device.
type DeviceRequest struct {
	Name      string `json:"name"`
	Platform  string `json:"platform"`
	UserAgent string `json:"userAgent"`
}

// FormFieldRequest is one form input value.
type FormFieldRequest struct {
	Selector string `json:"selector"`
	Value    string `json:"value"`
}

// FormImageRequest is one file to attach to a file input.
type FormImageRequest struct {
	Selector string `json:"selector"`
	Path     string `json:"path"`
}

// FormRequest is the optional form payload applied by the executor.
type FormRequest struct {
	Fields          []FormFieldRequest `json:"fields"`
	Images          []FormImageRequest `json:"images"`
	SubmitSelector  string             `json:"submitSelector"`
	SuccessSelector string             `json:"successSelector"`
}

// StartSessionRequest contains the parameters for opening a brokered session.
type StartSessionRequest struct {
	Domain       string         `json:"domain"`
	Actions      []string       `json:"actions"`
	RequestedURL string         `json:"requestedUrl"`
	Device       *DeviceRequest `json:"device"`
	Form         *FormRequest   `json:"form"`
}

// Validate checks if the start session request is valid.
func (r *StartSessionRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Domain,
			validation.Required,
			customValidation.NoWhitespace,
			is.Domain,
		),
		validation.Field(&r.Actions,
			validation.Required,
			validation.Each(validation.In(actionValues()...)),
		),
		validation.Field(&r.RequestedURL, customValidation.HTTPURL),
		validation.Field(&r.Form),
	)
}

// Validate checks the form payload.
func (f FormRequest) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Fields, validation.Length(0, maxFormEntries)),
		validation.Field(&f.Images, validation.Length(0, maxFormEntries)),
	)
}

// Validate requires a selector.
func (f FormFieldRequest) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Selector, validation.Required, customValidation.NotBlank),
	)
}

// Validate requires a selector and a file path.
func (f FormImageRequest) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Selector, validation.Required, customValidation.NotBlank),
		validation.Field(&f.Path, validation.Required, customValidation.NotBlank),
	)
}

// ToDomain converts the request into the use case input for userID.
func (r *StartSessionRequest) ToDomain(userID string) (*sessionDomain.StartInput, error) {
	actions, err := authDomain.ParseActions(r.Actions)
	if err != nil {
		return nil, err
	}

	input := &sessionDomain.StartInput{
		UserID:       userID,
		Domain:       strings.ToLower(r.Domain),
		Actions:      actions,
		RequestedURL: r.RequestedURL,
	}

	if r.Device != nil {
		input.Device = sessionDomain.Device{
			Name:      r.Device.Name,
			Platform:  r.Device.Platform,
			UserAgent: r.Device.UserAgent,
		}
	}

	if r.Form != nil {
		form := sessionDomain.Form{
			SubmitSelector:  r.Form.SubmitSelector,
			SuccessSelector: r.Form.SuccessSelector,
		}
		for _, field := range r.Form.Fields {
			form.Fields = append(form.Fields, sessionDomain.FormField{Selector: field.Selector, Value: field.Value})
		}
		for _, image := range r.Form.Images {
			form.Images = append(form.Images, sessionDomain.FormImage{Selector: image.Selector, Path: image.Path})
		}
		input.Form = form
	}

	return input, nil
}

func actionValues() []interface{} {
	values := make([]interface{}, 0, len(authDomain.AllActions))
	for _, action := range authDomain.AllActions {
		values = append(values, string(action))
	}
	return values
}
