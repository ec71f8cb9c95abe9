package dto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authDomain "github.com/allisson/agentbroker/internal/auth/domain"
)

func TestStartSessionRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     StartSessionRequest
		wantErr bool
	}{
		{
			name: "minimal",
			req:  StartSessionRequest{Domain: "example.com", Actions: []string{"open"}},
		},
		{
			name: "with form",
			req: StartSessionRequest{
				Domain:       "shop.ebay.com",
				Actions:      []string{"open", "fill", "upload", "click"},
				RequestedURL: "https://shop.ebay.com/sell",
				Form: &FormRequest{
					Fields: []FormFieldRequest{{Selector: "#title", Value: "Lamp"}},
					Images: []FormImageRequest{{Selector: "#photo", Path: "/tmp/lamp.jpg"}},
				},
			},
		},
		{name: "blank domain", req: StartSessionRequest{Actions: []string{"open"}}, wantErr: true},
		{name: "domain with scheme", req: StartSessionRequest{Domain: "https://example.com", Actions: []string{"open"}}, wantErr: true},
		{name: "padded domain", req: StartSessionRequest{Domain: " example.com", Actions: []string{"open"}}, wantErr: true},
		{name: "no actions", req: StartSessionRequest{Domain: "example.com"}, wantErr: true},
		{name: "unknown action", req: StartSessionRequest{Domain: "example.com", Actions: []string{"buy"}}, wantErr: true},
		{
			name: "image without path",
			req: StartSessionRequest{
				Domain:  "example.com",
				Actions: []string{"upload"},
				Form:    &FormRequest{Images: []FormImageRequest{{Selector: "#photo"}}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestStartSessionRequest_ToDomain(t *testing.T) {
	req := StartSessionRequest{
		Domain:  "Example.com",
		Actions: []string{"fill", "open"},
		Device:  &DeviceRequest{Name: "laptop", Platform: "darwin", UserAgent: "ext/1.0"},
		Form: &FormRequest{
			Fields:         []FormFieldRequest{{Selector: "#title", Value: "Lamp"}},
			SubmitSelector: "#submit",
		},
	}

	input, err := req.ToDomain("user-1")
	require.NoError(t, err)

	assert.Equal(t, "user-1", input.UserID)
	assert.Equal(t, "example.com", input.Domain)
	assert.Equal(t, []authDomain.Action{authDomain.FillAction, authDomain.OpenAction}, input.Actions)
	assert.Equal(t, "laptop", input.Device.Name)
	require.Len(t, input.Form.Fields, 1)
	assert.Equal(t, "#submit", input.Form.SubmitSelector)

	_, err = (&StartSessionRequest{Domain: "example.com", Actions: []string{"open", "open"}}).ToDomain("u")
	assert.Error(t, err)
}
