// Package domain defines the automation security policy: which domains may be
// automated, how navigation is constrained, and the pacing of interactions.
package domain

import (
	"path/filepath"
	"time"

	validation "github.com/jellydator/validation"
)

// Policy is the process-wide automation policy. It is loaded once at startup and
// never mutated afterwards, so it is shared by all sessions without locking.
type Policy struct {
	// AllowedDomains holds exact hosts or globs such as "*.example.com".
	AllowedDomains []string
	// TypingDelayMin and TypingDelayMax bound the humanized delay between interactions.
	TypingDelayMin time.Duration
	TypingDelayMax time.Duration
	// MaxActionsPerMinute is the per-session budget of actions in a trailing 60s window.
	MaxActionsPerMinute int
	// SameOriginOnly rejects navigation that leaves the session's origin.
	SameOriginOnly bool
	// UploadDir is the absolute directory form uploads must come from. Empty disables uploads.
	UploadDir string
}

// Validate checks the policy invariants.
func (p *Policy) Validate() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.AllowedDomains, validation.Required),
		validation.Field(&p.TypingDelayMin, validation.Min(time.Duration(0))),
		validation.Field(&p.TypingDelayMax,
			validation.Min(time.Duration(0)),
			validation.By(func(value interface{}) error {
				if value.(time.Duration) < p.TypingDelayMin {
					return validation.NewError("validation_delay_range", "must be no less than the minimum typing delay")
				}
				return nil
			}),
		),
		validation.Field(&p.MaxActionsPerMinute, validation.Required, validation.Min(1)),
		validation.Field(&p.UploadDir, validation.By(func(value interface{}) error {
			if dir := value.(string); dir != "" && !filepath.IsAbs(dir) {
				return validation.NewError("validation_upload_dir", "must be an absolute path")
			}
			return nil
		})),
	)
}
