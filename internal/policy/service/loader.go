package service

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/allisson/agentbroker/internal/config"
	apperrors "github.com/allisson/agentbroker/internal/errors"
	policyDomain "github.com/allisson/agentbroker/internal/policy/domain"
)

// policyFile is the YAML shape of POLICY_FILE. Absent keys keep the env values.
//
//	allowed_domains: [example.com, "*.ebay.com"]
//	typing_delay_ms: {min: 40, max: 160}
//	max_actions_per_minute: 30
//	same_origin_only: true
//	upload_dir: /home/me/listings
type policyFile struct {
	AllowedDomains []string `yaml:"allowed_domains"`
	TypingDelayMS  *struct {
		Min *int `yaml:"min"`
		Max *int `yaml:"max"`
	} `yaml:"typing_delay_ms"`
	MaxActionsPerMinute *int    `yaml:"max_actions_per_minute"`
	SameOriginOnly      *bool   `yaml:"same_origin_only"`
	UploadDir           *string `yaml:"upload_dir"`
}

// LoadPolicy builds the policy from configuration, applies the optional YAML file on
// top, and validates the result.
func LoadPolicy(cfg *config.Config) (*policyDomain.Policy, error) {
	policy := &policyDomain.Policy{
		AllowedDomains:      config.SplitList(cfg.PolicyAllowedDomains),
		TypingDelayMin:      cfg.PolicyTypingDelayMin,
		TypingDelayMax:      cfg.PolicyTypingDelayMax,
		MaxActionsPerMinute: cfg.PolicyMaxActionsPerMinute,
		SameOriginOnly:      cfg.PolicySameOriginOnly,
		UploadDir:           cfg.PolicyUploadDir,
	}

	if cfg.PolicyFile != "" {
		data, err := os.ReadFile(cfg.PolicyFile)
		if err != nil {
			return nil, apperrors.Wrap(policyDomain.ErrInvalidPolicy, fmt.Sprintf("read policy file: %v", err))
		}
		if err := applyPolicyFile(policy, data); err != nil {
			return nil, err
		}
	}

	if err := policy.Validate(); err != nil {
		return nil, apperrors.Wrap(policyDomain.ErrInvalidPolicy, err.Error())
	}

	return policy, nil
}

// applyPolicyFile overlays YAML values onto policy.
func applyPolicyFile(policy *policyDomain.Policy, data []byte) error {
	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return apperrors.Wrap(policyDomain.ErrInvalidPolicy, fmt.Sprintf("parse policy file: %v", err))
	}

	if file.AllowedDomains != nil {
		policy.AllowedDomains = file.AllowedDomains
	}
	if file.TypingDelayMS != nil {
		if file.TypingDelayMS.Min != nil {
			policy.TypingDelayMin = time.Duration(*file.TypingDelayMS.Min) * time.Millisecond
		}
		if file.TypingDelayMS.Max != nil {
			policy.TypingDelayMax = time.Duration(*file.TypingDelayMS.Max) * time.Millisecond
		}
	}
	if file.MaxActionsPerMinute != nil {
		policy.MaxActionsPerMinute = *file.MaxActionsPerMinute
	}
	if file.SameOriginOnly != nil {
		policy.SameOriginOnly = *file.SameOriginOnly
	}
	if file.UploadDir != nil {
		policy.UploadDir = *file.UploadDir
	}

	return nil
}
