// Package service evaluates the automation policy: domain allowlist, same-origin
// navigation and humanized pacing.
package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/gobwas/glob"

	apperrors "github.com/allisson/agentbroker/internal/errors"
	policyDomain "github.com/allisson/agentbroker/internal/policy/domain"
)

// Engine is a read-only evaluator over a validated Policy. Safe for concurrent use.
type Engine struct {
	policy   policyDomain.Policy
	matchers []glob.Glob
}

// NewEngine validates the policy and compiles its allowlist patterns.
func NewEngine(policy *policyDomain.Policy) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, apperrors.Wrap(policyDomain.ErrInvalidPolicy, err.Error())
	}

	matchers := make([]glob.Glob, 0, len(policy.AllowedDomains))
	for _, pattern := range policy.AllowedDomains {
		g, err := glob.Compile(strings.ToLower(pattern), '.')
		if err != nil {
			return nil, apperrors.Wrap(policyDomain.ErrInvalidPolicy, fmt.Sprintf("pattern %q: %v", pattern, err))
		}
		matchers = append(matchers, g)
	}

	p := *policy
	p.AllowedDomains = append([]string(nil), policy.AllowedDomains...)
	if p.UploadDir != "" {
		p.UploadDir = filepath.Clean(p.UploadDir)
	}

	return &Engine{policy: p, matchers: matchers}, nil
}

// Policy returns a copy of the evaluated policy.
func (e *Engine) Policy() policyDomain.Policy {
	p := e.policy
	p.AllowedDomains = append([]string(nil), e.policy.AllowedDomains...)
	return p
}

// MaxActionsPerMinute returns the per-session action budget.
func (e *Engine) MaxActionsPerMinute() int {
	return e.policy.MaxActionsPerMinute
}

// CheckDomain returns ErrPolicyViolation unless domain matches the allowlist.
func (e *Engine) CheckDomain(domain string) error {
	host := normalizeHost(domain)
	if host == "" {
		return apperrors.Wrap(policyDomain.ErrPolicyViolation, "empty domain")
	}

	for _, m := range e.matchers {
		if m.Match(host) {
			return nil
		}
	}

	return apperrors.Wrap(policyDomain.ErrPolicyViolation, fmt.Sprintf("domain %q is not allowed", host))
}

// CheckURL returns ErrPolicyViolation unless rawURL is an http(s) URL on an allowed domain.
func (e *Engine) CheckURL(rawURL string) error {
	u, err := parseHTTPURL(rawURL)
	if err != nil {
		return apperrors.Wrap(policyDomain.ErrPolicyViolation, err.Error())
	}
	return e.CheckDomain(u.Hostname())
}

// CheckNavigation validates a navigation from the session's origin URL to target.
// The target must be allowed; when SameOriginOnly is set it must also share the
// origin's scheme, host and port.
func (e *Engine) CheckNavigation(originURL, targetURL string) error {
	target, err := parseHTTPURL(targetURL)
	if err != nil {
		return apperrors.Wrap(policyDomain.ErrPolicyViolation, err.Error())
	}
	if err := e.CheckDomain(target.Hostname()); err != nil {
		return err
	}

	if !e.policy.SameOriginOnly {
		return nil
	}

	origin, err := parseHTTPURL(originURL)
	if err != nil {
		return apperrors.Wrap(policyDomain.ErrPolicyViolation, err.Error())
	}
	if !SameOrigin(origin, target) {
		return apperrors.Wrap(
			policyDomain.ErrPolicyViolation,
			fmt.Sprintf("navigation to %s leaves origin %s", Origin(target), Origin(origin)),
		)
	}

	return nil
}

// ResolveUpload returns the cleaned absolute form of path if it names a file inside
// the upload directory. Relative paths are taken relative to that directory. Symlinks
// that exist are followed before the check.
func (e *Engine) ResolveUpload(path string) (string, error) {
	root := e.policy.UploadDir
	if root == "" {
		return "", apperrors.Wrap(policyDomain.ErrPolicyViolation, "file uploads are disabled")
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)

	if !within(root, path) {
		return "", apperrors.Wrap(policyDomain.ErrPolicyViolation, fmt.Sprintf("%s is outside the upload directory", path))
	}

	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		realRoot, rootErr := filepath.EvalSymlinks(root)
		if rootErr != nil {
			realRoot = root
		}
		if !within(realRoot, resolved) {
			return "", apperrors.Wrap(policyDomain.ErrPolicyViolation, fmt.Sprintf("%s links outside the upload directory", path))
		}
	}

	return path, nil
}

// within reports whether path is strictly below root.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// TypingDelay draws a delay uniformly from the configured [min, max] range.
func (e *Engine) TypingDelay() time.Duration {
	lo, hi := e.policy.TypingDelayMin, e.policy.TypingDelayMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int64N(int64(hi-lo)+1))
}

// Pause sleeps for one TypingDelay or until ctx is done.
func (e *Engine) Pause(ctx context.Context) error {
	d := e.TypingDelay()
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Origin renders the scheme://host[:port] origin of u.
func Origin(u *url.URL) string {
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

// SameOrigin compares scheme, host and effective port.
func SameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) &&
		strings.EqualFold(a.Hostname(), b.Hostname()) &&
		effectivePort(a) == effectivePort(b)
}

func effectivePort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	if strings.EqualFold(u.Scheme, "https") {
		return "443"
	}
	return "80"
}

func parseHTTPURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("url %q has no host", raw)
	}
	return u, nil
}

// normalizeHost lowercases a host and strips any port and trailing dot.
func normalizeHost(host string) string {
	host = strings.TrimSpace(strings.ToLower(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(host, ".")
}
