package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	policyService "github.com/allisson/agentbroker/internal/policy/service"
)

// ErrTargetDenied is returned after output is written when the policy rejects the target,
// so the process exits non-zero.
var ErrTargetDenied = errors.New("target denied by policy")

// RunCheckPolicy reports whether a domain or an http(s) URL passes the automation policy.
// Targets containing "://" are checked as URLs, anything else as a bare domain.
func RunCheckPolicy(
	engine *policyService.Engine,
	logger *slog.Logger,
	writer io.Writer,
	target string,
	format string,
) error {
	if err := validateFormat(format); err != nil {
		return err
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return fmt.Errorf("target is required")
	}

	var checkErr error
	if strings.Contains(target, "://") {
		checkErr = engine.CheckURL(target)
	} else {
		checkErr = engine.CheckDomain(target)
	}
	allowed := checkErr == nil

	logger.Info("policy checked", slog.String("target", target), slog.Bool("allowed", allowed))

	if format == "json" {
		result := map[string]any{
			"target":  target,
			"allowed": allowed,
		}
		if checkErr != nil {
			result["reason"] = checkErr.Error()
		}
		if err := writeJSON(writer, result); err != nil {
			return err
		}
	} else {
		var err error
		if allowed {
			_, err = fmt.Fprintf(writer, "ALLOWED %s\n", target)
		} else {
			_, err = fmt.Fprintf(writer, "DENIED %s: %v\n", target, checkErr)
		}
		if err != nil {
			return err
		}
	}

	if !allowed {
		return ErrTargetDenied
	}
	return nil
}
