package commands

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	authDomain "github.com/allisson/agentbroker/internal/auth/domain"
	authService "github.com/allisson/agentbroker/internal/auth/service"
	policyService "github.com/allisson/agentbroker/internal/policy/service"
)

// RunMintToken signs a capability token for local testing and operator use.
// When engine is non-nil the domain is checked against the policy before minting,
// so a token that could never open a session is refused up front.
func RunMintToken(
	tokenService authService.TokenService,
	engine *policyService.Engine,
	logger *slog.Logger,
	writer io.Writer,
	userID string,
	domain string,
	rawActions []string,
	ttl time.Duration,
	format string,
) error {
	if err := validateFormat(format); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user is required")
	}
	if strings.TrimSpace(domain) == "" {
		return fmt.Errorf("domain is required")
	}

	actions, err := authDomain.ParseActions(rawActions)
	if err != nil {
		return fmt.Errorf("invalid actions: %w", err)
	}

	if engine != nil {
		if err := engine.CheckDomain(domain); err != nil {
			return fmt.Errorf("domain rejected by policy: %w", err)
		}
	}

	output, err := tokenService.Mint(&authDomain.MintTokenInput{
		UserID:  userID,
		Domain:  domain,
		Actions: actions,
		TTL:     ttl,
	})
	if err != nil {
		return fmt.Errorf("failed to mint token: %w", err)
	}

	logger.Info("capability token minted",
		slog.String("token_id", output.Claims.TokenID),
		slog.String("user_id", output.Claims.UserID),
		slog.String("domain", output.Claims.Domain),
		slog.Time("expires_at", output.Claims.ExpiresAt),
	)

	if format == "json" {
		return writeJSON(writer, map[string]any{
			"token":      output.Token,
			"token_id":   output.Claims.TokenID,
			"user_id":    output.Claims.UserID,
			"domain":     output.Claims.Domain,
			"actions":    authDomain.ActionStrings(output.Claims.Actions),
			"expires_at": output.Claims.ExpiresAt,
		})
	}

	_, err = fmt.Fprintf(writer,
		"Token: %s\nToken ID: %s\nUser: %s\nDomain: %s\nActions: %s\nExpires At: %s\n",
		output.Token,
		output.Claims.TokenID,
		output.Claims.UserID,
		output.Claims.Domain,
		strings.Join(authDomain.ActionStrings(output.Claims.Actions), ","),
		output.Claims.ExpiresAt.Format(time.RFC3339),
	)
	return err
}
