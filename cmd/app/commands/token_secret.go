package commands

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
)

// tokenSecretSize is the number of random bytes in a generated signing secret.
const tokenSecretSize = 32

// RunCreateTokenSecret generates a random secret suitable for TOKEN_SECRET.
// The signing key is derived from it with HKDF, so any high-entropy string works;
// this command is a convenience for operators.
func RunCreateTokenSecret(random io.Reader, logger *slog.Logger, writer io.Writer, format string) error {
	if err := validateFormat(format); err != nil {
		return err
	}
	if random == nil {
		random = rand.Reader
	}

	secret := make([]byte, tokenSecretSize)
	if _, err := io.ReadFull(random, secret); err != nil {
		return fmt.Errorf("failed to generate token secret: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(secret)
	clear(secret)

	logger.Info("token secret generated", slog.Int("bytes", tokenSecretSize))

	if format == "json" {
		return writeJSON(writer, map[string]any{"token_secret": encoded})
	}

	_, err := fmt.Fprintf(writer, "TOKEN_SECRET=\"%s\"\n", encoded)
	return err
}
