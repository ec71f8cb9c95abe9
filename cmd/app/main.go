// Package main provides the entry point for the agent session broker CLI.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cmd := &cli.Command{
		Name:     "agentbroker",
		Usage:    "Broker consented, policy-bounded browser automation sessions",
		Version:  version,
		Commands: append(getSystemCommands(version), getBrokerCommands()...),
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.Any("error", err))
		os.Exit(1)
	}
}
