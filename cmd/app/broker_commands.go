package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/allisson/agentbroker/cmd/app/commands"
	"github.com/allisson/agentbroker/internal/app"
	"github.com/allisson/agentbroker/internal/config"
	policyService "github.com/allisson/agentbroker/internal/policy/service"
)

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Value:   "text",
		Usage:   "Output format: 'text' or 'json'",
	}
}

func getBrokerCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "create-token-secret",
			Usage: "Generate a random secret for TOKEN_SECRET",
			Flags: []cli.Flag{formatFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				return commands.RunCreateTokenSecret(
					nil,
					container.Logger(),
					commands.DefaultIO().Writer,
					cmd.String("format"),
				)
			},
		},
		{
			Name:  "mint-token",
			Usage: "Mint a capability token for a user, a domain and a set of actions",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "user",
					Aliases:  []string{"u"},
					Required: true,
					Usage:    "User id the token is minted for",
				},
				&cli.StringFlag{
					Name:     "domain",
					Aliases:  []string{"d"},
					Required: true,
					Usage:    "Domain the session may automate (e.g., example.com)",
				},
				&cli.StringSliceFlag{
					Name:    "action",
					Aliases: []string{"a"},
					Value:   []string{"open", "fill", "upload", "click"},
					Usage:   "Permitted action (open, fill, upload, click); repeat for several",
				},
				&cli.DurationFlag{
					Name:    "ttl",
					Aliases: []string{"t"},
					Usage:   "Token lifetime (defaults to TOKEN_TTL_SECONDS)",
				},
				&cli.BoolFlag{
					Name:  "skip-policy",
					Usage: "Mint without checking the domain against the policy",
				},
				formatFlag(),
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				tokenService, err := container.TokenService()
				if err != nil {
					return err
				}

				var engine *policyService.Engine
				if !cmd.Bool("skip-policy") {
					engine, err = container.PolicyEngine()
					if err != nil {
						return err
					}
				}

				ttl := cmd.Duration("ttl")
				if ttl == 0 {
					ttl = cfg.TokenTTL
				}

				return commands.RunMintToken(
					tokenService,
					engine,
					container.Logger(),
					commands.DefaultIO().Writer,
					cmd.String("user"),
					cmd.String("domain"),
					cmd.StringSlice("action"),
					ttl,
					cmd.String("format"),
				)
			},
		},
		{
			Name:  "check-policy",
			Usage: "Check a domain or URL against the automation policy",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "target",
					Aliases:  []string{"t"},
					Required: true,
					Usage:    "Domain (example.com) or URL (https://example.com/sell)",
				},
				formatFlag(),
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				engine, err := container.PolicyEngine()
				if err != nil {
					return err
				}

				return commands.RunCheckPolicy(
					engine,
					container.Logger(),
					commands.DefaultIO().Writer,
					cmd.String("target"),
					cmd.String("format"),
				)
			},
		},
	}
}
