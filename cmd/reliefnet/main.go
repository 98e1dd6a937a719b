package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/reliefnet/internal"
	pkgconfig "github.com/starford/reliefnet/pkg/config"
)

var version = "dev"

type runner func(ctx context.Context, opts ...internal.Option) error

// serve loads the config file, if there is one, over the defaults and
// hands it to run.
func serve(run runner) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		configPath := cmd.String("config")

		cfg := internal.NewDefaultConfig()
		read, err := pkgconfig.LoadOptional(configPath, cfg)
		if err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}

		opts := []internal.Option{
			internal.WithConfig(cfg),
			internal.WithVersion(version),
		}
		if read {
			opts = append(opts, internal.WithConfigPath(configPath))
		}

		if err := run(ctx, opts...); err != nil {
			return fmt.Errorf("app run error: %w", err)
		}
		return nil
	}
}

func status(ctx context.Context, cmd *cli.Command) error {
	client := internal.NewStatusClient(cmd.String("hub"), cmd.String("token"))
	return internal.Status(ctx, client, os.Stdout)
}

func main() {
	cmd := &cli.Command{
		Name:    "reliefnet",
		Usage:   "Offline disaster-relief mesh: hub relay, relief nodes and operator console",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("RELIEFNET_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "hub",
				Usage:  "Run the central relay and volunteer directory",
				Action: serve(internal.RunHub),
			},
			{
				Name:   "node",
				Usage:  "Run a relief node with its local portal",
				Action: serve(internal.RunNode),
			},
			{
				Name:   "console",
				Usage:  "Run the operator console attached to a hub",
				Action: serve(internal.RunConsole),
			},
			{
				Name:   "mcp",
				Usage:  "Serve the operator tools to an MCP client over stdio",
				Action: serve(internal.RunMCP),
			},
			{
				Name:  "status",
				Usage: "Print the hub's nodes and volunteers",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "hub",
						Usage:   "Hub HTTP base URL",
						Value:   "http://localhost:8080",
						Sources: cli.EnvVars("RELIEFNET_HUB_URL"),
					},
					&cli.StringFlag{
						Name:    "token",
						Usage:   "Bearer token when hub auth is enabled",
						Sources: cli.EnvVars("RELIEFNET_TOKEN"),
					},
				},
				Action: status,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
