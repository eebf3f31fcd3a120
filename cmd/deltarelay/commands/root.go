package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/deltarelay/deltarelay/internal/app"
	"github.com/deltarelay/deltarelay/internal/config"
	"github.com/deltarelay/deltarelay/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	cmd := &cli.Command{
		Name:  "deltarelay",
		Usage: "Normalizes chat-completion backends into one event stream",
		Commands: []*cli.Command{
			startCommand(),
		},
	}

	return cmd.Run(ctx, args)
}

func startCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "Starts the relay server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a TOML config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error), overrides config",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json), overrides config",
			},
		},
		Action: startAction,
	}
}

func startAction(ctx context.Context, cmd *cli.Command) error {
	// Best effort: a missing .env file is fine, API keys may come from the
	// environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level, format, err := logSettings(cfg.Log,
		cmd.String("log-level"), cmd.String("log-format"),
		cmd.IsSet("log-level"), cmd.IsSet("log-format"),
	)
	if err != nil {
		return err
	}

	// Set up observability before creating app
	if err := observability.Instrument(level, format); err != nil {
		return fmt.Errorf("failed to set up observability layer: %w", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	slog.InfoContext(ctx, "starting")

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("app failed to start: %w", err)
	}

	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}

// logSettings resolves the effective log level and format: the values from
// the config file or environment, overridden by flags the user passed
// explicitly on the command line.
func logSettings(cfg config.Log, flagLevel, flagFormat string, levelSet, formatSet bool) (slog.Level, string, error) {
	levelText := cfg.Level
	if levelSet {
		levelText = flagLevel
	}
	format := cfg.Format
	if formatSet {
		format = flagFormat
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(levelText)); err != nil {
		return 0, "", fmt.Errorf("invalid log level %q: %w", levelText, err)
	}

	return level, format, nil
}
