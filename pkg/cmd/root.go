// Package cmd wires the lockstep CLI: flags, command registration, and the
// shared database session commands run on.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"
	"go.uber.org/fx"

	"github.com/pseudomuto/lockstep/pkg/config"
)

type (
	Params struct {
		fx.In

		Args       []string
		Commands   []*cli.Command `group:"commands"`
		Config     *config.Config
		Ctx        context.Context
		Lifecycle  fx.Lifecycle
		Shutdowner fx.Shutdowner
		Version    *Version
	}

	Version struct {
		Version   string
		Commit    string
		Timestamp string
	}
)

// Run creates and executes the main lockstep CLI application. It registers
// every provided command, applies the global flags, and drives the run
// through the fx lifecycle so the process exit code reflects the command
// outcome.
//
// Global Flags:
//   - --dir, -d: Project directory (defaults to current directory)
//   - --env, -e: Named environment profile from lockstep.yaml
//   - --verbose, -v: Enable debug logging
//
// Example usage:
//
//	# Apply everything pending against the default environment
//	lockstep apply
//
//	# Roll back the last two migrations on staging
//	lockstep --env staging rollback --steps 2
func Run(p Params) {
	cli.VersionPrinter = func(cmd *cli.Command) {
		fmt.Fprintln(cmd.Writer, "Version:", p.Version.Version)
		fmt.Fprintln(cmd.Writer, "Commit:", p.Version.Commit)
		fmt.Fprintln(cmd.Writer, "Date:", p.Version.Timestamp)
	}

	app := &cli.Command{
		Name:  "lockstep",
		Usage: "A tool for running PostgreSQL schema migrations",
		Description: `lockstep applies versioned SQL migration files to a PostgreSQL database,
tracking what ran in a ledger table, detecting drift between applied history
and the files on disk, and serializing concurrent runs with an advisory lock.`,
		Version: p.Version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "dir",
				Aliases:     []string{"d"},
				Usage:       "the project directory",
				Value:       ".",
				DefaultText: "Current directory",
				Config: cli.StringConfig{
					TrimSpace: true,
				},
			},
			&cli.StringFlag{
				Name:    "env",
				Aliases: []string{"e"},
				Usage:   "named environment profile from lockstep.yaml",
				Sources: cli.EnvVars("LOCKSTEP_ENV"),
				Config: cli.StringConfig{
					TrimSpace: true,
				},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if dir := cmd.String("dir"); dir != "." {
				if err := os.Chdir(dir); err != nil {
					return ctx, err
				}
			}

			// The config module already applied LOCKSTEP_ENV; the flag wins
			// when both are given.
			if env := cmd.String("env"); env != "" {
				if err := p.Config.ApplyProfile(env); err != nil {
					return ctx, err
				}
			}

			slog.SetDefault(newLogger(p.Config.LogFormat, cmd.Bool("verbose")))
			return ctx, nil
		},
		Commands: p.Commands,
	}

	p.Lifecycle.Append(fx.StartHook(func() {
		if err := app.Run(p.Ctx, p.Args); err != nil {
			slog.Error("Error running command", "err", err)
			_ = p.Shutdowner.Shutdown(fx.ExitCode(1))
		}

		_ = p.Shutdowner.Shutdown(fx.ExitCode(0))
	}))
}

func newLogger(format string, verbose bool) *slog.Logger {
	opts := &slog.HandlerOptions{}
	if verbose {
		opts.Level = slog.LevelDebug
	}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
