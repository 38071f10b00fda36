package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
	"go.uber.org/fx"

	"github.com/pseudomuto/lockstep/pkg/config"
	"github.com/pseudomuto/lockstep/pkg/engine"
	"github.com/pseudomuto/lockstep/pkg/migration"
)

type applyParams struct {
	fx.In

	Config *config.Config
}

// apply creates the apply command for running pending migrations.
//
// Example usage:
//
//	# Apply everything pending
//	lockstep apply
//
//	# Apply only the next migration
//	lockstep apply --limit 1
//
//	# Rehearse without persisting anything
//	lockstep apply --dry-run
func apply(p applyParams) *cli.Command {
	return &cli.Command{
		Name:  "apply",
		Usage: "Apply pending migrations to the database",
		Description: `Apply pending migrations in ascending id order.

Already-applied migrations are skipped and rolled-back migrations run again.
A migration stuck in failed state halts the run until an operator clears it
with 'lockstep clear'. Before anything executes, applied history is checked
against the files on disk; any drift aborts the run.

With --dry-run, transactional migrations are executed inside a transaction
that is always rolled back, and non-transactional migrations are listed
without executing.`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "apply at most this many migrations (0 = all)",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "show what would be executed without applying changes",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runApply(ctx, cmd, p)
		},
	}
}

func runApply(ctx context.Context, cmd *cli.Command, p applyParams) error {
	dir, err := loadDir(p.Config)
	if err != nil {
		return err
	}

	sess, err := openSession(ctx, p.Config)
	if err != nil {
		return err
	}
	defer sess.close()

	eng := sess.newEngine(p.Config)

	if cmd.Bool("dry-run") {
		return reportDryRun(ctx, eng, dir)
	}

	result, err := eng.Apply(ctx, dir, engine.ApplyOptions{Limit: cmd.Int("limit")})
	for _, id := range result.Applied {
		fmt.Printf("  applied %s\n", id)
	}

	switch {
	case err != nil && result.SkippedLocked:
		fmt.Println("Another runner holds the migration lock; nothing was applied.")
		return err
	case err != nil:
		return err
	case len(result.Applied) == 0:
		fmt.Println("All migrations are up to date.")
	default:
		fmt.Printf("Applied %d migration(s).\n", len(result.Applied))
	}
	return nil
}

func reportDryRun(ctx context.Context, eng *engine.Engine, dir *migration.Dir) error {
	preview, err := eng.DryRun(ctx, dir)

	fmt.Println("Dry run: no changes were persisted")
	fmt.Println()
	for _, s := range preview.Statements {
		marker := "listed"
		if s.Executed {
			marker = "ok"
		}
		fmt.Printf("  [%s] %s #%d: %s\n", marker, s.MigrationID, s.Index, truncate(s.SQL, 80))
	}
	for _, w := range preview.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}

	if err != nil {
		return err
	}

	if len(preview.Statements) == 0 {
		fmt.Println("All migrations are up to date.")
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
