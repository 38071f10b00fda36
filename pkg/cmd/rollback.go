package cmd

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"
	"go.uber.org/fx"

	"github.com/pseudomuto/lockstep/pkg/config"
	"github.com/pseudomuto/lockstep/pkg/engine"
)

type rollbackParams struct {
	fx.In

	Config *config.Config
}

// rollback creates the rollback command for reverting applied migrations.
//
// Example usage:
//
//	# Revert the most recently applied migration
//	lockstep rollback
//
//	# Revert the last three
//	lockstep rollback --steps 3
func rollback(p rollbackParams) *cli.Command {
	return &cli.Command{
		Name:  "rollback",
		Usage: "Revert the most recently applied migrations",
		Description: `Revert applied migrations in reverse apply order, newest first.

Each target must still have its migration file on disk with a non-empty down
section, and the file must match the checksum recorded when it was applied.
Reverted migrations become pending again and will run on the next apply.`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "steps",
				Usage: "number of migrations to revert",
				Value: 1,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runRollback(ctx, cmd, p)
		},
	}
}

func runRollback(ctx context.Context, cmd *cli.Command, p rollbackParams) error {
	dir, err := loadDir(p.Config)
	if err != nil {
		return err
	}

	sess, err := openSession(ctx, p.Config)
	if err != nil {
		return err
	}
	defer sess.close()

	result, err := sess.newEngine(p.Config).Rollback(ctx, dir, engine.RollbackOptions{Steps: cmd.Int("steps")})
	for _, id := range result.RolledBack {
		fmt.Printf("  rolled back %s\n", id)
	}

	if errors.Is(err, engine.ErrNothingApplied) {
		fmt.Println("Nothing is applied; there is nothing to roll back.")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("Rolled back %d migration(s).\n", len(result.RolledBack))
	return nil
}
