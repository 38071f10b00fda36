package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
	"go.uber.org/fx"

	"github.com/pseudomuto/lockstep/pkg/config"
	"github.com/pseudomuto/lockstep/pkg/engine"
)

type squashParams struct {
	fx.In

	Config *config.Config
}

// squash creates the squash command for combining a range of pending
// migrations into one file.
//
// Example usage:
//
//	lockstep squash \
//	  --from 01J2ZK7Q8B3W9XWY2N5T0VH4RD \
//	  --to 01J2ZKAJW0FYQ27GT9D34NV8MC \
//	  --name initial_schema
func squash(p squashParams) *cli.Command {
	return &cli.Command{
		Name:  "squash",
		Usage: "Combine a range of pending migrations into one",
		Description: `Combine a contiguous, inclusive id range of pending migrations.

Up statements are concatenated in order; down statements in reverse order.
The combined file takes the id of the last migration in the range, so its
position relative to everything outside the range is unchanged. Originals
are preserved under the migrations directory's .squash_backup before they
are removed.

Only pending migrations may be squashed. Rewriting applied history would
register as divergence on every database the originals ran against.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "from",
				Usage:    "first migration id in the range",
				Required: true,
				Config: cli.StringConfig{
					TrimSpace: true,
				},
			},
			&cli.StringFlag{
				Name:     "to",
				Usage:    "last migration id in the range",
				Required: true,
				Config: cli.StringConfig{
					TrimSpace: true,
				},
			},
			&cli.StringFlag{
				Name:     "name",
				Usage:    "name for the combined migration",
				Required: true,
				Config: cli.StringConfig{
					TrimSpace: true,
				},
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runSquash(ctx, cmd, p)
		},
	}
}

func runSquash(ctx context.Context, cmd *cli.Command, p squashParams) error {
	dir, err := loadDir(p.Config)
	if err != nil {
		return err
	}

	sess, err := openSession(ctx, p.Config)
	if err != nil {
		return err
	}
	defer sess.close()

	combined, path, err := sess.newEngine(p.Config).Squash(ctx, p.Config.Dir, dir, engine.SquashOptions{
		FromID: cmd.String("from"),
		ToID:   cmd.String("to"),
		Name:   cmd.String("name"),
	})
	if err != nil {
		return err
	}

	fmt.Printf("Squashed into %s (%d up, %d down statements).\n", path, len(combined.Up), len(combined.Down))
	fmt.Printf("Originals preserved in %s/.squash_backup\n", p.Config.Dir)
	return nil
}
