package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"
	"go.uber.org/fx"

	"github.com/pseudomuto/lockstep/pkg/config"
	"github.com/pseudomuto/lockstep/pkg/seed"
)

type seedParams struct {
	fx.In

	Config *config.Config
}

// seedCmd creates the seed command for loading fixture data.
//
// Example usage:
//
//	lockstep seed
func seedCmd(p seedParams) *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Run the seed SQL files against the database",
		Description: `Run every .sql file in the seed directory in lexical order, each in
its own transaction. Seeds carry no history; write them to be idempotent so
reseeding is harmless.`,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runSeed(ctx, p)
		},
	}
}

func runSeed(ctx context.Context, p seedParams) error {
	if _, err := os.Stat(p.Config.SeedDir); os.IsNotExist(err) {
		fmt.Printf("No seed directory found at %s\n", p.Config.SeedDir)
		return nil
	}

	sess, err := openSession(ctx, p.Config)
	if err != nil {
		return err
	}
	defer sess.close()

	ran, err := seed.Run(ctx, sess.conn, os.DirFS(p.Config.SeedDir), slog.Default())
	for _, file := range ran {
		fmt.Printf("  seeded %s\n", file)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Ran %d seed file(s).\n", len(ran))
	return nil
}
