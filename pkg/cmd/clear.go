package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"
	"go.uber.org/fx"

	"github.com/pseudomuto/lockstep/pkg/config"
)

type clearParams struct {
	fx.In

	Config *config.Config
}

// clear creates the clear command, the operator acknowledgment for a failed
// migration.
//
// Example usage:
//
//	lockstep clear 01J2ZK7Q8B3W9XWY2N5T0VH4RD
func clear(p clearParams) *cli.Command {
	return &cli.Command{
		Name:      "clear",
		Usage:     "Clear a failed migration so it can run again",
		ArgsUsage: "<migration-id>",
		Description: `Remove the failed ledger entry for a migration.

A non-transactional migration that fails partway leaves the database in a
state only an operator can judge. Reconcile the database by hand first, then
clear the entry; the migration becomes pending and the next apply runs it
from the top. The audit log keeps a record of both the failure and the
clear.`,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runClear(ctx, cmd, p)
		},
	}
}

func runClear(ctx context.Context, cmd *cli.Command, p clearParams) error {
	id := strings.TrimSpace(cmd.Args().First())
	if id == "" {
		return errors.New("a migration id is required")
	}

	sess, err := openSession(ctx, p.Config)
	if err != nil {
		return err
	}
	defer sess.close()

	if err := sess.newEngine(p.Config).ClearFailed(ctx, id); err != nil {
		return err
	}

	fmt.Printf("Cleared %s; it will run again on the next apply.\n", id)
	return nil
}
