package cmd

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"
	"go.uber.org/fx"

	"github.com/pseudomuto/lockstep/pkg/config"
)

type verifyParams struct {
	fx.In

	Config *config.Config
}

// verify creates the verify command for detecting drift between applied
// history and the migration files on disk.
//
// Example usage:
//
//	lockstep verify
func verify(p verifyParams) *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "Check applied migrations against their files",
		Description: `Compare every applied ledger entry against the current files.

A migration diverges when its file's checksum no longer matches the one
recorded at apply time, or when the file is gone entirely. Checksums ignore
comments and whitespace, so reformatting a file is not drift; changing,
adding, removing, or reordering statements is.

Exits non-zero when any divergence is found.`,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runVerify(ctx, p)
		},
	}
}

func runVerify(ctx context.Context, p verifyParams) error {
	dir, err := loadDir(p.Config)
	if err != nil {
		return err
	}

	sess, err := openSession(ctx, p.Config)
	if err != nil {
		return err
	}
	defer sess.close()

	reports, err := sess.newEngine(p.Config).Verify(ctx, dir)
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		fmt.Println("Applied history matches the migration files.")
		return nil
	}

	for _, r := range reports {
		if r.MissingFile {
			fmt.Printf("  %s %s: applied but the file is missing\n", r.MigrationID, r.Name)
			continue
		}
		fmt.Printf("  %s %s: file changed since apply (recorded %s, now %s)\n",
			r.MigrationID, r.Name, r.StoredChecksum, r.CurrentChecksum)
	}

	return errors.Errorf("%d migration(s) diverged", len(reports))
}
