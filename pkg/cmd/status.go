package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"
	"go.uber.org/fx"

	"github.com/pseudomuto/lockstep/pkg/config"
)

type statusParams struct {
	fx.In

	Config *config.Config
}

// status creates the status command, which lists every migration with its
// current state, and the head command, which prints only the most recently
// applied one.
//
// Example usage:
//
//	lockstep status
//	lockstep head
func status(p statusParams) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "List every migration and its current state",
		Description: `List migrations in ascending id order with their ledger state.

States are pending (file with no history), applied, failed (halted a prior
run and needs 'lockstep clear'), and rolled_back (will run again on apply).
Ledger entries whose files have been deleted are listed too so orphaned
history is visible.`,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runStatus(ctx, p)
		},
	}
}

func head(p statusParams) *cli.Command {
	return &cli.Command{
		Name:  "head",
		Usage: "Print the most recently applied migration",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runHead(ctx, p)
		},
	}
}

func runStatus(ctx context.Context, p statusParams) error {
	dir, err := loadDir(p.Config)
	if err != nil {
		return err
	}

	sess, err := openSession(ctx, p.Config)
	if err != nil {
		return err
	}
	defer sess.close()

	statuses, err := sess.newEngine(p.Config).Status(ctx, dir)
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		fmt.Printf("No migrations found in %s\n", p.Config.Dir)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATE")
	for _, s := range statuses {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, s.Name, s.State)
	}
	return w.Flush()
}

func runHead(ctx context.Context, p statusParams) error {
	sess, err := openSession(ctx, p.Config)
	if err != nil {
		return err
	}
	defer sess.close()

	entry, err := sess.newEngine(p.Config).Head(ctx)
	if err != nil {
		return err
	}
	if entry == nil {
		fmt.Println("No migrations are applied.")
		return nil
	}

	when := "unknown time"
	if entry.AppliedAt != nil {
		when = entry.AppliedAt.Format("2006-01-02 15:04:05 MST")
	}
	fmt.Printf("%s %s (applied %s by %s)\n", entry.MigrationID, entry.Name, when, entry.AppliedBy)
	return nil
}
