package engine

import (
	"context"

	"github.com/pkg/errors"

	"github.com/pseudomuto/lockstep/pkg/ledger"
	"github.com/pseudomuto/lockstep/pkg/migration"
)

// SquashOptions names the inclusive id range to combine and the name of the
// resulting migration.
type SquashOptions struct {
	FromID string
	ToID   string
	Name   string
}

// Squash combines a contiguous range of pending migrations into one file.
//
// Only pending (or rolled back and not re-applied) migrations may be
// squashed: an applied or failed entry inside the range aborts the run,
// since rewriting applied history would register as divergence everywhere
// the old files were run. Originals are preserved under the migrations
// directory's .squash_backup before removal. The advisory lock is held
// throughout so a concurrent apply cannot race the file rewrite.
func (e *Engine) Squash(ctx context.Context, root string, dir *migration.Dir, opts SquashOptions) (*migration.Migration, string, error) {
	var (
		combined *migration.Migration
		path     string
	)

	err := e.withLock(ctx, func(ctx context.Context) error {
		if err := e.ledger.EnsureSchema(ctx); err != nil {
			return err
		}

		migs, err := dir.Range(opts.FromID, opts.ToID)
		if err != nil {
			return err
		}

		entries, err := e.ledger.LoadAll(ctx)
		if err != nil {
			return err
		}
		byID := entriesByID(entries)

		for _, m := range migs {
			entry, ok := byID[m.ID]
			if !ok || entry.Status == ledger.StatusRolledBack {
				continue
			}
			return errors.Errorf("cannot squash %s: migration is %s", m.ID, entry.Status)
		}

		combined, path, err = migration.SquashFiles(root, migs, opts.Name)
		return err
	})

	return combined, path, err
}
