package engine

import (
	"context"

	"github.com/pkg/errors"

	"github.com/pseudomuto/lockstep/pkg/ledger"
	"github.com/pseudomuto/lockstep/pkg/lock"
	"github.com/pseudomuto/lockstep/pkg/migration"
)

type (
	// ApplyOptions control an apply run. A zero Limit applies everything
	// pending.
	ApplyOptions struct {
		Limit int
	}

	// ApplyResult reports what an apply run did. SkippedLocked is set when
	// the run never started because another runner held the advisory lock
	// for the whole wait window.
	ApplyResult struct {
		Applied       []string
		SkippedLocked bool
	}
)

// Apply runs every pending migration in ascending id order, stopping at
// Limit when set.
//
// Applied migrations are skipped, rolled-back migrations run again, and a
// failed entry halts the run with a *FailedEntryError before anything else
// executes past it. Before any statement runs, applied history is checked
// against the files on disk; drift aborts with a *DivergedError. Each
// migration commits (or records failure) before the next starts, so a halt
// partway through a batch keeps everything already applied.
func (e *Engine) Apply(ctx context.Context, dir *migration.Dir, opts ApplyOptions) (*ApplyResult, error) {
	result := &ApplyResult{}

	err := e.withLock(ctx, func(ctx context.Context) error {
		if err := e.ledger.EnsureSchema(ctx); err != nil {
			return err
		}

		entries, err := e.ledger.LoadAll(ctx)
		if err != nil {
			return err
		}
		if err := checkDivergence(dir, entries); err != nil {
			return err
		}

		pending, err := pendingInOrder(dir, entries)
		if err != nil {
			return err
		}
		if opts.Limit > 0 && len(pending) > opts.Limit {
			pending = pending[:opts.Limit]
		}
		if len(pending) == 0 {
			e.log.Info("nothing to apply")
			return nil
		}

		if e.hooks.BeforeApply != nil {
			if err := e.hooks.BeforeApply(ctx, pending); err != nil {
				return errors.Wrap(err, "before-apply hook failed")
			}
		}

		for _, m := range pending {
			e.log.Info("applying migration", "id", m.ID, "name", m.Name, "transactional", m.Transactional)

			if err := e.applyOne(ctx, m); err != nil {
				return err
			}
			result.Applied = append(result.Applied, m.ID)
		}

		if e.hooks.AfterApply != nil {
			if err := e.hooks.AfterApply(ctx, pending); err != nil {
				return errors.Wrap(err, "after-apply hook failed")
			}
		}
		return nil
	})

	var timeout *lock.TimeoutError
	if errors.As(err, &timeout) {
		result.SkippedLocked = true
	}

	return result, err
}

// applyOne executes a single migration under its transaction policy.
//
// Transactional migrations run inside one transaction together with their
// ledger write; any failure rolls the whole unit back and leaves no history
// row, so the migration stays pending. Non-transactional migrations execute
// statement by statement on the bare session; a failure durably records a
// sticky failed entry naming the statement that broke.
func (e *Engine) applyOne(ctx context.Context, m *migration.Migration) error {
	if !m.Transactional {
		if idx, err := execAll(ctx, e.conn, m.Up); err != nil {
			stmtErr := &StatementError{MigrationID: m.ID, Index: idx, SQL: m.Up[idx-1].SQL, Err: err}
			if recErr := e.ledger.RecordFailed(ctx, m, stmtErr); recErr != nil {
				e.log.Error("failed to record migration failure", "id", m.ID, "error", recErr)
			}
			return stmtErr
		}
		return e.ledger.RecordApplied(ctx, e.conn, m)
	}

	tx, err := e.conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to begin transaction for %s", m.ID)
	}

	if idx, err := execAll(ctx, tx, m.Up); err != nil {
		_ = tx.Rollback()
		return &StatementError{MigrationID: m.ID, Index: idx, SQL: m.Up[idx-1].SQL, Err: err}
	}
	if err := e.ledger.RecordApplied(ctx, tx, m); err != nil {
		_ = tx.Rollback()
		return err
	}

	return errors.Wrapf(tx.Commit(), "failed to commit %s", m.ID)
}

// execAll runs stmts in order, returning the 1-based index of the statement
// that failed.
func execAll(ctx context.Context, run ledger.Execer, stmts []migration.Statement) (int, error) {
	for i, s := range stmts {
		if _, err := run.ExecContext(ctx, s.SQL); err != nil {
			return i + 1, err
		}
	}
	return 0, nil
}

// pendingInOrder reconciles files against history and returns the
// migrations still to run, in ascending id order. A failed entry in the walk
// halts reconciliation.
func pendingInOrder(dir *migration.Dir, entries []*ledger.Entry) ([]*migration.Migration, error) {
	byID := entriesByID(entries)

	var pending []*migration.Migration
	for _, m := range dir.Migrations {
		entry, ok := byID[m.ID]
		switch {
		case !ok, entry != nil && entry.Status == ledger.StatusRolledBack:
			pending = append(pending, m)
		case entry.Status == ledger.StatusFailed:
			return nil, &FailedEntryError{MigrationID: m.ID}
		}
	}
	return pending, nil
}
