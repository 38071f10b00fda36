package engine

import (
	"context"

	"github.com/pkg/errors"

	"github.com/pseudomuto/lockstep/pkg/migration"
)

// ErrNothingApplied is returned by Rollback when no migration is in applied
// state.
var ErrNothingApplied = errors.New("no applied migrations to roll back")

type (
	// RollbackOptions control a rollback run. Steps defaults to 1.
	RollbackOptions struct {
		Steps int
	}

	// RollbackResult reports which migrations were reverted, most recent
	// first.
	RollbackResult struct {
		RolledBack []string
	}
)

// Rollback reverts the most recently applied migrations, newest first.
//
// The walk order is strict reverse apply order (applied_at descending, id
// breaking ties), which can differ from reverse id order when migrations
// were applied out of sequence. Each target must have its file on disk and
// a non-empty down section; a missing file aborts before anything runs, and
// an empty down section yields a *migration.IrreversibleError. Like apply,
// each migration's down statements and ledger write commit as one unit when
// the migration is transactional.
func (e *Engine) Rollback(ctx context.Context, dir *migration.Dir, opts RollbackOptions) (*RollbackResult, error) {
	steps := opts.Steps
	if steps <= 0 {
		steps = 1
	}

	result := &RollbackResult{}

	err := e.withLock(ctx, func(ctx context.Context) error {
		if err := e.ledger.EnsureSchema(ctx); err != nil {
			return err
		}

		applied, err := e.ledger.AppliedDesc(ctx)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			return ErrNothingApplied
		}
		if steps > len(applied) {
			steps = len(applied)
		}

		var targets []*migration.Migration
		for _, entry := range applied[:steps] {
			m, ok := dir.Get(entry.MigrationID)
			if !ok {
				return errors.Errorf("cannot roll back %s: migration file not found", entry.MigrationID)
			}
			if m.Checksum != entry.Checksum {
				return &DivergedError{Reports: []DivergenceReport{{
					MigrationID:     entry.MigrationID,
					Name:            entry.Name,
					StoredChecksum:  entry.Checksum,
					CurrentChecksum: m.Checksum,
				}}}
			}
			if m.Irreversible() {
				return &migration.IrreversibleError{ID: m.ID}
			}
			targets = append(targets, m)
		}

		if e.hooks.BeforeRollback != nil {
			if err := e.hooks.BeforeRollback(ctx, targets); err != nil {
				return errors.Wrap(err, "before-rollback hook failed")
			}
		}

		for _, m := range targets {
			e.log.Info("rolling back migration", "id", m.ID, "name", m.Name, "transactional", m.Transactional)

			if err := e.rollbackOne(ctx, m); err != nil {
				return err
			}
			result.RolledBack = append(result.RolledBack, m.ID)
		}

		if e.hooks.AfterRollback != nil {
			if err := e.hooks.AfterRollback(ctx, targets); err != nil {
				return errors.Wrap(err, "after-rollback hook failed")
			}
		}
		return nil
	})

	return result, err
}

// rollbackOne executes a single migration's down statements under the same
// transaction policy apply used for its up statements.
func (e *Engine) rollbackOne(ctx context.Context, m *migration.Migration) error {
	if !m.Transactional {
		if idx, err := execAll(ctx, e.conn, m.Down); err != nil {
			stmtErr := &StatementError{MigrationID: m.ID, Index: idx, SQL: m.Down[idx-1].SQL, Err: err}
			if recErr := e.ledger.RecordFailed(ctx, m, stmtErr); recErr != nil {
				e.log.Error("failed to record rollback failure", "id", m.ID, "error", recErr)
			}
			return stmtErr
		}
		return e.ledger.RecordRolledBack(ctx, e.conn, m)
	}

	tx, err := e.conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to begin transaction for %s", m.ID)
	}

	if idx, err := execAll(ctx, tx, m.Down); err != nil {
		_ = tx.Rollback()
		return &StatementError{MigrationID: m.ID, Index: idx, SQL: m.Down[idx-1].SQL, Err: err}
	}
	if err := e.ledger.RecordRolledBack(ctx, tx, m); err != nil {
		_ = tx.Rollback()
		return err
	}

	return errors.Wrapf(tx.Commit(), "failed to commit rollback of %s", m.ID)
}
