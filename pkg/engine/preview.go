package engine

import (
	"context"

	"github.com/pkg/errors"

	"github.com/pseudomuto/lockstep/pkg/migration"
)

type (
	// PreviewStatement is one statement a real apply would run.
	PreviewStatement struct {
		MigrationID string
		Index       int
		SQL         string
		Executed    bool
	}

	// PreviewResult reports what a dry run exercised. Warnings name the
	// migrations whose statements could only be listed, not executed.
	PreviewResult struct {
		Statements []PreviewStatement
		Warnings   []string
	}
)

// DryRun rehearses the pending migrations without persisting anything.
//
// All transactional migrations execute inside a single transaction that is
// always rolled back, so SQL errors surface exactly as a real apply would
// hit them and later migrations see the objects earlier ones create.
// Non-transactional migrations cannot be rehearsed safely; their statements
// are listed unexecuted with a warning. No advisory lock is taken and the
// ledger is never written.
//
// The result is always usable: on error it carries whatever was rehearsed
// before the failure.
func (e *Engine) DryRun(ctx context.Context, dir *migration.Dir) (*PreviewResult, error) {
	result := &PreviewResult{}

	if err := e.ledger.EnsureSchema(ctx); err != nil {
		return result, err
	}

	entries, err := e.ledger.LoadAll(ctx)
	if err != nil {
		return result, err
	}
	if err := checkDivergence(dir, entries); err != nil {
		return result, err
	}

	pending, err := pendingInOrder(dir, entries)
	if err != nil {
		return result, err
	}
	if len(pending) == 0 {
		return result, nil
	}

	tx, err := e.conn.BeginTx(ctx, nil)
	if err != nil {
		return result, errors.Wrap(err, "failed to begin rehearsal transaction")
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range pending {
		if !m.Transactional {
			result.Warnings = append(result.Warnings,
				"migration "+m.ID+" runs outside a transaction; statements listed but not rehearsed")
			for i, s := range m.Up {
				result.Statements = append(result.Statements, PreviewStatement{
					MigrationID: m.ID,
					Index:       i + 1,
					SQL:         s.SQL,
				})
			}
			continue
		}

		for i, s := range m.Up {
			if _, err := tx.ExecContext(ctx, s.SQL); err != nil {
				return result, &StatementError{MigrationID: m.ID, Index: i + 1, SQL: s.SQL, Err: err}
			}
			result.Statements = append(result.Statements, PreviewStatement{
				MigrationID: m.ID,
				Index:       i + 1,
				SQL:         s.SQL,
				Executed:    true,
			})
		}
	}

	return result, nil
}
