package engine

import (
	"context"

	"github.com/pseudomuto/lockstep/pkg/ledger"
	"github.com/pseudomuto/lockstep/pkg/migration"
)

type (
	// DivergenceReport describes one applied migration whose file no longer
	// matches what was recorded at apply time.
	DivergenceReport struct {
		MigrationID     string
		Name            string
		StoredChecksum  string
		CurrentChecksum string
		MissingFile     bool
	}

	// MigrationStatus is one line of the status listing: every migration
	// known from files or history, with its current state.
	MigrationStatus struct {
		ID    string
		Name  string
		State string
	}
)

// StatePending marks a migration with a file but no applied history.
const StatePending = "pending"

// Verify compares every applied ledger entry against the current files and
// returns one report per divergence. It takes no lock and mutates nothing;
// an empty result means history and files agree.
func (e *Engine) Verify(ctx context.Context, dir *migration.Dir) ([]DivergenceReport, error) {
	if err := e.ledger.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	entries, err := e.ledger.LoadAll(ctx)
	if err != nil {
		return nil, err
	}

	return divergences(dir, entries), nil
}

// Status lists every migration in ascending id order with its current
// state. Files without history are pending; history without a file is still
// listed under its recorded state so operators can see orphaned entries.
func (e *Engine) Status(ctx context.Context, dir *migration.Dir) ([]MigrationStatus, error) {
	if err := e.ledger.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	entries, err := e.ledger.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	byID := entriesByID(entries)

	var statuses []MigrationStatus
	for _, m := range dir.Migrations {
		state := StatePending
		if entry, ok := byID[m.ID]; ok {
			state = string(entry.Status)
			delete(byID, m.ID)
		}
		statuses = append(statuses, MigrationStatus{ID: m.ID, Name: m.Name, State: state})
	}

	// Entries whose files are gone, e.g. deleted by hand. Ledger order is
	// ascending, so re-walk entries rather than ranging the map.
	for _, entry := range entries {
		if _, orphaned := byID[entry.MigrationID]; orphaned {
			statuses = append(statuses, MigrationStatus{
				ID:    entry.MigrationID,
				Name:  entry.Name,
				State: string(entry.Status),
			})
		}
	}

	return statuses, nil
}

// Head returns the most recently applied entry, or nil when nothing is
// applied.
func (e *Engine) Head(ctx context.Context) (*ledger.Entry, error) {
	if err := e.ledger.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return e.ledger.Head(ctx)
}

// ClearFailed removes the sticky failed entry for id after an operator has
// reconciled the database by hand. It runs under the advisory lock so it
// cannot race a concurrent apply.
func (e *Engine) ClearFailed(ctx context.Context, id string) error {
	return e.withLock(ctx, func(ctx context.Context) error {
		if err := e.ledger.EnsureSchema(ctx); err != nil {
			return err
		}
		return e.ledger.ClearFailed(ctx, id)
	})
}

// checkDivergence wraps divergences into an error for run preflights.
func checkDivergence(dir *migration.Dir, entries []*ledger.Entry) error {
	if reports := divergences(dir, entries); len(reports) > 0 {
		return &DivergedError{Reports: reports}
	}
	return nil
}

// divergences reports every applied entry whose file is missing or whose
// current checksum differs from the one stamped at apply time. Pending and
// rolled-back entries are free to change; only applied history is immutable.
func divergences(dir *migration.Dir, entries []*ledger.Entry) []DivergenceReport {
	var reports []DivergenceReport
	for _, entry := range entries {
		if entry.Status != ledger.StatusApplied {
			continue
		}

		m, ok := dir.Get(entry.MigrationID)
		switch {
		case !ok:
			reports = append(reports, DivergenceReport{
				MigrationID:    entry.MigrationID,
				Name:           entry.Name,
				StoredChecksum: entry.Checksum,
				MissingFile:    true,
			})
		case m.Checksum != entry.Checksum:
			reports = append(reports, DivergenceReport{
				MigrationID:     entry.MigrationID,
				Name:            entry.Name,
				StoredChecksum:  entry.Checksum,
				CurrentChecksum: m.Checksum,
			})
		}
	}
	return reports
}
