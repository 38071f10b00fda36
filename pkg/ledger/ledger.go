// Package ledger reads and writes the persistent migration history.
//
// Two tables back it: lockstep_migrations holds at most one row per migration
// id with its current status (the source of truth for "what happened"), and
// lockstep_migrations_log is an append-only audit trail recording every
// action with actor identity and timestamp. The audit trail is never mutated.
package ledger

import (
	"context"
	"database/sql"
	"os/user"
	"time"

	"github.com/pkg/errors"

	"github.com/pseudomuto/lockstep/pkg/migration"
)

// Status values a migration row can hold. A row is created on the first
// attempt and transitions between these; at most one row exists per id.
const (
	// StatusApplied means the migration's up statements completed and were
	// recorded. It blocks re-application until rolled back.
	StatusApplied Status = "applied"

	// StatusFailed means a non-transactional migration failed partway. It is
	// sticky: the engine refuses to touch the migration again until an
	// operator reconciles the database and clears the entry.
	StatusFailed Status = "failed"

	// StatusRolledBack means the migration was applied and later reverted.
	// The migration is eligible for re-application.
	StatusRolledBack Status = "rolled_back"
)

// Audit actions recorded in the append-only log.
const (
	actionUp     = "UP"
	actionDown   = "DOWN"
	actionFailed = "FAILED"
	actionClear  = "CLEAR"
)

type (
	// Status is the terminal state recorded for a migration attempt.
	Status string

	// Entry is one row of the history table.
	Entry struct {
		MigrationID  string
		Name         string
		Checksum     string
		Status       Status
		AppliedAt    *time.Time
		RolledBackAt *time.Time
		AppliedBy    string
	}

	// DB is the database surface the ledger reads and writes through.
	// *sql.DB, *sql.Conn, and *sql.Tx all satisfy it.
	DB interface {
		ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
		QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	}

	// Execer is the minimal write surface. Status writes that must share a
	// transaction with migration statements take an explicit Execer so the
	// caller decides whether it's the pinned connection or an open *sql.Tx.
	Execer interface {
		ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	}

	// Ledger provides access to the migration history for a single database.
	Ledger struct {
		db    DB
		actor string
	}
)

// New returns a Ledger over db. Writes are attributed to actor; pass the
// empty string to attribute them to the current OS user (falling back to
// "system" when that can't be resolved).
func New(db DB, actor string) *Ledger {
	if actor == "" {
		actor = currentActor()
	}

	return &Ledger{db: db, actor: actor}
}

// EnsureSchema creates the history and audit tables if they don't exist.
// Safe to call on every run.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS lockstep_migrations (
			migration_id   VARCHAR(64) PRIMARY KEY,
			name           VARCHAR(255) NOT NULL,
			checksum       VARCHAR(80) NOT NULL,
			status         VARCHAR(16) NOT NULL,
			applied_at     TIMESTAMPTZ,
			rolled_back_at TIMESTAMPTZ,
			applied_by     VARCHAR(255)
		);
		CREATE TABLE IF NOT EXISTS lockstep_migrations_log (
			id           BIGSERIAL PRIMARY KEY,
			migration_id VARCHAR(64) NOT NULL,
			name         VARCHAR(255) NOT NULL,
			action       VARCHAR(16) NOT NULL,
			performed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			performed_by VARCHAR(255),
			checksum     VARCHAR(80),
			note         TEXT
		);`

	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to ensure ledger schema")
	}
	return nil
}

// LoadAll returns every history row ordered by ascending migration id.
func (l *Ledger) LoadAll(ctx context.Context) ([]*Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT migration_id, name, checksum, status, applied_at, rolled_back_at, applied_by
		FROM lockstep_migrations
		ORDER BY migration_id ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load ledger entries")
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var (
			e         Entry
			appliedBy sql.NullString
			status    string
		)
		if err := rows.Scan(&e.MigrationID, &e.Name, &e.Checksum, &status, &e.AppliedAt, &e.RolledBackAt, &appliedBy); err != nil {
			return nil, errors.Wrap(err, "failed to scan ledger entry")
		}
		e.Status = Status(status)
		e.AppliedBy = appliedBy.String
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate ledger entries")
	}

	return entries, nil
}

// Head returns the most recently applied entry, or nil when nothing is
// applied.
func (l *Ledger) Head(ctx context.Context) (*Entry, error) {
	entries, err := l.LoadAll(ctx)
	if err != nil {
		return nil, err
	}

	var head *Entry
	for _, e := range applyOrder(entries) {
		head = e
		break
	}
	return head, nil
}

// AppliedDesc returns the applied entries in strict reverse apply order:
// most recent applied_at first, id breaking ties. This is the order rollback
// walks.
func (l *Ledger) AppliedDesc(ctx context.Context) ([]*Entry, error) {
	entries, err := l.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	return applyOrder(entries), nil
}

// RecordApplied marks m applied, stamping applied_at and the checksum the
// file had at apply time. The write goes through run so that, for a
// transactional migration, it commits or rolls back atomically with the
// migration's own statements.
func (l *Ledger) RecordApplied(ctx context.Context, run Execer, m *migration.Migration) error {
	_, err := run.ExecContext(ctx, `
		INSERT INTO lockstep_migrations (migration_id, name, checksum, status, applied_at, applied_by)
		VALUES ($1, $2, $3, 'applied', NOW(), $4)
		ON CONFLICT (migration_id) DO UPDATE SET
			name = EXCLUDED.name,
			checksum = EXCLUDED.checksum,
			status = 'applied',
			applied_at = NOW(),
			rolled_back_at = NULL,
			applied_by = EXCLUDED.applied_by`,
		m.ID, m.Name, m.Checksum, l.actor)
	if err != nil {
		return errors.Wrapf(err, "failed to record %s as applied", m.ID)
	}

	return l.audit(ctx, run, m, actionUp, "")
}

// RecordFailed durably marks m failed. It writes through the ledger's own
// connection, never a caller transaction, so the failure stays visible even
// if the connection is lost immediately afterwards.
func (l *Ledger) RecordFailed(ctx context.Context, m *migration.Migration, cause error) error {
	note := ""
	if cause != nil {
		note = cause.Error()
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO lockstep_migrations (migration_id, name, checksum, status, applied_by)
		VALUES ($1, $2, $3, 'failed', $4)
		ON CONFLICT (migration_id) DO UPDATE SET
			status = 'failed',
			applied_by = EXCLUDED.applied_by`,
		m.ID, m.Name, m.Checksum, l.actor)
	if err != nil {
		return errors.Wrapf(err, "failed to record %s as failed", m.ID)
	}

	return l.audit(ctx, l.db, m, actionFailed, note)
}

// RecordRolledBack marks m rolled back, stamping rolled_back_at. Like
// RecordApplied, the write goes through run to share the migration's
// transaction when there is one.
func (l *Ledger) RecordRolledBack(ctx context.Context, run Execer, m *migration.Migration) error {
	res, err := run.ExecContext(ctx, `
		UPDATE lockstep_migrations
		SET status = 'rolled_back', rolled_back_at = NOW()
		WHERE migration_id = $1 AND status = 'applied'`,
		m.ID)
	if err != nil {
		return errors.Wrapf(err, "failed to record %s as rolled back", m.ID)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Errorf("migration %s is not in applied state", m.ID)
	}

	return l.audit(ctx, run, m, actionDown, "")
}

// ClearFailed removes the sticky failed entry for id, making the migration
// pending again. This is the operator acknowledgment primitive: it errors if
// the entry is missing or not in failed state, and it never touches applied
// history.
func (l *Ledger) ClearFailed(ctx context.Context, id string) error {
	res, err := l.db.ExecContext(ctx, `
		DELETE FROM lockstep_migrations
		WHERE migration_id = $1 AND status = 'failed'`,
		id)
	if err != nil {
		return errors.Wrapf(err, "failed to clear %s", id)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Errorf("no failed ledger entry for migration %s", id)
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO lockstep_migrations_log (migration_id, name, action, performed_by)
		VALUES ($1, $2, $3, $4)`,
		id, "", actionClear, l.actor)
	return errors.Wrapf(err, "failed to audit clear of %s", id)
}

// audit appends one row to the append-only log through the same Execer as
// the status write it describes.
func (l *Ledger) audit(ctx context.Context, run Execer, m *migration.Migration, action, note string) error {
	var noteArg any
	if note != "" {
		noteArg = note
	}

	_, err := run.ExecContext(ctx, `
		INSERT INTO lockstep_migrations_log (migration_id, name, action, performed_by, checksum, note)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.Name, action, l.actor, m.Checksum, noteArg)
	return errors.Wrapf(err, "failed to audit %s of %s", action, m.ID)
}

// applyOrder filters to applied entries and sorts them most recent first,
// breaking applied_at ties by descending id.
func applyOrder(entries []*Entry) []*Entry {
	var applied []*Entry
	for _, e := range entries {
		if e.Status == StatusApplied {
			applied = append(applied, e)
		}
	}

	for i := 0; i < len(applied); i++ {
		for j := i + 1; j < len(applied); j++ {
			if appliedBefore(applied[i], applied[j]) {
				applied[i], applied[j] = applied[j], applied[i]
			}
		}
	}
	return applied
}

func appliedBefore(a, b *Entry) bool {
	switch {
	case a.AppliedAt == nil:
		return true
	case b.AppliedAt == nil:
		return false
	case !a.AppliedAt.Equal(*b.AppliedAt):
		return a.AppliedAt.Before(*b.AppliedAt)
	default:
		return a.MigrationID < b.MigrationID
	}
}

func currentActor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "system"
}
