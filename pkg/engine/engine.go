// Package engine drives migration runs against a live database.
//
// The engine owns the run lifecycle: take the advisory lock, ensure the
// ledger schema, reconcile files against history, then execute statements
// under the correct transaction policy and record the outcome. It is the
// only package that executes migration SQL.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pseudomuto/lockstep/pkg/ledger"
	"github.com/pseudomuto/lockstep/pkg/migration"
)

type (
	// Conn is the pinned database session migrations run on. It must be the
	// same session the advisory lock was taken on; *sql.Conn satisfies it.
	Conn interface {
		ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
		BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	}

	// Ledger is the history surface the engine records through.
	// *ledger.Ledger satisfies it.
	Ledger interface {
		EnsureSchema(ctx context.Context) error
		LoadAll(ctx context.Context) ([]*ledger.Entry, error)
		AppliedDesc(ctx context.Context) ([]*ledger.Entry, error)
		Head(ctx context.Context) (*ledger.Entry, error)
		RecordApplied(ctx context.Context, run ledger.Execer, m *migration.Migration) error
		RecordFailed(ctx context.Context, m *migration.Migration, cause error) error
		RecordRolledBack(ctx context.Context, run ledger.Execer, m *migration.Migration) error
		ClearFailed(ctx context.Context, id string) error
	}

	// Locker serializes runs across processes.
	Locker interface {
		Acquire(ctx context.Context) (Releaser, error)
	}

	// Releaser frees a held lock.
	Releaser interface {
		Release(ctx context.Context) error
	}

	// LockerFunc adapts a function to the Locker interface.
	LockerFunc func(ctx context.Context) (Releaser, error)

	// Hooks are optional callbacks invoked around mutating runs. Before
	// hooks run after the lock is held and receive the migrations about to
	// run; a hook error aborts the run. After hooks run only when every
	// migration in the batch succeeded.
	Hooks struct {
		BeforeApply    func(ctx context.Context, migs []*migration.Migration) error
		AfterApply     func(ctx context.Context, migs []*migration.Migration) error
		BeforeRollback func(ctx context.Context, migs []*migration.Migration) error
		AfterRollback  func(ctx context.Context, migs []*migration.Migration) error
	}

	// Config wires an Engine's collaborators.
	Config struct {
		Conn   Conn
		Ledger Ledger
		Locker Locker
		Hooks  Hooks
		Logger *slog.Logger
	}

	// Engine executes migration runs. Construct with New.
	Engine struct {
		conn   Conn
		ledger Ledger
		locker Locker
		hooks  Hooks
		log    *slog.Logger
	}
)

// Acquire implements Locker.
func (f LockerFunc) Acquire(ctx context.Context) (Releaser, error) { return f(ctx) }

// New returns an Engine using the supplied collaborators. A nil Logger
// discards log output.
func New(cfg Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	return &Engine{
		conn:   cfg.Conn,
		ledger: cfg.Ledger,
		locker: cfg.Locker,
		hooks:  cfg.Hooks,
		log:    log,
	}
}

// withLock acquires the advisory lock, runs fn, and releases. The lock
// failure is surfaced untouched so callers can detect *lock.TimeoutError.
func (e *Engine) withLock(ctx context.Context, fn func(ctx context.Context) error) error {
	handle, err := e.locker.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := handle.Release(ctx); err != nil {
			e.log.Warn("failed to release advisory lock", "error", err)
		}
	}()

	return fn(ctx)
}

// entriesByID indexes ledger entries for O(1) reconciliation with files.
func entriesByID(entries []*ledger.Entry) map[string]*ledger.Entry {
	byID := make(map[string]*ledger.Entry, len(entries))
	for _, e := range entries {
		byID[e.MigrationID] = e
	}
	return byID
}

type (
	// StatementError identifies the exact statement that failed inside a
	// migration. Index is 1-based to match how operators count statements
	// in the file.
	StatementError struct {
		MigrationID string
		Index       int
		SQL         string
		Err         error
	}

	// DivergedError aborts a run because applied history no longer matches
	// the files on disk. Reports carries one entry per divergence.
	DivergedError struct {
		Reports []DivergenceReport
	}

	// FailedEntryError halts a run at a migration whose ledger entry is
	// stuck in failed state.
	FailedEntryError struct {
		MigrationID string
	}
)

func (e *StatementError) Error() string {
	return fmt.Sprintf("migration %s: statement %d failed: %v", e.MigrationID, e.Index, e.Err)
}

func (e *StatementError) Unwrap() error { return e.Err }

func (e *DivergedError) Error() string {
	return fmt.Sprintf("%d applied migration(s) diverged from their files; refusing to run", len(e.Reports))
}

func (e *FailedEntryError) Error() string {
	return fmt.Sprintf("migration %s previously failed; reconcile the database and clear it before applying", e.MigrationID)
}
