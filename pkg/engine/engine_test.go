package engine_test

import (
	"context"
	"database/sql"
	"sort"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/pseudomuto/lockstep/pkg/engine"
	"github.com/pseudomuto/lockstep/pkg/ledger"
	"github.com/pseudomuto/lockstep/pkg/migration"
)

// fakeLedger is an in-memory engine.Ledger. It ignores the run Execer since
// transactional atomicity is the database's job, not the fake's.
type fakeLedger struct {
	entries map[string]*ledger.Entry
	clock   time.Time

	ensureErr error
	failures  []string
	cleared   []string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		entries: map[string]*ledger.Entry{},
		clock:   time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *fakeLedger) tick() time.Time {
	f.clock = f.clock.Add(time.Minute)
	return f.clock
}

// seedApplied marks m applied at the next tick, mimicking a prior run.
func (f *fakeLedger) seedApplied(m *migration.Migration) {
	at := f.tick()
	f.entries[m.ID] = &ledger.Entry{
		MigrationID: m.ID,
		Name:        m.Name,
		Checksum:    m.Checksum,
		Status:      ledger.StatusApplied,
		AppliedAt:   &at,
		AppliedBy:   "tester",
	}
}

func (f *fakeLedger) seedStatus(m *migration.Migration, status ledger.Status) {
	f.entries[m.ID] = &ledger.Entry{
		MigrationID: m.ID,
		Name:        m.Name,
		Checksum:    m.Checksum,
		Status:      status,
	}
}

func (f *fakeLedger) EnsureSchema(context.Context) error { return f.ensureErr }

func (f *fakeLedger) LoadAll(context.Context) ([]*ledger.Entry, error) {
	out := make([]*ledger.Entry, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MigrationID < out[j].MigrationID })
	return out, nil
}

func (f *fakeLedger) AppliedDesc(ctx context.Context) ([]*ledger.Entry, error) {
	all, _ := f.LoadAll(ctx)

	var applied []*ledger.Entry
	for _, e := range all {
		if e.Status == ledger.StatusApplied {
			applied = append(applied, e)
		}
	}
	sort.Slice(applied, func(i, j int) bool {
		if !applied[i].AppliedAt.Equal(*applied[j].AppliedAt) {
			return applied[i].AppliedAt.After(*applied[j].AppliedAt)
		}
		return applied[i].MigrationID > applied[j].MigrationID
	})
	return applied, nil
}

func (f *fakeLedger) Head(ctx context.Context) (*ledger.Entry, error) {
	applied, _ := f.AppliedDesc(ctx)
	if len(applied) == 0 {
		return nil, nil
	}
	return applied[0], nil
}

func (f *fakeLedger) RecordApplied(_ context.Context, _ ledger.Execer, m *migration.Migration) error {
	at := f.tick()
	f.entries[m.ID] = &ledger.Entry{
		MigrationID: m.ID,
		Name:        m.Name,
		Checksum:    m.Checksum,
		Status:      ledger.StatusApplied,
		AppliedAt:   &at,
		AppliedBy:   "tester",
	}
	return nil
}

func (f *fakeLedger) RecordFailed(_ context.Context, m *migration.Migration, cause error) error {
	f.failures = append(f.failures, m.ID)
	f.entries[m.ID] = &ledger.Entry{
		MigrationID: m.ID,
		Name:        m.Name,
		Checksum:    m.Checksum,
		Status:      ledger.StatusFailed,
	}
	return nil
}

func (f *fakeLedger) RecordRolledBack(_ context.Context, _ ledger.Execer, m *migration.Migration) error {
	at := f.tick()
	entry := f.entries[m.ID]
	entry.Status = ledger.StatusRolledBack
	entry.RolledBackAt = &at
	return nil
}

func (f *fakeLedger) ClearFailed(_ context.Context, id string) error {
	f.cleared = append(f.cleared, id)
	delete(f.entries, id)
	return nil
}

func (f *fakeLedger) status(id string) ledger.Status {
	e, ok := f.entries[id]
	if !ok {
		return ledger.Status("")
	}
	return e.Status
}

// fakeLocker counts acquisitions and releases, optionally failing Acquire.
type fakeLocker struct {
	acquireErr error
	acquired   int
	released   int
}

func (f *fakeLocker) Acquire(context.Context) (engine.Releaser, error) {
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	f.acquired++
	return releaserFunc(func(context.Context) error {
		f.released++
		return nil
	}), nil
}

type releaserFunc func(ctx context.Context) error

func (f releaserFunc) Release(ctx context.Context) error { return f(ctx) }

type harness struct {
	eng    *engine.Engine
	ledger *fakeLedger
	locker *fakeLocker
	mock   sqlmock.Sqlmock
	db     *sql.DB
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})

	h := &harness{
		ledger: newFakeLedger(),
		locker: &fakeLocker{},
		mock:   mock,
		db:     db,
	}
	h.eng = engine.New(engine.Config{
		Conn:   db,
		Ledger: h.ledger,
		Locker: h.locker,
	})
	return h
}

// withHooks rebuilds the engine with hooks attached.
func (h *harness) withHooks(hooks engine.Hooks) {
	h.eng = engine.New(engine.Config{
		Conn:   h.db,
		Ledger: h.ledger,
		Locker: h.locker,
		Hooks:  hooks,
	})
}

func mustParse(t *testing.T, file, sql string) *migration.Migration {
	t.Helper()

	m, err := migration.Parse(file, sql)
	require.NoError(t, err)
	return m
}

func dirOf(t *testing.T, migs ...*migration.Migration) *migration.Dir {
	t.Helper()

	fsys := fstest.MapFS{}
	for _, m := range migs {
		fsys[m.File] = &fstest.MapFile{Data: []byte(migration.Render(m))}
	}

	dir, err := migration.LoadDir(fsys)
	require.NoError(t, err)
	return dir
}

func simpleMigration(t *testing.T, id, table string) *migration.Migration {
	t.Helper()

	return mustParse(t, id+"_"+table+".sql",
		"-- migration: "+table+"\n-- id: "+id+
			"\n-- migrate: up\nCREATE TABLE "+table+" (id INT);\n"+
			"-- migrate: down\nDROP TABLE "+table+";\n")
}

func noTxMigration(t *testing.T, id, table string) *migration.Migration {
	t.Helper()

	return mustParse(t, id+"_"+table+".sql",
		"-- migration: "+table+"\n-- id: "+id+"\n-- migrate: no-transaction"+
			"\n-- migrate: up\nCREATE INDEX CONCURRENTLY "+table+"_idx ON "+table+" (id);\n"+
			"-- migrate: down\nDROP INDEX CONCURRENTLY "+table+"_idx;\n")
}
