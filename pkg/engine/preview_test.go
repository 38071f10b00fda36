package engine_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/pseudomuto/lockstep/pkg/engine"
	"github.com/pseudomuto/lockstep/pkg/ledger"
)

func TestDryRunRehearsesAndRollsBack(t *testing.T) {
	h := newHarness(t)

	users := simpleMigration(t, "01A", "users")
	posts := simpleMigration(t, "01B", "posts")
	dir := dirOf(t, users, posts)

	// One shared transaction, always rolled back.
	h.mock.ExpectBegin()
	h.mock.ExpectExec("CREATE TABLE users").WillReturnResult(sqlmock.NewResult(0, 0))
	h.mock.ExpectExec("CREATE TABLE posts").WillReturnResult(sqlmock.NewResult(0, 0))
	h.mock.ExpectRollback()

	preview, err := h.eng.DryRun(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, preview.Statements, 2)
	require.Empty(t, preview.Warnings)

	for _, s := range preview.Statements {
		require.True(t, s.Executed)
	}

	// Nothing persisted: no ledger entries, no advisory lock.
	require.Equal(t, ledger.Status(""), h.ledger.status("01A"))
	require.Equal(t, ledger.Status(""), h.ledger.status("01B"))
	require.Zero(t, h.locker.acquired)
}

func TestDryRunSkipsAppliedMigrations(t *testing.T) {
	h := newHarness(t)

	users := simpleMigration(t, "01A", "users")
	dir := dirOf(t, users)
	h.ledger.seedApplied(users)

	preview, err := h.eng.DryRun(context.Background(), dir)
	require.NoError(t, err)
	require.Empty(t, preview.Statements)
}

func TestDryRunListsNonTransactionalWithoutExecuting(t *testing.T) {
	h := newHarness(t)

	idx := noTxMigration(t, "01A", "users")
	dir := dirOf(t, idx)

	h.mock.ExpectBegin()
	h.mock.ExpectRollback()

	preview, err := h.eng.DryRun(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, preview.Statements, 1)
	require.False(t, preview.Statements[0].Executed)
	require.Len(t, preview.Warnings, 1)
	require.Contains(t, preview.Warnings[0], "01A")
}

func TestDryRunSurfacesStatementErrors(t *testing.T) {
	h := newHarness(t)

	broken := mustParse(t, "01A_broken.sql", `-- id: 01A
-- migrate: up
CREATE TABLE broken_table (id NOPE);`)
	dir := dirOf(t, broken)

	h.mock.ExpectBegin()
	h.mock.ExpectExec("CREATE TABLE broken_table").WillReturnError(errors.New(`type "nope" does not exist`))
	h.mock.ExpectRollback()

	_, err := h.eng.DryRun(context.Background(), dir)
	require.Error(t, err)

	var stmtErr *engine.StatementError
	require.ErrorAs(t, err, &stmtErr)
	require.Equal(t, "01A", stmtErr.MigrationID)

	require.Equal(t, ledger.Status(""), h.ledger.status("01A"))
}

func TestDryRunChecksDivergenceFirst(t *testing.T) {
	h := newHarness(t)

	users := simpleMigration(t, "01A", "users")
	dir := dirOf(t, users)
	h.ledger.seedApplied(users)
	h.ledger.entries["01A"].Checksum = "h1:different"

	preview, err := h.eng.DryRun(context.Background(), dir)
	require.Error(t, err)

	var diverged *engine.DivergedError
	require.ErrorAs(t, err, &diverged)

	// The result stays usable even when preflight aborts the run.
	require.NotNil(t, preview)
	require.Empty(t, preview.Statements)
}

func TestDryRunReturnsResultOnPreflightFailure(t *testing.T) {
	h := newHarness(t)
	h.ledger.ensureErr = errors.New("permission denied for schema public")

	dir := dirOf(t, simpleMigration(t, "01A", "users"))

	preview, err := h.eng.DryRun(context.Background(), dir)
	require.ErrorIs(t, err, h.ledger.ensureErr)
	require.NotNil(t, preview)
	require.Empty(t, preview.Statements)
	require.Empty(t, preview.Warnings)
}

func TestDryRunReturnsResultOnFailedEntry(t *testing.T) {
	h := newHarness(t)

	users := simpleMigration(t, "01A", "users")
	dir := dirOf(t, users)
	h.ledger.seedStatus(users, ledger.StatusFailed)

	preview, err := h.eng.DryRun(context.Background(), dir)
	require.Error(t, err)

	var failed *engine.FailedEntryError
	require.ErrorAs(t, err, &failed)
	require.NotNil(t, preview)
	require.Empty(t, preview.Statements)
}
