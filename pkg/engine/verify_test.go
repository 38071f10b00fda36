package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pseudomuto/lockstep/pkg/engine"
	"github.com/pseudomuto/lockstep/pkg/ledger"
)

func TestVerifyClean(t *testing.T) {
	h := newHarness(t)

	users := simpleMigration(t, "01A", "users")
	posts := simpleMigration(t, "01B", "posts")
	dir := dirOf(t, users, posts)

	h.ledger.seedApplied(users)
	// 01B is pending; pending files are free to change and never diverge.

	reports, err := h.eng.Verify(context.Background(), dir)
	require.NoError(t, err)
	require.Empty(t, reports)
}

func TestVerifyReportsDrift(t *testing.T) {
	h := newHarness(t)

	users := simpleMigration(t, "01A", "users")
	posts := simpleMigration(t, "01B", "posts")
	gone := simpleMigration(t, "01C", "tags")

	h.ledger.seedApplied(users)
	h.ledger.seedApplied(posts)
	h.ledger.seedApplied(gone)
	h.ledger.entries["01B"].Checksum = "h1:whatwasrecorded="

	// 01C's file is absent from the directory entirely.
	dir := dirOf(t, users, posts)

	reports, err := h.eng.Verify(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	require.Equal(t, "01B", reports[0].MigrationID)
	require.False(t, reports[0].MissingFile)
	require.Equal(t, "h1:whatwasrecorded=", reports[0].StoredChecksum)
	require.Equal(t, posts.Checksum, reports[0].CurrentChecksum)

	require.Equal(t, "01C", reports[1].MigrationID)
	require.True(t, reports[1].MissingFile)
}

func TestVerifyIgnoresRolledBackAndFailed(t *testing.T) {
	h := newHarness(t)

	users := simpleMigration(t, "01A", "users")
	posts := simpleMigration(t, "01B", "posts")

	h.ledger.seedStatus(users, ledger.StatusRolledBack)
	h.ledger.seedStatus(posts, ledger.StatusFailed)
	h.ledger.entries["01A"].Checksum = "h1:stale="
	h.ledger.entries["01B"].Checksum = "h1:stale="

	dir := dirOf(t, users, posts)

	reports, err := h.eng.Verify(context.Background(), dir)
	require.NoError(t, err)
	require.Empty(t, reports)
}

func TestStatusListsEveryMigration(t *testing.T) {
	h := newHarness(t)

	users := simpleMigration(t, "01A", "users")
	posts := simpleMigration(t, "01B", "posts")
	tags := simpleMigration(t, "01C", "tags")
	orphan := simpleMigration(t, "01D", "orphan")

	h.ledger.seedApplied(users)
	h.ledger.seedStatus(posts, ledger.StatusFailed)
	h.ledger.seedApplied(orphan)

	// 01C is pending; 01D has history but no file.
	dir := dirOf(t, users, posts, tags)

	statuses, err := h.eng.Status(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, statuses, 4)

	byID := map[string]string{}
	for _, s := range statuses {
		byID[s.ID] = s.State
	}
	require.Equal(t, "applied", byID["01A"])
	require.Equal(t, "failed", byID["01B"])
	require.Equal(t, engine.StatePending, byID["01C"])
	require.Equal(t, "applied", byID["01D"])
}

func TestHeadReturnsMostRecentlyApplied(t *testing.T) {
	h := newHarness(t)

	users := simpleMigration(t, "01A", "users")
	posts := simpleMigration(t, "01B", "posts")
	h.ledger.seedApplied(users)
	h.ledger.seedApplied(posts)

	head, err := h.eng.Head(context.Background())
	require.NoError(t, err)
	require.NotNil(t, head)
	require.Equal(t, "01B", head.MigrationID)
}

func TestHeadEmptyLedger(t *testing.T) {
	h := newHarness(t)

	head, err := h.eng.Head(context.Background())
	require.NoError(t, err)
	require.Nil(t, head)
}

func TestClearFailedHoldsLock(t *testing.T) {
	h := newHarness(t)

	posts := simpleMigration(t, "01B", "posts")
	h.ledger.seedStatus(posts, ledger.StatusFailed)

	require.NoError(t, h.eng.ClearFailed(context.Background(), "01B"))
	require.Equal(t, []string{"01B"}, h.ledger.cleared)
	require.Equal(t, 1, h.locker.acquired)
	require.Equal(t, 1, h.locker.released)
}
