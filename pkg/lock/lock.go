// Package lock coordinates concurrent migration runs with a PostgreSQL
// advisory lock.
//
// Advisory locks are session scoped: they belong to the connection that
// acquired them and are released automatically if that connection drops, so
// a crashed runner can never wedge the lock. The coordinator must therefore
// be given the same pinned connection the migration statements run on.
package lock

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

type (
	// DB is the connection surface the coordinator polls. It must be a
	// single-session handle such as *sql.Conn; a pooled *sql.DB would
	// acquire and release on different sessions.
	DB interface {
		QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	}

	// Coordinator acquires and releases a single advisory lock id.
	Coordinator struct {
		db      DB
		id      int64
		timeout time.Duration
	}

	// Handle represents a held lock. Release is idempotent.
	Handle struct {
		db       DB
		id       int64
		mu       sync.Mutex
		released bool
	}

	// TimeoutError is returned when the lock stays held by another session
	// for the whole wait window.
	TimeoutError struct {
		LockID int64
		Wait   time.Duration
	}
)

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("advisory lock %d still held after %s", e.LockID, e.Wait)
}

// New returns a Coordinator for lock id over db. Acquire gives up after
// timeout; a zero or negative timeout means a single immediate attempt.
func New(db DB, id int64, timeout time.Duration) *Coordinator {
	return &Coordinator{db: db, id: id, timeout: timeout}
}

// Acquire attempts to take the advisory lock, polling with exponential
// backoff until it succeeds, the timeout elapses, or ctx is done. On timeout
// it returns a *TimeoutError so callers can distinguish "another runner is
// active" from real failures.
func (c *Coordinator) Acquire(ctx context.Context) (*Handle, error) {
	try := func() error {
		var ok bool
		if err := c.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", c.id).Scan(&ok); err != nil {
			// Query failures are not contention. Stop polling.
			return backoff.Permanent(errors.Wrapf(err, "failed to poll advisory lock %d", c.id))
		}
		if !ok {
			return &TimeoutError{LockID: c.id, Wait: c.timeout}
		}
		return nil
	}

	// A zero MaxElapsedTime would retry forever, so a non-positive timeout
	// gets a single attempt instead.
	var policy backoff.BackOff = &backoff.StopBackOff{}
	if c.timeout > 0 {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 50 * time.Millisecond
		bo.MaxInterval = time.Second
		bo.MaxElapsedTime = c.timeout
		policy = bo
	}

	if err := backoff.Retry(try, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}

	return &Handle{db: c.db, id: c.id}, nil
}

// Release frees the lock. Calling it more than once is safe; only the first
// call talks to the database. The session dropping releases the lock too, so
// a missed Release after a crash does not block later runs.
func (h *Handle) Release(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return nil
	}
	h.released = true

	var ok bool
	if err := h.db.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", h.id).Scan(&ok); err != nil {
		return errors.Wrapf(err, "failed to release advisory lock %d", h.id)
	}
	if !ok {
		return errors.Errorf("advisory lock %d was not held by this session", h.id)
	}
	return nil
}
