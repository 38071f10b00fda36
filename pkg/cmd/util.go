package cmd

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"time"

	// Registers the "postgres" driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/pseudomuto/lockstep/pkg/config"
	"github.com/pseudomuto/lockstep/pkg/engine"
	"github.com/pseudomuto/lockstep/pkg/hook"
	"github.com/pseudomuto/lockstep/pkg/ledger"
	"github.com/pseudomuto/lockstep/pkg/lock"
	"github.com/pseudomuto/lockstep/pkg/migration"
)

// session is a pinned database connection plus the pool it came from.
// Pinning matters: the advisory lock is session scoped, so the lock, the
// migration statements, and the ledger writes must all share one connection.
type session struct {
	db   *sql.DB
	conn *sql.Conn
}

func openSession(ctx context.Context, cfg *config.Config) (*session, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to connect to database")
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	return &session{db: db, conn: conn}, nil
}

func (s *session) close() {
	_ = s.conn.Close()
	_ = s.db.Close()
}

// newEngine assembles an Engine over the session using the configured lock
// id, timeout, and hooks.
func (s *session) newEngine(cfg *config.Config) *engine.Engine {
	coordinator := lock.New(s.conn, cfg.LockID, time.Duration(cfg.LockTimeout))
	runner := hook.NewRunner(cfg.Hooks, slog.Default())

	return engine.New(engine.Config{
		Conn:   s.conn,
		Ledger: ledger.New(s.conn, ""),
		Locker: engine.LockerFunc(func(ctx context.Context) (engine.Releaser, error) {
			return coordinator.Acquire(ctx)
		}),
		Hooks:  runner.EngineHooks(),
		Logger: slog.Default(),
	})
}

func loadDir(cfg *config.Config) (*migration.Dir, error) {
	return migration.LoadDir(os.DirFS(cfg.Dir))
}
