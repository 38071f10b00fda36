package consts

import (
	"os"
	"time"
)

const (
	// ModeDir is the standard file mode for creating directories
	ModeDir = os.FileMode(0o755)

	// ModeFile is the standard file mode for creating files
	ModeFile = os.FileMode(0o644)

	// ConfigFile is the name of the project configuration file that marks
	// a directory as a lockstep project.
	ConfigFile = "lockstep.yaml"

	// DefaultMigrationsDir is where migration files live unless the config
	// says otherwise.
	DefaultMigrationsDir = "migrations"

	// DefaultSeedsDir is where seed scripts live unless the config says
	// otherwise.
	DefaultSeedsDir = "seeds"

	// DefaultLockID is the advisory lock key used to serialize migration
	// runs when the config doesn't provide one. Any cooperating process
	// using the same key against the same database is mutually excluded.
	DefaultLockID int64 = 894321

	// DefaultLockTimeout bounds how long a run waits for the advisory lock
	// before giving up.
	DefaultLockTimeout = 30 * time.Second
)
