package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"

	"github.com/pseudomuto/lockstep/pkg/consts"
)

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

const fileTemplate = `-- migration: %s
-- id: %s

-- migrate: up


-- migrate: down

`

// NewID returns a fresh time-ordered migration id. IDs are ULIDs, so files
// created later always sort after files created earlier.
func NewID() string {
	return ulid.Make().String()
}

// Slugify lowercases a human name and replaces every non-alphanumeric run
// with a single underscore, suitable for use in a filename.
func Slugify(name string) string {
	return strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(name), "_"), "_")
}

// Generate creates a new skeleton migration file named "<id>_<slug>.sql" in
// dir and returns its path. The directory is created if needed.
//
// Example usage:
//
//	path, err := migration.Generate("migrations", "create users table")
//	// migrations/01J2ZK7Q8B3W9XWY2N5T0VH4RD_create_users_table.sql
func Generate(dir, name string) (string, error) {
	slug := Slugify(name)
	if slug == "" {
		return "", errors.New("migration name produces an empty slug")
	}

	if err := os.MkdirAll(dir, consts.ModeDir); err != nil {
		return "", errors.Wrapf(err, "failed to create migrations directory: %s", dir)
	}

	id := NewID()
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.sql", id, slug))
	content := fmt.Sprintf(fileTemplate, name, id)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, consts.ModeFile)
	if err != nil {
		return "", errors.Wrapf(err, "failed to create migration file: %s", path)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.WriteString(content); err != nil {
		return "", errors.Wrapf(err, "failed to write migration file: %s", path)
	}

	return path, nil
}
