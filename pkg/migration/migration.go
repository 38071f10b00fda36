// Package migration provides loading, parsing, and manipulation of versioned
// SQL migration files.
//
// A migration file is UTF-8 text carrying directive comment lines followed by
// terminator-delimited SQL statements:
//
//	-- migration: create users
//	-- id: 01J2ZK7Q8B3W9XWY2N5T0VH4RD
//	-- migrate: no-transaction   (optional, before any section)
//
//	-- migrate: up
//	CREATE TABLE users (id BIGINT PRIMARY KEY);
//
//	-- migrate: down
//	DROP TABLE users;
//
// The package handles:
//   - Parsing file content into a structured Migration (directives, ordered
//     up/down statements, transactional flag)
//   - Loading whole directories from any fs.FS with ordering and uniqueness
//     validation done in one place
//   - Deterministic checksums over normalized statement content
//   - Generating new migration files and squashing pending ones
//
// Execution against a database lives in the engine package; everything here
// is pure file and text handling.
package migration

import (
	"io"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

type (
	// Migration is a single parsed migration file: an ordered unit of schema
	// change with up and down scripts.
	Migration struct {
		// ID is the sortable unique identifier declared by the file's
		// "-- id:" directive. It is the primary ordering key across the
		// migration set.
		ID string

		// Name is the human label from the "-- migration:" directive, or the
		// filename slug when the directive is absent. Informational only.
		Name string

		// Transactional is false when the file declares
		// "-- migrate: no-transaction", in which case both up and down
		// statements run outside a transaction block.
		Transactional bool

		// Up holds the ordered statements applied by this migration. Never
		// empty for a successfully parsed migration.
		Up []Statement

		// Down holds the ordered statements that revert this migration. An
		// empty Down makes the migration irreversible.
		Down []Statement

		// Checksum is the deterministic digest of the normalized up+down
		// content, computed at parse time.
		Checksum string

		// File is the path the migration was loaded from, relative to the
		// directory root. Empty for migrations built in memory.
		File string
	}

	// Statement is one SQL statement as written in the source file. Comments
	// are preserved for display; they are stripped when the statement is
	// normalized for checksums.
	Statement struct {
		SQL string
	}

	// Dir is the result of loading a migration directory: all migrations
	// sorted by ascending ID, with uniqueness already validated.
	Dir struct {
		Migrations []*Migration

		byID map[string]*Migration
	}
)

// LoadDir loads every .sql migration file from the provided filesystem and
// returns them ordered by ascending ID.
//
// Parse errors are collected across all files and reported together, so a
// single malformed file does not hide problems in its siblings; any error
// means nothing was loaded. Two files declaring the same ID is a fatal
// DuplicateIDError. Non-.sql files and the squash backup directory are
// ignored.
//
// The filesystem can be a real directory (os.DirFS), an embedded FS, or a
// fstest.MapFS in tests:
//
//	dir, err := migration.LoadDir(os.DirFS("migrations"))
//	if err != nil {
//		return err
//	}
//	for _, m := range dir.Migrations {
//		fmt.Println(m.ID, m.Name)
//	}
func LoadDir(fsys fs.FS) (*Dir, error) {
	dir := &Dir{byID: make(map[string]*Migration)}

	var errs *multierror.Error

	// NB: WalkDir always walks in lexical order; final ordering is by ID.
	if err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if d.Name() == BackupDirName {
				return fs.SkipDir
			}
			return nil
		}

		if filepath.Ext(path) != ".sql" {
			return nil
		}

		f, err := fsys.Open(path)
		if err != nil {
			return errors.Wrapf(err, "failed to open: %s", path)
		}
		defer func() { _ = f.Close() }()

		m, err := Load(path, f)
		if err != nil {
			errs = multierror.Append(errs, err)
			return nil
		}

		if prev, ok := dir.byID[m.ID]; ok {
			errs = multierror.Append(errs, &DuplicateIDError{
				ID:    m.ID,
				Files: []string{prev.File, m.File},
			})
			return nil
		}

		dir.byID[m.ID] = m
		dir.Migrations = append(dir.Migrations, m)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	sort.Slice(dir.Migrations, func(i, j int) bool {
		return dir.Migrations[i].ID < dir.Migrations[j].ID
	})

	return dir, nil
}

// Load parses a single migration from r. The file argument is used for error
// reporting and as the fallback source of the migration name (the portion of
// the filename after the first underscore).
func Load(file string, r io.Reader) (*Migration, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read migration: %s", file)
	}

	return Parse(file, string(content))
}

// Get returns the migration with the given ID, if present.
func (d *Dir) Get(id string) (*Migration, bool) {
	m, ok := d.byID[id]
	return m, ok
}

// Range returns the contiguous run of migrations from fromID through toID
// inclusive, in directory order. Both endpoints must exist and fromID must
// not sort after toID.
func (d *Dir) Range(fromID, toID string) ([]*Migration, error) {
	from, to := -1, -1
	for i, m := range d.Migrations {
		if m.ID == fromID {
			from = i
		}
		if m.ID == toID {
			to = i
		}
	}

	if from == -1 {
		return nil, errors.Errorf("unknown migration id: %s", fromID)
	}
	if to == -1 {
		return nil, errors.Errorf("unknown migration id: %s", toID)
	}
	if from > to {
		return nil, errors.Errorf("invalid range: %s sorts after %s", fromID, toID)
	}

	return d.Migrations[from : to+1], nil
}

// Irreversible reports whether the migration has no down statements and
// therefore cannot be rolled back.
func (m *Migration) Irreversible() bool {
	return len(m.Down) == 0
}
