package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/pseudomuto/lockstep/pkg/consts"
)

// BackupDirName is the directory (inside the migrations directory) where
// squashed originals are preserved. It is skipped when loading.
const BackupDirName = ".squash_backup"

// Combine merges a contiguous ordered run of migrations into one equivalent
// unit.
//
// Up statements are concatenated in constituent order; down statements are
// concatenated in reverse constituent order, so rolling back the combined
// unit undoes the most recent change first. The combined migration takes the
// id of the last constituent, which keeps it at the range's position relative
// to everything before and after it. It is transactional only if every
// constituent was.
func Combine(migs []*Migration, newName string) (*Migration, error) {
	if len(migs) < 2 {
		return nil, errors.New("squash needs at least two migrations")
	}

	combined := &Migration{
		ID:            migs[len(migs)-1].ID,
		Name:          newName,
		Transactional: true,
	}

	for _, m := range migs {
		if !m.Transactional {
			combined.Transactional = false
		}
		combined.Up = append(combined.Up, m.Up...)
	}

	for i := len(migs) - 1; i >= 0; i-- {
		combined.Down = append(combined.Down, migs[i].Down...)
	}

	combined.Checksum = Checksum(combined)
	return combined, nil
}

// Render serializes a migration back into directive file form. Parsing the
// result yields a migration with the same statements and checksum.
func Render(m *Migration) string {
	var b strings.Builder

	fmt.Fprintf(&b, "-- migration: %s\n", m.Name)
	fmt.Fprintf(&b, "-- id: %s\n", m.ID)
	if !m.Transactional {
		b.WriteString("-- migrate: no-transaction\n")
	}

	writeSection := func(marker string, stmts []Statement) {
		fmt.Fprintf(&b, "\n-- migrate: %s\n", marker)
		for _, s := range stmts {
			b.WriteString(s.SQL)
			b.WriteString(";\n\n")
		}
	}

	writeSection(sectionUp, m.Up)
	writeSection(sectionDown, m.Down)

	return b.String()
}

// SquashFiles combines migs into a single migration and rewrites the
// directory under root accordingly: originals are copied into the
// .squash_backup directory, the combined file is written as
// "<id>_<slug>.sql", and only then are the originals removed.
//
// Callers are responsible for verifying that every constituent is still
// pending; this function only manipulates files.
func SquashFiles(root string, migs []*Migration, newName string) (*Migration, string, error) {
	combined, err := Combine(migs, newName)
	if err != nil {
		return nil, "", err
	}

	slug := Slugify(newName)
	if slug == "" {
		return nil, "", errors.New("squash name produces an empty slug")
	}

	backupDir := filepath.Join(root, BackupDirName)
	if err := os.MkdirAll(backupDir, consts.ModeDir); err != nil {
		return nil, "", errors.Wrapf(err, "failed to create backup directory: %s", backupDir)
	}

	for _, m := range migs {
		src := filepath.Join(root, m.File)
		dst := filepath.Join(backupDir, filepath.Base(m.File))
		if err := copyFile(src, dst); err != nil {
			return nil, "", errors.Wrapf(err, "failed to back up: %s", src)
		}
	}

	path := filepath.Join(root, fmt.Sprintf("%s_%s.sql", combined.ID, slug))
	if err := atomicWrite(path, Render(combined)); err != nil {
		return nil, "", err
	}
	combined.File = filepath.Base(path)

	for _, m := range migs {
		src := filepath.Join(root, m.File)
		if src == path {
			continue
		}
		if err := os.Remove(src); err != nil {
			return nil, "", errors.Wrapf(err, "failed to remove squashed original: %s", src)
		}
	}

	return combined, path, nil
}

// atomicWrite writes content to a temp file in the target directory and
// renames it into place, so readers never observe a partial file.
func atomicWrite(path, content string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".lockstep-*.tmp")
	if err != nil {
		return errors.Wrapf(err, "failed to create temp file for: %s", path)
	}

	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return errors.Wrapf(err, "failed to write: %s", path)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrapf(err, "failed to close temp file for: %s", path)
	}

	if err := os.Chmod(tmp.Name(), consts.ModeFile); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrapf(err, "failed to set mode on: %s", path)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrapf(err, "failed to move temp file into place: %s", path)
	}
	return nil
}

func copyFile(src, dst string) error {
	content, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, content, consts.ModeFile)
}
