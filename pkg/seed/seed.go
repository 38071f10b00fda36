// Package seed loads development fixture data from plain SQL files.
//
// Seeds are not migrations: they carry no ids, no checksums, and no ledger
// history. Files run in lexical order, each inside its own transaction, and
// are expected to be idempotent (INSERT ... ON CONFLICT DO NOTHING and the
// like) so reseeding is harmless.
package seed

import (
	"context"
	"database/sql"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// DB is the transactional surface seeds run on. *sql.DB and *sql.Conn both
// satisfy it.
type DB interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Run executes every .sql file at the root of fsys in lexical order and
// returns the names of the files that ran. A failure rolls back the current
// file and stops; files already committed stay.
func Run(ctx context.Context, db DB, fsys fs.FS, log *slog.Logger) ([]string, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, errors.Wrap(err, "failed to read seed directory")
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(path.Ext(entry.Name()), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	var ran []string
	for _, file := range files {
		content, err := fs.ReadFile(fsys, file)
		if err != nil {
			return ran, errors.Wrapf(err, "failed to read seed file: %s", file)
		}

		log.Info("running seed file", "file", file)

		if err := runOne(ctx, db, string(content)); err != nil {
			return ran, errors.Wrapf(err, "seed file failed: %s", file)
		}
		ran = append(ran, file)
	}

	return ran, nil
}

func runOne(ctx context.Context, db DB, content string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, content); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
