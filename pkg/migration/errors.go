package migration

import (
	"fmt"
	"strings"
)

type (
	// MalformedError reports a migration file that violates a parse rule. It
	// affects only the file it names; sibling files are still parsed so all
	// problems can be reported in one pass.
	MalformedError struct {
		File   string
		Reason string
	}

	// DuplicateIDError reports two files declaring the same migration id.
	// The id is the ordering and identity key, so this is fatal at load time.
	DuplicateIDError struct {
		ID    string
		Files []string
	}

	// IrreversibleError reports a rollback request against a migration with
	// no down statements.
	IrreversibleError struct {
		ID string
	}
)

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed migration %s: %s", e.File, e.Reason)
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate migration id %s declared by %s", e.ID, strings.Join(e.Files, " and "))
}

func (e *IrreversibleError) Error() string {
	return fmt.Sprintf("migration %s has no down statements and cannot be rolled back", e.ID)
}
