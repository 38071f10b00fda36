package migration

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// Checksum returns the deterministic digest of a migration's normalized
// up+down content in "h1:<base64 sha256>" form.
//
// Normalization strips comments and collapses whitespace, so reformatting or
// re-commenting an applied file does not count as drift; changing, adding,
// removing, or reordering statements does. The digest is stamped onto the
// ledger at apply time and compared against freshly parsed files on every
// later load to detect divergence.
func Checksum(m *Migration) string {
	h := sha256.New()

	writeSection := func(label string, stmts []Statement) {
		h.Write([]byte(label))
		h.Write([]byte{'\n'})
		for _, s := range stmts {
			h.Write([]byte(normalizeSQL(s.SQL)))
			h.Write([]byte{'\n'})
		}
	}

	writeSection("up:", m.Up)
	writeSection("down:", m.Down)

	return "h1:" + base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// normalizeSQL strips comments and collapses whitespace runs to single
// spaces, leaving quoted content untouched. The result is the canonical form
// of a statement for checksum purposes; an empty result means the input held
// nothing but comments and whitespace.
func normalizeSQL(sql string) string {
	var (
		b       strings.Builder
		pending bool
	)

	emit := func(s string) {
		if pending && b.Len() > 0 {
			b.WriteByte(' ')
		}
		pending = false
		b.WriteString(s)
	}

	i, n := 0, len(sql)
	for i < n {
		switch c := sql[i]; {
		case c == '-' && i+1 < n && sql[i+1] == '-':
			end := strings.IndexByte(sql[i:], '\n')
			if end < 0 {
				i = n
			} else {
				i += end + 1
			}
			pending = true

		case c == '/' && i+1 < n && sql[i+1] == '*':
			i = skipBlockComment(sql, i)
			pending = true

		case c == '\'':
			j := skipString(sql, i)
			emit(sql[i:j])
			i = j

		case c == '$':
			if tag, ok := dollarTag(sql[i:]); ok {
				j := skipDollarQuote(sql, i, tag)
				emit(sql[i:j])
				i = j
			} else {
				emit("$")
				i++
			}

		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			pending = true
			i++

		default:
			emit(string(c))
			i++
		}
	}

	return b.String()
}
