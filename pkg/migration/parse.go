package migration

import (
	"bufio"
	"path/filepath"
	"strings"
)

// Directive comment prefixes recognized in migration files.
const (
	directiveName = "-- migration:"
	directiveID   = "-- id:"
	directivePfx  = "-- migrate:"

	sectionUp     = "up"
	sectionDown   = "down"
	sectionNoneTx = "no-transaction"
)

// Parse turns raw migration file content into a Migration.
//
// Rules enforced here, and only here:
//   - exactly one "-- id:" directive
//   - exactly one "-- migrate: up" section, with at least one statement
//   - at most one "-- migrate: down" section (may be empty or absent)
//   - "-- migrate: no-transaction", if present, appears before any section
//     marker and applies to the whole file
//
// Violations produce a *MalformedError naming the file and the broken rule.
func Parse(file, content string) (*Migration, error) {
	m := &Migration{
		File:          file,
		Transactional: true,
	}

	var (
		upSeen, downSeen bool
		section          string
		upBuf, downBuf   strings.Builder
	)

	fail := func(reason string) (*Migration, error) {
		return nil, &MalformedError{File: file, Reason: reason}
	}

	sc := bufio.NewScanner(strings.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, directivePfx):
			switch strings.TrimSpace(strings.TrimPrefix(trimmed, directivePfx)) {
			case sectionUp:
				if upSeen {
					return fail("duplicate up section")
				}
				upSeen, section = true, sectionUp

			case sectionDown:
				if downSeen {
					return fail("duplicate down section")
				}
				downSeen, section = true, sectionDown

			case sectionNoneTx:
				if upSeen || downSeen {
					return fail("no-transaction directive must appear before any section")
				}
				m.Transactional = false

			default:
				return fail("unknown directive: " + trimmed)
			}
			continue

		case section == "" && strings.HasPrefix(trimmed, directiveID):
			if m.ID != "" {
				return fail("duplicate id directive")
			}
			m.ID = strings.TrimSpace(strings.TrimPrefix(trimmed, directiveID))
			if m.ID == "" {
				return fail("empty id directive")
			}
			continue

		case section == "" && strings.HasPrefix(trimmed, directiveName):
			if m.Name == "" {
				m.Name = strings.TrimSpace(strings.TrimPrefix(trimmed, directiveName))
			}
			continue
		}

		switch section {
		case sectionUp:
			upBuf.WriteString(line)
			upBuf.WriteByte('\n')
		case sectionDown:
			downBuf.WriteString(line)
			downBuf.WriteByte('\n')
		}
	}
	if err := sc.Err(); err != nil {
		return nil, &MalformedError{File: file, Reason: "unreadable content: " + err.Error()}
	}

	if m.ID == "" {
		return fail("missing id directive")
	}
	if !upSeen {
		return fail("missing up section")
	}

	m.Up = splitStatements(upBuf.String())
	m.Down = splitStatements(downBuf.String())

	if len(m.Up) == 0 {
		return fail("up section has no statements")
	}

	if m.Name == "" {
		m.Name = nameFromFile(file)
	}

	m.Checksum = Checksum(m)
	return m, nil
}

// nameFromFile derives a fallback name from a "<id>_<slug>.sql" filename.
func nameFromFile(file string) string {
	base := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	if _, slug, ok := strings.Cut(base, "_"); ok && slug != "" {
		return slug
	}
	return base
}

// splitStatements splits raw section text on the ";" terminator, preserving
// source order. Quoted strings (single-quoted and dollar-quoted), line
// comments, and block comments are respected so terminators inside them don't
// split. Comments stay attached to their statement; chunks that contain
// nothing but comments or whitespace are dropped.
func splitStatements(sql string) []Statement {
	var (
		out []Statement
		buf strings.Builder
	)

	flush := func() {
		raw := strings.TrimSpace(buf.String())
		buf.Reset()
		if raw == "" || normalizeSQL(raw) == "" {
			return
		}
		out = append(out, Statement{SQL: raw})
	}

	i, n := 0, len(sql)
	for i < n {
		switch c := sql[i]; {
		case c == '-' && i+1 < n && sql[i+1] == '-':
			end := strings.IndexByte(sql[i:], '\n')
			if end < 0 {
				buf.WriteString(sql[i:])
				i = n
			} else {
				buf.WriteString(sql[i : i+end+1])
				i += end + 1
			}

		case c == '/' && i+1 < n && sql[i+1] == '*':
			j := skipBlockComment(sql, i)
			buf.WriteString(sql[i:j])
			i = j

		case c == '\'':
			j := skipString(sql, i)
			buf.WriteString(sql[i:j])
			i = j

		case c == '$':
			if tag, ok := dollarTag(sql[i:]); ok {
				j := skipDollarQuote(sql, i, tag)
				buf.WriteString(sql[i:j])
				i = j
			} else {
				buf.WriteByte(c)
				i++
			}

		case c == ';':
			flush()
			i++

		default:
			buf.WriteByte(c)
			i++
		}
	}
	flush()

	return out
}

// skipBlockComment returns the index just past the block comment starting at
// i. PostgreSQL block comments nest.
func skipBlockComment(sql string, i int) int {
	depth, j, n := 1, i+2, len(sql)
	for j < n && depth > 0 {
		switch {
		case j+1 < n && sql[j] == '/' && sql[j+1] == '*':
			depth++
			j += 2
		case j+1 < n && sql[j] == '*' && sql[j+1] == '/':
			depth--
			j += 2
		default:
			j++
		}
	}
	return j
}

// skipString returns the index just past the single-quoted string starting at
// i. Doubled quotes ('') escape a quote character.
func skipString(sql string, i int) int {
	j, n := i+1, len(sql)
	for j < n {
		if sql[j] == '\'' {
			if j+1 < n && sql[j+1] == '\'' {
				j += 2
				continue
			}
			return j + 1
		}
		j++
	}
	return n
}

// skipDollarQuote returns the index just past the dollar-quoted string
// starting at i with the given tag (e.g. "$$" or "$body$").
func skipDollarQuote(sql string, i int, tag string) int {
	end := strings.Index(sql[i+len(tag):], tag)
	if end < 0 {
		return len(sql)
	}
	return i + len(tag) + end + len(tag)
}

// dollarTag reports whether s begins a dollar-quoted string, returning the
// full opening tag when it does.
func dollarTag(s string) (string, bool) {
	if len(s) < 2 || s[0] != '$' {
		return "", false
	}

	j := 1
	for j < len(s) && isIdentByte(s[j]) {
		j++
	}
	if j < len(s) && s[j] == '$' {
		return s[:j+1], true
	}
	return "", false
}

func isIdentByte(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
