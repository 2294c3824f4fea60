package validation

import (
	"fmt"
	"strings"

	"github.com/fbz-tec/pg2parquet/core/errs"
)

// Statements an export may start with. Everything reaches the server through
// COPY (<query>) TO STDOUT and a subquery probe, so only row sources qualify.
var allowedCommands = map[string]bool{
	"SELECT": true,
	"WITH":   true,
	"VALUES": true,
	"TABLE":  true,
}

// Words that modify data or schema. They are rejected anywhere outside
// literals, identifiers and comments.
var forbiddenCommands = map[string]bool{
	"DELETE":   true,
	"DROP":     true,
	"TRUNCATE": true,
	"INSERT":   true,
	"UPDATE":   true,
	"ALTER":    true,
	"CREATE":   true,
	"GRANT":    true,
	"REVOKE":   true,
	"EXECUTE":  true,
	"EXEC":     true,
	"CALL":     true,
	"MERGE":    true,
	"COPY":     true,
}

// ValidateQuery checks that query is a single read-only statement that can be
// wrapped as a subquery. A trailing semicolon is accepted.
func ValidateQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("%w: query cannot be empty", errs.ErrConfig)
	}

	statements, err := splitStatements(query)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrConfig, err)
	}
	switch len(statements) {
	case 0:
		return fmt.Errorf("%w: query contains only comments", errs.ErrConfig)
	case 1:
	default:
		return fmt.Errorf("%w: only a single SQL statement is allowed", errs.ErrConfig)
	}

	words := strings.FieldsFunc(strings.ToUpper(statements[0].text), func(r rune) bool {
		return !(r == '_' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	})
	if len(words) == 0 {
		return fmt.Errorf("%w: unable to identify SQL command", errs.ErrConfig)
	}
	if !allowedCommands[words[0]] {
		if forbiddenCommands[words[0]] {
			return fmt.Errorf("%w: forbidden SQL command detected: %s (read-only mode)", errs.ErrConfig, words[0])
		}
		return fmt.Errorf("%w: unsupported SQL command: %s (only SELECT, WITH, VALUES and TABLE are allowed)", errs.ErrConfig, words[0])
	}
	for _, w := range words[1:] {
		if forbiddenCommands[w] {
			return fmt.Errorf("%w: forbidden SQL command detected: %s (read-only mode)", errs.ErrConfig, w)
		}
	}
	return nil
}

// NormalizeQuery returns the single statement of query without the
// semicolons, comments and whitespace around it, so that it can be embedded
// in another statement.
func NormalizeQuery(query string) string {
	if statements, err := splitStatements(query); err == nil && len(statements) == 1 {
		st := statements[0]
		return query[st.start:st.end]
	}
	q := strings.TrimSpace(query)
	for strings.HasSuffix(q, ";") {
		q = strings.TrimSpace(strings.TrimSuffix(q, ";"))
	}
	return q
}

// statement is one statement found by splitStatements. text has comments and
// literals blanked out; query[start:end] is the original source from its
// first to its last significant byte.
type statement struct {
	text       string
	start, end int
}

// splitStatements blanks out comments, string literals, quoted identifiers
// and dollar-quoted bodies, then splits the remaining text at semicolons.
// Empty statements are dropped.
func splitStatements(query string) ([]statement, error) {
	var statements []statement
	var cur strings.Builder
	start, end := -1, -1

	// mark records that query[from:to] belongs to the current statement.
	mark := func(from, to int) {
		if start < 0 {
			start = from
		}
		end = to
	}
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			statements = append(statements, statement{text: s, start: start, end: end})
		}
		cur.Reset()
		start, end = -1, -1
	}

	n := len(query)
	for i := 0; i < n; {
		c := query[i]
		switch {
		case c == '-' && i+1 < n && query[i+1] == '-':
			for i < n && query[i] != '\n' {
				i++
			}
			cur.WriteByte(' ')

		case c == '/' && i+1 < n && query[i+1] == '*':
			depth := 0
			for i < n {
				if query[i] == '/' && i+1 < n && query[i+1] == '*' {
					depth++
					i += 2
				} else if query[i] == '*' && i+1 < n && query[i+1] == '/' {
					depth--
					i += 2
					if depth == 0 {
						break
					}
				} else {
					i++
				}
			}
			if depth != 0 {
				return nil, fmt.Errorf("unterminated comment")
			}
			cur.WriteByte(' ')

		case c == '\'' || c == '"':
			backslash := c == '\'' && i > 0 && (query[i-1] == 'E' || query[i-1] == 'e') &&
				(i < 2 || !isIdentByte(query[i-2]))
			next, ok := skipQuoted(query, i, c, backslash)
			if !ok {
				return nil, fmt.Errorf("unterminated quoted string")
			}
			mark(i, next)
			i = next
			cur.WriteByte(' ')

		case c == '$':
			if tag, ok := dollarTag(query, i); ok {
				body := strings.Index(query[i+len(tag):], tag)
				if body < 0 {
					return nil, fmt.Errorf("unterminated dollar-quoted string")
				}
				next := i + len(tag) + body + len(tag)
				mark(i, next)
				i = next
				cur.WriteByte(' ')
				continue
			}
			mark(i, i+1)
			cur.WriteByte(c)
			i++

		case c == ';':
			flush()
			i++

		default:
			if !isSpaceByte(c) {
				mark(i, i+1)
			}
			cur.WriteByte(c)
			i++
		}
	}
	flush()
	return statements, nil
}

// skipQuoted returns the index just past the literal starting at query[start].
// A doubled quote escapes itself; backslash escapes apply to E'' strings.
func skipQuoted(query string, start int, quote byte, backslash bool) (int, bool) {
	for i := start + 1; i < len(query); i++ {
		switch {
		case backslash && query[i] == '\\':
			i++
		case query[i] == quote:
			if i+1 < len(query) && query[i+1] == quote {
				i++
				continue
			}
			return i + 1, true
		}
	}
	return 0, false
}

// dollarTag recognizes $$ and $name$ openers. Positional parameters ($1) are
// not tags.
func dollarTag(query string, start int) (string, bool) {
	for i := start + 1; i < len(query); i++ {
		c := query[i]
		if c == '$' {
			return query[start : i+1], true
		}
		isDigit := c >= '0' && c <= '9'
		if !isIdentByte(c) || isDigit && i == start+1 {
			return "", false
		}
	}
	return "", false
}

func isSpaceByte(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
