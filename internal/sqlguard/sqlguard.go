// Package sqlguard vets admin-supplied SQL fragments (row filters and
// mapping expressions) before they are interpolated into generated queries.
//
// Fragments are tokenized and checked against an allow-list of expression
// tokens: identifiers, literals, comparison and boolean operators,
// arithmetic, parentheses, and a small set of expression keywords. Anything
// that could start a second statement (separators, comments, DML/DDL
// keywords) is rejected.
//
// This is defense in depth, not a parameterization substitute: fragments
// are still interpolated into SQL, and the real safety boundary remains
// the admin-only command layer that supplies them.
package sqlguard

import (
	"fmt"
	"strings"
	"unicode"
)

// deniedKeywords are statement-level keywords that have no business inside
// a row filter or scalar expression.
var deniedKeywords = map[string]bool{
	"select": true, "insert": true, "update": true, "delete": true,
	"drop": true, "alter": true, "create": true, "truncate": true,
	"merge": true, "grant": true, "revoke": true, "exec": true,
	"execute": true, "union": true, "into": true, "declare": true,
	"waitfor": true, "shutdown": true, "backup": true, "restore": true,
}

// CheckExpression validates a SQL expression fragment. A nil return means
// the fragment contains only allow-listed expression tokens.
func CheckExpression(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return fmt.Errorf("empty expression")
	}

	s := expr
	i := 0
	depth := 0
	for i < len(s) {
		c := s[i]

		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c == ';':
			return fmt.Errorf("statement separator %q not allowed", ";")

		case c == '-' && i+1 < len(s) && s[i+1] == '-':
			return fmt.Errorf("comment %q not allowed", "--")

		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			return fmt.Errorf("comment %q not allowed", "/*")

		case c == '\'':
			end, err := scanString(s, i)
			if err != nil {
				return err
			}
			i = end

		case c == '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return fmt.Errorf("unterminated bracketed identifier")
			}
			i += end + 1

		case c == '"':
			end := strings.IndexByte(s[i+1:], '"')
			if end < 0 {
				return fmt.Errorf("unterminated quoted identifier")
			}
			i += end + 2

		case isIdentStart(rune(c)):
			start := i
			for i < len(s) && isIdentChar(rune(s[i])) {
				i++
			}
			word := strings.ToLower(s[start:i])
			if deniedKeywords[word] {
				return fmt.Errorf("keyword %q not allowed in expression", strings.ToUpper(word))
			}

		case c >= '0' && c <= '9':
			for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.') {
				i++
			}

		case c == '(':
			depth++
			i++

		case c == ')':
			depth--
			if depth < 0 {
				return fmt.Errorf("unbalanced parentheses")
			}
			i++

		case strings.ContainsRune("=<>!+-*/%,.", rune(c)):
			i++

		default:
			return fmt.Errorf("character %q not allowed in expression", c)
		}
	}

	if depth != 0 {
		return fmt.Errorf("unbalanced parentheses")
	}
	return nil
}

// scanString consumes a single-quoted SQL string starting at i, honoring
// the '' escape. Returns the index just past the closing quote.
func scanString(s string, i int) (int, error) {
	i++ // opening quote
	for i < len(s) {
		if s[i] == '\'' {
			if i+1 < len(s) && s[i+1] == '\'' {
				i += 2
				continue
			}
			return i + 1, nil
		}
		i++
	}
	return 0, fmt.Errorf("unterminated string literal")
}

func isIdentStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_' || r == '@'
}

func isIdentChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '$' || r == '#'
}
