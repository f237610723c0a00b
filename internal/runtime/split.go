package runtime

import (
	"strings"
	"unicode"
)

// SplitStatements breaks a SQL script into individual statements on
// top-level semicolons. Quoted strings, quoted identifiers and comments are
// kept intact. Statements that contain only whitespace or comments are
// dropped.
//
// Trigger bodies (BEGIN ... END with inner semicolons) are not recognized.
func SplitStatements(script string) []string {
	var (
		stmts []string
		cur   strings.Builder
		quote rune // active quote or bracket terminator, 0 when none
	)

	flush := func() {
		s := strings.TrimSpace(cur.String())
		cur.Reset()
		if !blank(s) {
			stmts = append(stmts, s)
		}
	}

	runes := []rune(script)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if quote != 0 {
			cur.WriteRune(r)
			if r == quote {
				// Doubled quote is an escaped quote, stay inside.
				if quote != ']' && i+1 < len(runes) && runes[i+1] == quote {
					cur.WriteRune(runes[i+1])
					i++
					continue
				}
				quote = 0
			}
			continue
		}

		switch {
		case r == '\'' || r == '"' || r == '`':
			quote = r
			cur.WriteRune(r)
		case r == '[':
			quote = ']'
			cur.WriteRune(r)
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			end := i
			for end < len(runes) && runes[end] != '\n' {
				end++
			}
			cur.WriteString(string(runes[i:end]))
			i = end - 1
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			end := i + 2
			for end < len(runes) && !(runes[end] == '*' && end+1 < len(runes) && runes[end+1] == '/') {
				end++
			}
			end = min(end+2, len(runes))
			cur.WriteString(string(runes[i:end]))
			i = end - 1
		case r == ';':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()

	return stmts
}

// blank reports whether stmt holds nothing but whitespace and comments.
func blank(stmt string) bool {
	s := stmt
	for {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		switch {
		case s == "":
			return true
		case strings.HasPrefix(s, "--"):
			nl := strings.IndexByte(s, '\n')
			if nl < 0 {
				return true
			}
			s = s[nl+1:]
		case strings.HasPrefix(s, "/*"):
			end := strings.Index(s[2:], "*/")
			if end < 0 {
				return true
			}
			s = s[end+4:]
		default:
			return false
		}
	}
}
