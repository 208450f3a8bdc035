package core

import (
	"fmt"
	"regexp"
	"strings"
)

// Glob matches names against a Redis PSUBSCRIBE style pattern: "*" matches
// any run of characters including "/" and ".", "?" one character, "[...]"
// a class ("[^...]" negated), and "\" escapes the next character.
type Glob struct {
	pattern string
	re      *regexp.Regexp
}

// CompileGlob parses pattern.
func CompileGlob(pattern string) (Glob, error) {
	var b strings.Builder
	b.WriteString(`(?s)^`)
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '*':
			b.WriteString(`.*`)
		case '?':
			b.WriteString(`.`)
		case '[':
			end := strings.IndexByte(pattern[i+1:], ']')
			if end < 0 {
				return Glob{}, fmt.Errorf("glob %q: unterminated class", pattern)
			}
			class := pattern[i+1 : i+1+end]
			b.WriteByte('[')
			b.WriteString(strings.ReplaceAll(class, `\`, `\\`))
			b.WriteByte(']')
			i += end + 1
		case '\\':
			if i+1 < len(pattern) {
				i++
			}
			b.WriteString(regexp.QuoteMeta(pattern[i : i+1]))
		default:
			b.WriteString(regexp.QuoteMeta(pattern[i : i+1]))
		}
	}
	b.WriteByte('$')
	re, err := regexp.Compile(b.String())
	if err != nil {
		return Glob{}, fmt.Errorf("glob %q: %w", pattern, err)
	}
	return Glob{pattern: pattern, re: re}, nil
}

func (g Glob) String() string { return g.pattern }

// Match reports whether name matches the pattern.
func (g Glob) Match(name string) bool { return g.re != nil && g.re.MatchString(name) }
