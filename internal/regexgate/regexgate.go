// Package regexgate implements the fast pre-filter that decides whether a
// full regex match is worth running at all: it must never produce a false
// negative (anything the real regexp package would match, the gate must
// also let through), so it is conservative by construction.
package regexgate

import "strings"

// Config tunes the gate's heuristics.
type Config struct {
	// MinLiteralLen is the minimum run length of literal characters
	// extracted from the pattern to use as a pre-filter. Default 2.
	MinLiteralLen int
	// StrongChars are special characters whose presence in the pattern's
	// extracted literal text, absent from field_value, lets the gate reject
	// early. Characters acting as regex syntax (quantifiers, anchors, class
	// contents, escapes) are not counted.
	StrongChars string
}

// DefaultConfig matches the values named in the design: literal runs of at
// least two characters, and the usual "strong" punctuation set.
func DefaultConfig() Config {
	return Config{
		MinLiteralLen: 2,
		StrongChars:   "+-@#$%&*=<>!~",
	}
}

var defaultCfg = DefaultConfig()

// ShouldRun reports whether the real regex engine should be invoked against
// fieldValue for pattern. It is a pure function of (fieldValue, pattern) and
// takes no per-field context.
func ShouldRun(fieldValue, pattern string) bool {
	return ShouldRunWithConfig(fieldValue, pattern, defaultCfg)
}

// ShouldRunWithConfig is ShouldRun with an explicit Config.
func ShouldRunWithConfig(fieldValue, pattern string, cfg Config) bool {
	if cfg.MinLiteralLen <= 0 {
		cfg.MinLiteralLen = 2
	}

	literals := extractLiterals(pattern, cfg.MinLiteralLen)
	if len(literals) == 0 {
		// No usable literal could be extracted: safe default is to run.
		return true
	}

	lowerValue := strings.ToLower(fieldValue)
	for _, lit := range literals {
		if !strings.Contains(lowerValue, strings.ToLower(lit)) {
			return false
		}
	}

	if cfg.StrongChars != "" && containsAny(strings.Join(literals, ""), cfg.StrongChars) && !containsAny(fieldValue, cfg.StrongChars) {
		return false
	}

	return true
}

func containsAny(s, chars string) bool {
	return strings.ContainsAny(s, chars)
}

// metaChars are regex metacharacters that break a literal run. Character
// classes ('[' ... ']') and escape sequences are skipped as units so their
// contents never leak into a literal run (they may not appear verbatim in
// the matched text).
const metaChars = `.^$*+?()[]{}|\`

// groupFrame tracks one level of parenthesis nesting while extracting
// literals: mark is the literals-slice length when the group opened, and
// sawAlternation records whether a top-level '|' occurred directly inside
// it (in which case none of the literals found inside are guaranteed to
// appear — only one alternative needs to match).
type groupFrame struct {
	mark          int
	sawAlternation bool
}

// extractLiterals walks the pattern, skipping metacharacter runs and
// character classes, and collects runs of literal characters at least
// minLen long that are guaranteed to appear in any string the pattern
// matches. Literals inside an alternation, or inside a group made optional
// by a trailing '?'/'*', are discarded rather than risk a false negative.
func extractLiterals(pattern string, minLen int) []string {
	var literals []string
	var cur strings.Builder
	stack := []groupFrame{{mark: 0}} // base frame = top level

	flush := func() {
		if cur.Len() >= minLen {
			literals = append(literals, cur.String())
		}
		cur.Reset()
	}

	// trimLastRune drops the final rune of the pending literal before it is
	// flushed, used when that rune is immediately followed by a '?'/'*'
	// quantifier and so is not guaranteed to occur.
	trimLastRune := func() {
		s := cur.String()
		if s == "" {
			return
		}
		r := []rune(s)
		cur.Reset()
		cur.WriteString(string(r[:len(r)-1]))
	}

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\\':
			// Escape sequence: consumes the next rune too. \d, \w, \s etc.
			// are not literal; \. \+ etc. escape a literal char but we
			// conservatively treat all escapes as non-literal to avoid
			// false negatives from subtle escape semantics.
			flush()
			i++
		case r == '[':
			flush()
			// Skip to the matching ']', respecting a leading '^' or ']'.
			j := i + 1
			if j < len(runes) && runes[j] == '^' {
				j++
			}
			if j < len(runes) && runes[j] == ']' {
				j++
			}
			for j < len(runes) && runes[j] != ']' {
				j++
			}
			i = j
		case r == '(':
			flush()
			stack = append(stack, groupFrame{mark: len(literals)})
		case r == ')':
			flush()
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if top.sawAlternation {
				literals = literals[:top.mark]
			} else if i+1 < len(runes) && (runes[i+1] == '?' || runes[i+1] == '*') {
				literals = literals[:top.mark]
			}
		case r == '|':
			flush()
			stack[len(stack)-1].sawAlternation = true
		case r == '?' || r == '*':
			trimLastRune()
			flush()
		case strings.ContainsRune(metaChars, r):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()

	base := stack[0]
	if base.sawAlternation {
		literals = literals[:base.mark]
	}
	return literals
}
