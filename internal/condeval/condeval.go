// Package condeval evaluates an expr.Node condition tree against a field
// reader, shared by both the Rule Engine and the Filter Engine so the
// "matches" regex-gating logic and short-circuit boolean semantics exist
// in exactly one place.
package condeval

import (
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/chanforge/chanforge/internal/expr"
	"github.com/chanforge/chanforge/internal/regexgate"
)

// FieldReader resolves a rule-expression field name to its current string
// value; *model.MappedChannel satisfies it. model.Channel offers the same
// lookup as FieldValue but does not implement FieldReader.
type FieldReader interface {
	Field(name string) string
}

// Evaluator evaluates condition trees against a FieldReader, gating every
// "matches"/"not_matches" atom through the regex preprocessor and caching
// compiled patterns in a shared RegexCache.
type Evaluator struct {
	cache  *RegexCache
	logger zerolog.Logger
}

// New constructs an Evaluator over the given cache. Share one RegexCache
// across every Evaluator in a process so compiled patterns amortize.
func New(cache *RegexCache, logger zerolog.Logger) *Evaluator {
	return &Evaluator{cache: cache, logger: logger}
}

// Eval evaluates a condition tree with short-circuit semantics: AND stops
// at the first false child, OR at the first true child. Captures
// accumulate from every child actually evaluated along the matching path,
// keyed "$1".."$N".
func (e *Evaluator) Eval(n expr.Node, fields FieldReader) (bool, map[string]string) {
	switch v := n.(type) {
	case *expr.Condition:
		return e.evalCondition(v, fields)
	case *expr.Group:
		captures := map[string]string{}
		if v.Operator == expr.And {
			for _, child := range v.Children {
				ok, caps := e.Eval(child, fields)
				for k, val := range caps {
					captures[k] = val
				}
				if !ok {
					return false, captures
				}
			}
			return true, captures
		}
		for _, child := range v.Children {
			ok, caps := e.Eval(child, fields)
			if ok {
				for k, val := range caps {
					captures[k] = val
				}
				return true, captures
			}
		}
		return false, captures
	}
	return false, nil
}

// baseOperator strips a Condition's operator down to its positive form and
// reports whether the original was the negated ("not_*") variant.
func baseOperator(op expr.Operator) (expr.Operator, bool) {
	if pos, ok := expr.Negate(op); ok {
		switch op {
		case expr.OpNotEquals, expr.OpNotContains, expr.OpNotStartsWith, expr.OpNotEndsWith, expr.OpNotMatches:
			return pos, true
		}
	}
	return op, false
}

func (e *Evaluator) evalCondition(c *expr.Condition, fields FieldReader) (bool, map[string]string) {
	value := fields.Field(c.Field)
	base, isNegatedForm := baseOperator(c.Operator)

	var positive bool
	var captures map[string]string

	switch base {
	case expr.OpEquals:
		positive = compareStrings(value, c.Value, c.CaseSensitive, func(a, b string) bool { return a == b })
	case expr.OpContains:
		positive = compareStrings(value, c.Value, c.CaseSensitive, strings.Contains)
	case expr.OpStartsWith:
		positive = compareStrings(value, c.Value, c.CaseSensitive, strings.HasPrefix)
	case expr.OpEndsWith:
		positive = compareStrings(value, c.Value, c.CaseSensitive, strings.HasSuffix)
	case expr.OpMatches:
		positive, captures = e.evalMatches(value, c.Value, c.CaseSensitive)
	case expr.OpBefore, expr.OpAfter, expr.OpGT, expr.OpLT, expr.OpGTE, expr.OpLTE:
		positive = evalComparator(base, value, c.Value)
	}

	result := positive
	if isNegatedForm {
		result = !result
	}
	if c.Negate {
		result = !result
	}
	return result, captures
}

func compareStrings(value, target string, caseSensitive bool, cmp func(a, b string) bool) bool {
	if !caseSensitive {
		value = strings.ToLower(value)
		target = strings.ToLower(target)
	}
	return cmp(value, target)
}

// evalMatches runs the regex preprocessor gate before ever invoking the
// real engine; a malformed pattern is logged and treated as a non-match
// (the caller's negation handling turns that into "true" for NotMatches,
// per the documented failure mode).
func (e *Evaluator) evalMatches(value, pattern string, caseSensitive bool) (bool, map[string]string) {
	if !regexgate.ShouldRun(value, pattern) {
		return false, nil
	}
	re, err := e.cache.compile(pattern, !caseSensitive)
	if err != nil {
		e.logger.Warn().Str("pattern", pattern).Err(err).Msg("malformed regex in condition, treating as non-match")
		return false, nil
	}
	m := re.FindStringSubmatch(value)
	if m == nil {
		return false, nil
	}
	captures := make(map[string]string, len(m)-1)
	for i := 1; i < len(m); i++ {
		captures["$"+strconv.Itoa(i)] = m[i]
	}
	return true, captures
}

func evalComparator(op expr.Operator, value, target string) bool {
	vt, vErr := time.Parse(time.RFC3339, value)
	tt, tErr := time.Parse(time.RFC3339, target)
	if vErr == nil && tErr == nil {
		switch op {
		case expr.OpBefore:
			return vt.Before(tt)
		case expr.OpAfter:
			return vt.After(tt)
		case expr.OpGTE:
			return !vt.Before(tt)
		case expr.OpLTE:
			return !vt.After(tt)
		case expr.OpGT:
			return vt.After(tt)
		case expr.OpLT:
			return vt.Before(tt)
		}
	}

	vn, vnErr := strconv.ParseFloat(value, 64)
	tn, tnErr := strconv.ParseFloat(target, 64)
	if vnErr != nil || tnErr != nil {
		return false
	}
	switch op {
	case expr.OpGT, expr.OpAfter:
		return vn > tn
	case expr.OpLT, expr.OpBefore:
		return vn < tn
	case expr.OpGTE:
		return vn >= tn
	case expr.OpLTE:
		return vn <= tn
	}
	return false
}
