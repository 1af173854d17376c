package ruleengine

import (
	"regexp"
	"strings"

	"github.com/chanforge/chanforge/internal/expr"
	"github.com/chanforge/chanforge/internal/model"
)

var captureRef = regexp.MustCompile(`\$(\d+)`)

// substituteCaptures replaces "$1".."$N" placeholders in s with the
// corresponding regex capture, or the empty string when the rule's pattern
// had fewer groups than the placeholder references.
func substituteCaptures(s string, captures map[string]string) string {
	if len(captures) == 0 && !strings.ContainsRune(s, '$') {
		return s
	}
	return captureRef.ReplaceAllStringFunc(s, func(m string) string {
		return captures[m]
	})
}

// applyActions applies one action list in declaration order against mc.
func (e *Engine) applyActions(r model.Rule, actions []expr.Action, captures map[string]string, mc *model.MappedChannel, logos LogoIndex) {
	for _, a := range actions {
		e.applyAction(r, a, captures, mc, logos)
	}
}

func (e *Engine) applyAction(r model.Rule, a expr.Action, captures map[string]string, mc *model.MappedChannel, logos LogoIndex) {
	if a.Operator == expr.ActionDelete {
		if model.RequiredFields[a.Field] {
			e.logger.Warn().Str("rule_id", r.ID).Str("field", a.Field).Msg("ignoring DELETE of required field")
			return
		}
		mc.SetField(a.Field, "")
		return
	}

	if a.Value.Kind == expr.ValueFunction {
		// Reserved for future well-known functions (e.g. thumbnail lookups);
		// currently unimplemented, so the action is a no-op rather than
		// writing a placeholder value.
		e.logger.Debug().Str("rule_id", r.ID).Str("field", a.Field).Str("func", a.Value.FuncName).Msg("skipping action with unimplemented function value")
		return
	}

	resolved := e.resolveValue(a.Value, captures, mc, logos)

	switch a.Operator {
	case expr.ActionSet:
		mc.SetField(a.Field, resolved)
	case expr.ActionSetIfEmpty:
		if strings.TrimSpace(mc.Field(a.Field)) == "" {
			mc.SetField(a.Field, resolved)
		}
	case expr.ActionAppend:
		current := mc.Field(a.Field)
		if current == "" {
			mc.SetField(a.Field, resolved)
		} else {
			mc.SetField(a.Field, current+" "+resolved)
		}
	case expr.ActionRemove:
		if resolved == "" {
			return
		}
		mc.SetField(a.Field, strings.ReplaceAll(mc.Field(a.Field), resolved, ""))
	}
}

// resolveValue turns an ActionValue into the literal string to write,
// substituting capture placeholders, reading Variable values from the
// original (unmutated) record, and resolving "@logo:<uuid>" references
// against the logo index.
func (e *Engine) resolveValue(v expr.ActionValue, captures map[string]string, mc *model.MappedChannel, logos LogoIndex) string {
	switch v.Kind {
	case expr.ValueNull:
		return ""
	case expr.ValueVariable:
		return mc.Original.FieldValue(v.Variable)
	case expr.ValueLiteral:
		s := substituteCaptures(v.Literal, captures)
		if uuid, ok := strings.CutPrefix(s, "@logo:"); ok {
			if url, ok := logos.resolve(uuid); ok {
				return url
			}
			return s
		}
		return s
	default:
		return ""
	}
}
