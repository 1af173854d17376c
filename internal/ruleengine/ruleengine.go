// Package ruleengine evaluates data-mapping rules against ingested channel
// records, producing mapped records plus per-rule timing statistics. It
// consumes the condition/action model built by internal/expr, delegating
// condition evaluation (and regex gating) to internal/condeval.
package ruleengine

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/chanforge/chanforge/internal/cferr"
	"github.com/chanforge/chanforge/internal/condeval"
	"github.com/chanforge/chanforge/internal/expr"
	"github.com/chanforge/chanforge/internal/model"
)

// yieldEvery is how many records the engine processes between cooperative
// cancellation checks, keeping CPU-bound rule evaluation responsive to
// context cancellation without paying a syscall per record.
const yieldEvery = 1000

// defaultRegexCacheSize bounds the shared compiled-regex cache when the
// caller doesn't supply one via NewWithCache.
const defaultRegexCacheSize = 1000

// allowedStreamFields are the rule-expression identifiers usable against
// Channel records.
var allowedStreamFields = []string{
	"tvg_id", "tvg_name", "tvg_logo", "tvg_shift", "tvg_chno",
	"group_title", "channel_name", "stream_url",
}

// RuleTiming aggregates one rule's evaluation cost across a run.
type RuleTiming struct {
	RuleID string
	Count  int
	Total  time.Duration
}

// AvgMicros returns the mean per-record evaluation cost in microseconds.
func (t RuleTiming) AvgMicros() float64 {
	if t.Count == 0 {
		return 0
	}
	return float64(t.Total.Microseconds()) / float64(t.Count)
}

// Engine evaluates a proxy's rules against its ingested channels.
type Engine struct {
	eval   *condeval.Evaluator
	logger zerolog.Logger
}

// New constructs an Engine with its own regex cache of the default size.
func New(logger zerolog.Logger) *Engine {
	return NewWithCache(condeval.NewRegexCache(defaultRegexCacheSize), logger)
}

// NewWithCache constructs an Engine sharing cache with other Evaluators
// (e.g. the Filter Engine) in the same process, so compiled regexes
// amortize across both.
func NewWithCache(cache *condeval.RegexCache, logger zerolog.Logger) *Engine {
	return &Engine{eval: condeval.New(cache, logger), logger: logger}
}

// LogoIndex resolves a logo UUID referenced via "@logo:<uuid>" action values
// to a stored logo's relative path; BaseURL is prefixed to build the final
// URL returned to the caller.
type LogoIndex struct {
	BaseURL string
	Index   map[string]string // uuid -> relative path
}

func (l LogoIndex) resolve(uuid string) (string, bool) {
	if l.Index == nil {
		return "", false
	}
	rel, ok := l.Index[uuid]
	if !ok {
		return "", false
	}
	return strings.TrimSuffix(l.BaseURL, "/") + "/" + strings.TrimPrefix(rel, "/"), true
}

// Result is the outcome of applying a rule set to one record set.
type Result struct {
	Mapped  []model.MappedChannel
	Timings map[string]RuleTiming // keyed by rule ID
}

// Apply evaluates rules, in (SortOrder ASC, CreatedAt ASC) order, against
// every record, mutating a running MappedChannel per record. Rules are
// re-evaluated against the record's *current* effective field values, so
// later rules observe earlier rules' overrides. It honors ctx cancellation
// between batches of yieldEvery records.
func (e *Engine) Apply(ctx context.Context, records []model.Channel, rules []model.Rule, logos LogoIndex) (*Result, error) {
	ordered := make([]model.Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].SortOrder != ordered[j].SortOrder {
			return ordered[i].SortOrder < ordered[j].SortOrder
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	parsed := make([]*expr.ExtendedExpression, len(ordered))
	for i, r := range ordered {
		if !r.Active {
			continue
		}
		pe, err := expr.ParseExtended(r.Expression, allowedStreamFields)
		if err != nil {
			e.logger.Warn().Str("rule_id", r.ID).Str("rule_name", r.Name).Err(err).Msg("rule expression failed to parse, skipping")
			continue
		}
		parsed[i] = pe
	}

	timings := make(map[string]RuleTiming, len(ordered))
	mapped := make([]model.MappedChannel, len(records))

	for i, ch := range records {
		if i > 0 && i%yieldEvery == 0 {
			select {
			case <-ctx.Done():
				return nil, cferr.Cancelled()
			default:
			}
		}

		mc := model.MappedChannel{Original: ch}
		for ri, r := range ordered {
			pe := parsed[ri]
			if pe == nil {
				continue
			}
			start := time.Now()
			e.applyRule(r, pe, &mc, logos)
			elapsed := time.Since(start)

			t := timings[r.ID]
			t.RuleID = r.ID
			t.Count++
			t.Total += elapsed
			timings[r.ID] = t
		}
		mapped[i] = mc
	}

	return &Result{Mapped: mapped, Timings: timings}, nil
}

// applyRule evaluates one rule's condition(s) against mc's current state and
// applies the actions of every group that matched.
func (e *Engine) applyRule(r model.Rule, pe *expr.ExtendedExpression, mc *model.MappedChannel, logos LogoIndex) {
	switch pe.Kind {
	case expr.KindConditionOnly:
		// No actions: a bare condition rule marks membership only (used for
		// filter-style preprocessing upstream); nothing to apply here.
		e.evalAndTrace(r, pe.Condition, mc)
	case expr.KindConditionWithActions:
		matched, captures := e.evalAndTrace(r, pe.Condition, mc)
		if matched {
			e.applyActions(r, pe.Actions, captures, mc, logos)
		}
	case expr.KindConditionalActionGroups:
		matchedAny := false
		for _, g := range pe.Groups {
			matched, captures := e.eval.Eval(g.Condition, mc)
			if matched {
				matchedAny = true
				if len(captures) > 0 {
					mc.Traces = append(mc.Traces, model.RuleTrace{RuleID: r.ID, RuleName: r.Name, Captures: captures})
				}
				// Groups are applied in declaration order, so a later group
				// that matches and writes the same field as an earlier one
				// wins: SetField simply overwrites the prior override.
				e.applyActions(r, g.Actions, captures, mc, logos)
			}
		}
		if matchedAny {
			mc.AppliedRules = append(mc.AppliedRules, r.ID)
		}
	}
}

func (e *Engine) evalAndTrace(r model.Rule, n expr.Node, mc *model.MappedChannel) (bool, map[string]string) {
	matched, captures := e.eval.Eval(n, mc)
	if matched {
		mc.AppliedRules = append(mc.AppliedRules, r.ID)
		if len(captures) > 0 {
			mc.Traces = append(mc.Traces, model.RuleTrace{RuleID: r.ID, RuleName: r.Name, Captures: captures})
		}
	}
	return matched, captures
}
