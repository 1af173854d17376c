// Package filterengine applies a proxy's ordered include/exclude filter
// attachments to a mapped channel list.
package filterengine

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/chanforge/chanforge/internal/condeval"
	"github.com/chanforge/chanforge/internal/expr"
	"github.com/chanforge/chanforge/internal/model"
)

// allowedFilterFields are the rule-expression identifiers usable in a
// filter's condition tree; filters evaluate against the same channel
// fields as rules.
var allowedFilterFields = []string{
	"tvg_id", "tvg_name", "tvg_logo", "tvg_shift", "tvg_chno",
	"group_title", "channel_name", "stream_url",
}

// Engine applies filters.
type Engine struct {
	eval   *condeval.Evaluator
	logger zerolog.Logger
}

// New constructs an Engine with its own regex cache.
func New(logger zerolog.Logger) *Engine {
	return NewWithCache(condeval.NewRegexCache(1000), logger)
}

// NewWithCache constructs an Engine sharing a RegexCache with, e.g., the
// Rule Engine in the same process.
func NewWithCache(cache *condeval.RegexCache, logger zerolog.Logger) *Engine {
	return &Engine{eval: condeval.New(cache, logger), logger: logger}
}

func channelKey(mc model.MappedChannel) string {
	if mc.Original.ID != "" {
		return mc.Original.ID
	}
	return mc.Original.DedupKey
}

// Apply runs attachments, sorted by PriorityOrder ascending, over channels
// per the include/exclude algorithm from the component design: start from
// an empty result set; an INCLUDE filter evaluates against the original
// input and unions matches into result (dedup by channel id); an EXCLUDE
// filter evaluates against the current result and removes matches from it.
// Inactive attachments are skipped; when no attachment is active, the input
// is returned unchanged, in order. A filter whose expression fails to
// parse is a permissive default: INCLUDE matches everything, EXCLUDE
// matches nothing — a filter error never silently drops all channels.
func (e *Engine) Apply(channels []model.MappedChannel, attachments []model.FilterAttachment) []model.MappedChannel {
	ordered := make([]model.FilterAttachment, len(attachments))
	copy(ordered, attachments)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].PriorityOrder < ordered[j].PriorityOrder
	})

	anyActive := false
	for _, att := range ordered {
		if att.Active {
			anyActive = true
			break
		}
	}
	if !anyActive {
		out := make([]model.MappedChannel, len(channels))
		copy(out, channels)
		return out
	}

	original := channels
	result := make([]model.MappedChannel, 0, len(channels))
	inResult := make(map[string]bool, len(channels))

	addToResult := func(mc model.MappedChannel) {
		k := channelKey(mc)
		if inResult[k] {
			return
		}
		inResult[k] = true
		result = append(result, mc)
	}

	removeFromResult := func(matches map[string]bool) {
		if len(matches) == 0 {
			return
		}
		kept := result[:0:0]
		for _, mc := range result {
			k := channelKey(mc)
			if matches[k] {
				delete(inResult, k)
				continue
			}
			kept = append(kept, mc)
		}
		result = kept
	}

	for _, att := range ordered {
		if !att.Active {
			continue
		}
		node, err := expr.Parse(att.Filter.Expression, allowedFilterFields)
		permissive := err != nil
		if permissive {
			e.logger.Warn().Str("filter_id", att.Filter.ID).Str("filter_name", att.Filter.Name).Err(err).
				Msg("filter expression failed to parse, applying permissive default")
		}

		if att.Filter.IsInverse {
			// EXCLUDE: evaluate over the current result set, remove matches.
			// Permissive default for a broken EXCLUDE is "matches nothing",
			// i.e. a no-op — it never removes channels it can't evaluate.
			matches := map[string]bool{}
			if !permissive {
				for _, mc := range result {
					if e.matches(node, mc) {
						matches[channelKey(mc)] = true
					}
				}
			}
			removeFromResult(matches)
			continue
		}

		// INCLUDE: evaluate over the original input, union matches into result.
		for _, mc := range original {
			if permissive || e.matches(node, mc) {
				addToResult(mc)
			}
		}
	}

	return result
}

func (e *Engine) matches(node expr.Node, mc model.MappedChannel) bool {
	matched, _ := e.eval.Eval(node, &mc)
	return matched
}
