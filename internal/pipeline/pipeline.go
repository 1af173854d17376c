// Package pipeline is the Orchestrator: it drives one proxy's channels
// through the Queued → SourceLoading → DataMapping → Filtering → Numbering
// → Emitting → Persisting → Completed state machine, publishing each
// transition to internal/progress and stopping at Failed(step, error) on
// the first fault.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/chanforge/chanforge/internal/cferr"
	"github.com/chanforge/chanforge/internal/filterengine"
	"github.com/chanforge/chanforge/internal/m3uout"
	"github.com/chanforge/chanforge/internal/model"
	"github.com/chanforge/chanforge/internal/numbering"
	"github.com/chanforge/chanforge/internal/ruleengine"
	"github.com/chanforge/chanforge/internal/store"
)

// StageReporter mirrors internal/ingeststate.StageReporter; Run reports
// against it directly so a caller driving the orchestrator through
// internal/ingeststate.Manager.Run doesn't need an adapter.
type StageReporter interface {
	Stage(stageID string, percentage float64, state model.ProgressState, currentStep string)
}

// Stages names the orchestrator's state machine steps, in order, for
// internal/progress.Start's stageNames argument.
func Stages() []string {
	return []string{"SourceLoading", "DataMapping", "Filtering", "Numbering", "Emitting", "Persisting"}
}

// Orchestrator wires one proxy's stream sources, rules, and filters into a
// generated M3U artifact.
type Orchestrator struct {
	Store        store.Store
	RuleEngine   *ruleengine.Engine
	FilterEngine *filterengine.Engine
	Logger       zerolog.Logger
}

// New constructs an Orchestrator sharing st and engines built with their
// own regex caches; use NewWithEngines to share a cache across components
// in the same process.
func New(st store.Store, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		Store:        st,
		RuleEngine:   ruleengine.New(logger),
		FilterEngine: filterengine.New(logger),
		Logger:       logger,
	}
}

func NewWithEngines(st store.Store, re *ruleengine.Engine, fe *filterengine.Engine, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{Store: st, RuleEngine: re, FilterEngine: fe, Logger: logger}
}

// Result is the outcome of one successful orchestration run.
type Result struct {
	Artifact     string
	GeneratedAt  time.Time
	ChannelCount int
}

// Run executes one full pass for proxyID. A failure at any step is
// returned as an error (cferr-typed for persistence failures and
// cancellation); Run makes no attempt to figure out which step failed
// beyond what the error's message already says, since the caller (the
// regeneration callback wired in cmd/chanforge) publishes Failed via the
// Progress Service from the returned error alone.
func (o *Orchestrator) Run(ctx context.Context, proxyID string, report StageReporter) (Result, error) {
	proxy, err := o.Store.GetProxy(ctx, proxyID)
	if err != nil {
		return Result{}, fmt.Errorf("load proxy %s: %w", proxyID, err)
	}

	report.Stage("SourceLoading", 0, model.StateProcessing, "loading channels")
	channels, err := o.Store.ListChannels(ctx, proxy.StreamSourceIDs)
	if err != nil {
		return Result{}, cferr.Persistence(fmt.Sprintf("list channels for proxy %s", proxyID), err)
	}
	rules, err := o.Store.ListRules(ctx, proxyID)
	if err != nil {
		return Result{}, cferr.Persistence(fmt.Sprintf("list rules for proxy %s", proxyID), err)
	}
	report.Stage("SourceLoading", 100, model.StateProcessing, fmt.Sprintf("%d channels, %d rules", len(channels), len(rules)))

	if err := checkCancelled(ctx); err != nil {
		return Result{}, err
	}

	report.Stage("DataMapping", 0, model.StateProcessing, "applying rules")
	mapResult, err := o.RuleEngine.Apply(ctx, channels, rules, ruleengine.LogoIndex{})
	if err != nil {
		return Result{}, fmt.Errorf("apply rules for proxy %s: %w", proxyID, err)
	}
	report.Stage("DataMapping", 100, model.StateProcessing, fmt.Sprintf("%d mapped", len(mapResult.Mapped)))

	if err := checkCancelled(ctx); err != nil {
		return Result{}, err
	}

	// IsRemoved is never set by the Rule Engine; it is carried on
	// MappedChannel for structural parity with the upstream record format
	// and checked here as a defensive boundary, not a live code path.
	report.Stage("Filtering", 0, model.StateProcessing, "applying filters")
	survivors := dropRemoved(mapResult.Mapped)
	filters, err := o.Store.ListFilters(ctx, proxyID)
	if err != nil {
		return Result{}, cferr.Persistence(fmt.Sprintf("list filters for proxy %s", proxyID), err)
	}
	filtered := o.FilterEngine.Apply(survivors, filters)
	report.Stage("Filtering", 100, model.StateProcessing, fmt.Sprintf("%d survive", len(filtered)))

	if err := checkCancelled(ctx); err != nil {
		return Result{}, err
	}

	report.Stage("Numbering", 0, model.StateProcessing, "assigning channel numbers")
	numbered := numbering.Assign(filtered, proxy.StartingChannelNumber)
	report.Stage("Numbering", 100, model.StateProcessing, fmt.Sprintf("%d numbered", len(numbered)))

	if err := checkCancelled(ctx); err != nil {
		return Result{}, err
	}

	report.Stage("Emitting", 0, model.StateProcessing, "")
	artifact := m3uout.Write(numbered)
	report.Stage("Emitting", 100, model.StateProcessing, fmt.Sprintf("%d bytes", len(artifact)))

	if err := checkCancelled(ctx); err != nil {
		return Result{}, err
	}

	report.Stage("Persisting", 0, model.StateSaving, "")
	tx, err := o.Store.BeginTx(ctx)
	if err != nil {
		return Result{}, cferr.Persistence(fmt.Sprintf("begin artifact transaction for proxy %s", proxyID), err)
	}
	generatedAt := time.Now()
	if err := o.Store.SaveProxyArtifact(ctx, tx, proxyID, artifact, generatedAt); err != nil {
		_ = tx.Rollback()
		return Result{}, cferr.Persistence(fmt.Sprintf("save artifact for proxy %s", proxyID), err)
	}
	if err := tx.Commit(); err != nil {
		return Result{}, cferr.Persistence(fmt.Sprintf("commit artifact for proxy %s", proxyID), err)
	}
	report.Stage("Persisting", 100, model.StateSaving, "")

	return Result{Artifact: artifact, GeneratedAt: generatedAt, ChannelCount: len(numbered)}, nil
}

func dropRemoved(mapped []model.MappedChannel) []model.MappedChannel {
	out := make([]model.MappedChannel, 0, len(mapped))
	for _, mc := range mapped {
		if mc.IsRemoved {
			continue
		}
		out = append(out, mc)
	}
	return out
}

// checkCancelled gives Run a cancellation check at every stage boundary,
// per the cancellation contract: a cancelled run fails rather than
// persisting a partial artifact.
func checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return cferr.Cancelled()
	default:
		return nil
	}
}
