package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanforge/chanforge/internal/model"
	"github.com/chanforge/chanforge/internal/store"
)

type noopReporter struct{}

func (noopReporter) Stage(string, float64, model.ProgressState, string) {}

func newTestOrchestrator(st store.Store) *Orchestrator {
	return New(st, zerolog.Nop())
}

func seedBasicProxy(t *testing.T, st *store.MemStore) {
	t.Helper()
	tx, err := st.BeginTx(context.Background())
	require.NoError(t, err)
	require.NoError(t, st.UpsertChannels(context.Background(), tx, "src-1", []model.Channel{
		{ID: "1", SourceID: "src-1", ChannelName: "BBC One", StreamURL: "http://x/1.ts", GroupTitle: "UK"},
		{ID: "2", SourceID: "src-1", ChannelName: "CNN", StreamURL: "http://x/2.ts", GroupTitle: "News"},
	}))
	require.NoError(t, tx.Commit())
	st.PutProxy(model.Proxy{ID: "p1", Name: "Proxy 1", StreamSourceIDs: []string{"src-1"}, StartingChannelNumber: 100})
}

func TestRunProducesArtifactAndPersistsIt(t *testing.T) {
	st := store.NewMemStore()
	seedBasicProxy(t, st)
	o := newTestOrchestrator(st)

	result, err := o.Run(context.Background(), "p1", noopReporter{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.ChannelCount)
	assert.True(t, strings.HasPrefix(result.Artifact, "#EXTM3U\n"))
	assert.Contains(t, result.Artifact, "BBC One")

	saved, _, err := st.GetProxyArtifact(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, result.Artifact, saved)
}

// IsRemoved is never written by the Rule Engine (it is carried on
// MappedChannel only for structural parity with the upstream record
// shape), so dropRemoved is exercised directly here rather than through a
// rule that could set it.
func TestDropRemovedFiltersMarkedChannels(t *testing.T) {
	mapped := []model.MappedChannel{
		{Original: model.Channel{ID: "1", ChannelName: "BBC One"}},
		{Original: model.Channel{ID: "2", ChannelName: "CNN"}, IsRemoved: true},
	}

	survivors := dropRemoved(mapped)

	require.Len(t, survivors, 1)
	assert.Equal(t, "1", survivors[0].Original.ID)
}

func TestRunAppliesActiveFilters(t *testing.T) {
	st := store.NewMemStore()
	seedBasicProxy(t, st)
	st.PutFilters("p1", []model.FilterAttachment{
		{Filter: model.Filter{ID: "f1", Expression: `group_title equals "News"`}, PriorityOrder: 1, Active: true},
	})
	o := newTestOrchestrator(st)

	result, err := o.Run(context.Background(), "p1", noopReporter{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ChannelCount)
	assert.Contains(t, result.Artifact, "CNN")
	assert.NotContains(t, result.Artifact, "BBC One")
}

func TestRunUnknownProxyIsError(t *testing.T) {
	st := store.NewMemStore()
	o := newTestOrchestrator(st)

	_, err := o.Run(context.Background(), "missing", noopReporter{})
	require.Error(t, err)
}

func TestRunCancelledContextFailsWithoutPersisting(t *testing.T) {
	st := store.NewMemStore()
	seedBasicProxy(t, st)
	o := newTestOrchestrator(st)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Run(ctx, "p1", noopReporter{})
	require.Error(t, err)

	_, _, getErr := st.GetProxyArtifact(context.Background(), "p1")
	assert.Error(t, getErr)
}

func TestRunReportsAllSixStages(t *testing.T) {
	st := store.NewMemStore()
	seedBasicProxy(t, st)
	o := newTestOrchestrator(st)

	var seen []string
	reporter := stageRecorder(func(stageID string, _ float64, _ model.ProgressState, _ string) {
		if len(seen) == 0 || seen[len(seen)-1] != stageID {
			seen = append(seen, stageID)
		}
	})

	_, err := o.Run(context.Background(), "p1", reporter)
	require.NoError(t, err)
	assert.Equal(t, Stages(), seen)
}

type stageRecorder func(stageID string, percentage float64, state model.ProgressState, currentStep string)

func (f stageRecorder) Stage(stageID string, percentage float64, state model.ProgressState, currentStep string) {
	f(stageID, percentage, state, currentStep)
}
