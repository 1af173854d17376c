// Package ingeststate is the Ingestion State Manager: it enforces a
// single-flight guarantee per source, hands out a per-source cancel token,
// and publishes stage progress to internal/progress for the duration of one
// refresh run.
package ingeststate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/chanforge/chanforge/internal/cferr"
	"github.com/chanforge/chanforge/internal/model"
	"github.com/chanforge/chanforge/internal/progress"
)

// StageReporter lets an ingestor publish stage-level progress without
// depending on internal/progress directly.
type StageReporter interface {
	Stage(stageID string, percentage float64, state model.ProgressState, currentStep string)
}

// RunFunc is the work performed for one refresh: it must honor ctx
// cancellation and report its own stage progress through report.
type RunFunc func(ctx context.Context, report StageReporter) error

// Manager tracks in-flight refreshes, one per source ID.
type Manager struct {
	mu       sync.Mutex
	active   map[string]context.CancelFunc
	group    singleflight.Group
	progress *progress.Store
}

// New constructs a Manager publishing stage updates to store.
func New(store *progress.Store) *Manager {
	return &Manager{
		active:   make(map[string]context.CancelFunc),
		progress: store,
	}
}

// IsActive reports whether sourceID currently has a non-terminal refresh.
func (m *Manager) IsActive(sourceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[sourceID]
	return ok
}

// Cancel cancels sourceID's active refresh, if any, and reports whether one
// was found.
func (m *Manager) Cancel(sourceID string) bool {
	m.mu.Lock()
	cancel, ok := m.active[sourceID]
	m.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Run executes fn as sourceID's refresh under the single-flight guarantee:
// if sourceID already has a non-terminal refresh, Run returns an
// OperationInProgress error immediately without calling fn. Otherwise it
// registers a cancel token (derived from parent), starts a progress.Store
// record with the given stage names, runs fn, and reports its outcome
// (Completed/Cancelled/Error) before releasing the slot.
//
// The active-map check and registration happen under one lock, so a second
// caller for the same source is always rejected above and never reaches
// the singleflight.Group; Do is a redundant second guard around fn.
func (m *Manager) Run(parent context.Context, sourceID, sourceName string, stageNames []string, fn RunFunc) error {
	m.mu.Lock()
	if _, ok := m.active[sourceID]; ok {
		m.mu.Unlock()
		return cferr.OperationInProgress(fmt.Sprintf("refresh already in progress for source %s", sourceID))
	}
	ctx, cancel := context.WithCancel(parent)
	m.active[sourceID] = cancel
	m.mu.Unlock()

	key := progress.Key{OwnerType: "source", OwnerID: sourceID}
	m.progress.Start(key, model.OperationIngestion, sourceName, stageNames)
	reporter := stageReporter{store: m.progress, key: key}

	_, runErr, _ := m.group.Do(sourceID, func() (any, error) {
		return nil, fn(ctx, reporter)
	})

	m.mu.Lock()
	delete(m.active, sourceID)
	m.mu.Unlock()
	cancel()

	switch {
	case runErr == nil:
		m.progress.Complete(key)
	case errors.Is(runErr, context.Canceled):
		m.progress.Cancel(key)
	default:
		m.progress.Fail(key, runErr.Error())
	}
	return runErr
}

type stageReporter struct {
	store *progress.Store
	key   progress.Key
}

func (r stageReporter) Stage(stageID string, percentage float64, state model.ProgressState, currentStep string) {
	r.store.UpdateStage(r.key, stageID, percentage, state, currentStep)
}
