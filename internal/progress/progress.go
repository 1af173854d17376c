// Package progress implements the universal multi-stage progress tracker
// shared by ingestion and regeneration operations: one ProgressRecord per
// operation, coalesced updates for the live UI, and short-lived retention
// of terminal records so a final SSE fetch still sees them.
package progress

import (
	"sync"
	"time"

	"github.com/chanforge/chanforge/internal/model"
)

// Key identifies one tracked operation.
type Key struct {
	OwnerType string
	OwnerID   string
}

const (
	defaultMinPublishInterval = 100 * time.Millisecond // <=10Hz
	defaultGracePeriod        = 30 * time.Second
)

// Store is a concurrent registry of in-flight and recently-completed
// ProgressRecords, one per Key.
type Store struct {
	mu      sync.RWMutex
	entries map[Key]*entry

	minPublishInterval time.Duration
	gracePeriod        time.Duration
}

type entry struct {
	mu          sync.Mutex
	record      model.ProgressRecord
	lastPublish time.Time
	subs        []chan model.ProgressRecord
	cleanup     *time.Timer
}

// Option configures a Store.
type Option func(*Store)

// WithMinPublishInterval overrides the default ~10Hz publish coalescing rate.
func WithMinPublishInterval(d time.Duration) Option {
	return func(s *Store) { s.minPublishInterval = d }
}

// WithGracePeriod overrides how long a terminal record is retained after
// completion before it is evicted from the store.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Store) { s.gracePeriod = d }
}

// NewStore constructs an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		entries:            make(map[Key]*entry),
		minPublishInterval: defaultMinPublishInterval,
		gracePeriod:        defaultGracePeriod,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start creates a fresh record for key in its Preparing state with the given
// named stages, replacing any prior (terminal) record under the same key.
func (s *Store) Start(key Key, opType model.OperationType, opName string, stageNames []string) model.ProgressRecord {
	stages := make([]model.Stage, len(stageNames))
	for i, name := range stageNames {
		stages[i] = model.Stage{ID: name, Name: name, State: model.StateIdle}
	}

	now := time.Now()
	rec := model.ProgressRecord{
		OwnerID:       key.OwnerID,
		OwnerType:     key.OwnerType,
		OperationType: opType,
		OperationName: opName,
		State:         model.StatePreparing,
		Stages:        stages,
		StartedAt:     now,
		LastUpdate:    now,
	}

	e := &entry{record: rec, lastPublish: now}

	s.mu.Lock()
	if old, ok := s.entries[key]; ok {
		old.mu.Lock()
		stopCleanup(old)
		closeSubs(old)
		old.mu.Unlock()
	}
	s.entries[key] = e
	s.mu.Unlock()

	return rec
}

// UpdateStage advances one named stage's state/percentage/current-step,
// recomputes the record's overall percentage, and publishes the update to
// subscribers, coalesced to at most minPublishInterval. Reports are silently
// dropped for an unknown key or stage: a late update racing a Start/Complete
// is not an error the caller needs to handle.
func (s *Store) UpdateStage(key Key, stageID string, percentage float64, state model.ProgressState, currentStep string) {
	e := s.lookup(key)
	if e == nil {
		return
	}

	e.mu.Lock()
	found := false
	for i := range e.record.Stages {
		if e.record.Stages[i].ID == stageID {
			e.record.Stages[i].Percentage = percentage
			e.record.Stages[i].State = state
			e.record.Stages[i].CurrentStep = currentStep
			found = true
			break
		}
	}
	if !found {
		e.mu.Unlock()
		return
	}

	if e.record.State != model.StateCompleted && e.record.State != model.StateError && e.record.State != model.StateCancelled {
		e.record.State = state
	}
	e.record.OverallPercentage = overallPercentage(e.record.Stages)
	e.record.CurrentStage = currentStage(e.record.Stages)
	e.record.LastUpdate = time.Now()
	s.publishLocked(e)
	e.mu.Unlock()
}

// Complete marks key's record Completed at 100% and schedules eviction after
// the grace period.
func (s *Store) Complete(key Key) {
	s.finish(key, model.StateCompleted, "")
}

// Fail marks key's record Error with the given message and schedules
// eviction after the grace period.
func (s *Store) Fail(key Key, errMsg string) {
	s.finish(key, model.StateError, errMsg)
}

// Cancel marks key's record Cancelled and schedules eviction after the grace
// period.
func (s *Store) Cancel(key Key) {
	s.finish(key, model.StateCancelled, "")
}

func (s *Store) finish(key Key, state model.ProgressState, errMsg string) {
	e := s.lookup(key)
	if e == nil {
		return
	}

	e.mu.Lock()
	now := time.Now()
	e.record.State = state
	e.record.Error = errMsg
	e.record.LastUpdate = now
	e.record.CompletedAt = &now
	if state == model.StateCompleted {
		e.record.OverallPercentage = 100
		for i := range e.record.Stages {
			e.record.Stages[i].Percentage = 100
			e.record.Stages[i].State = model.StateCompleted
		}
	}
	e.lastPublish = now // terminal transitions always publish immediately
	snapshot := e.record
	for _, ch := range e.subs {
		trySend(ch, snapshot)
	}
	e.cleanup = time.AfterFunc(s.gracePeriod, func() { s.evict(key, e) })
	e.mu.Unlock()
}

// Get returns a copy of key's current record, if tracked.
func (s *Store) Get(key Key) (model.ProgressRecord, bool) {
	e := s.lookup(key)
	if e == nil {
		return model.ProgressRecord{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record, true
}

// Subscribe returns a channel receiving every coalesced update for key
// (including, eventually, the terminal one) and an unsubscribe func. ok is
// false if key isn't currently tracked.
func (s *Store) Subscribe(key Key) (ch <-chan model.ProgressRecord, unsubscribe func(), ok bool) {
	e := s.lookup(key)
	if e == nil {
		return nil, func() {}, false
	}

	sub := make(chan model.ProgressRecord, 16)
	e.mu.Lock()
	e.subs = append(e.subs, sub)
	sub <- e.record // initial snapshot so a late subscriber isn't left blank
	e.mu.Unlock()

	return sub, func() { s.unsubscribe(key, e, sub) }, true
}

func (s *Store) unsubscribe(key Key, e *entry, sub chan model.ProgressRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, c := range e.subs {
		if c == sub {
			e.subs = append(e.subs[:i], e.subs[i+1:]...)
			close(c)
			break
		}
	}
}

func (s *Store) lookup(key Key) *entry {
	s.mu.RLock()
	e := s.entries[key]
	s.mu.RUnlock()
	return e
}

func (s *Store) evict(key Key, e *entry) {
	s.mu.Lock()
	if s.entries[key] == e {
		delete(s.entries, key)
	}
	s.mu.Unlock()

	e.mu.Lock()
	closeSubs(e)
	e.mu.Unlock()
}

// publishLocked pushes the current record to subscribers if the coalescing
// window has elapsed. Caller holds e.mu.
func (s *Store) publishLocked(e *entry) {
	now := time.Now()
	if now.Sub(e.lastPublish) < s.minPublishInterval {
		return
	}
	e.lastPublish = now
	snapshot := e.record
	for _, ch := range e.subs {
		trySend(ch, snapshot)
	}
}

func trySend(ch chan model.ProgressRecord, rec model.ProgressRecord) {
	select {
	case ch <- rec:
		return
	default:
	}
	// Slow subscriber: drop the oldest queued update to make room rather
	// than block the producer; the next coalesced update still arrives.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- rec:
	default:
	}
}

func stopCleanup(e *entry) {
	if e.cleanup != nil {
		e.cleanup.Stop()
	}
}

func closeSubs(e *entry) {
	for _, ch := range e.subs {
		close(ch)
	}
	e.subs = nil
}

func overallPercentage(stages []model.Stage) float64 {
	if len(stages) == 0 {
		return 0
	}
	var sum float64
	for _, st := range stages {
		sum += st.Percentage
	}
	return sum / float64(len(stages))
}

// currentStage returns the id of the last stage that has started (state
// other than Idle), or the first stage's id if none has yet.
func currentStage(stages []model.Stage) string {
	current := ""
	for _, st := range stages {
		if st.State == model.StateIdle {
			continue
		}
		current = st.ID
	}
	if current == "" && len(stages) > 0 {
		current = stages[0].ID
	}
	return current
}
