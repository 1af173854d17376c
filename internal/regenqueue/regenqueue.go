// Package regenqueue is the Regeneration Queue (C12): one process-wide
// queue that serializes proxy regenerations through a single worker,
// coalescing repeat requests for a proxy that is already active or already
// pending, so a burst of ingestion completions runs a proxy at most once
// more after its current run.
package regenqueue

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/chanforge/chanforge/internal/model"
	"github.com/chanforge/chanforge/internal/store"
)

// RunFunc regenerates one proxy. Queue calls it from its single worker
// goroutine, so at most one RunFunc call is ever in flight.
type RunFunc func(ctx context.Context, proxyID string) error

// Status is the snapshot queue_status() returns.
type Status struct {
	Active  string
	Pending []string
}

// Queue is the single per-process regeneration queue.
type Queue struct {
	mu      sync.Mutex
	active  string
	pending []string
	inQueue map[string]bool // pending OR active, for O(1) coalesce checks
	rerun   map[string]bool // proxy ids that arrived while already active

	store  store.Store
	run    RunFunc
	logger zerolog.Logger

	wake chan struct{}
}

// New constructs a Queue backed by st (used by QueueAffectedProxies to
// resolve which proxies depend on a source) and run (the regeneration
// callback — typically internal/pipeline.Orchestrator.Run wrapped to match
// RunFunc's signature).
func New(st store.Store, run RunFunc, logger zerolog.Logger) *Queue {
	return &Queue{
		inQueue: make(map[string]bool),
		rerun:   make(map[string]bool),
		store:   st,
		run:     run,
		logger:  logger,
		wake:    make(chan struct{}, 1),
	}
}

// Start runs the single worker loop until ctx is cancelled.
func (q *Queue) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}
		q.drain(ctx)
	}
}

func (q *Queue) drain(ctx context.Context) {
	for {
		proxyID, ok := q.takeNext()
		if !ok {
			return
		}
		if err := q.run(ctx, proxyID); err != nil {
			q.logger.Error().Err(err).Str("proxy_id", proxyID).Msg("proxy regeneration failed")
		}
		q.finish(proxyID)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (q *Queue) takeNext() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return "", false
	}
	proxyID := q.pending[0]
	q.pending = q.pending[1:]
	q.active = proxyID
	return proxyID, true
}

// finish releases proxyID's active slot; if a request coalesced in while it
// was running, it is requeued once so the caller's guarantee — at least
// one run starts after the request was accepted — holds.
func (q *Queue) finish(proxyID string) {
	q.mu.Lock()
	q.active = ""
	delete(q.inQueue, proxyID)
	rerun := q.rerun[proxyID]
	delete(q.rerun, proxyID)
	q.mu.Unlock()

	if rerun {
		q.QueueManualRegeneration(proxyID)
	}
}

// QueueManualRegeneration enqueues proxyID, returning accepted=true if this
// call actually added work (a new pending entry, or a rerun-after-active
// flag) and coalesced=true if an equivalent run was already guaranteed to
// happen (the proxy is already pending, or already marked for rerun).
func (q *Queue) QueueManualRegeneration(proxyID string) (accepted, coalesced bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.active == proxyID {
		if q.rerun[proxyID] {
			return false, true
		}
		q.rerun[proxyID] = true
		return true, false
	}
	if q.inQueue[proxyID] {
		return false, true
	}

	q.inQueue[proxyID] = true
	q.pending = append(q.pending, proxyID)
	q.signal()
	return true, false
}

// QueueAffectedProxies enqueues every proxy whose StreamSourceIDs or
// EPGSourceIDs (depending on kind) reference sourceID, returning how many
// were newly accepted (not coalesced into an existing pending/active run).
func (q *Queue) QueueAffectedProxies(ctx context.Context, sourceID string, kind model.SourceKind) (int, error) {
	proxies, err := q.store.ListProxies(ctx)
	if err != nil {
		return 0, err
	}

	accepted := 0
	for _, p := range proxies {
		if !dependsOn(p, sourceID, kind) {
			continue
		}
		if ok, _ := q.QueueManualRegeneration(p.ID); ok {
			accepted++
		}
	}
	return accepted, nil
}

func dependsOn(p model.Proxy, sourceID string, kind model.SourceKind) bool {
	ids := p.StreamSourceIDs
	if isEPGKind(kind) {
		ids = p.EPGSourceIDs
	}
	for _, id := range ids {
		if id == sourceID {
			return true
		}
	}
	return false
}

func isEPGKind(kind model.SourceKind) bool {
	return kind == model.SourceXMLTV || kind == model.SourceXtreamEPG
}

// QueueStatus returns a snapshot of the active proxy id (if any) and the
// pending proxy ids in run order.
func (q *Queue) QueueStatus() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending := make([]string, len(q.pending))
	copy(pending, q.pending)
	return Status{Active: q.active, Pending: pending}
}

// signal wakes the worker without blocking if it's already been signalled
// and hasn't drained yet.
func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
