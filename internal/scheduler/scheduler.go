// Package scheduler is the Scheduler (C11): it ticks at 1 Hz, compares each
// active source's next_run_at against now, and triggers a refresh through
// internal/ingeststate when due. Cron expression parsing is delegated to
// robfig/cron/v3's standard parser; the ticking loop itself is a plain
// time.Ticker, per the system's own scheduling model rather than that
// library's goroutine-driven cron runner.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/chanforge/chanforge/internal/ingeststate"
	"github.com/chanforge/chanforge/internal/model"
	"github.com/chanforge/chanforge/internal/regenqueue"
	"github.com/chanforge/chanforge/internal/store"
)

// IngestFunc fetches, parses, and persists one source. It is called from
// within internal/ingeststate.Manager.Run, so it already has the
// single-flight and progress-reporting guarantees that gives it; Scheduler
// only decides *when* to call it and what to do once it returns.
type IngestFunc func(ctx context.Context, source model.Source, report ingeststate.StageReporter) error

const defaultTick = 1 * time.Second

// stageNames are reported for every source refresh regardless of kind;
// internal/ingest's four ingestors all report against this same set.
var stageNames = []string{"Connecting", "Downloading", "Parsing", "Saving"}

type sourceSchedule struct {
	raw      string
	schedule cron.Schedule
	nextRun  time.Time
}

// Scheduler drives cron-based and manual source refreshes.
type Scheduler struct {
	store    store.Store
	ingest   IngestFunc
	ingestSt *ingeststate.Manager
	regen    *regenqueue.Queue
	logger   zerolog.Logger
	tick     time.Duration

	mu        sync.Mutex
	schedules map[string]*sourceSchedule
}

type Option func(*Scheduler)

// WithTick overrides the 1 Hz default tick interval, for faster tests.
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) { s.tick = d }
}

func New(st store.Store, ingestSt *ingeststate.Manager, regen *regenqueue.Queue, ingest IngestFunc, logger zerolog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:     st,
		ingest:    ingest,
		ingestSt:  ingestSt,
		regen:     regen,
		logger:    logger,
		tick:      defaultTick,
		schedules: make(map[string]*sourceSchedule),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run blocks, ticking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evaluate(ctx)
		}
	}
}

// evaluate lists active sources and triggers a refresh for any whose
// next_run_at has passed.
func (s *Scheduler) evaluate(ctx context.Context) {
	sources, err := s.store.ListSources(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduler: list sources failed")
		return
	}

	now := time.Now()
	for _, src := range sources {
		if !src.Active || src.CronSchedule == "" {
			continue
		}
		sch := s.scheduleFor(src, now)
		if sch == nil {
			continue
		}
		if now.Before(sch.nextRun) {
			continue
		}
		sch.nextRun = sch.schedule.Next(now)
		s.triggerRefresh(ctx, src)
	}
}

// scheduleFor returns the cached cron.Schedule for src, (re)parsing it when
// src.CronSchedule has changed since it was last cached.
func (s *Scheduler) scheduleFor(src model.Source, now time.Time) *sourceSchedule {
	s.mu.Lock()
	defer s.mu.Unlock()

	sch, ok := s.schedules[src.ID]
	if ok && sch.raw == src.CronSchedule {
		return sch
	}

	parsed, err := cron.ParseStandard(src.CronSchedule)
	if err != nil {
		s.logger.Warn().Err(err).Str("source_id", src.ID).Str("cron", src.CronSchedule).Msg("scheduler: invalid cron expression")
		delete(s.schedules, src.ID)
		return nil
	}

	base := now
	if src.LastIngestedAt != nil {
		base = *src.LastIngestedAt
	}
	sch = &sourceSchedule{raw: src.CronSchedule, schedule: parsed, nextRun: parsed.Next(base)}
	s.schedules[src.ID] = sch
	return sch
}

// ManualRefresh delivers ManualRefreshTriggered(sourceID): the same
// downstream handling as a cron-driven RefreshDue, triggered on demand
// (e.g. from the out-of-scope HTTP API).
func (s *Scheduler) ManualRefresh(ctx context.Context, sourceID string) error {
	src, err := s.store.GetSource(ctx, sourceID)
	if err != nil {
		return err
	}
	return s.runRefresh(ctx, src)
}

// triggerRefresh fires src's refresh plus its linked Xtream counterpart's,
// in the background so the scheduler's own tick loop is never blocked by
// one slow source.
func (s *Scheduler) triggerRefresh(ctx context.Context, src model.Source) {
	go func() {
		if err := s.runRefresh(ctx, src); err != nil {
			s.logger.Warn().Err(err).Str("source_id", src.ID).Msg("scheduler: refresh failed")
		}
	}()

	if src.LinkedSourceID == "" {
		return
	}
	go func() {
		linked, err := s.store.GetSource(ctx, src.LinkedSourceID)
		if err != nil {
			s.logger.Warn().Err(err).Str("source_id", src.LinkedSourceID).Msg("scheduler: load linked source failed")
			return
		}
		if err := s.runRefresh(ctx, linked); err != nil {
			s.logger.Warn().Err(err).Str("source_id", linked.ID).Msg("scheduler: linked refresh failed")
		}
	}()
}

// runRefresh executes one source's ingestion under the single-flight
// guarantee and, on success, enqueues regeneration of every proxy that
// depends on it.
func (s *Scheduler) runRefresh(ctx context.Context, src model.Source) error {
	err := s.ingestSt.Run(ctx, src.ID, src.Name, stageNames, func(ctx context.Context, report ingeststate.StageReporter) error {
		return s.ingest(ctx, src, report)
	})
	if err != nil {
		return err
	}

	if _, queueErr := s.regen.QueueAffectedProxies(ctx, src.ID, src.Kind); queueErr != nil {
		s.logger.Error().Err(queueErr).Str("source_id", src.ID).Msg("scheduler: queue affected proxies failed")
	}
	return nil
}
