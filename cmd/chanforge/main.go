package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"

	"github.com/chanforge/chanforge/internal/fetch"
	"github.com/chanforge/chanforge/internal/ingest"
	"github.com/chanforge/chanforge/internal/ingeststate"
	"github.com/chanforge/chanforge/internal/model"
	"github.com/chanforge/chanforge/internal/pipeline"
	"github.com/chanforge/chanforge/internal/progress"
	"github.com/chanforge/chanforge/internal/regenqueue"
	"github.com/chanforge/chanforge/internal/scheduler"
	"github.com/chanforge/chanforge/internal/store"
	"github.com/chanforge/chanforge/internal/webapi"
)

var (
	dbPath = flag.String("db", "chanforge.db", ": Path to the SQLite database file")
	port   = flag.String("port", "34400", ": Server port for the progress stream")
	debug  = flag.Int("debug", 0, ": Debug level [0 - 3] (default: 0)")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	logger := newLogger(*debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	st, err := store.OpenSQLiteStore(*dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	progressStore := progress.NewStore()
	ingestManager := ingeststate.New(progressStore)
	orchestrator := pipeline.New(st, logger)

	regenQueue := regenqueue.New(st, func(ctx context.Context, proxyID string) error {
		key := progress.Key{OwnerType: "proxy", OwnerID: proxyID}
		proxy, err := st.GetProxy(ctx, proxyID)
		if err != nil {
			return err
		}
		progressStore.Start(key, model.OperationRegeneration, proxy.Name, pipeline.Stages())
		reporter := progressReporter{store: progressStore, key: key}
		_, err = orchestrator.Run(ctx, proxyID, reporter)
		if err != nil {
			progressStore.Fail(key, err.Error())
			return err
		}
		progressStore.Complete(key)
		return nil
	}, logger)
	go regenQueue.Start(ctx)

	httpFetcher := fetch.NewHTTPFetcher(http.DefaultClient)
	sched := scheduler.New(st, ingestManager, regenQueue, newIngestFunc(st, httpFetcher), logger)
	go sched.Run(ctx)

	api := webapi.New(progressStore, logger)
	srv := &http.Server{Addr: ":" + *port, Handler: api.Router()}
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("starting progress stream server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("webapi server failed")
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newLogger(debugLevel int) zerolog.Logger {
	level := zerolog.InfoLevel
	switch {
	case debugLevel >= 3:
		level = zerolog.TraceLevel
	case debugLevel == 2:
		level = zerolog.DebugLevel
	case debugLevel == 1:
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()
}

// newIngestFunc dispatches one source to the ingestor matching its kind and
// persists the result, bridging internal/ingest's StreamResult/EPGResult
// shape to internal/store's bulk-upsert contract.
func newIngestFunc(st store.Store, fetcher *fetch.HTTPFetcher) scheduler.IngestFunc {
	m3uIngestor := ingest.NewM3UIngestor(fetcher)
	xtreamIngestor := ingest.NewXtreamStreamIngestor(fetcher)
	xmltvIngestor := ingest.NewXMLTVIngestor(fetcher)
	xtreamEPGIngestor := ingest.NewXtreamEPGIngestor(fetcher)

	return func(ctx context.Context, source model.Source, report ingeststate.StageReporter) error {
		switch source.Kind {
		case model.SourceM3U:
			result, err := m3uIngestor.Ingest(ctx, source, report)
			if err != nil {
				return err
			}
			return persistChannels(ctx, st, source.ID, result)
		case model.SourceXtream:
			result, err := xtreamIngestor.Ingest(ctx, source, report)
			if err != nil {
				return err
			}
			return persistChannels(ctx, st, source.ID, result)
		case model.SourceXMLTV:
			result, err := xmltvIngestor.Ingest(ctx, source, report)
			if err != nil {
				return err
			}
			return persistPrograms(ctx, st, source.ID, result)
		case model.SourceXtreamEPG:
			result, err := xtreamEPGIngestor.Ingest(ctx, source, report)
			if err != nil {
				return err
			}
			return persistPrograms(ctx, st, source.ID, result)
		default:
			return fmt.Errorf("unknown source kind %q", source.Kind)
		}
	}
}

func persistChannels(ctx context.Context, st store.Store, sourceID string, result ingest.StreamResult) error {
	tx, err := st.BeginTx(ctx)
	if err != nil {
		return err
	}
	if err := st.UpsertChannels(ctx, tx, sourceID, result.Channels); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func persistPrograms(ctx context.Context, st store.Store, sourceID string, result ingest.EPGResult) error {
	tx, err := st.BeginTx(ctx)
	if err != nil {
		return err
	}
	if err := st.UpsertPrograms(ctx, tx, sourceID, result.Programs); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// progressReporter adapts internal/progress.Store to pipeline.StageReporter.
type progressReporter struct {
	store *progress.Store
	key   progress.Key
}

func (p progressReporter) Stage(stageID string, percentage float64, state model.ProgressState, currentStep string) {
	p.store.UpdateStage(p.key, stageID, percentage, state, currentStep)
}
