// Package store defines the persistence contract chanforge's core depends
// on (§6 "Persistence contract"): atomic transactions, bulk upsert-replace
// semantics for per-source ingestion, and basic relational listing over the
// entity sets in internal/model. The store itself is an out-of-scope
// collaborator; this package carries the interface plus one concrete
// reference adapter (SQLiteStore) and one in-memory test double (MemStore).
package store

import (
	"context"
	"time"

	"github.com/chanforge/chanforge/internal/model"
)

// Tx is an open transaction. All Store writes within one ingestion or
// regeneration run happen through the same Tx, committed or rolled back as
// a unit.
type Tx interface {
	Commit() error
	Rollback() error
}

// Store is the persistence contract. Every method that takes a Tx runs
// within it; methods without one run in their own implicit transaction.
type Store interface {
	BeginTx(ctx context.Context) (Tx, error)

	// UpsertChannels replaces sourceID's entire channel set with channels,
	// atomically, within tx: existing rows for sourceID not present in
	// channels are removed. This is the "bulk upsert semantics for
	// per-source ingestion replacement" from §6.
	UpsertChannels(ctx context.Context, tx Tx, sourceID string, channels []model.Channel) error
	// UpsertPrograms is UpsertChannels' analogue for EPG programs.
	UpsertPrograms(ctx context.Context, tx Tx, sourceID string, programs []model.Program) error

	ListChannels(ctx context.Context, sourceIDs []string) ([]model.Channel, error)
	ListPrograms(ctx context.Context, sourceIDs []string) ([]model.Program, error)

	ListSources(ctx context.Context) ([]model.Source, error)
	GetSource(ctx context.Context, id string) (model.Source, error)

	ListRules(ctx context.Context, proxyID string) ([]model.Rule, error)
	ListFilters(ctx context.Context, proxyID string) ([]model.FilterAttachment, error)

	GetProxy(ctx context.Context, id string) (model.Proxy, error)
	ListProxies(ctx context.Context) ([]model.Proxy, error)

	// SaveProxyArtifact persists the M3U text a pipeline run produced for
	// proxyID, replacing any prior artifact, within tx so the write commits
	// atomically with whatever else the caller does in the same run.
	SaveProxyArtifact(ctx context.Context, tx Tx, proxyID, artifact string, generatedAt time.Time) error
	// GetProxyArtifact returns the most recently saved artifact for
	// proxyID, or a NotFound error if none has been generated yet.
	GetProxyArtifact(ctx context.Context, proxyID string) (artifact string, generatedAt time.Time, err error)
}
