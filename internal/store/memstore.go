package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chanforge/chanforge/internal/cferr"
	"github.com/chanforge/chanforge/internal/model"
)

// MemStore is an in-memory Store for pipeline/ingest tests: not durable,
// transactions are no-ops beyond bookkeeping (writes apply immediately,
// Rollback after a write is therefore advisory only — tests that need
// rollback semantics should use SQLiteStore instead).
type MemStore struct {
	mu sync.RWMutex

	channels map[string][]model.Channel // keyed by source ID
	programs map[string][]model.Program
	sources  map[string]model.Source
	rules    map[string][]model.Rule // keyed by proxy ID
	filters  map[string][]model.FilterAttachment
	proxies  map[string]model.Proxy

	artifacts map[string]proxyArtifact
}

type proxyArtifact struct {
	text        string
	generatedAt time.Time
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		channels: map[string][]model.Channel{},
		programs: map[string][]model.Program{},
		sources:  map[string]model.Source{},
		rules:    map[string][]model.Rule{},
		filters:  map[string][]model.FilterAttachment{},
		proxies:  map[string]model.Proxy{},

		artifacts: map[string]proxyArtifact{},
	}
}

func (m *MemStore) SaveProxyArtifact(_ context.Context, _ Tx, proxyID, artifact string, generatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[proxyID] = proxyArtifact{text: artifact, generatedAt: generatedAt}
	return nil
}

func (m *MemStore) GetProxyArtifact(_ context.Context, proxyID string) (string, time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.artifacts[proxyID]
	if !ok {
		return "", time.Time{}, cferr.NotFound(fmt.Sprintf("no artifact generated yet for proxy %s", proxyID))
	}
	return a.text, a.generatedAt, nil
}

type memTx struct{}

func (memTx) Commit() error   { return nil }
func (memTx) Rollback() error { return nil }

func (m *MemStore) BeginTx(context.Context) (Tx, error) { return memTx{}, nil }

func (m *MemStore) UpsertChannels(_ context.Context, _ Tx, sourceID string, channels []model.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]model.Channel, len(channels))
	copy(cp, channels)
	m.channels[sourceID] = cp
	return nil
}

func (m *MemStore) UpsertPrograms(_ context.Context, _ Tx, sourceID string, programs []model.Program) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]model.Program, len(programs))
	copy(cp, programs)
	m.programs[sourceID] = cp
	return nil
}

func (m *MemStore) ListChannels(_ context.Context, sourceIDs []string) ([]model.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Channel
	for _, id := range selectSourceIDs(sourceIDs, m.channels) {
		out = append(out, m.channels[id]...)
	}
	return out, nil
}

func (m *MemStore) ListPrograms(_ context.Context, sourceIDs []string) ([]model.Program, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Program
	for _, id := range selectSourceIDs(sourceIDs, m.programs) {
		out = append(out, m.programs[id]...)
	}
	return out, nil
}

func selectSourceIDs[T any](requested []string, all map[string][]T) []string {
	if len(requested) > 0 {
		return requested
	}
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	return ids
}

// PutSource registers or replaces a source, for test setup.
func (m *MemStore) PutSource(s model.Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[s.ID] = s
}

func (m *MemStore) ListSources(context.Context) ([]model.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Source, 0, len(m.sources))
	for _, s := range m.sources {
		out = append(out, s)
	}
	return out, nil
}

func (m *MemStore) GetSource(_ context.Context, id string) (model.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sources[id]
	if !ok {
		return model.Source{}, cferr.NotFound(fmt.Sprintf("source not found: %s", id))
	}
	return s, nil
}

// PutRules registers proxyID's rule set, for test setup.
func (m *MemStore) PutRules(proxyID string, rules []model.Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[proxyID] = rules
}

func (m *MemStore) ListRules(_ context.Context, proxyID string) ([]model.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rules[proxyID], nil
}

// PutFilters registers proxyID's filter attachments, for test setup.
func (m *MemStore) PutFilters(proxyID string, filters []model.FilterAttachment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters[proxyID] = filters
}

func (m *MemStore) ListFilters(_ context.Context, proxyID string) ([]model.FilterAttachment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filters[proxyID], nil
}

// PutProxy registers or replaces a proxy, for test setup.
func (m *MemStore) PutProxy(p model.Proxy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proxies[p.ID] = p
}

func (m *MemStore) GetProxy(_ context.Context, id string) (model.Proxy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.proxies[id]
	if !ok {
		return model.Proxy{}, cferr.NotFound(fmt.Sprintf("proxy not found: %s", id))
	}
	return p, nil
}

func (m *MemStore) ListProxies(context.Context) ([]model.Proxy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Proxy, 0, len(m.proxies))
	for _, p := range m.proxies {
		out = append(out, p)
	}
	return out, nil
}

var _ Store = (*MemStore)(nil)
var _ Store = (*SQLiteStore)(nil)
