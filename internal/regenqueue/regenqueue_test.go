package regenqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanforge/chanforge/internal/model"
	"github.com/chanforge/chanforge/internal/store"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestQueueManualRegenerationRunsOnce(t *testing.T) {
	st := store.NewMemStore()
	var mu sync.Mutex
	var ran []string
	q := New(st, func(_ context.Context, proxyID string) error {
		mu.Lock()
		ran = append(ran, proxyID)
		mu.Unlock()
		return nil
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Start(ctx)

	accepted, coalesced := q.QueueManualRegeneration("p1")
	assert.True(t, accepted)
	assert.False(t, coalesced)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ran) == 1
	})
}

func TestQueueManualRegenerationCoalescesDuplicateWhileActive(t *testing.T) {
	st := store.NewMemStore()
	started := make(chan struct{})
	release := make(chan struct{})
	q := New(st, func(_ context.Context, proxyID string) error {
		started <- struct{}{}
		<-release
		return nil
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Start(ctx)

	accepted, coalesced := q.QueueManualRegeneration("p1")
	require.True(t, accepted)
	require.False(t, coalesced)
	<-started // p1 is now active

	accepted, coalesced = q.QueueManualRegeneration("p1")
	assert.True(t, accepted) // marks rerun-after-active
	assert.False(t, coalesced)

	accepted, coalesced = q.QueueManualRegeneration("p1")
	assert.False(t, accepted) // already marked for rerun
	assert.True(t, coalesced)

	close(release)
}

func TestQueueAffectedProxiesEnqueuesDependents(t *testing.T) {
	st := store.NewMemStore()
	st.PutProxy(model.Proxy{ID: "p1", StreamSourceIDs: []string{"src-1"}})
	st.PutProxy(model.Proxy{ID: "p2", StreamSourceIDs: []string{"src-2"}})
	st.PutProxy(model.Proxy{ID: "p3", EPGSourceIDs: []string{"src-1"}})

	var mu sync.Mutex
	var ran []string
	q := New(st, func(_ context.Context, proxyID string) error {
		mu.Lock()
		ran = append(ran, proxyID)
		mu.Unlock()
		return nil
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Start(ctx)

	n, err := q.QueueAffectedProxies(context.Background(), "src-1", model.SourceM3U)
	require.NoError(t, err)
	assert.Equal(t, 1, n) // only p1 depends on src-1 as a stream source

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ran) == 1 && ran[0] == "p1"
	})
}

func TestQueueStatusReportsActiveAndPending(t *testing.T) {
	st := store.NewMemStore()
	started := make(chan struct{})
	release := make(chan struct{})
	q := New(st, func(_ context.Context, proxyID string) error {
		started <- struct{}{}
		<-release
		return nil
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Start(ctx)

	q.QueueManualRegeneration("p1")
	<-started
	q.QueueManualRegeneration("p2")

	waitFor(t, func() bool {
		status := q.QueueStatus()
		return status.Active == "p1" && len(status.Pending) == 1 && status.Pending[0] == "p2"
	})

	close(release)
}

func TestQueueManualRegenerationRerunsAfterActiveCompletion(t *testing.T) {
	st := store.NewMemStore()
	var mu sync.Mutex
	var ran []string
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	q := New(st, func(_ context.Context, proxyID string) error {
		mu.Lock()
		ran = append(ran, proxyID)
		n := len(ran)
		mu.Unlock()
		started <- struct{}{}
		if n == 1 {
			<-release
		}
		return nil
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Start(ctx)

	q.QueueManualRegeneration("p1")
	<-started
	q.QueueManualRegeneration("p1") // coalesces into rerun-after-active
	close(release)
	<-started // second run

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ran) == 2
	})
}
