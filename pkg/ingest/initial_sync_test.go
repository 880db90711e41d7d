package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// newTestEngine polls once a year so ticks never interfere with a test.
func newTestEngine(t *testing.T, fetcher Fetcher, store Store, opts ...QueueOption) *Engine {
	t.Helper()
	e, err := NewEngine(Deps{
		Logger:  zaptest.NewLogger(t),
		Fetcher: fetcher,
		Store:   store,
	}, Config{PollSpec: "0 0 1 1 *"}, opts...)
	require.NoError(t, err)
	t.Cleanup(e.Stop)
	return e
}

func seedAllStreams(f *fakeFetcher) {
	f.set(StreamQuestionInitialized, event(1, "questionID", "0xq1"), event(2, "questionID", "0xq2"))
	f.set(StreamConditionPreparation, event(3, "conditionId", "0xc1", "questionId", "0xq1"))
	f.set(StreamTokenRegistered, event(4, "conditionId", "0xc1", "token0", "1", "token1", "2"),
		event(4, "conditionId", "0xc1", "token0", "2", "token1", "1"), event(5, "token0", "3"))
	f.set(StreamOrderFilled, event(6, "orderHash", "0xo1", "maker", "0xm", "taker", "0xt",
		"makerAssetId", "1", "takerAssetId", "0"))
}

func TestInitialSyncSkipsWhenAllStreamsPopulated(t *testing.T) {
	fetcher := newFakeFetcher()
	store := newFakeStore()
	store.populated = true

	var sawInProgress bool
	e := newTestEngine(t, fetcher, store)
	fetcher.before = func(context.Context, Stream) error {
		sawInProgress = sawInProgress || e.InitialSyncStatus().InProgress
		return nil
	}

	e.RunInitialSync(context.Background())

	assert.Zero(t, fetcher.totalCalls())
	assert.False(t, sawInProgress)
	assert.False(t, e.InitialSyncStatus().InProgress)
	assert.Zero(t, store.checkpointCount())
}

func TestInitialSyncRunsStreamsConcurrently(t *testing.T) {
	fetcher := newFakeFetcher()
	store := newFakeStore()
	seedAllStreams(fetcher)

	var (
		mu      sync.Mutex
		started = map[Stream]bool{}
		all     = make(chan struct{})
	)
	fetcher.before = func(ctx context.Context, s Stream) error {
		mu.Lock()
		started[s] = true
		if len(started) == len(Streams) {
			close(all)
		}
		mu.Unlock()

		// no fetch completes until every stream has started fetching
		select {
		case <-all:
			return nil
		case <-time.After(5 * time.Second):
			return errors.New("fetches were serialized")
		}
	}

	e := newTestEngine(t, fetcher, store)
	e.RunInitialSync(context.Background())

	status := e.InitialSyncStatus()
	assert.False(t, status.InProgress)
	assert.Nil(t, status.StartTime)
	assert.Equal(t, StreamProgress{Completed: true, Count: 2}, status.Progress[StreamQuestionInitialized])
	assert.Equal(t, StreamProgress{Completed: true, Count: 1}, status.Progress[StreamConditionPreparation])
	assert.Equal(t, StreamProgress{Completed: true, Count: 2}, status.Progress[StreamTokenRegistered])
	assert.Equal(t, StreamProgress{Completed: true, Count: 1}, status.Progress[StreamOrderFilled])
	assert.Equal(t, 1, store.checkpointCount())
}

func TestInitialSyncMarksFailedStreamsCompleted(t *testing.T) {
	fetcher := newFakeFetcher()
	store := newFakeStore()
	seedAllStreams(fetcher)
	fetcher.failNext(StreamOrderFilled, errors.New("rate limited"))
	store.checkpointErr = errors.New("database is locked")

	e := newTestEngine(t, fetcher, store)
	notifier := &fakeNotifier{}
	e.notifier = notifier
	e.RunInitialSync(context.Background())

	status := e.InitialSyncStatus()
	assert.False(t, status.InProgress, "cleared even when the checkpoint fails")
	assert.Equal(t, StreamProgress{Completed: true, Count: 0}, status.Progress[StreamOrderFilled])
	assert.Equal(t, StreamProgress{Completed: true, Count: 2}, status.Progress[StreamQuestionInitialized])
	assert.Equal(t, 1, store.checkpointCount())
	assert.Equal(t, 1, fetcher.callsFor(StreamOrderFilled), "initial sync does not retry")

	assert.Equal(t, 1, notifier.count(EventSyncStarted))
	assert.Equal(t, 4, notifier.count(EventStreamCompleted))
	assert.Equal(t, 1, notifier.count(EventSyncFinished))
}

func TestInitialSyncProceedsWhenPopulationCheckFails(t *testing.T) {
	fetcher := newFakeFetcher()
	store := newFakeStore()
	store.populated = true
	store.populatedErr = errors.New("no such table")

	e := newTestEngine(t, fetcher, store)
	e.RunInitialSync(context.Background())

	// the store answered (true, err); the error wins and every stream is synced
	assert.Equal(t, 4, fetcher.totalCalls())
	assert.Equal(t, 1, store.checkpointCount())
	for _, s := range Streams {
		assert.True(t, e.InitialSyncStatus().Progress[s].Completed, s)
	}
}

func TestInitialSyncSnapshotNeverShowsStaleCounts(t *testing.T) {
	fetcher := newFakeFetcher()
	store := newFakeStore()
	seedAllStreams(fetcher)
	e := newTestEngine(t, fetcher, store)

	e.RunInitialSync(context.Background())
	require.Equal(t, 2, e.InitialSyncStatus().Progress[StreamQuestionInitialized].Count)

	// second pass: every fetch blocks until released
	release := make(chan struct{})
	var entered sync.WaitGroup
	entered.Add(len(Streams))
	fetcher.before = func(context.Context, Stream) error {
		entered.Done()
		<-release
		return nil
	}
	fetcher.set(StreamQuestionInitialized, event(9, "questionID", "0xq9"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.RunInitialSync(context.Background())
	}()
	entered.Wait()

	mid := e.InitialSyncStatus()
	assert.True(t, mid.InProgress)
	for _, s := range Streams {
		assert.Equal(t, StreamProgress{}, mid.Progress[s], s)
	}

	close(release)
	<-done
	assert.Equal(t, StreamProgress{Completed: true, Count: 1}, e.InitialSyncStatus().Progress[StreamQuestionInitialized])
}
