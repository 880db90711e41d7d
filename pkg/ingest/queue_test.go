package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestQueueRetryRunsBeforeLaterJobs(t *testing.T) {
	sleeper := &recordingSleeper{}
	q := NewQueue(zaptest.NewLogger(t), WithSleeper(sleeper.sleep))
	defer q.Stop()

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, s)
	}

	var aAttempts atomic.Int32
	require.NoError(t, q.Enqueue("A", func(context.Context) error {
		if aAttempts.Add(1) == 1 {
			record("A(fail)")
			return errors.New("transient")
		}
		record("A")
		return nil
	}))
	require.NoError(t, q.Enqueue("B", func(context.Context) error { record("B"); return nil }))
	require.NoError(t, q.Enqueue("C", func(context.Context) error { record("C"); return nil }))

	q.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"A(fail)", "A", "B", "C"}, order)
	assert.Equal(t, []time.Duration{time.Second}, sleeper.recorded())
}

func TestQueueBackoffDoublesThenDrops(t *testing.T) {
	sleeper := &recordingSleeper{}
	q := NewQueue(zaptest.NewLogger(t), WithSleeper(sleeper.sleep))
	defer q.Stop()

	var attempts atomic.Int32
	require.NoError(t, q.Enqueue("always-fails", func(context.Context) error {
		attempts.Add(1)
		return errors.New("upstream down")
	}, WithMaxRetries(3), WithInitialBackoff(time.Second)))

	var after atomic.Bool
	require.NoError(t, q.Enqueue("after", func(context.Context) error {
		after.Store(true)
		return nil
	}))

	q.Wait()

	assert.Equal(t, int32(4), attempts.Load(), "one attempt plus three retries")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeper.recorded())
	assert.True(t, after.Load(), "queue continues after a dropped job")
	assert.Zero(t, q.Len())
}

func TestQueueDefaults(t *testing.T) {
	sleeper := &recordingSleeper{}
	q := NewQueue(zaptest.NewLogger(t), WithSleeper(sleeper.sleep))
	defer q.Stop()

	require.NoError(t, q.Enqueue("", func(context.Context) error { return errors.New("nope") }))
	q.Wait()

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeper.recorded())
}

func TestQueueZeroRetriesDropsImmediately(t *testing.T) {
	sleeper := &recordingSleeper{}
	q := NewQueue(zaptest.NewLogger(t), WithSleeper(sleeper.sleep))
	defer q.Stop()

	var attempts atomic.Int32
	require.NoError(t, q.Enqueue("once", func(context.Context) error {
		attempts.Add(1)
		return errors.New("nope")
	}, WithMaxRetries(0)))
	q.Wait()

	assert.Equal(t, int32(1), attempts.Load())
	assert.Empty(t, sleeper.recorded())
}

func TestQueueRunsOneJobAtATime(t *testing.T) {
	q := NewQueue(zaptest.NewLogger(t))
	defer q.Stop()

	var (
		active, maxActive, done atomic.Int32
		enqueuers              sync.WaitGroup
	)
	job := func(context.Context) error {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
		done.Add(1)
		return nil
	}

	for i := 0; i < 20; i++ {
		enqueuers.Add(1)
		go func() {
			defer enqueuers.Done()
			assert.NoError(t, q.Enqueue("job", job))
		}()
	}
	enqueuers.Wait()
	q.Wait()

	assert.Equal(t, int32(20), done.Load())
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestQueueRecoversPanickingJob(t *testing.T) {
	sleeper := &recordingSleeper{}
	q := NewQueue(zaptest.NewLogger(t), WithSleeper(sleeper.sleep))
	defer q.Stop()

	var attempts atomic.Int32
	require.NoError(t, q.Enqueue("panics-once", func(context.Context) error {
		if attempts.Add(1) == 1 {
			panic("boom")
		}
		return nil
	}))
	q.Wait()

	assert.Equal(t, int32(2), attempts.Load())
	assert.Len(t, sleeper.recorded(), 1)
}

func TestQueueStop(t *testing.T) {
	q := NewQueue(zaptest.NewLogger(t))

	started := make(chan struct{})
	require.NoError(t, q.Enqueue("blocking", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	require.NoError(t, q.Enqueue("never", func(context.Context) error {
		t.Error("job queued behind a stop must not run")
		return nil
	}))

	<-started
	q.Stop()

	assert.Zero(t, q.Len())
	assert.ErrorIs(t, q.Enqueue("late", func(context.Context) error { return nil }), ErrQueueStopped)
}

func TestQueueWaitBlocksUntilIdle(t *testing.T) {
	q := NewQueue(zaptest.NewLogger(t))
	defer q.Stop()

	release := make(chan struct{})
	var ran atomic.Int32
	require.NoError(t, q.Enqueue("slow", func(context.Context) error {
		<-release
		ran.Add(1)
		return nil
	}))

	waited := make(chan struct{})
	go func() {
		q.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("Wait returned while a job was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after the queue drained")
	}
	assert.Equal(t, int32(1), ran.Load())
	assert.Zero(t, q.Len())
}

func TestQueueWaitAcrossRestartedDrainLoops(t *testing.T) {
	q := NewQueue(zaptest.NewLogger(t))
	defer q.Stop()

	var ran atomic.Int32
	for i := 0; i < 200; i++ {
		enqueued := make(chan struct{})
		go func() {
			defer close(enqueued)
			assert.NoError(t, q.Enqueue("tick", func(context.Context) error {
				ran.Add(1)
				return nil
			}))
		}()
		<-enqueued
		q.Wait()
		require.Equal(t, int32(i+1), ran.Load())
	}
}
