package ingest

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/polydash/ingestion/pkg/metrics"
	"github.com/polydash/ingestion/pkg/retry"
)

const (
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = time.Second
)

// ErrQueueStopped is returned by Enqueue after Stop.
var ErrQueueStopped = errors.New("queue stopped")

// Job is one unit of queued work. A non-nil error schedules a retry.
type Job func(ctx context.Context) error

type EnqueueOption func(*queueEntry)

// WithMaxRetries sets how many times a failed job is retried before it is dropped.
func WithMaxRetries(n int) EnqueueOption {
	return func(e *queueEntry) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// WithInitialBackoff sets the wait before the first retry; later waits double.
func WithInitialBackoff(d time.Duration) EnqueueOption {
	return func(e *queueEntry) {
		if d > 0 {
			e.initialBackoff = d
		}
	}
}

type queueEntry struct {
	name           string
	job            Job
	retries        int
	maxRetries     int
	initialBackoff time.Duration
}

// backoff is the wait before the next attempt after retries failures: initial, 2x, 4x, ...
func (e *queueEntry) backoff() time.Duration {
	return retry.Doubling(e.maxRetries, e.initialBackoff).Delay(e.retries + 1)
}

// Queue runs jobs one at a time. New jobs go to the back; a failed job waits out its backoff
// and is reinserted at the front, so it runs again before anything queued after it.
type Queue struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
	sleep   func(ctx context.Context, d time.Duration) error

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	items    *list.List
	draining bool
	// idle is signalled, under mu, whenever a drain loop exits.
	idle     *sync.Cond
	stopped  bool
	wg       sync.WaitGroup
}

type QueueOption func(*Queue)

// WithSleeper replaces the backoff wait. Tests use it to record waits without sleeping.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) QueueOption {
	return func(q *Queue) { q.sleep = sleep }
}

func WithQueueMetrics(m *metrics.Metrics) QueueOption {
	return func(q *Queue) { q.metrics = m }
}

func NewQueue(logger *zap.Logger, opts ...QueueOption) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		logger: logger.With(zap.String("component", "queue")),
		sleep:  retry.Sleep,
		ctx:    ctx,
		cancel: cancel,
		items:  list.New(),
	}
	q.idle = sync.NewCond(&q.mu)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends a job and starts the drain loop unless one is already running.
func (q *Queue) Enqueue(name string, job Job, opts ...EnqueueOption) error {
	if name == "" {
		name = "unnamed"
	}
	e := &queueEntry{
		name:           name,
		job:            job,
		maxRetries:     DefaultMaxRetries,
		initialBackoff: DefaultInitialBackoff,
	}
	for _, opt := range opts {
		opt(e)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return ErrQueueStopped
	}
	q.items.PushBack(e)
	depth := q.items.Len()
	q.metrics.SetQueueDepth(depth)
	q.logger.Debug("Job enqueued", zap.String("job", name), zap.Int("queue_len", depth))

	if !q.draining {
		q.draining = true
		q.wg.Add(1)
		go q.drain()
	}
	return nil
}

// Len is the number of jobs waiting, excluding the one running.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Wait blocks until no drain loop is running, i.e. the queue was empty at some instant after
// the call. Jobs enqueued concurrently with Wait may or may not have run when it returns; once
// callers have stopped enqueuing, every job they added has finished.
func (q *Queue) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.draining {
		q.idle.Wait()
	}
}

// Stop rejects new jobs, cancels the running one and waits for the drain loop to exit.
// Jobs still queued are discarded.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()
	q.cancel()
	q.wg.Wait()

	q.mu.Lock()
	if n := q.items.Len(); n > 0 {
		q.logger.Warn("Discarding queued jobs on stop", zap.Int("queue_len", n))
		q.items.Init()
	}
	q.mu.Unlock()
}

func (q *Queue) next() *queueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	front := q.items.Front()
	if front == nil || q.ctx.Err() != nil {
		q.draining = false
		q.idle.Broadcast()
		return nil
	}
	q.items.Remove(front)
	q.metrics.SetQueueDepth(q.items.Len())
	return front.Value.(*queueEntry)
}

func (q *Queue) pushFront(e *queueEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items.PushFront(e)
	q.metrics.SetQueueDepth(q.items.Len())
}

func (q *Queue) drain() {
	defer q.wg.Done()
	for {
		e := q.next()
		if e == nil {
			return
		}

		attempt := e.retries + 1
		logger := q.logger.With(
			zap.String("job", e.name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", e.maxRetries+1),
		)
		logger.Debug("Job started")

		err := q.run(e)
		if err == nil {
			q.metrics.RecordJob(e.name, metrics.JobOutcomeSuccess)
			logger.Debug("Job succeeded")
			continue
		}

		if e.retries >= e.maxRetries {
			q.metrics.RecordJob(e.name, metrics.JobOutcomeDropped)
			logger.Error("Job failed, retries exhausted; dropping", zap.Error(err))
			continue
		}

		wait := e.backoff()
		q.metrics.RecordJob(e.name, metrics.JobOutcomeRetry)
		logger.Warn("Job failed, retry scheduled", zap.Duration("backoff", wait), zap.Error(err))
		if sleepErr := q.sleep(q.ctx, wait); sleepErr != nil {
			logger.Warn("Retry abandoned", zap.Error(sleepErr))
			continue
		}
		e.retries++
		q.pushFront(e)
	}
}

// run executes a job, converting a panic into an error.
func (q *Queue) run(e *queueEntry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", e.name, r)
		}
	}()
	return e.job(q.ctx)
}
