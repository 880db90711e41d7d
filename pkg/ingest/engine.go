package ingest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/polydash/ingestion/pkg/metrics"
	"github.com/polydash/ingestion/pkg/utils"
)

// Config tunes the pipeline.
type Config struct {
	PollSpec       string
	FetchLimit     int
	MaxRetries     int
	InitialBackoff time.Duration
}

// ConfigFromEnv reads POLL_CRON, FETCH_LIMIT, QUEUE_MAX_RETRIES and QUEUE_INITIAL_BACKOFF.
func ConfigFromEnv() Config {
	return Config{
		PollSpec:       utils.Env("POLL_CRON", DefaultPollSpec),
		FetchLimit:     utils.EnvInt("FETCH_LIMIT", DefaultFetchLimit),
		MaxRetries:     utils.EnvIntAllowZero("QUEUE_MAX_RETRIES", DefaultMaxRetries),
		InitialBackoff: utils.EnvDuration("QUEUE_INITIAL_BACKOFF", DefaultInitialBackoff),
	}
}

// Deps are the collaborators of an Engine. Notifier and Metrics are optional.
type Deps struct {
	Logger   *zap.Logger
	Fetcher  Fetcher
	Store    Store
	Decoder  Decoder
	Notifier Notifier
	Metrics  *metrics.Metrics
}

// Engine owns the queue, tracker, processors and poller of one process.
type Engine struct {
	logger   *zap.Logger
	cfg      Config
	store    Store
	runners  []Runner
	queue    *Queue
	tracker  *Tracker
	poller   *Poller
	notifier Notifier
	metrics  *metrics.Metrics

	started atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewEngine(deps Deps, cfg Config, queueOpts ...QueueOption) (*Engine, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Fetcher == nil || deps.Store == nil {
		return nil, fmt.Errorf("ingest: fetcher and store are required")
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}

	logger := deps.Logger.With(zap.String("component", "ingest"))
	runners := NewProcessors(deps.Fetcher, deps.Store, deps.Decoder, ProcessorOptions{
		Logger:  logger,
		Metrics: deps.Metrics,
		Limit:   cfg.FetchLimit,
	})
	return newEngine(deps, cfg, runners, queueOpts...)
}

func newEngine(deps Deps, cfg Config, runners []Runner, queueOpts ...QueueOption) (*Engine, error) {
	logger := deps.Logger.With(zap.String("component", "ingest"))
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		logger:   logger,
		cfg:      cfg,
		store:    deps.Store,
		runners:  runners,
		queue:    NewQueue(logger, append([]QueueOption{WithQueueMetrics(deps.Metrics)}, queueOpts...)...),
		tracker:  NewTracker(),
		poller:   NewPoller(logger, cfg.PollSpec),
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		ctx:      ctx,
		cancel:   cancel,
	}

	for _, r := range runners {
		if err := e.poller.Schedule(string(r.Stream()), func() { e.enqueuePoll(r) }); err != nil {
			cancel()
			return nil, fmt.Errorf("schedule %s with %q: %w", r.Stream(), cfg.PollSpec, err)
		}
	}
	return e, nil
}

// StartPolling starts the poller and launches the initial sync in the background. It returns
// false when polling was already started. The sync runs on the engine's own context, so ctx
// only bounds the storage checks done here.
func (e *Engine) StartPolling(ctx context.Context) bool {
	if !e.started.CompareAndSwap(false, true) {
		e.logger.Debug("Polling already started")
		return false
	}

	empty, emptyErr := e.store.AreStreamsEmpty(ctx)
	populated, populatedErr := e.store.AreAllStreamsPopulated(ctx)
	e.logger.Info("Starting polling",
		zap.Bool("streams_empty", empty),
		zap.Bool("all_streams_populated", populated),
		zap.NamedError("empty_check_error", emptyErr),
		zap.NamedError("populated_check_error", populatedErr))

	e.poller.Start()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.RunInitialSync(e.ctx)
	}()
	return true
}

// Started reports whether StartPolling has run.
func (e *Engine) Started() bool { return e.started.Load() }

// InitialSyncStatus returns the current progress snapshot.
func (e *Engine) InitialSyncStatus() SyncStatus { return e.tracker.Snapshot() }

// QueueLen is the number of poll jobs waiting.
func (e *Engine) QueueLen() int { return e.queue.Len() }

// Stop halts the poller, cancels running work and waits for the initial sync and queue to exit.
func (e *Engine) Stop() {
	e.poller.Stop()
	e.cancel()
	e.queue.Stop()
	e.wg.Wait()
	e.logger.Info("Ingestion engine stopped")
}

func (e *Engine) enqueuePoll(r Runner) {
	stream := r.Stream()
	err := e.queue.Enqueue(string(stream), func(ctx context.Context) error {
		res := r.Process(ctx, ModePolling)
		e.notify(ctx, EventPollCompleted, map[string]any{
			"stream":  string(stream),
			"written": res.Written,
			"skipped": res.Skipped,
			"failed":  res.Err != nil,
		})
		return res.Err
	}, WithMaxRetries(e.cfg.MaxRetries), WithInitialBackoff(e.cfg.InitialBackoff))
	if err != nil {
		e.logger.Warn("Poll not enqueued", zap.String("stream", string(stream)), zap.Error(err))
	}
}

func (e *Engine) notify(ctx context.Context, event string, fields map[string]any) {
	if e.notifier == nil {
		return
	}
	e.notifier.PublishEvent(ctx, event, fields)
}
