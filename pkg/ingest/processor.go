package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/polydash/ingestion/pkg/bitquery"
	"github.com/polydash/ingestion/pkg/metrics"
)

const (
	// DefaultFetchLimit is the most events requested per pass.
	DefaultFetchLimit = 10000
	progressEvery     = 1000
)

// Result is the outcome of one processor pass. Err is set when the fetch failed or a write
// aborted the batch; Written then holds the records stored before the failure.
type Result struct {
	Fetched int
	Written int
	Skipped int
	Err     error
}

// Runner is a stream processor with its record type erased.
type Runner interface {
	Stream() Stream
	Process(ctx context.Context, mode Mode) Result
}

// Spec parametrises the generic processor for one record type.
type Spec[T any] struct {
	// Required argument names; an event missing any of them is skipped.
	Required []string
	Fetch    func(ctx context.Context, limit int) ([]bitquery.Event, error)
	Build    func(ev bitquery.Event) *T
	// Transform is optional and runs on every built record before it is written.
	Transform func(rec *T)
	Write     func(ctx context.Context, rec *T) error
}

type ProcessorOptions struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Limit   int
}

// Processor fetches one bounded batch of a stream, validates and builds records, and upserts
// them one at a time.
type Processor[T any] struct {
	stream  Stream
	spec    Spec[T]
	limit   int
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewProcessor[T any](stream Stream, spec Spec[T], opts ProcessorOptions) *Processor[T] {
	if opts.Limit <= 0 {
		opts.Limit = DefaultFetchLimit
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Processor[T]{
		stream:  stream,
		spec:    spec,
		limit:   opts.Limit,
		logger:  opts.Logger.With(zap.String("stream", string(stream))),
		metrics: opts.Metrics,
	}
}

func (p *Processor[T]) Stream() Stream { return p.stream }

// Process runs one pass. It never panics and never returns an error other than through Result.
func (p *Processor[T]) Process(ctx context.Context, mode Mode) (res Result) {
	logger := p.logger.With(zap.String("mode", string(mode)))
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("%s processor panic: %v", p.stream, r)
			logger.Error("Processor panicked", zap.Any("panic", r), zap.Int("written", res.Written))
		}
		p.metrics.RecordBatch(string(p.stream), string(mode), res.Written, res.Skipped)
	}()

	start := time.Now()
	events, err := p.spec.Fetch(ctx, p.limit)
	p.metrics.RecordFetch(string(p.stream), time.Since(start), err)
	if err != nil {
		logger.Error("Fetch failed", zap.Error(err))
		res.Err = fmt.Errorf("fetch %s: %w", p.stream, err)
		return res
	}
	res.Fetched = len(events)

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			res.Err = err
			logger.Warn("Processing interrupted", zap.Int("written", res.Written), zap.Error(err))
			return res
		}
		if !hasRequired(ev, p.spec.Required) {
			res.Skipped++
			continue
		}

		rec := p.spec.Build(ev)
		if p.spec.Transform != nil {
			p.spec.Transform(rec)
		}
		if err := p.spec.Write(ctx, rec); err != nil {
			res.Err = fmt.Errorf("write %s: %w", p.stream, err)
			logger.Error("Write failed, aborting batch",
				zap.Int("written", res.Written),
				zap.Int("fetched", res.Fetched),
				zap.Error(err))
			return res
		}

		res.Written++
		if res.Written%progressEvery == 0 {
			logger.Info("Progress", zap.Int("written", res.Written), zap.Int("fetched", res.Fetched))
		}
	}

	logger.Info("Batch processed",
		zap.Int("fetched", res.Fetched),
		zap.Int("written", res.Written),
		zap.Int("skipped", res.Skipped),
		zap.Duration("took", time.Since(start)))
	return res
}

func hasRequired(ev bitquery.Event, names []string) bool {
	for _, name := range names {
		if _, ok := bitquery.GetArgumentValue(ev.Arguments, name); !ok {
			return false
		}
	}
	return true
}
