package ingest

import (
	"context"
	"fmt"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"
)

// RunInitialSync runs every stream processor concurrently unless all streams already hold data.
// Each stream is marked completed when its task ends, whatever the outcome. After all tasks end
// the store is checkpointed and the running flag cleared, even if the checkpoint fails.
func (e *Engine) RunInitialSync(ctx context.Context) {
	logger := e.logger.With(zap.String("mode", string(ModeInitial)))

	populated, err := e.store.AreAllStreamsPopulated(ctx)
	if err != nil {
		logger.Warn("Unable to check stream population, syncing anyway", zap.Error(err))
		populated = false
	}
	if populated {
		logger.Info("Initial sync skipped: all streams already populated")
		e.notify(ctx, EventSyncSkipped, nil)
		return
	}

	e.tracker.Begin()
	e.metrics.SyncStarted()
	logger.Info("Initial sync started", zap.Int("streams", len(e.runners)))
	e.notify(ctx, EventSyncStarted, map[string]any{"streams": len(e.runners)})

	pool := pond.NewPool(len(e.runners))
	group := pool.NewGroup()
	for _, r := range e.runners {
		group.Submit(func() {
			e.runInitialTask(ctx, r)
		})
	}
	if err := group.Wait(); err != nil {
		logger.Error("Initial sync task failed", zap.Error(err))
	}
	pool.StopAndWait()

	status, err := e.checkpoint(ctx)
	e.metrics.RecordCheckpoint(status)
	if err != nil {
		logger.Error("Checkpoint after initial sync failed", zap.String("status", status), zap.Error(err))
	} else {
		logger.Info("Checkpoint after initial sync", zap.String("status", status))
	}

	final := e.tracker.Snapshot()
	took := e.tracker.Finish()
	e.metrics.SyncFinished(took)

	fields := make([]zap.Field, 0, len(final.Progress)+1)
	counts := make(map[string]any, len(final.Progress))
	for _, s := range Streams {
		fields = append(fields, zap.Int(string(s), final.Progress[s].Count))
		counts[string(s)] = final.Progress[s].Count
	}
	logger.Info("Initial sync finished", append(fields, zap.Duration("took", took))...)
	counts["durationSeconds"] = int(took.Seconds())
	counts["checkpoint"] = status
	e.notify(ctx, EventSyncFinished, counts)
}

func (e *Engine) runInitialTask(ctx context.Context, r Runner) {
	var res Result
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("Initial sync task panicked", zap.String("stream", string(r.Stream())), zap.Any("panic", p))
		}
		e.tracker.Complete(r.Stream(), res.Written)
		e.notify(ctx, EventStreamCompleted, map[string]any{
			"stream": string(r.Stream()),
			"count":  res.Written,
			"failed": res.Err != nil,
		})
	}()

	res = r.Process(ctx, ModeInitial)
	if res.Err != nil {
		e.logger.Error("Initial sync stream failed",
			zap.String("stream", string(r.Stream())),
			zap.Int("written", res.Written),
			zap.Error(res.Err))
		return
	}
	e.logger.Info("Initial sync stream completed",
		zap.String("stream", string(r.Stream())),
		zap.Int("written", res.Written),
		zap.Int("skipped", res.Skipped))
}

func (e *Engine) checkpoint(ctx context.Context) (status string, err error) {
	defer func() {
		if p := recover(); p != nil {
			status, err = "error", fmt.Errorf("checkpoint panicked: %v", p)
		}
	}()
	return e.store.Checkpoint(ctx)
}
