// Package ingest is the ingestion pipeline: a single-worker retrying job queue, the parallel
// initial sync, one generic event processor per stream, the hourly poller and the progress
// tracker, all owned by an Engine.
package ingest

import (
	"context"

	"github.com/polydash/ingestion/pkg/bitquery"
	"github.com/polydash/ingestion/pkg/db/models"
)

// Stream names one of the four ingested event types. The values are the keys of the
// progress map in status snapshots.
type Stream string

const (
	StreamQuestionInitialized  Stream = "questionInit"
	StreamConditionPreparation Stream = "condPrep"
	StreamTokenRegistered      Stream = "tokenReg"
	StreamOrderFilled          Stream = "orderFilled"
)

// Streams lists every stream in the order the initial sync launches them.
var Streams = []Stream{
	StreamQuestionInitialized,
	StreamConditionPreparation,
	StreamTokenRegistered,
	StreamOrderFilled,
}

// Mode tells a processor whether it runs as part of the initial sync or a recurring poll.
type Mode string

const (
	ModeInitial Mode = "initial"
	ModePolling Mode = "polling"
)

// Fetcher returns the newest raw events of each stream, at most limit per call.
type Fetcher interface {
	FetchTokenRegistered(ctx context.Context, limit int) ([]bitquery.Event, error)
	FetchOrderFilled(ctx context.Context, limit int) ([]bitquery.Event, error)
	FetchConditionPreparation(ctx context.Context, limit int) ([]bitquery.Event, error)
	FetchQuestionInitialized(ctx context.Context, limit int) ([]bitquery.Event, error)
}

// Store is the subset of the storage backend the pipeline writes through. Inserts are upserts
// by natural key.
type Store interface {
	InsertTokenRegistered(ctx context.Context, rec *models.TokenRegistration) error
	InsertOrderFilled(ctx context.Context, rec *models.OrderFill) error
	InsertConditionPreparation(ctx context.Context, rec *models.ConditionPreparation) error
	InsertQuestionInitialized(ctx context.Context, rec *models.QuestionInitialization) error
	AreAllStreamsPopulated(ctx context.Context) (bool, error)
	AreStreamsEmpty(ctx context.Context) (bool, error)
	Checkpoint(ctx context.Context) (string, error)
}

// Decoder turns a raw ancillary payload into its JSON-encoded decoded form, or nil.
type Decoder func(raw string) *string

// Notifier receives lifecycle events. Delivery is best-effort.
type Notifier interface {
	PublishEvent(ctx context.Context, event string, fields map[string]any)
}

// Notification event names.
const (
	EventSyncStarted     = "sync.started"
	EventSyncSkipped     = "sync.skipped"
	EventStreamCompleted = "stream.completed"
	EventSyncFinished    = "sync.finished"
	EventPollCompleted   = "poll.completed"
)
