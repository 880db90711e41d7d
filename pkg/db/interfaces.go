package db

import (
	"context"

	"github.com/polydash/ingestion/pkg/db/models"
)

// Store is the storage collaborator of the ingestion pipeline. Every Insert* is an upsert by the
// record's natural key, so delivering the same event twice leaves a single identical row.
// Implementations must tolerate concurrent writers.
type Store interface {
	InsertTokenRegistered(ctx context.Context, rec *models.TokenRegistration) error
	InsertOrderFilled(ctx context.Context, rec *models.OrderFill) error
	InsertConditionPreparation(ctx context.Context, rec *models.ConditionPreparation) error
	InsertQuestionInitialized(ctx context.Context, rec *models.QuestionInitialization) error

	// AreAllStreamsPopulated reports whether every stream table holds at least one row.
	AreAllStreamsPopulated(ctx context.Context) (bool, error)
	// AreStreamsEmpty reports whether no stream table holds any row.
	AreStreamsEmpty(ctx context.Context) (bool, error)
	Counts(ctx context.Context) (models.StreamCounts, error)
	// MarketDiagnostics reports how the question, condition and token streams join up.
	MarketDiagnostics(ctx context.Context) (models.MarketDiagnostics, error)

	// Checkpoint forces buffered writes into durable form. The status is a short
	// human-readable outcome; a non-nil error is informational and never fatal.
	Checkpoint(ctx context.Context) (string, error)

	Ping(ctx context.Context) error
	Driver() string
	Location() string
	Close() error
}
