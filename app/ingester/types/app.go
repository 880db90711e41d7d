package types

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/polydash/ingestion/pkg/credentials"
	"github.com/polydash/ingestion/pkg/db"
	"github.com/polydash/ingestion/pkg/ingest"
	"github.com/polydash/ingestion/pkg/redis"
)

// Engine is the part of *ingest.Engine the HTTP surface drives.
type Engine interface {
	StartPolling(ctx context.Context) bool
	Started() bool
	InitialSyncStatus() ingest.SyncStatus
	QueueLen() int
	Stop()
}

// CredentialReporter describes the upstream credential without exposing it.
type CredentialReporter interface {
	Diagnostics(now time.Time) credentials.Diagnostics
}

type App struct {
	Engine      Engine
	Store       db.Store
	Credentials CredentialReporter
	// RedisClient is nil unless REDIS_ENABLED=true and the server answered.
	RedisClient *redis.Client
	// Metrics serves /metrics.
	Metrics http.Handler
	// Zap Logger
	Logger *zap.Logger
	// Server represents the HTTP server instance used to handle incoming client requests and manage HTTP routes.
	Server    *http.Server
	StartedAt time.Time
}

// Uptime is the time since the process was initialised.
func (a *App) Uptime() time.Duration {
	return time.Since(a.StartedAt)
}

// Start serves HTTP, starts polling, and blocks until ctx is cancelled.
func (a *App) Start(ctx context.Context) {
	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	if a.Engine.StartPolling(ctx) {
		a.Logger.Info("Polling started via auto-initialization")
	}

	<-ctx.Done()
	a.Stop()
}

// Stop shuts everything down in reverse dependency order.
func (a *App) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = a.Server.Shutdown(shutdownCtx)
	a.Engine.Stop()

	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Error("Failed to close redis connection", zap.Error(err))
		}
	}

	if err := a.Store.Close(); err != nil {
		a.Logger.Error("Failed to close database connection", zap.Error(err))
	}

	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}
