package ingester

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/polydash/ingestion/app/ingester/types"
	"github.com/polydash/ingestion/pkg/ancillary"
	"github.com/polydash/ingestion/pkg/bitquery"
	"github.com/polydash/ingestion/pkg/credentials"
	"github.com/polydash/ingestion/pkg/db"
	"github.com/polydash/ingestion/pkg/ingest"
	"github.com/polydash/ingestion/pkg/logging"
	"github.com/polydash/ingestion/pkg/metrics"
	"github.com/polydash/ingestion/pkg/redis"
	"github.com/polydash/ingestion/pkg/utils"
)

// Initialize initializes the application.
func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	store, err := db.Open(ctx, logger, utils.Env("STORAGE_DRIVER", db.DriverSQLite))
	if err != nil {
		logger.Fatal("Unable to initialize storage", zap.Error(err))
	}
	logger.Info("Storage ready", zap.String("driver", store.Driver()), zap.String("location", store.Location()))

	creds := credentials.FromEnv()
	if creds.Token() == "" {
		logger.Warn("BITQUERY_OAUTH_TOKEN is not set - every fetch will fail until it is configured")
	}

	// Redis is optional; progress notifications are skipped without it.
	var redisClient *redis.Client
	if utils.EnvBool("REDIS_ENABLED", false) {
		redisClient, err = redis.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - progress notifications will be disabled", zap.Error(err))
			redisClient = nil
		} else {
			logger.Info("Redis client initialized for progress notifications")
		}
	} else {
		logger.Info("Redis disabled - progress notifications will not be published")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	deps := ingest.Deps{
		Logger:  logger,
		Fetcher: bitquery.NewFromEnv(logger, creds),
		Store:   store,
		Decoder: ancillary.DecodeJSON,
		Metrics: metrics.New(reg),
	}
	if redisClient != nil {
		deps.Notifier = redisClient
	}

	engine, err := ingest.NewEngine(deps, ingest.ConfigFromEnv())
	if err != nil {
		logger.Fatal("Unable to initialize ingestion engine", zap.Error(err))
	}

	return &types.App{
		Engine:      engine,
		Store:       store,
		Credentials: creds,
		RedisClient: redisClient,
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Logger:      logger,
		StartedAt:   time.Now(),
	}
}
