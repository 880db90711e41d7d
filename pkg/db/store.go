package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/polydash/ingestion/pkg/db/clickhouse"
	"github.com/polydash/ingestion/pkg/db/postgres"
	"github.com/polydash/ingestion/pkg/db/sqlite"
	"github.com/polydash/ingestion/pkg/utils"
)

const (
	DriverSQLite     = "sqlite"
	DriverPostgres   = "postgres"
	DriverClickHouse = "clickhouse"
)

// ErrUnknownDriver is returned by Open for an unsupported STORAGE_DRIVER.
var ErrUnknownDriver = errors.New("unknown storage driver")

// Open connects to the backend named by driver and makes sure the stream tables exist.
func Open(ctx context.Context, logger *zap.Logger, driver string) (Store, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	logger = logger.With(zap.String("component", "store"), zap.String("driver", driver))

	switch driver {
	case DriverSQLite, "":
		return sqlite.Open(ctx, logger, utils.Env("SQLITE_PATH", sqlite.DefaultPath))
	case DriverPostgres:
		return postgres.NewStore(ctx, logger)
	case DriverClickHouse:
		return clickhouse.NewStore(ctx, logger, utils.Env("CLICKHOUSE_DATABASE", "polymarket"))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}
