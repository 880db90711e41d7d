package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/polydash/ingestion/pkg/utils"
)

// ServiceName is attached to every log line.
const ServiceName = "polymarket-ingester"

// New builds the process logger from LOG_LEVEL (debug|info|warn|error) and LOG_ENCODING
// (json|console).
func New() (*zap.Logger, error) {
	return Config(utils.Env("LOG_LEVEL", "info"), utils.Env("LOG_ENCODING", "json")).Build()
}

// Config is the production config adjusted for level and encoding. Unknown levels fall back
// to info and unknown encodings to json.
func Config(level, encoding string) zap.Config {
	cfg := zap.NewProductionConfig()

	switch encoding {
	case "console":
		cfg.Encoding = "console"
	default:
		cfg.Encoding = "json"
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		cfg.Development = true
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	// keep every progress line
	cfg.Sampling = nil
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.InitialFields = map[string]interface{}{"service": ServiceName}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}
