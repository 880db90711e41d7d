package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/polydash/ingestion/pkg/utils"
)

const (
	DefaultStreamMaxLen = 10000
	// DefaultChannelPrefix namespaces every channel and stream this service writes.
	DefaultChannelPrefix = "polymarket:ingest"
)

// Client publishes ingestion notifications over Pub/Sub and appends them to a capped stream so
// late subscribers can catch up.
type Client struct {
	client       *redis.Client
	logger       *zap.Logger
	prefix       string
	streamMaxLen int64
}

// NewClient creates a new Redis client using environment variables for configuration.
// Environment variables:
//   - REDIS_HOST: Redis host (default: "localhost")
//   - REDIS_PORT: Redis port (default: "6379")
//   - REDIS_PASSWORD: Redis password (default: "")
//   - REDIS_DB: Redis database number (default: "0")
//   - REDIS_STREAM_MAXLEN: Max entries in the events stream (default: 10000, 0 = unlimited)
func NewClient(ctx context.Context, logger *zap.Logger) (*Client, error) {
	host := utils.Env("REDIS_HOST", "localhost")
	port := utils.Env("REDIS_PORT", "6379")
	password := utils.Env("REDIS_PASSWORD", "")
	db := utils.EnvIntAllowZero("REDIS_DB", 0)
	streamMaxLen := int64(utils.EnvIntAllowZero("REDIS_STREAM_MAXLEN", DefaultStreamMaxLen))

	addr := fmt.Sprintf("%s:%s", host, port)

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		PoolSize:     4,
		MinIdleConns: 1,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	logger.Info("Connected to Redis",
		zap.String("addr", addr),
		zap.Int("db", db),
		zap.Int64("streamMaxLen", streamMaxLen))

	return &Client{
		client:       rdb,
		logger:       logger,
		prefix:       DefaultChannelPrefix,
		streamMaxLen: streamMaxLen,
	}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Health checks if Redis is healthy.
func (c *Client) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Channel returns the Pub/Sub channel for an event name.
func (c *Client) Channel(event string) string {
	return ChannelName(c.prefix, event)
}

// Stream returns the name of the stream every event is appended to.
func (c *Client) Stream() string {
	return c.prefix + ":events"
}

func ChannelName(prefix, event string) string {
	return prefix + ":" + event
}

// PublishEvent publishes fields as JSON on the event channel and appends them to the events
// stream. It is best-effort: errors are logged and never returned.
func (c *Client) PublishEvent(ctx context.Context, event string, fields map[string]any) {
	payload, err := EncodeEvent(event, fields, time.Now())
	if err != nil {
		c.logger.Warn("Failed to encode Redis event", zap.String("event", event), zap.Error(err))
		return
	}

	if err := c.client.Publish(ctx, c.Channel(event), payload).Err(); err != nil {
		c.logger.Warn("Failed to publish Redis message",
			zap.String("channel", c.Channel(event)),
			zap.Error(err))
	}

	args := &redis.XAddArgs{
		Stream: c.Stream(),
		Values: map[string]any{"event": event, "payload": payload},
	}
	if c.streamMaxLen > 0 {
		args.MaxLen = c.streamMaxLen
		args.Approx = true
	}
	if err := c.client.XAdd(ctx, args).Err(); err != nil {
		c.logger.Warn("Failed to add to Redis stream",
			zap.String("stream", c.Stream()),
			zap.Error(err))
	}
}

// EncodeEvent renders the notification body: the fields plus "event" and "ts".
func EncodeEvent(event string, fields map[string]any, at time.Time) ([]byte, error) {
	body := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		body[k] = v
	}
	body["event"] = event
	body["ts"] = at.UTC().Format(time.RFC3339Nano)
	return json.Marshal(body)
}
