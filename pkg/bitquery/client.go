package bitquery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/polydash/ingestion/pkg/utils"
)

var (
	// ErrNoCredential is returned when the credential provider has no token to send.
	ErrNoCredential = errors.New("bitquery: no oauth token configured")
	// ErrGraphQL wraps errors reported in the GraphQL response body.
	ErrGraphQL = errors.New("bitquery: graphql error")
)

// TokenSource supplies the bearer token sent with every request.
type TokenSource interface {
	Token() string
}

// HTTPClient posts GraphQL queries to Bitquery through a token-bucket rate limiter and a
// per-endpoint circuit breaker.
type HTTPClient struct {
	endpoints []string
	client    *http.Client
	tokens    TokenSource
	logger    *zap.Logger
	cfg       Config

	// token-bucket, guarded by bucketMu
	bucketMu    sync.Mutex
	bucket      int64
	maxBucket   int64
	refillEvery time.Duration
	lastRefill  time.Time

	// circuit-breaker
	mu       sync.Mutex
	failures map[string]int
	opened   map[string]time.Time

	breakerThreshold int
	breakerCooldown  time.Duration
}

// Opts is the set of options for a new HTTPClient.
type Opts struct {
	Config          Config
	Tokens          TokenSource
	Logger          *zap.Logger
	RPS             int
	Burst           int
	Timeout         time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
	HTTPClient      *http.Client
}

// NewHTTPWithOpts creates a new HTTPClient with the given options.
func NewHTTPWithOpts(o Opts) *HTTPClient {
	if o.RPS <= 0 {
		o.RPS = 2
	}
	if o.Burst <= 0 {
		o.Burst = 4
	}
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Minute
	}
	if o.BreakerFailures <= 0 {
		o.BreakerFailures = 3
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}

	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	} else if client.Timeout == 0 {
		client.Timeout = o.Timeout
	}

	c := &HTTPClient{
		endpoints:        utils.Dedup(strings.Split(o.Config.Endpoint, ",")),
		client:           client,
		tokens:           o.Tokens,
		logger:           o.Logger,
		cfg:              o.Config,
		maxBucket:        int64(o.Burst),
		refillEvery:      time.Second / time.Duration(o.RPS),
		failures:         map[string]int{},
		opened:           map[string]time.Time{},
		breakerThreshold: o.BreakerFailures,
		breakerCooldown:  o.BreakerCooldown,
	}
	c.bucket = c.maxBucket
	c.lastRefill = time.Now()
	return c
}

// NewFromEnv builds a client from BITQUERY_* variables.
func NewFromEnv(logger *zap.Logger, tokens TokenSource) *HTTPClient {
	return NewHTTPWithOpts(Opts{
		Config:  ConfigFromEnv(),
		Tokens:  tokens,
		Logger:  logger,
		RPS:     utils.EnvInt("BITQUERY_RPS", 2),
		Timeout: utils.EnvDuration("BITQUERY_TIMEOUT", 2*time.Minute),
	})
}

// take refills the bucket for the intervals elapsed since the last refill and removes one
// token if any is left. Refill and take happen under one lock so concurrent callers never
// credit the same interval twice.
func (c *HTTPClient) take(now time.Time) bool {
	c.bucketMu.Lock()
	defer c.bucketMu.Unlock()

	if elapsed := now.Sub(c.lastRefill); elapsed >= c.refillEvery {
		n := int64(elapsed / c.refillEvery)
		c.bucket = min(c.maxBucket, c.bucket+n)
		c.lastRefill = c.lastRefill.Add(time.Duration(n) * c.refillEvery)
	}
	if c.bucket <= 0 {
		return false
	}
	c.bucket--
	return true
}

// acquire takes a token from the bucket, waiting for a refill when it is empty.
func (c *HTTPClient) acquire(ctx context.Context) error {
	for {
		if c.take(time.Now()) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.refillEvery / 2):
		}
	}
}

func (c *HTTPClient) isOpen(ep string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.opened[ep]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(c.opened, ep)
		c.failures[ep] = 0
		return false
	}
	return true
}

func (c *HTTPClient) noteFailure(ep string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[ep]++
	if c.failures[ep] >= c.breakerThreshold {
		c.opened[ep] = time.Now().Add(c.breakerCooldown)
	}
}

func (c *HTTPClient) noteSuccess(ep string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[ep] = 0
}

// doGraphQL posts payload to the first healthy endpoint and decodes the body into out.
// Server errors and transport failures move on to the next endpoint.
func (c *HTTPClient) doGraphQL(ctx context.Context, payload graphQLRequest, out any) error {
	if len(c.endpoints) == 0 {
		return fmt.Errorf("no endpoints configured")
	}
	token := ""
	if c.tokens != nil {
		token = c.tokens.Token()
	}
	if token == "" {
		return ErrNoCredential
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	lastErr := fmt.Errorf("all endpoints unavailable")
	for _, ep := range c.endpoints {
		if c.isOpen(ep) {
			continue
		}
		if err := c.acquire(ctx); err != nil {
			return err
		}

		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, ep, bytes.NewReader(body))
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			c.noteFailure(ep)
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server %d", resp.StatusCode)
			c.noteFailure(ep)
			_ = utils.DrainAndClose(resp.Body)
			continue
		}
		if resp.StatusCode >= 300 {
			// auth and quota failures are the same on every endpoint
			if snippet := utils.BodySnippet(resp.Body, 512); snippet != "" {
				return fmt.Errorf("http %d: %s", resp.StatusCode, snippet)
			}
			return fmt.Errorf("http %d", resp.StatusCode)
		}

		decodeErr := json.NewDecoder(resp.Body).Decode(out)
		_ = utils.DrainAndClose(resp.Body)
		if decodeErr != nil {
			lastErr = fmt.Errorf("decode response: %w", decodeErr)
			continue
		}
		c.noteSuccess(ep)
		return nil
	}

	return lastErr
}

// events runs the contract events query and returns the raw events.
func (c *HTTPClient) events(ctx context.Context, contract, signature string, limit int) ([]Event, error) {
	start := time.Now()
	var resp eventsResponse
	err := c.doGraphQL(ctx, graphQLRequest{
		Query: eventsQuery,
		Variables: map[string]any{
			"network":   c.cfg.Network,
			"contract":  contract,
			"signature": signature,
			"limit":     limit,
		},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("fetch %s events: %w", signature, err)
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrGraphQL, signature, strings.Join(msgs, "; "))
	}

	c.logger.Debug("Fetched events",
		zap.String("signature", signature),
		zap.Int("limit", limit),
		zap.Int("count", len(resp.Data.EVM.Events)),
		zap.Duration("took", time.Since(start)),
	)
	return resp.Data.EVM.Events, nil
}

func (c *HTTPClient) FetchTokenRegistered(ctx context.Context, limit int) ([]Event, error) {
	return c.events(ctx, c.cfg.CTFExchange, SignatureTokenRegistered, limit)
}

func (c *HTTPClient) FetchOrderFilled(ctx context.Context, limit int) ([]Event, error) {
	return c.events(ctx, c.cfg.CTFExchange, SignatureOrderFilled, limit)
}

func (c *HTTPClient) FetchConditionPreparation(ctx context.Context, limit int) ([]Event, error) {
	return c.events(ctx, c.cfg.ConditionalTokens, SignatureConditionPreparation, limit)
}

func (c *HTTPClient) FetchQuestionInitialized(ctx context.Context, limit int) ([]Event, error) {
	return c.events(ctx, c.cfg.UMAAdapter, SignatureQuestionInitialized, limit)
}
