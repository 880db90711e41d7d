package bitquery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

const tokenRegisteredBody = `{
  "data": {"EVM": {"Events": [
    {
      "Block": {"Time": "2024-05-01T10:00:00Z", "Number": "56000123"},
      "Transaction": {"Hash": "0xabc"},
      "Arguments": [
        {"Name": "token0", "Value": {"bigInteger": "1111"}},
        {"Name": "token1", "Value": {"bigInteger": "2222"}},
        {"Name": "conditionId", "Value": {"hex": "0xc0ffee"}}
      ]
    },
    {
      "Block": {"Time": "2024-05-01T10:00:02Z", "Number": 56000124},
      "Transaction": {"Hash": "0xdef"},
      "Arguments": [
        {"Name": "conditionId", "Value": {"hex": ""}}
      ]
    }
  ]}}
}`

func newTestClient(t *testing.T, url string, token string) *HTTPClient {
	cfg := Config{
		Endpoint:          url,
		Network:           DefaultNetwork,
		CTFExchange:       DefaultCTFExchange,
		ConditionalTokens: DefaultConditionalTokens,
		UMAAdapter:        DefaultUMAAdapter,
	}
	return NewHTTPWithOpts(Opts{Config: cfg, Tokens: staticToken(token), Logger: zaptest.NewLogger(t)})
}

func TestFetchTokenRegisteredSendsQueryAndDecodes(t *testing.T) {
	var got graphQLRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(tokenRegisteredBody))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "secret")
	events, err := client.FetchTokenRegistered(context.Background(), 10000)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, DefaultCTFExchange, got.Variables["contract"])
	assert.Equal(t, SignatureTokenRegistered, got.Variables["signature"])
	assert.Equal(t, "matic", got.Variables["network"])
	assert.EqualValues(t, 10000, got.Variables["limit"])

	first := events[0]
	assert.Equal(t, int64(56000123), first.BlockNumber())
	assert.Equal(t, "0xabc", first.Transaction.Hash)
	cond, ok := GetArgumentValue(first.Arguments, "conditionId")
	assert.True(t, ok)
	assert.Equal(t, "0xc0ffee", cond)

	// numeric block numbers are accepted too
	assert.Equal(t, int64(56000124), events[1].BlockNumber())
	_, ok = GetArgumentValue(events[1].Arguments, "conditionId")
	assert.False(t, ok, "empty values count as missing")
}

func TestFetchUsesContractPerStream(t *testing.T) {
	var (
		mu        sync.Mutex
		contracts []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		defer mu.Unlock()
		contracts = append(contracts, req.Variables["contract"].(string)+"/"+req.Variables["signature"].(string))
		_, _ = w.Write([]byte(`{"data":{"EVM":{"Events":[]}}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "secret")
	ctx := context.Background()
	_, err := client.FetchOrderFilled(ctx, 1)
	require.NoError(t, err)
	_, err = client.FetchConditionPreparation(ctx, 1)
	require.NoError(t, err)
	_, err = client.FetchQuestionInitialized(ctx, 1)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		DefaultCTFExchange + "/OrderFilled",
		DefaultConditionalTokens + "/ConditionPreparation",
		DefaultUMAAdapter + "/QuestionInitialized",
	}, contracts)
}

func TestFetchWithoutCredential(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "")
	_, err := client.FetchOrderFilled(context.Background(), 10)
	require.ErrorIs(t, err, ErrNoCredential)
	assert.Zero(t, hits.Load())
}

func TestFetchGraphQLErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":null,"errors":[{"message":"points exhausted"}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "secret")
	_, err := client.FetchQuestionInitialized(context.Background(), 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGraphQL))
	assert.Contains(t, err.Error(), "points exhausted")
}

func TestFetchClientErrorIsNotRetriedAcrossEndpoints(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "expired")
	_, err := client.FetchTokenRegistered(context.Background(), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 401")
}

func TestCircuitBreakerOpensAfterServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "secret")
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := client.FetchOrderFilled(ctx, 10)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "server 502")
	}

	_, err := client.FetchOrderFilled(ctx, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all endpoints unavailable")
	assert.Equal(t, int32(3), hits.Load())
}

func TestFailoverToSecondEndpoint(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(tokenRegisteredBody))
	}))
	defer good.Close()

	client := newTestClient(t, bad.URL+","+good.URL+"/", "secret")
	events, err := client.FetchTokenRegistered(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}
