// Package client provides the core BagelDB HTTP client with bounded
// retrying, structured logging, and Prometheus instrumentation.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bagelstudio/bageldb-go/pkg/query"
)

// Prometheus metrics for BagelDB client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bageldb_requests_total",
		Help: "Total BagelDB requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bageldb_request_duration_seconds",
		Help:    "BagelDB request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bageldb_errors_total",
		Help: "Total BagelDB errors by class",
	}, []string{"class"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bageldb_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bageldb_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted",
	})
)

const (
	// DefaultBaseURL is the public BagelDB API root.
	DefaultBaseURL = "https://api.bagelstudio.co/api/public"

	// acceptVersion is the API version sent on every request.
	acceptVersion = "v1"

	// itemCountHeader carries the total matching item count on
	// collection reads.
	itemCountHeader = "item-count"
)

// Config holds the client configuration.
type Config struct {
	// APIToken is sent as "Authorization: Bearer <token>" (REQUIRED).
	APIToken string

	// BaseURL overrides the API root (mainly for tests).
	BaseURL string

	// RequestTimeout bounds a single HTTP round trip.
	RequestTimeout time.Duration

	// MaxRetries is the attempt budget per request for transport-level
	// failures, including the initial attempt.
	MaxRetries int

	// RetryBackoff is the fixed wait between attempts.
	RetryBackoff time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(apiToken string) Config {
	return Config{
		APIToken:       apiToken,
		BaseURL:        DefaultBaseURL,
		RequestTimeout: 30 * time.Second,
		MaxRetries:     10,
		RetryBackoff:   1 * time.Second,
	}
}

// Client is the BagelDB API client. It is safe for concurrent use; all
// request state, including the authorization header, is computed once at
// construction and never mutated.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	authorization string
	retry         RetryConfig
	logger        zerolog.Logger
}

// New creates a new BagelDB client.
func New(cfg Config) (*Client, error) {
	if cfg.APIToken == "" {
		return nil, fmt.Errorf("api token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	defaults := DefaultRetryConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaults.MaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaults.Backoff
	}

	logger := log.With().Str("component", "bageldb-client").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		baseURL:       cfg.BaseURL,
		authorization: "Bearer " + cfg.APIToken,
		retry: RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			Backoff:     cfg.RetryBackoff,
		},
		logger: logger,
	}, nil
}

// Do performs an HTTP request with the client's auth headers and bounded
// retrying of transport-level failures. Non-200 statuses are returned to
// the caller untouched; only connection errors and timeouts consume the
// retry budget.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	endpoint := req.URL.Path

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	req.Header.Set("Authorization", c.authorization)
	req.Header.Set("Accept-Version", acceptVersion)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", req.Method).
		Msg("Executing BagelDB request")

	var resp *http.Response

	retryErr := retryWithBackoff(ctx, c.retry, func() error {
		// A failed attempt may have consumed the body; rewind it.
		if req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return fmt.Errorf("rewind request body: %w", bodyErr)
			}
			req.Body = body
		}

		r, reqErr := c.httpClient.Do(req)
		if reqErr != nil {
			c.logger.Error().Err(reqErr).Str("endpoint", endpoint).Msg("HTTP request failed")
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			return reqErr
		}

		resp = r
		requestsTotal.WithLabelValues(endpoint, strconv.Itoa(r.StatusCode)).Inc()
		return nil
	}, func(error) ErrorClass {
		// Anything surfaced by http.Client.Do is transport-level.
		return ErrorClassNetwork
	})

	if retryErr != nil {
		return nil, retryErr
	}

	return resp, nil
}

// Get performs a GET request against a BagelDB path (including any query
// string) relative to the configured base URL.
func (c *Client) Get(ctx context.Context, pathAndQuery string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathAndQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	return c.Do(req)
}

// FetchPage performs one logical page fetch for q. It returns the decoded
// page items and the total matching item count reported by the item-count
// response header, or -1 when the header is absent or non-numeric.
//
// A non-200 status surfaces as an *APIError and is not retried; a 200
// response whose body fails JSON decoding is a fatal decode error for the
// page, also not retried.
func (c *Client) FetchPage(ctx context.Context, q query.CollectionQuery, mode query.EncodeMode, page int) ([]json.RawMessage, int, error) {
	fragment, err := q.EncodePage(mode, page)
	if err != nil {
		return nil, 0, err
	}

	endpoint := q.Path()
	resp, err := c.Get(ctx, endpoint+fragment)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		class := classifyStatus(resp.StatusCode)
		errorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("page", page).
			Int("status", resp.StatusCode).
			Msg("Page fetch returned non-200 status")
		return nil, 0, &APIError{
			StatusCode: resp.StatusCode,
			Class:      class,
			Endpoint:   endpoint,
			Message:    resp.Status,
		}
	}

	itemCount := -1
	if raw := resp.Header.Get(itemCountHeader); raw != "" {
		if n, convErr := strconv.Atoi(raw); convErr == nil {
			itemCount = n
		}
	}

	items, err := decodeItems(endpoint, resp)
	if err != nil {
		return nil, 0, err
	}

	return items, itemCount, nil
}

// FetchUnpaged performs the non-paginated collection read: exactly one
// request without pagination parameters.
func (c *Client) FetchUnpaged(ctx context.Context, q query.CollectionQuery) ([]json.RawMessage, error) {
	fragment, err := q.Encode(query.ModePerTerm)
	if err != nil {
		return nil, err
	}

	endpoint := q.Path()
	resp, err := c.Get(ctx, endpoint+fragment)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		class := classifyStatus(resp.StatusCode)
		errorsTotal.WithLabelValues(string(class)).Inc()
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Class:      class,
			Endpoint:   endpoint,
			Message:    resp.Status,
		}
	}

	return decodeItems(endpoint, resp)
}

// decodeItems reads a 200 response body as a JSON array of opaque
// documents. The documents themselves are never interpreted.
func decodeItems(endpoint string, resp *http.Response) ([]json.RawMessage, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read page body: %w", err)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassDecode,
			Endpoint:   endpoint,
			Message:    "decoding page body",
			Err:        fmt.Errorf("%w: %v", ErrDecodeFailed, err),
		}
	}

	return items, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
