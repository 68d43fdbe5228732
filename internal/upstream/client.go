// Package upstream implements the client for the remote paginated business
// API: authentication, page fetching with rate-limit backoff, and the
// parallel-then-rescue range fetcher.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/gco-platform/ledgersync/internal/metrics"
	"github.com/gco-platform/ledgersync/pkg/types"
)

// Sentinel errors callers branch on.
var (
	// ErrRateLimited is returned when the upstream signals throttling and
	// the retry budget is exhausted.
	ErrRateLimited = errors.New("upstream rate limited")
	// ErrAuth is returned when partition credentials are rejected.
	ErrAuth = errors.New("upstream authentication failed")
)

const (
	defaultPageSize    = 100
	defaultPageWorkers = 4
	defaultTimeout     = 30 * time.Second
	defaultRescueDelay = 2 * time.Second
	defaultPartnerID   = "LedgerSync"
)

// Client talks to one upstream API host. Safe for concurrent use.
type Client struct {
	baseURL     string
	partnerID   string
	httpc       *http.Client
	retry       types.RetryPolicy
	pageSize    int
	pageWorkers int
	rescueDelay time.Duration
	breaker     *gobreaker.CircuitBreaker
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpc = hc }
}

// WithRetryPolicy overrides the transient-failure retry policy.
func WithRetryPolicy(p types.RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithPageSize overrides the pagination page size.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithPageWorkers bounds the parallel page fetches per range. Kept small on
// purpose so the fetcher doesn't provoke the upstream rate limiter.
func WithPageWorkers(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageWorkers = n
		}
	}
}

// WithRescueDelay sets the grace delay between sequential rescue retries.
func WithRescueDelay(d time.Duration) Option {
	return func(c *Client) { c.rescueDelay = d }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client for the upstream API at baseURL.
func NewClient(baseURL, partnerID string, opts ...Option) *Client {
	if partnerID == "" {
		partnerID = defaultPartnerID
	}
	c := &Client{
		baseURL:     baseURL,
		partnerID:   partnerID,
		retry:       types.DefaultRetryPolicy(),
		pageSize:    defaultPageSize,
		pageWorkers: defaultPageWorkers,
		rescueDelay: defaultRescueDelay,
		logger:      slog.Default(),
		sleep:       sleepCtx,
	}
	for _, o := range opts {
		o(c)
	}
	if c.httpc == nil {
		c.httpc = &http.Client{Timeout: defaultTimeout}
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "upstream:" + baseURL,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Authenticate exchanges partition credentials for a bearer token. Rate
// limiting and 5xx responses are retried with backoff; credential rejection
// returns ErrAuth.
func (c *Client) Authenticate(ctx context.Context, username, accessKey string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"username":   username,
		"access_key": accessKey,
	})
	if err != nil {
		return "", fmt.Errorf("encoding auth request: %w", err)
	}

	for attempt := 1; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth", bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("building auth request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Partner-Id", c.partnerID)

		status, respBody, err := c.execute(req)
		if err != nil {
			return "", fmt.Errorf("authenticating: %w", err)
		}

		switch {
		case status == http.StatusOK:
			var parsed struct {
				AccessToken string `json:"access_token"`
			}
			if err := json.Unmarshal(respBody, &parsed); err != nil {
				return "", fmt.Errorf("decoding auth response: %w", err)
			}
			if parsed.AccessToken == "" {
				return "", fmt.Errorf("%w: empty access token", ErrAuth)
			}
			return parsed.AccessToken, nil
		case status == http.StatusTooManyRequests:
			metrics.RateLimitHits.Add(1)
			if attempt >= c.retry.MaxAttempts {
				return "", fmt.Errorf("%w: auth throttled after %d attempts", ErrRateLimited, attempt)
			}
			if err := c.sleep(ctx, c.retry.Backoff(attempt)); err != nil {
				return "", err
			}
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return "", fmt.Errorf("%w: status %d", ErrAuth, status)
		case status >= 500:
			// Transient upstream trouble, not a credential problem.
			if attempt >= c.retry.MaxAttempts {
				return "", fmt.Errorf("auth failed after %d attempts: upstream status %d", attempt, status)
			}
			if err := c.sleep(ctx, c.retry.Backoff(attempt)); err != nil {
				return "", err
			}
		default:
			return "", fmt.Errorf("unexpected auth status %d", status)
		}
	}
}

// getWithRetry issues a GET with rate-limit and transient-failure backoff
// per the retry policy. Transport-level and 5xx failures feed the circuit
// breaker; 429 responses do not (throttling is expected load shedding, not
// an unhealthy host).
func (c *Client) getWithRetry(ctx context.Context, token, path string, query url.Values) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			metrics.PageRetries.Add(1)
			if err := c.sleep(ctx, c.retry.Backoff(attempt-1)); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("building request for %s: %w", path, err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Partner-Id", c.partnerID)

		status, body, err := c.execute(req)
		if err != nil {
			lastErr = err
			continue
		}

		switch {
		case status == http.StatusOK:
			return body, nil
		case status == http.StatusTooManyRequests:
			metrics.RateLimitHits.Add(1)
			lastErr = ErrRateLimited
		case status >= 500:
			lastErr = fmt.Errorf("upstream status %d for %s", status, path)
		default:
			return nil, fmt.Errorf("upstream status %d for %s", status, path)
		}
	}
	return nil, fmt.Errorf("%s failed after %d attempts: %w", path, c.retry.MaxAttempts, lastErr)
}

// execute runs the request through the circuit breaker. 429 is passed
// through as a normal outcome so throttling never trips the breaker.
func (c *Client) execute(req *http.Request) (int, []byte, error) {
	type outcome struct {
		status int
		body   []byte
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.httpc.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("reading response: %w", err)
		}
		if resp.StatusCode >= 500 {
			// Count as a breaker failure but hand the outcome back so the
			// retry loop sees the status.
			return outcome{status: resp.StatusCode, body: body}, &serverError{status: resp.StatusCode}
		}
		return outcome{status: resp.StatusCode, body: body}, nil
	})
	if err != nil {
		var srvErr *serverError
		if errors.As(err, &srvErr) {
			return srvErr.status, nil, nil
		}
		return 0, nil, err
	}
	out := result.(outcome)
	return out.status, out.body, nil
}

type serverError struct{ status int }

func (e *serverError) Error() string {
	return fmt.Sprintf("upstream server error %d", e.status)
}
