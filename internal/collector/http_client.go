package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourusername/line-drive/internal/config"
)

// HTTPClientConfig holds the fetch budget for one source
type HTTPClientConfig struct {
	Source       string
	Timeout      time.Duration
	MaxRetries   int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	RateLimitRPS float64 // requests per second, token bucket
	RateLimitRPH int     // requests per hour, budget ceiling
}

// HTTPConfigFor derives the per-source HTTP budget from collector config
func HTTPConfigFor(name string, cc *config.CollectorConfig) HTTPClientConfig {
	return HTTPClientConfig{
		Source:       name,
		Timeout:      cc.Timeout(),
		MaxRetries:   cc.RetryMaxAttempts,
		RetryWaitMin: cc.RetryBackoff(),
		RetryWaitMax: 10 * cc.RetryBackoff(),
		RateLimitRPS: cc.RateLimitRPS,
		RateLimitRPH: cc.RateLimitRPH,
	}
}

// RateLimitedHTTPClient wraps retryablehttp.Client with token-bucket rate
// limiting on both the per-second and per-hour budgets, circuit-breaker
// consultation, and Retry-After cooldowns. Safe for concurrent use.
type RateLimitedHTTPClient struct {
	source        string
	client        *retryablehttp.Client
	secondLimiter *rate.Limiter
	hourLimiter   *rate.Limiter
	gate          Gate
	logger        *logrus.Entry

	mu            sync.Mutex
	cooldownUntil time.Time
}

// NewRateLimitedHTTPClient creates a new rate-limited HTTP client. A nil gate
// disables circuit-breaker consultation (used by the webhook sink).
func NewRateLimitedHTTPClient(cfg HTTPClientConfig, gate Gate, logger *logrus.Entry) *RateLimitedHTTPClient {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Timeout = cfg.Timeout
	retryClient.RetryMax = cfg.MaxRetries
	retryClient.RetryWaitMin = cfg.RetryWaitMin
	retryClient.RetryWaitMax = cfg.RetryWaitMax
	retryClient.CheckRetry = transientRetryPolicy()
	retryClient.Backoff = jitteredBackoff
	// Keep the final response so 429 cooldowns can read Retry-After.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.Logger = nil

	burst := int(math.Max(1, cfg.RateLimitRPS))
	hourly := rate.Limit(float64(cfg.RateLimitRPH) / 3600.0)
	hourlyBurst := cfg.RateLimitRPH / 60
	if hourlyBurst < 1 {
		hourlyBurst = 1
	}

	return &RateLimitedHTTPClient{
		source:        cfg.Source,
		client:        retryClient,
		secondLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst),
		hourLimiter:   rate.NewLimiter(hourly, hourlyBurst),
		gate:          gate,
		logger:        logger,
	}
}

// Do executes an HTTP request under the source's budget. The circuit breaker
// is consulted before any I/O; rate-limit cooldowns fail fast the same way.
func (c *RateLimitedHTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if c.gate != nil {
		if err := c.gate.Allow(); err != nil {
			return nil, NewCollectorError(c.source, ErrCodeCircuitOpen, "circuit breaker open", err)
		}
	}

	if wait := c.cooldownRemaining(); wait > 0 {
		return nil, NewCollectorError(c.source, ErrCodeRateLimitExceeded,
			fmt.Sprintf("cooling down %s after rate limit", wait.Round(time.Second)), nil)
	}

	if err := c.hourLimiter.Wait(ctx); err != nil {
		return nil, NewCollectorError(c.source, ErrCodeRateLimitExceeded, "hourly budget wait interrupted", err)
	}
	if err := c.secondLimiter.Wait(ctx); err != nil {
		return nil, NewCollectorError(c.source, ErrCodeRateLimitExceeded, "rate limiter wait interrupted", err)
	}

	rreq, err := retryablehttp.FromRequest(req)
	if err != nil {
		return nil, NewCollectorError(c.source, ErrCodeUnknown, "failed to build request", err)
	}
	rreq = rreq.WithContext(ctx)

	resp, err := c.client.Do(rreq)

	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		hint := parseRetryAfter(resp.Header.Get("Retry-After"))
		c.startCooldown(hint)
		drainAndClose(resp)
		return nil, NewCollectorError(c.source, ErrCodeRateLimitExceeded,
			fmt.Sprintf("rate limited, retry after %s", hint), nil)
	}

	if err != nil {
		c.record(false)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, NewCollectorError(c.source, ErrCodeTimeout, "request timed out", err)
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, NewCollectorError(c.source, ErrCodeNetworkError, "request failed", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		drainAndClose(resp)
		c.record(false)
		return nil, NewCollectorError(c.source, ErrCodeAuthenticationFailed,
			fmt.Sprintf("authentication rejected (%d)", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusNotFound:
		drainAndClose(resp)
		return nil, NewCollectorError(c.source, ErrCodeNotFound, "resource not found", nil)
	case resp.StatusCode >= 500:
		drainAndClose(resp)
		c.record(false)
		return nil, NewCollectorError(c.source, ErrCodeServerError,
			fmt.Sprintf("server error %d", resp.StatusCode), nil)
	}

	c.record(true)
	return resp, nil
}

// Get executes a GET request
func (c *RateLimitedHTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, req)
}

// Post executes a POST request
func (c *RateLimitedHTTPClient) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return c.Do(ctx, req)
}

// Close releases idle connections
func (c *RateLimitedHTTPClient) Close() error {
	c.client.HTTPClient.CloseIdleConnections()
	return nil
}

// requestWithBearer builds a GET request carrying the provider token, when one
// is configured
func requestWithBearer(ctx context.Context, url, token string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *RateLimitedHTTPClient) record(success bool) {
	if c.gate != nil {
		c.gate.Record(success)
	}
}

func (c *RateLimitedHTTPClient) cooldownRemaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Until(c.cooldownUntil)
}

func (c *RateLimitedHTTPClient) startCooldown(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	until := time.Now().Add(d)
	if until.After(c.cooldownUntil) {
		c.cooldownUntil = until
		c.logger.WithFields(logrus.Fields{
			"source":   c.source,
			"cooldown": d.String(),
		}).Warn("Rate limited, entering cooldown")
	}
}

// transientRetryPolicy retries network errors, 5xx and 429 responses
func transientRetryPolicy() retryablehttp.CheckRetry {
	return func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return true, err
		}
		switch resp.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true, nil
		}
		return false, nil
	}
}

// jitteredBackoff grows exponentially with ±25% jitter, except that a server
// Retry-After hint always wins.
func jitteredBackoff(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	if resp != nil && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable) {
		if hint := parseRetryAfter(resp.Header.Get("Retry-After")); hint > 0 {
			return hint
		}
	}

	backoff := float64(min) * math.Pow(2, float64(attemptNum))
	backoff = backoff * (0.75 + rand.Float64()*0.5)
	if backoff > float64(max) {
		backoff = float64(max)
	}
	return time.Duration(backoff)
}

// parseRetryAfter reads a Retry-After header in either seconds or HTTP-date
// form, defaulting to 30s when absent or unparseable.
func parseRetryAfter(h string) time.Duration {
	const fallback = 30 * time.Second
	if h == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(h); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(h); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return fallback
}

func drainAndClose(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
