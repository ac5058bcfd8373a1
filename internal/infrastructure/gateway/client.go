// Package gateway talks to the storefront REST backend: account cart,
// wishlist and identity confirmation.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/storefront/cartsync/internal/infrastructure/telemetry"
)

const maxResponseBytes = 4 << 20

// TokenSource supplies the bearer credential for a request
type TokenSource interface {
	Token() (string, error)
}

// RequestObserver records request attempts
type RequestObserver interface {
	ObserveRequest(ctx context.Context, method, route string, status int, d time.Duration)
}

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxRetries int
	RetryDelay time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		RetryDelay: 200 * time.Millisecond,
		MaxDelay:   2 * time.Second,
		Multiplier: 2.0,
	}
}

// Client is the HTTP client shared by the gateways
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	headers    map[string]string
	auth       TokenSource
	retry      RetryConfig
	limiter    *rate.Limiter
	observer   RequestObserver
	logger     *zap.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-attempt timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithTokenSource attaches bearer authentication
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.auth = ts }
}

// WithRetry sets the retry policy
func WithRetry(cfg RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithRateLimit limits outgoing attempts to rps with the given burst. rps <= 0
// disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithObserver records each attempt
func WithObserver(o RequestObserver) Option {
	return func(c *Client) { c.observer = o }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithHeader sets a default header for all requests
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers[key] = value }
}

// NewClient creates a client for the backend rooted at baseURL
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	c := &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    u,
		headers: map[string]string{
			"Accept":     "application/json",
			"User-Agent": "cartsync/1.0",
		},
		retry:  DefaultRetryConfig(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Request is one backend call
type Request struct {
	Method         string
	Path           string
	Body           any
	IdempotencyKey string
	Anonymous      bool // send without the bearer credential
}

// retryable reports whether the request may be sent more than once
func (r Request) retryable() bool {
	return r.Method == http.MethodGet || r.IdempotencyKey != ""
}

// Response is a completed backend call
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
	Attempts   int
}

// Do executes req. A transport error is returned as-is; HTTP status is left
// to the caller. Retries apply only to requests safe to repeat.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	u, err := c.baseURL.Parse(strings.TrimPrefix(req.Path, "/"))
	if err != nil {
		return nil, fmt.Errorf("building URL: %w", err)
	}

	var payload []byte
	if req.Body != nil {
		if payload, err = json.Marshal(req.Body); err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
	}

	var token string
	if c.auth != nil && !req.Anonymous {
		if token, err = c.auth.Token(); err != nil {
			return nil, err
		}
	}

	ctx, span := telemetry.StartSpan(ctx, "gateway "+req.Method+" "+req.Path,
		telemetry.WithSpanKind(trace.SpanKindClient),
		telemetry.WithAttribute("http.method", req.Method),
		telemetry.WithAttribute("http.route", req.Path),
	)
	defer span.End()

	maxAttempts := 1
	if req.retryable() {
		maxAttempts += c.retry.MaxRetries
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				telemetry.RecordError(span, ctx.Err())
				return nil, ctx.Err()
			case <-time.After(c.backoff(attempt - 1)):
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				telemetry.RecordError(span, err)
				return nil, err
			}
		}

		resp, err := c.attempt(ctx, u, req, payload, token)
		if err == nil {
			resp.Attempts = attempt
			telemetry.SetAttributes(span, "http.status_code", resp.StatusCode, "http.attempts", attempt)
			if !shouldRetryStatus(resp.StatusCode) || attempt == maxAttempts {
				return resp, nil
			}
			lastErr = nil
		} else {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
		}
		c.logger.Debug("retrying backend request",
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	telemetry.RecordError(span, lastErr)
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, u *url.URL, req Request, payload []byte, token string) (*Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.observe(ctx, req, 0, time.Since(start))
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	duration := time.Since(start)
	c.observe(ctx, req, httpResp.StatusCode, duration)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
		Duration:   duration,
	}, nil
}

func (c *Client) observe(ctx context.Context, req Request, status int, d time.Duration) {
	if c.observer != nil {
		c.observer.ObserveRequest(ctx, req.Method, req.Path, status, d)
	}
}

func shouldRetryStatus(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

// backoff returns the delay before retry n (1-based) with +-25% jitter
func (c *Client) backoff(n int) time.Duration {
	multiplier := c.retry.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(c.retry.RetryDelay) * math.Pow(multiplier, float64(n-1))
	if c.retry.MaxDelay > 0 && delay > float64(c.retry.MaxDelay) {
		delay = float64(c.retry.MaxDelay)
	}
	jitter := delay * 0.25
	return time.Duration(delay + (rand.Float64()*2-1)*jitter)
}

// BaseURL returns the backend root
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}
