// Package client is a typed HTTP client for the clinic API. Calls go through
// a circuit breaker; server-reported errors come back as *APIError.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/go-clinic/pkg/circuitbreaker"
)

const (
	DefaultTimeout = 30 * time.Second
	maxErrorBody   = 64 << 10
)

// APIError is an error reported by the server, either as a non-2xx status
// or as an "error" field in a 2xx body.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// StatusOf returns the HTTP status of an *APIError in err's chain, or 0.
func StatusOf(err error) int {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Status
	}
	return 0
}

// Message returns the server's message when err carries one, else fallback.
func Message(err error, fallback string) string {
	var ae *APIError
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return fallback
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.http.Timeout = d } }

// WithToken sends the session token as a bearer token.
func WithToken(token string) Option { return func(c *Client) { c.token = token } }

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option { return func(c *Client) { c.breaker = cb } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.logger = l } }

// Client calls the clinic API.
type Client struct {
	base    *url.URL
	http    *http.Client
	token   string
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// New creates a client for the API at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	c := &Client{
		base:   u,
		http:   &http.Client{Timeout: DefaultTimeout},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		cfg := circuitbreaker.DefaultConfig("clinic-api")
		cfg.IsSuccessful = countsAsSuccess
		cb, err := circuitbreaker.New(cfg, c.logger)
		if err != nil {
			return nil, fmt.Errorf("create breaker: %w", err)
		}
		c.breaker = cb
	}
	return c, nil
}

// countsAsSuccess keeps client errors and cancellations from tripping the
// breaker. Only transport failures and 5xx responses count.
func countsAsSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	status := StatusOf(err)
	return status > 0 && status < 500
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.roundTrip(ctx, method, path, query, body, out)
	})
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := *c.base
	u.Path = c.base.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var probe struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(raw, &probe)

	if resp.StatusCode >= 300 {
		msg := probe.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		c.logger.Debug("api error",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("message", truncate(msg, maxErrorBody)))
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if probe.Error != "" {
		return &APIError{Status: resp.StatusCode, Message: probe.Error}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
