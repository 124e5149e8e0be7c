// Package provider is the HTTP plumbing shared by the platform adapters.
//
// Every request carries its own bearer token; a Client holds no per-owner state
// and is safe for concurrent use.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pscheid92/creatorsync/internal/domain"
	"github.com/sony/gobreaker"
)

const (
	maxBodyBytes      = 1 << 20
	maxErrorBodyBytes = 512

	breakerTripAfter = 5
	breakerOpenFor   = 30 * time.Second
)

// StatusError is a non-2xx, non-429 provider response.
type StatusError struct {
	Platform   domain.Platform
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Platform, e.Op, e.StatusCode, e.Body)
}

// APIError is a failure reported inside an HTTP 200 body.
type APIError struct {
	Platform domain.Platform
	Op       string
	Code     string
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: %s: %s", e.Platform, e.Op, e.Code, e.Message)
}

// IsTransient reports whether retrying err might succeed: 5xx responses and network failures.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= http.StatusInternalServerError
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

type Client struct {
	platform domain.Platform
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
	onState  func(name string, from, to gobreaker.State)
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBreakerObserver is called on every circuit breaker state change.
func WithBreakerObserver(fn func(name string, from, to gobreaker.State)) Option {
	return func(c *Client) { c.onState = fn }
}

func NewClient(platform domain.Platform, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		platform: platform,
		http:     &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    string(platform),
		Timeout: breakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTripAfter
		},
		// 4xx and rate limits say nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Provider circuit breaker state changed", "platform", name, "from", from.String(), "to", to.String())
			if c.onState != nil {
				c.onState(name, from, to)
			}
		},
	})

	return c
}

func (c *Client) Platform() domain.Platform { return c.platform }

// GetJSON issues a GET with query params and an optional bearer token, decoding the body into out.
func (c *Client) GetJSON(ctx context.Context, op, rawURL string, query url.Values, bearer string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, withQuery(rawURL, query), nil)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	setBearer(req, bearer)
	return c.Do(req, op, out)
}

// PostForm issues a form-encoded POST.
func (c *Client) PostForm(ctx context.Context, op, rawURL string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.Do(req, op, out)
}

// PostJSON issues a JSON POST with query params and a bearer token.
func (c *Client) PostJSON(ctx context.Context, op, rawURL string, query url.Values, bearer string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s body: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, withQuery(rawURL, query), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	setBearer(req, bearer)
	return c.Do(req, op, out)
}

// Do sends req through the circuit breaker. HTTP 429 becomes *domain.RateLimitError.
func (c *Client) Do(req *http.Request, op string, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.do(req, op, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s %s: %w", c.platform, op, err)
	}
	return err
}

func (c *Client) do(req *http.Request, op string, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s request failed: %w", c.platform, op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &domain.RateLimitError{
			Platform:   c.platform,
			Op:         op,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &StatusError{
			Platform:   c.platform,
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", c.platform, op, err)
	}
	return nil
}

func withQuery(rawURL string, query url.Values) string {
	if len(query) == 0 {
		return rawURL
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + query.Encode()
}

func setBearer(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
