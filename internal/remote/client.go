// Package remote implements the external collaborators over HTTP.
package remote

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

	"github.com/cenkalti/backoff/v4"

	"github.com/iamfarzad/FBC-masterV5--sub003/pkg/types"
)

const (
	maxResponseSize = 5 * 1024 * 1024 // 5MB
	userAgent       = "fbc/1.0"

	// SessionHeader carries the session id on every request.
	SessionHeader = "X-Session-Id"
)

// Status check retry policy. Only the idempotent consent read is retried.
const (
	RetryMaxRetries      = 2
	RetryInitialInterval = 200 * time.Millisecond
	RetryMaxInterval     = 2 * time.Second
)

// ErrNotConfigured is returned when no services base URL is set.
var ErrNotConfigured = errors.New("services base URL not configured")

// StatusError is a non-2xx response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// Client talks to the consulting backend.
type Client struct {
	cfg  types.ServicesConfig
	http *http.Client
	// overridable in tests
	newBackoff func(ctx context.Context) backoff.BackOff
}

// New creates a client from cfg. Zero paths fall back to nothing; callers
// pass a config that has been through config.ApplyDefaults.
func New(cfg types.ServicesConfig) *Client {
	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		http:       &http.Client{Timeout: timeout},
		newBackoff: newRetryBackoff,
	}
}

func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = RetryInitialInterval
	b.MaxInterval = RetryMaxInterval
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, RetryMaxRetries), ctx)
}

func (c *Client) endpoint(path string, query url.Values) (string, error) {
	if c.cfg.BaseURL == "" {
		return "", ErrNotConfigured
	}
	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u, nil
}

func (c *Client) newRequest(ctx context.Context, method, path, sessionID string, query url.Values, body any) (*http.Request, error) {
	u, err := c.endpoint(path, query)
	if err != nil {
		return nil, err
	}

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}
	return req, nil
}

// do sends req and decodes a JSON response into out. A 404 yields
// found=false with no error.
func (c *Client) do(req *http.Request, out any) (found bool, err error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return false, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, &StatusError{
			Method: req.Method,
			URL:    req.URL.Path,
			Code:   resp.StatusCode,
			Body:   strings.TrimSpace(string(body)),
		}
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return true, nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("malformed response from %s: %w", req.URL.Path, err)
	}
	return true, nil
}

func (c *Client) postJSON(ctx context.Context, path, sessionID string, in, out any) error {
	req, err := c.newRequest(ctx, http.MethodPost, path, sessionID, nil, in)
	if err != nil {
		return err
	}
	found, err := c.do(req, out)
	if err != nil {
		return err
	}
	if !found {
		return &StatusError{Method: req.Method, URL: req.URL.Path, Code: http.StatusNotFound}
	}
	return nil
}

// retryable reports whether a failed read may be attempted again.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return !errors.Is(err, ErrNotConfigured) && !errors.Is(err, context.Canceled)
}
