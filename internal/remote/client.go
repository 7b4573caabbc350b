// Package remote talks to the central store API.
package remote

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
	"strings"
	"time"

	"github.com/piehlerb/job-estimator-sub000/internal/types"
	"github.com/sethvargo/go-retry"
)

var (
	// ErrUnauthorized is returned when the server rejects the credentials.
	ErrUnauthorized = errors.New("remote store rejected credentials")
	// ErrNoUser is returned when no user is signed in on this device.
	ErrNoUser = errors.New("no authenticated user")
	// ErrNotConfigured is returned when no remote URL is set.
	ErrNotConfigured = errors.New("remote store not configured")
)

// maxBackoff caps the delay between retries of one call.
const maxBackoff = 30 * time.Second

// StatusError is a non-2xx response from the central API.
type StatusError struct {
	Status int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("remote store returned %d", e.Status)
	}
	return fmt.Sprintf("remote store returned %d: %s", e.Status, e.Detail)
}

// UserSource reports the signed-in user.
type UserSource interface {
	CurrentUser(ctx context.Context) (string, bool)
}

// Config holds client settings.
type Config struct {
	BaseURL    string
	APIKey     string
	DeviceID   string
	Timeout    time.Duration
	MaxRetries uint64
	BaseDelay  time.Duration
}

// Client is an HTTP client for the central store API.
type Client struct {
	baseURL    string
	apiKey     string
	deviceID   string
	users      UserSource
	http       *http.Client
	maxRetries uint64
	baseDelay  time.Duration
}

// New creates a client. Requests are made on behalf of the user reported by
// users at call time.
func New(cfg Config, users UserSource) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		deviceID:   cfg.DeviceID,
		users:      users,
		http:       &http.Client{Timeout: timeout},
		maxRetries: cfg.MaxRetries,
		baseDelay:  baseDelay,
	}
}

// Upsert pushes a remote-form record. It reports whether the server kept
// it; a false result means the server already held a newer copy.
func (c *Client) Upsert(ctx context.Context, table string, rec types.Record) (bool, error) {
	id := rec.ID()
	if id == "" {
		return false, errors.New("record has no id")
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encode record: %w", err)
	}

	var resp types.UpsertResponse
	path := "/api/v1/tables/" + url.PathEscape(table) + "/records/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodPut, path, nil, body, &resp); err != nil {
		return false, err
	}
	return resp.Applied, nil
}

// Delete soft-deletes a record on the server as of at.
func (c *Client) Delete(ctx context.Context, table, id string, at time.Time) (bool, error) {
	q := url.Values{"deleted_at": {types.FormatTimestamp(at)}}
	var resp types.UpsertResponse
	path := "/api/v1/tables/" + url.PathEscape(table) + "/records/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodDelete, path, q, nil, &resp); err != nil {
		return false, err
	}
	return resp.Applied, nil
}

// FetchAll returns the records of a table changed since the cursor. The
// zero cursor fetches everything.
func (c *Client) FetchAll(ctx context.Context, table string, since time.Time) (*types.FetchResponse, error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("since", types.FormatTimestamp(since))
	}
	var resp types.FetchResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/tables/"+url.PathEscape(table)+"/records", q, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ping checks that the server is reachable. It is not retried.
func (c *Client) Ping(ctx context.Context) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Status: resp.StatusCode}
	}
	return nil
}

// do performs one API call, retrying network errors and 5xx/429 responses
// with exponential backoff capped at maxBackoff.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, out any) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}
	userID, ok := c.users.CurrentUser(ctx)
	if !ok {
		return ErrNoUser
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	b := retry.NewExponential(c.baseDelay)
	b = retry.WithCappedDuration(maxBackoff, b)
	b = retry.WithMaxRetries(c.maxRetries, b)

	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("X-User-ID", userID)
		if c.deviceID != "" {
			req.Header.Set("X-Device-ID", c.deviceID)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Debug("remote request failed",
				"component", "remote",
				"action", "request_failed",
				"method", method,
				"path", path,
				"attempt", attempt,
				"error", err,
			)
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out == nil {
				io.Copy(io.Discard, resp.Body)
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil
		}

		statusErr := &StatusError{Status: resp.StatusCode, Detail: readProblemDetail(resp.Body)}
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrUnauthorized, statusErr)
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			slog.Debug("remote request retryable status",
				"component", "remote",
				"action", "request_retry",
				"method", method,
				"path", path,
				"status", resp.StatusCode,
				"attempt", attempt,
			)
			return retry.RetryableError(statusErr)
		default:
			return statusErr
		}
	})
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return nil
}

// readProblemDetail extracts the detail of an RFC 7807 body, if any.
func readProblemDetail(r io.Reader) string {
	var p struct {
		Detail string `json:"detail"`
	}
	data, err := io.ReadAll(io.LimitReader(r, 64*1024))
	if err != nil || len(data) == 0 {
		return ""
	}
	if json.Unmarshal(data, &p) == nil && p.Detail != "" {
		return p.Detail
	}
	return strings.TrimSpace(string(data))
}
