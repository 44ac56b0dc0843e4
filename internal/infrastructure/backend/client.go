package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/snaphub-notify/internal/domain"
	"github.com/snaphub-notify/internal/pkg/metrics"
)

// Client is a thin HTTP client for the studio backend's booking and
// student-ID endpoints. Every call carries the end user's own bearer
// credential; the client holds no credential of its own.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a backend client rooted at baseURL
// (e.g. http://localhost:5000).
func NewClient(baseURL string, timeout time.Duration, maxRetries int) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		sleep:      sleepCtx,
	}
}

type bookingsEnvelope struct {
	Bookings []domain.Booking `json:"bookings"`
}

type applicationsEnvelope struct {
	Applications []domain.Application `json:"applications"`
}

// ListBookings returns the bookings owned by userID.
func (c *Client) ListBookings(ctx context.Context, credential, userID string) ([]domain.Booking, error) {
	var env bookingsEnvelope
	if err := c.do(ctx, "list_bookings", http.MethodGet, "/api/bookings/user/"+url.PathEscape(userID), credential, &env); err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return env.Bookings, nil
}

// ListApplications returns the student-ID applications owned by userID.
func (c *Client) ListApplications(ctx context.Context, credential, userID string) ([]domain.Application, error) {
	var env applicationsEnvelope
	if err := c.do(ctx, "list_applications", http.MethodGet, "/api/student-id/user/"+url.PathEscape(userID), credential, &env); err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	return env.Applications, nil
}

// DeleteRecord deletes the source record behind a notification. Deletes are
// idempotent: a 404 from the backend counts as success.
func (c *Client) DeleteRecord(ctx context.Context, credential string, kind domain.Kind, primaryKey string) error {
	var path string
	switch kind {
	case domain.KindBooking:
		path = "/api/bookings/" + url.PathEscape(primaryKey)
	case domain.KindStudent:
		path = "/api/student-id/" + url.PathEscape(primaryKey)
	default:
		return fmt.Errorf("record kind %q: %w", kind, domain.ErrBadRequest)
	}
	err := c.do(ctx, "delete_"+string(kind), http.MethodDelete, path, credential, nil)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("delete %s %s: %w", kind, primaryKey, err)
	}
	return nil
}

// StatusError is returned for non-2xx backend responses.
type StatusError struct {
	Code    int
	Method  string
	Path    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend %s %s: %d: %s", e.Method, e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("backend %s %s: %d", e.Method, e.Path, e.Code)
}

// Unwrap maps auth rejections onto domain.ErrUnauthorized.
func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden {
		return domain.ErrUnauthorized
	}
	return nil
}

// do sends one logical request, retrying on 429. op labels the latency
// metric; path may carry ids and is kept out of labels.
func (c *Client) do(ctx context.Context, op, method, path, credential string, result interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+credential)
		req.Header.Set("Accept", "application/json")

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			metrics.RecordBackendCall(op, "error", time.Since(start))
			return fmt.Errorf("executing request %s %s: %w", method, path, err)
		}
		metrics.RecordBackendCall(op, strconv.Itoa(resp.StatusCode), time.Since(start))
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("reading response body: %w", readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = &StatusError{Code: resp.StatusCode, Method: method, Path: path}
			if attempt == c.maxRetries {
				break
			}
			if err := c.sleep(ctx, retryAfter(resp, attempt)); err != nil {
				return err
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &StatusError{Code: resp.StatusCode, Method: method, Path: path, Message: errorMessage(body)}
		}

		if result == nil || resp.StatusCode == http.StatusNoContent || len(body) == 0 {
			return nil
		}
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("unmarshaling response from %s %s: %w", method, path, err)
		}
		return nil
	}
	return fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}

// errorMessage pulls {"message": "..."} out of an error body when present.
func errorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &e) != nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

const maxRetryWait = 30 * time.Second

// retryAfter reads the Retry-After header, falling back to exponential
// backoff (1s, 2s, 4s, ...). Either way the wait is capped at maxRetryWait.
func retryAfter(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
			return min(time.Duration(seconds)*time.Second, maxRetryWait)
		}
	}
	if attempt >= 5 {
		return maxRetryWait
	}
	return min(time.Duration(1<<uint(attempt))*time.Second, maxRetryWait)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
