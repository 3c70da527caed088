// Package storage downloads recording objects from the upstream object
// store. Transient failures are retried with exponential backoff behind a
// circuit breaker; a rate limiter keeps reprocessing bursts from saturating
// the upstream.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/emgflow/emgflow/internal/config"
	"github.com/emgflow/emgflow/internal/errs"
)

// maxObjectBytes caps downloads. Recordings are a few MB; anything past
// this is not a valid capture file.
const maxObjectBytes = 256 << 20

// Downloader fetches object content by bucket and path.
type Downloader interface {
	Download(ctx context.Context, bucket, objectPath string) ([]byte, error)
	Healthy() bool
}

// transientError marks a failure worth another attempt.
type transientError struct{ err error }

func (t *transientError) Error() string { return t.err.Error() }
func (t *transientError) Unwrap() error { return t.err }

func isTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// Client is the HTTP object storage client.
type Client struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
	log        zerolog.Logger
}

// NewClient builds a storage client from configuration.
func NewClient(cfg config.StorageConfig, log zerolog.Logger) *Client {
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 10
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "object-storage",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("storage circuit breaker state change")
		},
	})
	return &Client{
		baseURL:    cfg.BaseURL,
		serviceKey: cfg.ServiceKey,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		breaker:    breaker,
		limiter:    rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.RetryBackoff,
		log:        log.With().Str("component", "storage").Logger(),
	}
}

// Download fetches the object, retrying transient failures with exponential
// backoff. Each retry quadruples the wait, so three retries at the default
// 200ms base wait 200ms, 800ms, 3.2s.
func (c *Client) Download(ctx context.Context, bucket, objectPath string) ([]byte, error) {
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoff
			for i := 1; i < attempt; i++ {
				wait *= 4
			}
			c.log.Debug().Int("attempt", attempt).Dur("wait", wait).
				Str("object", objectPath).Msg("retrying download")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		attempts++
		data, err := c.attempt(ctx, bucket, objectPath)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !isTransient(err) && !errors.Is(err, gobreaker.ErrOpenState) {
			break
		}
	}
	return nil, &errs.FileProcessingError{
		Bucket:     bucket,
		ObjectPath: objectPath,
		Attempts:   attempts,
		Err:        lastErr,
	}
}

func (c *Client) attempt(ctx context.Context, bucket, objectPath string) ([]byte, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, bucket, objectPath)
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

func (c *Client) fetch(ctx context.Context, bucket, objectPath string) ([]byte, error) {
	u := fmt.Sprintf("%s/object/%s/%s", c.baseURL, url.PathEscape(bucket), escapePath(objectPath))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if c.serviceKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &transientError{err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("object %s/%s not found", bucket, objectPath)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, &transientError{err: fmt.Errorf("upstream returned %d", resp.StatusCode)}
	default:
		return nil, fmt.Errorf("storage fetch failed with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxObjectBytes+1))
	if err != nil {
		return nil, &transientError{err: err}
	}
	if len(data) > maxObjectBytes {
		return nil, fmt.Errorf("object %s/%s exceeds size limit", bucket, objectPath)
	}
	return data, nil
}

// Healthy reports whether the breaker admits requests.
func (c *Client) Healthy() bool {
	return c.breaker.State() != gobreaker.StateOpen
}

// escapePath escapes each path segment while preserving separators.
func escapePath(p string) string {
	var out string
	for i, seg := range splitPath(p) {
		if i > 0 {
			out += "/"
		}
		out += url.PathEscape(seg)
	}
	return out
}

func splitPath(p string) []string {
	var segs []string
	start := 0
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			segs = append(segs, p[start:i])
			start = i + 1
		}
	}
	return append(segs, p[start:])
}
