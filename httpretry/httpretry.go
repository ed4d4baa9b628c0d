// Package httpretry wraps an *http.Client with bounded retry for transient
// server errors. Only a fixed set of status codes is retried; every other
// response, success or failure, is handed straight back to the caller. The
// wrapper never synthesizes its own error for exhausted retries - after the
// final attempt the last response is returned as-is and the caller inspects
// the status.
package httpretry

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	// defaultMaxAttempts bounds the total number of requests, the first
	// attempt included.
	defaultMaxAttempts = 4

	// defaultBaseDelay is the wait before the second attempt; each further
	// attempt doubles it (1s, 2s, 4s).
	defaultBaseDelay = time.Second
)

// retryableStatus reports whether a response status warrants another attempt.
func retryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable:
		return true
	}
	return false
}

// SleepFunc pauses for the given duration, returning early with the context
// error if ctx is done first.
type SleepFunc func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Client retries requests on transient server errors.
type Client struct {
	httpClient  *http.Client
	maxAttempts int
	baseDelay   time.Duration
	sleep       SleepFunc
	logger      zerolog.Logger
}

// Option modifies a Client.
type Option func(*Client)

// WithSleepFunc replaces the delay function (primarily for testing).
func WithSleepFunc(sleep SleepFunc) Option {
	return func(c *Client) {
		c.sleep = sleep
	}
}

// WithLogger attaches a logger for per-attempt diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a retrying client over httpClient. If httpClient is nil,
// http.DefaultClient is used.
func New(httpClient *http.Client, options ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	client := &Client{
		httpClient:  httpClient,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		sleep:       defaultSleep,
		logger:      zerolog.Nop(),
	}

	for _, opt := range options {
		opt(client)
	}

	return client
}

// Do sends the request, retrying on 429, 502 and 503 with exponential
// backoff. The first attempt goes out immediately; attempts 2..4 wait
// 1s/2s/4s first. Transport-level failures are returned as errors and are
// not retried. Requests with a body must be rewindable (req.GetBody set,
// which http.NewRequest does for common body types).
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := c.baseDelay << (attempt - 2)
			c.logger.Debug().
				Int("attempt", attempt).
				Dur("delay", delay).
				Int("status", resp.StatusCode).
				Str("url", req.URL.String()).
				Msg("retrying request")

			if err := c.sleep(req.Context(), delay); err != nil {
				return nil, errors.Wrap(err, "[Client.Do] cancelled while waiting to retry")
			}

			if req.Body != nil {
				if req.GetBody == nil {
					c.logger.Warn().Str("url", req.URL.String()).Msg("request body not rewindable, returning last response")
					return resp, nil
				}
				body, err := req.GetBody()
				if err != nil {
					return nil, errors.Wrap(err, "[Client.Do] rewinding request body")
				}
				req.Body = body
			}
		}

		var err error
		resp, err = c.httpClient.Do(req)
		if err != nil {
			return nil, errors.Wrap(err, "[Client.Do] httpClient.Do")
		}

		if !retryableStatus(resp.StatusCode) || attempt == c.maxAttempts {
			return resp, nil
		}

		// Drain so the underlying connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}

	return resp, nil
}
