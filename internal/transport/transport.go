// Package transport provides HTTP round trippers shared by the Anthropic client and the fetch helper.
package transport

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// maxRetryAfter caps how long a single 429 response can make a request wait
const maxRetryAfter = 5 * time.Minute

// RateLimitedTransport retries requests answered with 429 Too Many Requests after the delay given by the
// retry-after header. Responses without a usable retry-after header are returned as is
type RateLimitedTransport struct {
	base   http.RoundTripper
	logger *zap.Logger
}

func WithRateLimiting(base http.RoundTripper, logger *zap.Logger) *RateLimitedTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimitedTransport{base: base, logger: logger}
}

func (t *RateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Preserve the original request body for retries
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		err = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to close request body: %w", err)
		}
	}

	for {
		// Restore the request body for each attempt
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}

		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return resp, err
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		waitDuration := parseRetryAfter(resp.Header.Get("retry-after"), time.Now())
		if waitDuration <= 0 {
			return resp, nil
		}

		// Close the response body to free resources
		if err := resp.Body.Close(); err != nil {
			return nil, fmt.Errorf("failed to close response body: %w", err)
		}

		t.logger.Info("rate limited, waiting before retrying",
			zap.String("host", req.URL.Host),
			zap.Duration("wait", waitDuration),
		)
		timer := time.NewTimer(waitDuration)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
	}
}

// CloseIdleConnections closes idle connections of the base transport, if it supports that
func (t *RateLimitedTransport) CloseIdleConnections() {
	if closer, ok := t.base.(interface{ CloseIdleConnections() }); ok {
		closer.CloseIdleConnections()
	}
}

// parseRetryAfter interprets a retry-after header given either in seconds or as an HTTP date. It returns zero if
// the header is missing or malformed
func parseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}

	var wait time.Duration
	if seconds, err := strconv.Atoi(value); err == nil {
		wait = time.Duration(seconds) * time.Second
	} else if retryTime, err := http.ParseTime(value); err == nil {
		wait = retryTime.Sub(now)
	}
	return min(wait, maxRetryAfter)
}
