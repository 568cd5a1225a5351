// Package fetch retrieves web pages for the fetch_html tool. Failures are reported in the returned text rather than
// as errors, so the AI always gets an answer it can read.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTimeout  = 60 * time.Second
	defaultMaxBytes = 2 << 20
	userAgent       = "toolbag/1.0 (+https://github.com/cchalm/toolbag)"

	errorPrefix = "Error fetching HTML: "
)

// Fetcher downloads pages over HTTP
type Fetcher struct {
	client   *http.Client
	logger   *zap.Logger
	timeout  time.Duration
	maxBytes int64
}

// Option configures a Fetcher
type Option func(*Fetcher)

// WithTimeout bounds the duration of each fetch, including reading the body
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) { f.timeout = d }
}

// WithMaxBytes limits how much of a response body is read. Longer bodies are truncated
func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) { f.maxBytes = n }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) { f.logger = logger }
}

// New creates a Fetcher that sends requests with client, or http.DefaultClient if client is nil
func New(client *http.Client, opts ...Option) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	f := &Fetcher{
		client:   client,
		logger:   zap.NewNop(),
		timeout:  defaultTimeout,
		maxBytes: defaultMaxBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch returns the body of the page at url, or a message starting with "Error fetching HTML: " describing why it
// could not be retrieved
func (f *Fetcher) Fetch(ctx context.Context, url string) string {
	body, err := f.get(ctx, url)
	if err != nil {
		f.logger.Warn("fetch failed", zap.String("url", url), zap.Error(err))
		return errorPrefix + err.Error()
	}
	return body
}

// FetchText is like Fetch, but returns only the visible text of an HTML page
func (f *Fetcher) FetchText(ctx context.Context, url string) string {
	body, err := f.get(ctx, url)
	if err != nil {
		f.logger.Warn("fetch failed", zap.String("url", url), zap.Error(err))
		return errorPrefix + err.Error()
	}
	text, err := ExtractText(body)
	if err != nil {
		return errorPrefix + fmt.Sprintf("failed to parse HTML: %v", err)
	}
	return text
}

func (f *Fetcher) get(ctx context.Context, url string) (string, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "", fmt.Errorf("invalid URL '%s': only http and https URLs are supported", url)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("%s for url: %s", resp.Status, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	f.logger.Debug("fetched page", zap.String("url", url), zap.Int("bytes", len(body)))
	return string(body), nil
}
