package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const page = `<!DOCTYPE html>
<html>
<head><title>Example</title><style>body { color: red; }</style></head>
<body>
  <h1>Hello,   world</h1>
  <p>First <b>bold</b> paragraph.<br>Second line.</p>
  <script>var hidden = true;</script>
  <ul><li>one</li><li>two</li></ul>
</body>
</html>`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(page))
	})
	mux.HandleFunc("/big", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", 100)))
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestFetcher(t *testing.T, opts ...Option) *Fetcher {
	t.Helper()
	client := &http.Client{Transport: &http.Transport{}}
	t.Cleanup(client.CloseIdleConnections)
	return New(client, opts...)
}

func TestFetch(t *testing.T) {
	server := newTestServer(t)
	f := newTestFetcher(t)

	assert.Equal(t, page, f.Fetch(context.Background(), server.URL+"/page"))
}

func TestFetch_NotFound(t *testing.T) {
	server := newTestServer(t)
	f := newTestFetcher(t)

	got := f.Fetch(context.Background(), server.URL+"/missing")
	assert.Equal(t, "Error fetching HTML: 404 Not Found for url: "+server.URL+"/missing", got)
}

func TestFetch_InvalidURL(t *testing.T) {
	f := newTestFetcher(t)

	for _, url := range []string{"", "ftp://example.com", "file:///etc/passwd", "example.com"} {
		got := f.Fetch(context.Background(), url)
		assert.True(t, strings.HasPrefix(got, "Error fetching HTML: invalid URL"), got)
	}
}

func TestFetch_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	got := newTestFetcher(t).Fetch(context.Background(), url)
	assert.True(t, strings.HasPrefix(got, "Error fetching HTML: "), got)
}

func TestFetch_Truncates(t *testing.T) {
	server := newTestServer(t)
	f := newTestFetcher(t, WithMaxBytes(10))

	assert.Equal(t, strings.Repeat("a", 10), f.Fetch(context.Background(), server.URL+"/big"))
}

func TestFetch_Timeout(t *testing.T) {
	server := newTestServer(t)
	f := newTestFetcher(t, WithTimeout(50*time.Millisecond))

	got := f.Fetch(context.Background(), server.URL+"/slow")
	assert.Contains(t, got, "context deadline exceeded")
}

func TestFetchText(t *testing.T) {
	server := newTestServer(t)
	f := newTestFetcher(t)

	got := f.FetchText(context.Background(), server.URL+"/page")
	assert.Equal(t, "Hello, world\nFirst bold paragraph.\nSecond line.\none\ntwo", got)
}

func TestExtractText(t *testing.T) {
	text, err := ExtractText("plain <i>inline</i> text<!-- comment --><noscript>x</noscript>")
	require.NoError(t, err)
	assert.Equal(t, "plain inline text", text)
}
