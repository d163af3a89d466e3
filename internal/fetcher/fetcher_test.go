package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/neofeed/internal/models"
	"go.uber.org/zap"
)

func TestExtractURL(t *testing.T) {
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"https://example.com/x", "https://example.com/x", true},
		{"read this: http://blog.example.org/post?id=3.", "http://blog.example.org/post?id=3", true},
		{"hello world", "", false},
		{"ftp://example.com", "", false},
	}

	for _, tt := range tests {
		got, ok := ExtractURL(tt.text)
		assert.Equal(t, tt.ok, ok, tt.text)
		assert.Equal(t, tt.want, got, tt.text)
		assert.Equal(t, tt.ok, IsURL(tt.text), tt.text)
	}
}

func TestDomain(t *testing.T) {
	assert.Equal(t, "example.com", Domain("https://example.com/a/b"))
	assert.Equal(t, "", Domain("::not a url"))
}

func TestFetchReaderAndCache(t *testing.T) {
	var hits int32
	reader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "/https://example.com/x", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 200,
			"data": map[string]string{"title": "Example", "content": "Body text"},
		})
	}))
	defer reader.Close()

	f := New(Config{ReaderURL: reader.URL + "/", Timeout: time.Second}, zap.NewNop())

	for i := 0; i < 2; i++ {
		res, err := f.Fetch(context.Background(), "https://example.com/x")
		require.NoError(t, err)
		assert.Equal(t, "Example", res.Title)
		assert.Equal(t, "Body text", res.Content)
		assert.Equal(t, "https://example.com/x", res.URL)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestFetchReaderTopLevelPayload(t *testing.T) {
	reader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"title":"Flat","content":"Flat body"}`))
	}))
	defer reader.Close()

	f := New(Config{ReaderURL: reader.URL + "/"}, zap.NewNop())
	res, err := f.Fetch(context.Background(), "https://example.com/flat")
	require.NoError(t, err)
	assert.Equal(t, "Flat", res.Title)
	assert.Equal(t, "Flat body", res.Content)
}

const articleHTML = `<!DOCTYPE html>
<html>
<head>
  <title>Channels in Go</title>
  <link rel="canonical" href="/canonical">
  <meta name="description" content="How goroutines talk to each other.">
</head>
<body>
  <article>
    <h1>Channels in Go</h1>
    <p>Channels are the pipes that connect concurrent goroutines. You can send values into channels from one goroutine and receive those values into another goroutine. This is the foundation of the communicating sequential processes style that Go encourages.</p>
    <p>Unbuffered channels block the sender until a receiver is ready, which makes them a natural synchronisation point. Buffered channels accept a limited number of values without a corresponding receiver, which is useful for work queues and for smoothing bursts of producers.</p>
    <p>Closing a channel signals that no more values will be sent. Receivers can test whether a channel has been closed, and a range loop over a channel terminates when the channel is closed and drained. Select lets a goroutine wait on several channel operations at once.</p>
  </article>
</body>
</html>`

func TestFetchFallsBackToDirectPage(t *testing.T) {
	reader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer reader.Close()

	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer page.Close()

	f := New(Config{ReaderURL: reader.URL + "/"}, zap.NewNop())
	res, err := f.Fetch(context.Background(), page.URL+"/post")
	require.NoError(t, err)

	assert.Equal(t, "Channels in Go", res.Title)
	assert.True(t, strings.Contains(res.Content, "Channels are the pipes"))
	assert.Equal(t, page.URL+"/canonical", res.URL)
	assert.NotEmpty(t, res.Description)

	meta := res.Metadata(page.URL + "/post")
	assert.Equal(t, Domain(page.URL), meta["domain"])
	assert.Equal(t, page.URL+"/post", meta["original_url"])
	assert.Equal(t, page.URL+"/canonical", meta["canonical_url"])
}

func TestFetchFailure(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()

	f := New(Config{ReaderURL: down.URL + "/"}, zap.NewNop())
	_, err := f.Fetch(context.Background(), down.URL+"/missing")
	assert.ErrorIs(t, err, models.ErrExternalService)

	_, err = f.Fetch(context.Background(), "not a url")
	assert.ErrorIs(t, err, models.ErrValidation)
}
