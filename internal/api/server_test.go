package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/neofeed/internal/fetcher"
	"github.com/xaenox/neofeed/internal/models"
	"github.com/xaenox/neofeed/internal/processor"
	"github.com/xaenox/neofeed/internal/report"
	"github.com/xaenox/neofeed/internal/storage"
	"go.uber.org/zap"
)

type fakeFetcher struct {
	result *fetcher.Result
	err    error
	urls   []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) (*fetcher.Result, error) {
	f.urls = append(f.urls, rawURL)
	if f.err != nil {
		return nil, f.err
	}
	res := *f.result
	return &res, nil
}

type fakeQueue struct {
	ids []string
	err error
}

func (q *fakeQueue) Enqueue(itemID string) (*processor.Task, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.ids = append(q.ids, itemID)
	return nil, nil
}

func (q *fakeQueue) InFlight() int { return len(q.ids) }

type testEnv struct {
	server  *Server
	store   *storage.MemoryStorage
	fetcher *fakeFetcher
	queue   *fakeQueue
}

func newTestEnv(t *testing.T, aiEnabled bool) *testEnv {
	t.Helper()
	store := storage.NewMemoryStorage()
	ff := &fakeFetcher{result: &fetcher.Result{
		Title:   "Example Domain",
		Content: "This domain is for use in illustrative examples.",
		URL:     "https://example.com/x",
	}}
	q := &fakeQueue{}

	srv := NewServer(Config{
		AIEnabled:   aiEnabled,
		WebScraping: true,
		CORSOrigins: []string{"http://localhost:3000"},
	}, store, ff, q, report.NewGenerator(store, zap.NewNop()), zap.NewNop())

	return &testEnv{server: srv, store: store, fetcher: ff, queue: q}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.server.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestRootAndHealth(t *testing.T) {
	env := newTestEnv(t, true)

	code, body := env.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "NeoFeed API", body["service"])

	code, body = env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "connected", body["database"])
	assert.Equal(t, true, body["ai_enabled"])
}

func TestCreateItem(t *testing.T) {
	t.Run("plain text stays manual", func(t *testing.T) {
		env := newTestEnv(t, true)
		code, body := env.do(t, http.MethodPost, "/api/items", map[string]any{"content": "hello world"})
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, true, body["success"])

		item, err := env.store.GetItem(context.Background(), body["item_id"].(string))
		require.NoError(t, err)
		assert.Equal(t, models.SourceManual, item.SourceType)
		assert.Equal(t, "hello world", item.Content)
		assert.Empty(t, env.fetcher.urls)
		assert.Equal(t, []string{item.ID}, env.queue.ids)
	})

	t.Run("url is fetched", func(t *testing.T) {
		env := newTestEnv(t, true)
		code, body := env.do(t, http.MethodPost, "/api/items", map[string]any{"content": "https://example.com/x"})
		require.Equal(t, http.StatusOK, code)

		item, err := env.store.GetItem(context.Background(), body["item_id"].(string))
		require.NoError(t, err)
		assert.Equal(t, models.SourceWeb, item.SourceType)
		assert.Equal(t, "https://example.com/x", item.URL)
		assert.Equal(t, "Example Domain", item.Title)
		assert.Equal(t, "example.com", item.SourceMetadata["domain"])
		assert.Equal(t, "https://example.com/x", item.SourceMetadata["original_url"])
		assert.NotContains(t, item.SourceMetadata, "canonical_url")
	})

	t.Run("submitted url wins over canonical", func(t *testing.T) {
		env := newTestEnv(t, true)
		env.fetcher.result.URL = "https://www.example.org/canonical-elsewhere"
		code, body := env.do(t, http.MethodPost, "/api/items", map[string]any{"content": "https://example.com/x"})
		require.Equal(t, http.StatusOK, code)

		item, err := env.store.GetItem(context.Background(), body["item_id"].(string))
		require.NoError(t, err)
		assert.Equal(t, models.SourceWeb, item.SourceType)
		assert.Equal(t, "https://example.com/x", item.URL)
		assert.Equal(t, "example.com", item.SourceMetadata["domain"])
		assert.Equal(t, "https://www.example.org/canonical-elsewhere", item.SourceMetadata["canonical_url"])
	})

	t.Run("fetch failure keeps raw text", func(t *testing.T) {
		env := newTestEnv(t, true)
		env.fetcher.err = models.ErrExternalService
		code, body := env.do(t, http.MethodPost, "/api/items", map[string]any{"content": "see https://example.com/x"})
		require.Equal(t, http.StatusOK, code)

		item, err := env.store.GetItem(context.Background(), body["item_id"].(string))
		require.NoError(t, err)
		assert.Equal(t, models.SourceManual, item.SourceType)
		assert.Equal(t, "see https://example.com/x", item.Content)
	})

	t.Run("enable_ai false skips the queue", func(t *testing.T) {
		env := newTestEnv(t, true)
		code, _ := env.do(t, http.MethodPost, "/api/items", map[string]any{"content": "note", "enable_ai": false})
		require.Equal(t, http.StatusOK, code)
		assert.Empty(t, env.queue.ids)
	})

	t.Run("empty content", func(t *testing.T) {
		env := newTestEnv(t, true)
		code, body := env.do(t, http.MethodPost, "/api/items", map[string]any{"content": "   "})
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, false, body["success"])
	})
}

func TestListAndGetItems(t *testing.T) {
	env := newTestEnv(t, false)
	for _, content := range []string{"one", "two", "three"} {
		code, _ := env.do(t, http.MethodPost, "/api/items", map[string]any{"content": content})
		require.Equal(t, http.StatusOK, code)
	}

	code, body := env.do(t, http.MethodGet, "/api/items?limit=2", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["items"], 2)
	assert.Equal(t, float64(3), body["total"])
	assert.Equal(t, float64(2), body["limit"])

	code, body = env.do(t, http.MethodGet, "/api/items?status=processed", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["items"])
	assert.Equal(t, float64(0), body["total"])

	code, _ = env.do(t, http.MethodGet, "/api/items?status=done", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, first := env.do(t, http.MethodGet, "/api/items?limit=1", nil)
	require.Equal(t, http.StatusOK, code)
	id := first["items"].([]any)[0].(map[string]any)["id"].(string)

	code, body = env.do(t, http.MethodGet, "/api/items/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	item := body["item"].(map[string]any)
	assert.Equal(t, "pending", item["status"])
	assert.Nil(t, item["summary"])

	code, _ = env.do(t, http.MethodGet, "/api/items/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestProcessItem(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	user, err := env.store.GetOrCreateDefaultUser(ctx)
	require.NoError(t, err)
	id, err := env.store.CreateItem(ctx, models.NewItem{UserID: user.ID, Content: "queue me"})
	require.NoError(t, err)

	code, body := env.do(t, http.MethodPost, "/api/items/"+id+"/process", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, id, body["item_id"])
	assert.Equal(t, []string{id}, env.queue.ids)

	item, err := env.store.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, item.Status)

	// already processing
	code, _ = env.do(t, http.MethodPost, "/api/items/"+id+"/process", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = env.do(t, http.MethodPost, "/api/items/missing/process", nil)
	assert.Equal(t, http.StatusNotFound, code)

	other, err := env.store.CreateItem(ctx, models.NewItem{UserID: user.ID, Content: "no room"})
	require.NoError(t, err)
	env.queue.err = processor.ErrQueueFull
	code, _ = env.do(t, http.MethodPost, "/api/items/"+other+"/process", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	item, err = env.store.GetItem(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, item.Status)
}

func TestProcessItemDisabled(t *testing.T) {
	env := newTestEnv(t, false)
	code, _ := env.do(t, http.MethodPost, "/api/items/anything/process", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestStatsAndTags(t *testing.T) {
	env := newTestEnv(t, false)
	code, _ := env.do(t, http.MethodPost, "/api/items", map[string]any{"content": "hello"})
	require.Equal(t, http.StatusOK, code)

	code, body := env.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(7), body["period_days"])
	stats := body["stats"].(map[string]any)
	assert.Equal(t, float64(1), stats["total"])
	assert.Equal(t, float64(1), stats["pending"])

	code, _ = env.do(t, http.MethodGet, "/api/stats?days=-1", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = env.do(t, http.MethodGet, "/api/tags", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["tags"])
}

func TestReports(t *testing.T) {
	env := newTestEnv(t, false)

	code, body := env.do(t, http.MethodPost, "/api/reports", map[string]any{"week_start": "2025-11-10"})
	require.Equal(t, http.StatusOK, code)
	rep := body["report"].(map[string]any)
	id := rep["id"].(string)
	assert.Equal(t, "draft", rep["status"])
	assert.Equal(t, "2025-11-10 ~ 2025-11-16", rep["week_range"])

	code, _ = env.do(t, http.MethodPost, "/api/reports", map[string]any{"week_start": "10/11/2025"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = env.do(t, http.MethodGet, "/api/reports/"+id+"?format=html", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body["html"], "<h1>")

	code, body = env.do(t, http.MethodGet, "/api/reports", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["reports"], 1)

	code, body = env.do(t, http.MethodPost, "/api/reports/"+id+"/publish", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "published", body["report"].(map[string]any)["status"])

	code, _ = env.do(t, http.MethodPost, "/api/reports/"+id+"/publish", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = env.do(t, http.MethodGet, "/api/reports/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(models.ErrValidation))
	assert.Equal(t, http.StatusNotFound, statusFor(models.ErrNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(models.ErrInvalidTransition))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(processor.ErrQueueFull))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}
