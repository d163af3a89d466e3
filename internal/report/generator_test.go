package report

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/neofeed/internal/models"
	"github.com/xaenox/neofeed/internal/storage"
	"go.uber.org/zap"
)

var monday = time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC)

func TestWeekBounds(t *testing.T) {
	for _, day := range []time.Time{
		monday,
		time.Date(2025, 11, 12, 15, 30, 0, 0, time.UTC),
		time.Date(2025, 11, 16, 23, 59, 0, 0, time.UTC),
	} {
		start, end := WeekBounds(day)
		assert.Equal(t, monday, start, day.String())
		assert.Equal(t, monday.AddDate(0, 0, 7), end, day.String())
	}

	from, to := LastWeek(time.Date(2025, 11, 16, 9, 0, 0, 0, time.UTC))
	assert.Equal(t, monday.AddDate(0, 0, -7), from)
	assert.Equal(t, monday, to)
}

func seed(t *testing.T) (*storage.MemoryStorage, string) {
	t.Helper()
	ctx := context.Background()

	store := storage.NewMemoryStorage()
	tick := 0
	store.SetClock(func() time.Time {
		tick++
		return monday.Add(12*time.Hour + time.Duration(tick)*time.Minute)
	})

	user, err := store.GetOrCreateDefaultUser(ctx)
	require.NoError(t, err)

	processed := []struct {
		content  string
		category string
		keywords []string
	}{
		{"Go channels explained", "Tech Sharing", []string{"golang", "channels"}},
		{"Profiling Go services", "Tech Sharing", []string{"golang", "pprof"}},
		{"Whitespace in interfaces", "Design", []string{"ux"}},
	}
	for _, p := range processed {
		id, err := store.CreateItem(ctx, models.NewItem{UserID: user.ID, Content: p.content})
		require.NoError(t, err)
		require.NoError(t, store.UpdateStatus(ctx, id, models.StatusProcessing))
		_, err = store.CreateResult(ctx, &models.AIResult{
			ItemID: id, UserID: user.ID, Summary: "summary of " + p.content,
			Category: p.category, Keywords: p.keywords, ImportanceScore: 0.5,
		})
		require.NoError(t, err)
		require.NoError(t, store.UpdateStatus(ctx, id, models.StatusProcessed))
	}

	_, err = store.CreateItem(ctx, models.NewItem{UserID: user.ID, Content: "still pending"})
	require.NoError(t, err)

	return store, user.ID
}

func TestGenerate(t *testing.T) {
	store, userID := seed(t)
	gen := NewGenerator(store, zap.NewNop())
	ctx := context.Background()

	from, to := WeekBounds(monday)
	rep, err := gen.Generate(ctx, userID, from, to)
	require.NoError(t, err)

	assert.NotEmpty(t, rep.ID)
	assert.Equal(t, 3, rep.ItemCount)
	assert.Equal(t, models.ReportDraft, rep.Status)
	assert.Equal(t, "2025-11-10 ~ 2025-11-16", rep.WeekRange)
	assert.Equal(t, "2025-11-16", rep.WeekEnd.Format("2006-01-02"))
	assert.Equal(t, "Week 46 knowledge report", rep.Title)

	require.Len(t, rep.Clusters, 2)
	assert.Equal(t, "Tech Sharing", rep.Clusters[0].Theme)
	assert.Equal(t, 2, rep.Clusters[0].ItemCount)
	assert.Equal(t, "golang", rep.Clusters[0].Keywords[0])
	assert.Equal(t, "Design", rep.Clusters[1].Theme)

	assert.Equal(t, 2, rep.KeywordsSummary["golang"])
	assert.Equal(t, []string{"golang", "channels", "pprof", "ux"}, rep.Stats["top_keywords"])
	assert.Equal(t, map[string]int{"manual": 3}, rep.Stats["by_source"])

	assert.Contains(t, rep.Content, "## Themes")
	assert.Contains(t, rep.Content, "summary of Go channels explained")
	assert.NotContains(t, rep.Content, "still pending")

	links, err := store.ReportItems(ctx, rep.ID)
	require.NoError(t, err)
	assert.Len(t, links, 3)

	html, err := RenderHTML(rep.Content)
	require.NoError(t, err)
	assert.Contains(t, html, "<h1>NeoFeed weekly report")
	assert.Contains(t, html, "<strong>3</strong>")
}

func TestGenerateEmptyWeek(t *testing.T) {
	store, userID := seed(t)
	gen := NewGenerator(store, zap.NewNop())

	from, to := LastWeek(monday)
	rep, err := gen.Generate(context.Background(), userID, from, to)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.ItemCount)
	assert.Empty(t, rep.Clusters)
	assert.Equal(t, "No processed items this week.", rep.Summary)
}

func TestGenerateInvalidRange(t *testing.T) {
	store, userID := seed(t)
	gen := NewGenerator(store, zap.NewNop())

	_, err := gen.Generate(context.Background(), userID, monday, monday)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestScheduler(t *testing.T) {
	store, userID := seed(t)
	gen := NewGenerator(store, zap.NewNop())
	gen.now = func() time.Time { return monday.AddDate(0, 0, 7).Add(9 * time.Hour) }

	_, err := NewScheduler(gen, "not a cron line", nil, zap.NewNop())
	assert.Error(t, err)

	sched, err := NewScheduler(gen, "", func(ctx context.Context) (string, error) {
		return userID, nil
	}, zap.NewNop())
	require.NoError(t, err)

	sched.Start()
	defer sched.Stop()

	reportID, err := sched.RunOnce(context.Background())
	require.NoError(t, err)

	rep, err := store.GetReport(context.Background(), reportID)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.ItemCount)
	assert.Equal(t, monday, rep.WeekStart)
}
