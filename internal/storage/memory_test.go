package storage

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/neofeed/internal/models"
)

func newTestStorage(t *testing.T) (*MemoryStorage, *models.User) {
	t.Helper()

	s := NewMemoryStorage()
	base := time.Date(2025, 11, 9, 12, 0, 0, 0, time.UTC)
	tick := 0
	s.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	})

	user, err := s.GetOrCreateDefaultUser(context.Background())
	require.NoError(t, err)
	return s, user
}

func TestMemoryStorage_Users(t *testing.T) {
	s, user := newTestStorage(t)
	ctx := context.Background()

	again, err := s.GetOrCreateDefaultUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)
	assert.Equal(t, models.DefaultUserEmail, again.Email)
	assert.Equal(t, "sunday", again.Preferences["report_day"])

	tg, err := s.GetOrCreateTelegramUser(ctx, 42, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, user.ID, tg.ID)
	assert.Equal(t, "42", tg.TelegramID)

	renamed, err := s.GetOrCreateTelegramUser(ctx, 42, "alice2")
	require.NoError(t, err)
	assert.Equal(t, tg.ID, renamed.ID)
	assert.Equal(t, "alice2", renamed.TelegramUsername)
}

func TestMemoryStorage_CreateItem(t *testing.T) {
	s, user := newTestStorage(t)
	ctx := context.Background()

	t.Run("empty content", func(t *testing.T) {
		_, err := s.CreateItem(ctx, models.NewItem{UserID: user.ID, Content: "   "})
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("unknown source type", func(t *testing.T) {
		_, err := s.CreateItem(ctx, models.NewItem{UserID: user.ID, Content: "x", SourceType: "fax"})
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("missing user", func(t *testing.T) {
		_, err := s.CreateItem(ctx, models.NewItem{UserID: "nobody", Content: "x"})
		assert.ErrorIs(t, err, models.ErrConstraintViolation)
	})

	t.Run("stored pending with metadata", func(t *testing.T) {
		id, err := s.CreateItem(ctx, models.NewItem{
			UserID:         user.ID,
			Content:        " 知识管理 notes ",
			Title:          "KM",
			SourceType:     models.SourceWeb,
			SourceMetadata: models.Document{"domain": "example.com"},
		})
		require.NoError(t, err)

		item, err := s.GetItem(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, item.Status)
		assert.Equal(t, "知识管理 notes", item.Content)
		assert.Equal(t, 10, item.WordCount)
		assert.Equal(t, models.SourceWeb, item.SourceType)
		assert.Equal(t, "example.com", item.SourceMetadata["domain"])
	})

	t.Run("defaults to manual", func(t *testing.T) {
		id, err := s.CreateItem(ctx, models.NewItem{UserID: user.ID, Content: "hello world"})
		require.NoError(t, err)
		item, err := s.GetItem(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.SourceManual, item.SourceType)
		assert.Nil(t, item.SourceMetadata)
	})

	_, err := s.GetItem(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryStorage_ListItemsByStatus(t *testing.T) {
	s, user := newTestStorage(t)
	ctx := context.Background()

	var ids []string
	for _, content := range []string{"first", "second", "third", "fourth"} {
		id, err := s.CreateItem(ctx, models.NewItem{UserID: user.ID, Content: content})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range []string{ids[0], ids[2]} {
		require.NoError(t, s.UpdateStatus(ctx, id, models.StatusProcessing))
		require.NoError(t, s.UpdateStatus(ctx, id, models.StatusProcessed))
	}
	require.NoError(t, s.UpdateStatus(ctx, ids[3], models.StatusFailed))

	processed, err := s.ListItems(ctx, user.ID, ListOptions{Status: models.StatusProcessed})
	require.NoError(t, err)
	require.Len(t, processed, 2)
	assert.Equal(t, ids[2], processed[0].ID, "newest first")
	assert.Equal(t, ids[0], processed[1].ID)
	for _, it := range processed {
		assert.Equal(t, models.StatusProcessed, it.Status)
	}

	all, err := s.ListItems(ctx, user.ID, ListOptions{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, ids[2], all[0].ID)
	assert.Equal(t, ids[1], all[1].ID)

	beyond, err := s.ListItems(ctx, user.ID, ListOptions{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, beyond)

	count, err := s.CountItems(ctx, user.ID, models.StatusProcessed)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	total, err := s.CountItems(ctx, user.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 4, total)

	_, err = s.ListItems(ctx, user.ID, ListOptions{Status: "done"})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestMemoryStorage_UpdateStatus(t *testing.T) {
	s, user := newTestStorage(t)
	ctx := context.Background()

	id, err := s.CreateItem(ctx, models.NewItem{UserID: user.ID, Content: "content"})
	require.NoError(t, err)

	err = s.UpdateStatus(ctx, id, models.StatusProcessed)
	assert.ErrorIs(t, err, models.ErrInvalidTransition, "pending cannot jump to processed")

	require.NoError(t, s.UpdateStatus(ctx, id, models.StatusProcessing))
	require.NoError(t, s.UpdateStatus(ctx, id, models.StatusFailed))
	require.NoError(t, s.UpdateStatus(ctx, id, models.StatusProcessing), "failed items may be retried")
	require.NoError(t, s.UpdateStatus(ctx, id, models.StatusProcessed))

	err = s.UpdateStatus(ctx, id, models.StatusPending)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	err = s.UpdateStatus(ctx, id, "archived")
	assert.ErrorIs(t, err, models.ErrValidation)

	err = s.UpdateStatus(ctx, "missing", models.StatusProcessing)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryStorage_AIResults(t *testing.T) {
	s, user := newTestStorage(t)
	ctx := context.Background()

	id, err := s.CreateItem(ctx, models.NewItem{UserID: user.ID, Content: "content"})
	require.NoError(t, err)

	_, err = s.GetResultByItem(ctx, id)
	assert.ErrorIs(t, err, models.ErrNotFound)

	result := &models.AIResult{
		ItemID:          id,
		UserID:          user.ID,
		Summary:         "summary",
		Category:        "Design",
		Keywords:        []string{"ui", "ux"},
		ImportanceScore: 0.5,
		ModelUsed:       "gpt-4o-mini",
	}
	resultID, err := s.CreateResult(ctx, result)
	require.NoError(t, err)
	assert.NotEmpty(t, resultID)

	dup := *result
	_, err = s.CreateResult(ctx, &dup)
	assert.ErrorIs(t, err, models.ErrConstraintViolation, "one result per item")

	got, err := s.GetResultByItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, resultID, got.ID)
	assert.Equal(t, []string{"ui", "ux"}, got.Keywords)

	listed, err := s.ListItems(ctx, user.ID, ListOptions{})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.NotNil(t, listed[0].Result)
	assert.Equal(t, "Design", listed[0].Result.Category)

	_, err = s.CreateResult(ctx, &models.AIResult{ItemID: id, ImportanceScore: 1.5})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = s.CreateResult(ctx, &models.AIResult{ItemID: id, ImportanceScore: math.NaN()})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = s.CreateResult(ctx, &models.AIResult{ItemID: "missing", ImportanceScore: 0.5})
	assert.ErrorIs(t, err, models.ErrConstraintViolation)
}

func TestMemoryStorage_Stats(t *testing.T) {
	s, user := newTestStorage(t)
	ctx := context.Background()

	a, _ := s.CreateItem(ctx, models.NewItem{UserID: user.ID, Content: "a"})
	b, _ := s.CreateItem(ctx, models.NewItem{UserID: user.ID, Content: "b"})
	_, _ = s.CreateItem(ctx, models.NewItem{UserID: user.ID, Content: "c"})
	require.NoError(t, s.UpdateStatus(ctx, a, models.StatusProcessing))
	require.NoError(t, s.UpdateStatus(ctx, a, models.StatusProcessed))
	require.NoError(t, s.UpdateStatus(ctx, b, models.StatusFailed))

	stats, err := s.GetStats(ctx, user.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, models.Stats{Total: 3, Pending: 1, Processed: 1, Failed: 1}, stats)
}

func TestMemoryStorage_Tags(t *testing.T) {
	s, user := newTestStorage(t)
	ctx := context.Background()

	id, err := s.CreateItem(ctx, models.NewItem{UserID: user.ID, Content: "content"})
	require.NoError(t, err)

	tag, err := s.UpsertTag(ctx, &models.Tag{UserID: user.ID, Name: "AI"})
	require.NoError(t, err)
	assert.Equal(t, models.DefaultTagColor, tag.Color)

	same, err := s.UpsertTag(ctx, &models.Tag{UserID: user.ID, Name: "AI", Color: "#000"})
	require.NoError(t, err)
	assert.Equal(t, tag.ID, same.ID)

	require.NoError(t, s.TagItem(ctx, id, tag.ID))
	require.NoError(t, s.TagItem(ctx, id, tag.ID))

	tags, err := s.ItemTags(ctx, id)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "AI", tags[0].Name)

	err = s.TagItem(ctx, id, "missing")
	assert.ErrorIs(t, err, models.ErrConstraintViolation)
}

func TestMemoryStorage_Reports(t *testing.T) {
	s, user := newTestStorage(t)
	ctx := context.Background()

	id, err := s.CreateItem(ctx, models.NewItem{UserID: user.ID, Content: "content"})
	require.NoError(t, err)

	report := &models.WeeklyReport{UserID: user.ID, Title: "week", ItemCount: 1}
	reportID, err := s.CreateReport(ctx, report, []models.ReportItem{{ItemID: id, ClusterName: "Design"}})
	require.NoError(t, err)
	assert.Equal(t, models.ReportDraft, report.Status)

	items, err := s.ReportItems(ctx, reportID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Design", items[0].ClusterName)

	require.NoError(t, s.PublishReport(ctx, reportID))
	err = s.PublishReport(ctx, reportID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition, "published reports are immutable")

	got, err := s.GetReport(ctx, reportID)
	require.NoError(t, err)
	assert.Equal(t, models.ReportPublished, got.Status)
	assert.NotNil(t, got.PublishedAt)

	_, err = s.CreateReport(ctx, &models.WeeklyReport{UserID: user.ID}, []models.ReportItem{{ItemID: "missing"}})
	assert.ErrorIs(t, err, models.ErrConstraintViolation)
}

func TestMemoryStorage_Logs(t *testing.T) {
	s, user := newTestStorage(t)
	ctx := context.Background()

	id, err := s.CreateItem(ctx, models.NewItem{UserID: user.ID, Content: "content"})
	require.NoError(t, err)

	require.NoError(t, s.AppendLog(ctx, &models.ProcessingLog{ItemID: id, TaskType: models.TaskSummarize, Status: models.LogSuccess}))
	require.NoError(t, s.AppendLog(ctx, &models.ProcessingLog{ItemID: id, TaskType: models.TaskClassify, Status: models.LogFailed, ErrorMessage: "timeout"}))

	logs, err := s.ListLogs(ctx, id)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, models.TaskSummarize, logs[0].TaskType)
	assert.Equal(t, "timeout", logs[1].ErrorMessage)
}
