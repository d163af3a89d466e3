package seed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/neofeed/internal/models"
	"github.com/xaenox/neofeed/internal/storage"
	"go.uber.org/zap"
)

func TestRun(t *testing.T) {
	store := storage.NewMemoryStorage()
	ctx := context.Background()

	sum, err := Run(ctx, store, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, sum.ItemIDs, len(demoItems))

	stats, err := store.GetStats(ctx, sum.UserID, 7)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 3, stats.Processed)
	assert.Equal(t, 1, stats.Pending)

	tags, err := store.ListTags(ctx, sum.UserID)
	require.NoError(t, err)
	assert.Len(t, tags, sum.Tags)
	assert.Equal(t, 7, sum.Tags)

	logs, err := store.ListLogs(ctx, sum.ItemIDs[0])
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	rep, err := store.GetReport(ctx, sum.ReportID)
	require.NoError(t, err)
	assert.Equal(t, models.ReportPublished, rep.Status)
	assert.Equal(t, 3, rep.ItemCount)

	items, err := store.ReportItems(ctx, sum.ReportID)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}
