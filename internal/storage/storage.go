package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xaenox/neofeed/internal/models"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type Storage interface {
	UserStorage
	ItemStorage
	ResultStorage
	TagStorage
	ReportStorage
	LogStorage

	Ping(ctx context.Context) error
	Close() error
}

type UserStorage interface {
	GetOrCreateDefaultUser(ctx context.Context) (*models.User, error)
	GetOrCreateTelegramUser(ctx context.Context, telegramID int64, username string) (*models.User, error)
}

type ItemStorage interface {
	CreateItem(ctx context.Context, item models.NewItem) (string, error)
	GetItem(ctx context.Context, itemID string) (*models.Item, error)
	ListItems(ctx context.Context, userID string, opts ListOptions) ([]models.ItemWithResult, error)
	CountItems(ctx context.Context, userID string, status models.Status) (int, error)
	UpdateStatus(ctx context.Context, itemID string, status models.Status) error
	GetStats(ctx context.Context, userID string, days int) (models.Stats, error)
	// ItemsBetween returns items created in [from, to) joined with their results, oldest first.
	ItemsBetween(ctx context.Context, userID string, from, to time.Time, status models.Status) ([]models.ItemWithResult, error)
}

type ResultStorage interface {
	CreateResult(ctx context.Context, result *models.AIResult) (string, error)
	GetResultByItem(ctx context.Context, itemID string) (*models.AIResult, error)
}

type TagStorage interface {
	UpsertTag(ctx context.Context, tag *models.Tag) (*models.Tag, error)
	TagItem(ctx context.Context, itemID, tagID string) error
	ListTags(ctx context.Context, userID string) ([]models.Tag, error)
	ItemTags(ctx context.Context, itemID string) ([]models.Tag, error)
}

type ReportStorage interface {
	CreateReport(ctx context.Context, report *models.WeeklyReport, items []models.ReportItem) (string, error)
	GetReport(ctx context.Context, reportID string) (*models.WeeklyReport, error)
	ListReports(ctx context.Context, userID string, limit int) ([]models.WeeklyReport, error)
	ReportItems(ctx context.Context, reportID string) ([]models.ReportItem, error)
	PublishReport(ctx context.Context, reportID string) error
}

// LogStorage is append-only.
type LogStorage interface {
	AppendLog(ctx context.Context, log *models.ProcessingLog) error
	ListLogs(ctx context.Context, itemID string) ([]models.ProcessingLog, error)
}

// ListOptions pages through a user's items. An empty Status lists all.
type ListOptions struct {
	Limit  int
	Offset int
	Status models.Status
}

func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = defaultListLimit
	}
	if o.Limit > maxListLimit {
		o.Limit = maxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// WordCount counts characters, not whitespace-separated words, so CJK text is measured sensibly.
func WordCount(content string) int {
	return utf8.RuneCountInString(content)
}

func prepareItem(item models.NewItem) (models.NewItem, error) {
	item.Content = strings.TrimSpace(item.Content)
	if item.Content == "" {
		return item, fmt.Errorf("%w: content is empty", models.ErrValidation)
	}
	if item.UserID == "" {
		return item, fmt.Errorf("%w: user id is empty", models.ErrValidation)
	}
	if item.SourceType == "" {
		item.SourceType = models.SourceManual
	}
	if !item.SourceType.Valid() {
		return item, fmt.Errorf("%w: unknown source type %q", models.ErrValidation, item.SourceType)
	}
	return item, nil
}

func validateResult(result *models.AIResult) error {
	if result == nil || result.ItemID == "" {
		return fmt.Errorf("%w: result has no item", models.ErrValidation)
	}
	if !(result.ImportanceScore >= 0 && result.ImportanceScore <= 1) {
		return fmt.Errorf("%w: importance score %.2f outside [0,1]", models.ErrValidation, result.ImportanceScore)
	}
	return nil
}

func statusFilter(status models.Status) error {
	if status != "" && !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", models.ErrValidation, status)
	}
	return nil
}
