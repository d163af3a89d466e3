package seed

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/xaenox/neofeed/internal/models"
	"github.com/xaenox/neofeed/internal/report"
	"github.com/xaenox/neofeed/internal/storage"
	"go.uber.org/zap"
)

type demoItem struct {
	title    string
	content  string
	url      string
	source   models.SourceType
	meta     models.Document
	summary  string
	category string
	topics   []string
	keywords []string
	score    float64
	pending  bool
}

var demoItems = []demoItem{
	{
		title: "Growth is a system, not a trick",
		content: `User growth starts with a product that solves a real problem.
Retention beats acquisition: a smooth experience keeps people around.
Use data to find the levers worth pulling.`,
		url:      "https://example.com/growth",
		source:   models.SourceWechat,
		meta:     models.Document{"account": "Product Notes", "author": "Zhang San"},
		summary:  "Growth comes from product value, retention and data, not from tricks.",
		category: "Product Thinking",
		topics:   []string{"growth", "retention"},
		keywords: []string{"product", "growth", "retention"},
		score:    0.8,
	},
	{
		title: "Five places AI boosts personal productivity",
		content: `Writing assistance, coding copilots, semantic search, design help and
decision support. AI augments people rather than replacing them.`,
		url:      "https://example.com/ai-productivity",
		source:   models.SourceWeb,
		meta:     models.Document{"site": "Tech Blog"},
		summary:  "AI helps with writing, coding, search, design and decisions.",
		category: "AI Trends",
		topics:   []string{"productivity"},
		keywords: []string{"ai", "productivity", "automation"},
		score:    0.7,
	},
	{
		title: "Chat about designing an information tool",
		content: `The core of an information tool is lowering the cost of input while
producing useful output: many capture channels, automatic summaries,
and a periodic review.`,
		source:   models.SourceGPT,
		meta:     models.Document{"session": "design chat"},
		summary:  "Keep input cheap and automate the processing.",
		category: "Product Thinking",
		topics:   []string{"tools"},
		keywords: []string{"product", "automation", "tools"},
		score:    0.6,
	},
	{
		title:   "Thoughts on knowledge management",
		content: "Knowledge management is filtering, connecting and reviewing, not hoarding.",
		source:  models.SourceManual,
		pending: true,
	},
}

// Store is the storage the seeder writes through.
type Store interface {
	report.Store
	GetOrCreateDefaultUser(ctx context.Context) (*models.User, error)
	CreateItem(ctx context.Context, item models.NewItem) (string, error)
	UpdateStatus(ctx context.Context, itemID string, status models.Status) error
	CreateResult(ctx context.Context, result *models.AIResult) (string, error)
	UpsertTag(ctx context.Context, tag *models.Tag) (*models.Tag, error)
	TagItem(ctx context.Context, itemID, tagID string) error
	AppendLog(ctx context.Context, log *models.ProcessingLog) error
	PublishReport(ctx context.Context, reportID string) error
}

var _ Store = (storage.Storage)(nil)

type Summary struct {
	UserID   string
	ItemIDs  []string
	Tags     int
	ReportID string
}

// Run writes a demo user with a week of enriched items and a published
// weekly report.
func Run(ctx context.Context, store Store, logger *zap.Logger) (*Summary, error) {
	user, err := store.GetOrCreateDefaultUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("demo user: %w", err)
	}
	sum := &Summary{UserID: user.ID}
	tags := make(map[string]bool)

	for _, d := range demoItems {
		itemID, err := store.CreateItem(ctx, models.NewItem{
			UserID:         user.ID,
			Title:          d.title,
			Content:        d.content,
			URL:            d.url,
			SourceType:     d.source,
			SourceMetadata: d.meta,
		})
		if err != nil {
			return nil, fmt.Errorf("item %q: %w", d.title, err)
		}
		sum.ItemIDs = append(sum.ItemIDs, itemID)
		if d.pending {
			continue
		}

		if err := enrich(ctx, store, user.ID, itemID, d, tags); err != nil {
			return nil, fmt.Errorf("item %q: %w", d.title, err)
		}
	}
	sum.Tags = len(tags)

	gen := report.NewGenerator(store, logger)
	from, to := report.WeekBounds(time.Now())
	rep, err := gen.Generate(ctx, user.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	if err := store.PublishReport(ctx, rep.ID); err != nil {
		return nil, fmt.Errorf("publish report: %w", err)
	}
	sum.ReportID = rep.ID

	logger.Info("Demo data written",
		zap.String("user_id", user.ID),
		zap.Int("items", len(sum.ItemIDs)),
		zap.Int("tags", sum.Tags),
		zap.String("report_id", rep.ID))
	return sum, nil
}

func enrich(ctx context.Context, store Store, userID, itemID string, d demoItem, tags map[string]bool) error {
	if err := store.UpdateStatus(ctx, itemID, models.StatusProcessing); err != nil {
		return err
	}

	took := int64(1000 + rand.Intn(2000))
	if _, err := store.CreateResult(ctx, &models.AIResult{
		ItemID:           itemID,
		UserID:           userID,
		Summary:          d.summary,
		Category:         d.category,
		Topics:           d.topics,
		Keywords:         d.keywords,
		ImportanceScore:  d.score,
		Sentiment:        "neutral",
		ModelUsed:        "gpt-4o-mini",
		ProcessingTimeMs: took,
	}); err != nil {
		return err
	}

	for _, name := range d.keywords {
		tag, err := store.UpsertTag(ctx, &models.Tag{UserID: userID, Name: name, Category: "topic"})
		if err != nil {
			return err
		}
		if err := store.TagItem(ctx, itemID, tag.ID); err != nil {
			return err
		}
		tags[name] = true
	}

	for _, task := range []string{models.TaskSummarize, models.TaskClassify} {
		if err := store.AppendLog(ctx, &models.ProcessingLog{
			ItemID:           itemID,
			TaskType:         task,
			Status:           models.LogSuccess,
			ProcessingTimeMs: took / 2,
		}); err != nil {
			return err
		}
	}

	return store.UpdateStatus(ctx, itemID, models.StatusProcessed)
}
