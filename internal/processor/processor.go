package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xaenox/neofeed/internal/classifier"
	"github.com/xaenox/neofeed/internal/models"
	"go.uber.org/zap"
)

const (
	baseImportance    = 0.5
	longContentBonus  = 0.2
	longContentLength = 1000
)

// Enricher produces the AI fields of an item.
type Enricher interface {
	Model() string
	Summarize(ctx context.Context, content string) (string, error)
	Classify(ctx context.Context, content string) (string, error)
	ExtractKeywords(ctx context.Context, content string) ([]string, error)
}

// Store is the slice of storage the orchestrator touches.
type Store interface {
	GetItem(ctx context.Context, itemID string) (*models.Item, error)
	UpdateStatus(ctx context.Context, itemID string, status models.Status) error
	CreateResult(ctx context.Context, result *models.AIResult) (string, error)
	UpsertTag(ctx context.Context, tag *models.Tag) (*models.Tag, error)
	TagItem(ctx context.Context, itemID, tagID string) error
	AppendLog(ctx context.Context, log *models.ProcessingLog) error
}

// Outcome summarises one enrichment pass.
type Outcome struct {
	ItemID          string        `json:"item_id"`
	ResultID        string        `json:"result_id"`
	Summary         string        `json:"summary"`
	Category        string        `json:"category"`
	Keywords        []string      `json:"keywords"`
	ImportanceScore float64       `json:"importance_score"`
	FailedTasks     []string      `json:"failed_tasks,omitempty"`
	Duration        time.Duration `json:"duration"`
}

type Processor struct {
	store    Store
	enricher Enricher
	timeout  time.Duration
	logger   *zap.Logger
}

func NewProcessor(store Store, enricher Enricher, timeout time.Duration, logger *zap.Logger) *Processor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Processor{
		store:    store,
		enricher: enricher,
		timeout:  timeout,
		logger:   logger,
	}
}

// ImportanceScore rates an item by length alone.
func ImportanceScore(content string) float64 {
	score := baseImportance
	if utf8.RuneCountInString(content) > longContentLength {
		score += longContentBonus
	}
	return min(max(score, 0), 1)
}

// ProcessItem runs summary, category and keyword enrichment for one item
// and stores the result. Enrichment failures fall back to defaults; only
// persistence failures fail the item.
func (p *Processor) ProcessItem(ctx context.Context, itemID string) (*Outcome, error) {
	log := p.logger.With(zap.String("item_id", itemID))

	item, err := p.store.GetItem(ctx, itemID)
	if err != nil {
		// the caller may already have moved the item to processing
		if ctx.Err() != nil {
			p.markFailed(ctx, log, itemID)
		}
		return nil, err
	}
	content := strings.TrimSpace(item.Content)
	if content == "" {
		if item.Status == models.StatusProcessing {
			p.markFailed(ctx, log, itemID)
		}
		return nil, fmt.Errorf("item %s has no content: %w", itemID, models.ErrNotFound)
	}

	if item.Status != models.StatusProcessing {
		if err := p.store.UpdateStatus(ctx, itemID, models.StatusProcessing); err != nil {
			if ctx.Err() != nil {
				p.markFailed(ctx, log, itemID)
			}
			return nil, err
		}
	}

	log.Info("Processing item", zap.Int("length", utf8.RuneCountInString(content)))

	start := time.Now()
	out := &Outcome{ItemID: itemID, Category: classifier.CategoryUncategorized}

	if p.run(ctx, log, itemID, models.TaskSummarize, func(ctx context.Context) error {
		summary, err := p.enricher.Summarize(ctx, content)
		out.Summary = summary
		return err
	}) != nil {
		out.Summary = ""
		out.FailedTasks = append(out.FailedTasks, models.TaskSummarize)
	}

	if p.run(ctx, log, itemID, models.TaskClassify, func(ctx context.Context) error {
		category, err := p.enricher.Classify(ctx, content)
		if category != "" {
			out.Category = category
		}
		return err
	}) != nil {
		out.Category = classifier.CategoryUncategorized
		out.FailedTasks = append(out.FailedTasks, models.TaskClassify)
	}

	if p.run(ctx, log, itemID, models.TaskExtractKeywords, func(ctx context.Context) error {
		keywords, err := p.enricher.ExtractKeywords(ctx, content)
		out.Keywords = keywords
		return err
	}) != nil {
		out.Keywords = nil
		out.FailedTasks = append(out.FailedTasks, models.TaskExtractKeywords)
	}

	out.ImportanceScore = ImportanceScore(content)
	out.Duration = time.Since(start)

	result := &models.AIResult{
		ItemID:           itemID,
		UserID:           item.UserID,
		Summary:          out.Summary,
		Category:         out.Category,
		Keywords:         out.Keywords,
		ImportanceScore:  out.ImportanceScore,
		ModelUsed:        p.enricher.Model(),
		ProcessingTimeMs: out.Duration.Milliseconds(),
	}

	out.ResultID, err = p.store.CreateResult(ctx, result)
	if err != nil {
		p.appendLog(context.WithoutCancel(ctx), log, itemID, models.TaskPersist, err, 0)
		p.markFailed(ctx, log, itemID)
		return nil, fmt.Errorf("%w: save result for item %s: %w", models.ErrPersistence, itemID, err)
	}

	p.tagItem(ctx, log, item.UserID, itemID, out.Category, out.Keywords)

	if err := p.store.UpdateStatus(ctx, itemID, models.StatusProcessed); err != nil {
		p.markFailed(ctx, log, itemID)
		return nil, fmt.Errorf("%w: mark item %s processed: %w", models.ErrPersistence, itemID, err)
	}

	log.Info("Item processed",
		zap.String("category", out.Category),
		zap.Strings("keywords", out.Keywords),
		zap.Float64("importance", out.ImportanceScore),
		zap.Duration("took", out.Duration))

	return out, nil
}

// run executes one enrichment call under its own deadline and records the attempt.
func (p *Processor) run(ctx context.Context, log *zap.Logger, itemID, task string, call func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	err := call(callCtx)
	if err == nil && callCtx.Err() != nil {
		err = callCtx.Err()
	}
	if err != nil {
		log.Warn("Enrichment step failed",
			zap.String("task", task),
			zap.Error(err))
	}
	p.appendLog(ctx, log, itemID, task, err, time.Since(start))
	return err
}

func (p *Processor) appendLog(ctx context.Context, log *zap.Logger, itemID, task string, taskErr error, took time.Duration) {
	entry := &models.ProcessingLog{
		ItemID:           itemID,
		TaskType:         task,
		Status:           models.LogSuccess,
		ProcessingTimeMs: took.Milliseconds(),
	}
	if taskErr != nil {
		entry.Status = models.LogFailed
		entry.ErrorMessage = taskErr.Error()
	}
	if err := p.store.AppendLog(ctx, entry); err != nil {
		log.Warn("Failed to append processing log",
			zap.String("task", task),
			zap.Error(err))
	}
}

func (p *Processor) tagItem(ctx context.Context, log *zap.Logger, userID, itemID, category string, keywords []string) {
	for _, kw := range keywords {
		tag, err := p.store.UpsertTag(ctx, &models.Tag{UserID: userID, Name: kw, Category: category})
		if err != nil {
			log.Warn("Failed to upsert tag", zap.String("tag", kw), zap.Error(err))
			continue
		}
		if err := p.store.TagItem(ctx, itemID, tag.ID); err != nil {
			log.Warn("Failed to tag item", zap.String("tag", kw), zap.Error(err))
		}
	}
}

// markFailed leaves the item retryable. Cancellation of ctx is ignored so an
// item never stays in processing after a shutdown.
func (p *Processor) markFailed(ctx context.Context, log *zap.Logger, itemID string) {
	err := p.store.UpdateStatus(context.WithoutCancel(ctx), itemID, models.StatusFailed)
	if err != nil && !errors.Is(err, models.ErrInvalidTransition) && !errors.Is(err, models.ErrNotFound) {
		log.Error("Failed to mark item failed", zap.Error(err))
	}
}
