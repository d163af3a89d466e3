package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/xaenox/neofeed/internal/fetcher"
	"github.com/xaenox/neofeed/internal/models"
	"github.com/xaenox/neofeed/internal/processor"
	"github.com/xaenox/neofeed/internal/report"
	"github.com/xaenox/neofeed/internal/storage"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", models.ErrValidation, fmt.Sprintf(format, args...))
}

func (s *Server) handleRoot(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"success": true,
		"service": "NeoFeed API",
		"version": Version,
		"status":  "running",
	})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	ctx := c.UserContext()

	database := "connected"
	if err := s.store.Ping(ctx); err != nil {
		database = "disconnected"
		s.logger.Warn("Health check: database ping failed", zap.Error(err))
	} else if _, err := s.store.GetOrCreateDefaultUser(ctx); err != nil {
		database = "disconnected"
		s.logger.Warn("Health check: default user lookup failed", zap.Error(err))
	}

	inFlight := 0
	if s.queue != nil {
		inFlight = s.queue.InFlight()
	}

	status, code := "healthy", fiber.StatusOK
	if database != "connected" {
		status, code = "unhealthy", fiber.StatusServiceUnavailable
	}

	return c.Status(code).JSON(fiber.Map{
		"success":         database == "connected",
		"status":          status,
		"database":        database,
		"ai_enabled":      s.cfg.AIEnabled,
		"queue_in_flight": inFlight,
	})
}

type createItemRequest struct {
	Content  string `json:"content"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	EnableAI *bool  `json:"enable_ai"`
}

func (s *Server) handleCreateItem(c *fiber.Ctx) error {
	var req createItemRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		return badRequest("content is required")
	}

	ctx := c.UserContext()
	user, err := s.store.GetOrCreateDefaultUser(ctx)
	if err != nil {
		return err
	}

	item := models.NewItem{
		UserID:     user.ID,
		Content:    req.Content,
		Title:      req.Title,
		URL:        req.URL,
		SourceType: models.SourceManual,
	}
	s.applyWebContent(ctx, &item)

	itemID, err := s.store.CreateItem(ctx, item)
	if err != nil {
		return err
	}

	message := "Item saved"
	enableAI := req.EnableAI == nil || *req.EnableAI
	if enableAI && s.cfg.AIEnabled && s.queue != nil {
		if _, err := s.queue.Enqueue(itemID); err != nil {
			s.logger.Warn("Could not queue item for processing",
				zap.String("item_id", itemID),
				zap.Error(err))
			message = "Item saved, processing queue is busy"
		} else {
			message = "Item saved, AI processing queued"
		}
	}

	return c.JSON(fiber.Map{
		"success": true,
		"item_id": itemID,
		"message": message,
	})
}

// applyWebContent replaces the item body with the fetched article when the
// submitted text contains a URL. On failure the raw text is kept as is.
func (s *Server) applyWebContent(ctx context.Context, item *models.NewItem) {
	if !s.cfg.WebScraping || s.fetcher == nil {
		return
	}
	rawURL, ok := fetcher.ExtractURL(item.Content)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	res, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil || strings.TrimSpace(res.Content) == "" {
		s.logger.Warn("Web fetch failed, keeping raw content",
			zap.String("url", rawURL),
			zap.Error(err))
		return
	}

	item.Content = res.Content
	if res.Title != "" {
		item.Title = res.Title
	}
	item.URL = rawURL
	item.SourceType = models.SourceWeb
	item.SourceMetadata = res.Metadata(rawURL)
}

func (s *Server) handleListItems(c *fiber.Ctx) error {
	opts := storage.ListOptions{
		Limit:  c.QueryInt("limit", 20),
		Offset: c.QueryInt("offset", 0),
	}
	if raw := c.Query("status"); raw != "" {
		st, err := models.ParseStatus(raw)
		if err != nil {
			return err
		}
		opts.Status = st
	}
	opts = opts.Normalize()

	ctx := c.UserContext()
	user, err := s.store.GetOrCreateDefaultUser(ctx)
	if err != nil {
		return err
	}

	items, err := s.store.ListItems(ctx, user.ID, opts)
	if err != nil {
		return err
	}
	total, err := s.store.CountItems(ctx, user.ID, opts.Status)
	if err != nil {
		return err
	}
	if items == nil {
		items = []models.ItemWithResult{}
	}

	return c.JSON(fiber.Map{
		"success": true,
		"items":   items,
		"total":   total,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}

func (s *Server) handleGetItem(c *fiber.Ctx) error {
	ctx := c.UserContext()
	itemID := c.Params("id")

	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return err
	}

	row := models.ItemWithResult{Item: *item}
	result, err := s.store.GetResultByItem(ctx, itemID)
	switch {
	case err == nil:
		row.Result = result
	case !errors.Is(err, models.ErrNotFound):
		return err
	}

	tags, err := s.store.ItemTags(ctx, itemID)
	if err != nil {
		return err
	}
	if tags == nil {
		tags = []models.Tag{}
	}

	return c.JSON(fiber.Map{
		"success": true,
		"item":    row,
		"tags":    tags,
	})
}

func (s *Server) handleProcessItem(c *fiber.Ctx) error {
	if !s.cfg.AIEnabled || s.queue == nil {
		return badRequest("AI processing is disabled")
	}

	ctx := c.UserContext()
	itemID := c.Params("id")

	if _, err := s.store.GetItem(ctx, itemID); err != nil {
		return err
	}
	if err := s.store.UpdateStatus(ctx, itemID, models.StatusProcessing); err != nil {
		return err
	}

	task, err := s.queue.Enqueue(itemID)
	if err != nil {
		// leave the item retryable
		if rerr := s.store.UpdateStatus(ctx, itemID, models.StatusFailed); rerr != nil {
			s.logger.Error("Failed to release item after enqueue error",
				zap.String("item_id", itemID),
				zap.Error(rerr))
		}
		return err
	}

	resp := fiber.Map{
		"success": true,
		"message": "Processing started",
		"item_id": itemID,
	}
	if task != nil {
		resp["task_id"] = task.ID
	}
	return c.JSON(resp)
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	days := c.QueryInt("days", 7)
	if days <= 0 {
		return badRequest("days must be positive")
	}

	ctx := c.UserContext()
	user, err := s.store.GetOrCreateDefaultUser(ctx)
	if err != nil {
		return err
	}
	stats, err := s.store.GetStats(ctx, user.ID, days)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":     true,
		"stats":       stats,
		"period_days": days,
	})
}

func (s *Server) handleTags(c *fiber.Ctx) error {
	ctx := c.UserContext()
	user, err := s.store.GetOrCreateDefaultUser(ctx)
	if err != nil {
		return err
	}
	tags, err := s.store.ListTags(ctx, user.ID)
	if err != nil {
		return err
	}
	if tags == nil {
		tags = []models.Tag{}
	}
	return c.JSON(fiber.Map{"success": true, "tags": tags})
}

func (s *Server) handleListReports(c *fiber.Ctx) error {
	ctx := c.UserContext()
	user, err := s.store.GetOrCreateDefaultUser(ctx)
	if err != nil {
		return err
	}
	reports, err := s.store.ListReports(ctx, user.ID, c.QueryInt("limit", 10))
	if err != nil {
		return err
	}
	if reports == nil {
		reports = []models.WeeklyReport{}
	}
	return c.JSON(fiber.Map{"success": true, "reports": reports})
}

type createReportRequest struct {
	WeekStart string `json:"week_start"`
	WeekEnd   string `json:"week_end"`
}

func (s *Server) handleCreateReport(c *fiber.Ctx) error {
	var req createReportRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest("invalid request body")
		}
	}

	from, to := report.LastWeek(time.Now())
	if req.WeekStart != "" {
		start, err := time.Parse(dateLayout, req.WeekStart)
		if err != nil {
			return badRequest("week_start must be YYYY-MM-DD")
		}
		from, to = start, start.AddDate(0, 0, 7)
	}
	if req.WeekEnd != "" {
		end, err := time.Parse(dateLayout, req.WeekEnd)
		if err != nil {
			return badRequest("week_end must be YYYY-MM-DD")
		}
		// week_end is inclusive
		to = end.AddDate(0, 0, 1)
	}

	ctx := c.UserContext()
	user, err := s.store.GetOrCreateDefaultUser(ctx)
	if err != nil {
		return err
	}

	rep, err := s.reports.Generate(ctx, user.ID, from, to)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "report": rep})
}

func (s *Server) handleGetReport(c *fiber.Ctx) error {
	ctx := c.UserContext()
	reportID := c.Params("id")

	rep, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return err
	}
	items, err := s.store.ReportItems(ctx, reportID)
	if err != nil {
		return err
	}
	if items == nil {
		items = []models.ReportItem{}
	}

	resp := fiber.Map{
		"success": true,
		"report":  rep,
		"items":   items,
	}
	if c.Query("format") == "html" {
		html, err := report.RenderHTML(rep.Content)
		if err != nil {
			return err
		}
		resp["html"] = html
	}
	return c.JSON(resp)
}

func (s *Server) handlePublishReport(c *fiber.Ctx) error {
	ctx := c.UserContext()
	reportID := c.Params("id")

	if err := s.store.PublishReport(ctx, reportID); err != nil {
		return err
	}
	rep, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "report": rep})
}

var _ Queue = (*processor.Pool)(nil)
