package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/xaenox/neofeed/internal/fetcher"
	"github.com/xaenox/neofeed/internal/models"
	"github.com/xaenox/neofeed/internal/processor"
	"github.com/xaenox/neofeed/internal/report"
	"github.com/xaenox/neofeed/internal/storage"
	"go.uber.org/zap"
)

const Version = "1.0.0"

// PageFetcher turns a URL found in submitted content into an article.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetcher.Result, error)
}

// Queue accepts items for background enrichment.
type Queue interface {
	Enqueue(itemID string) (*processor.Task, error)
	InFlight() int
}

type Config struct {
	AIEnabled    bool
	WebScraping  bool
	CORSOrigins  []string
	FetchTimeout time.Duration
	// Metrics, when set, instruments every route and serves /metrics.
	Metrics *fiberprometheus.FiberPrometheus
}

type Server struct {
	app     *fiber.App
	cfg     Config
	store   storage.Storage
	fetcher PageFetcher
	queue   Queue
	reports *report.Generator
	logger  *zap.Logger
}

// NewServer wires routes. fetcher and queue may be nil when web scraping or
// AI processing is disabled.
func NewServer(cfg Config, store storage.Storage, pf PageFetcher, queue Queue, reports *report.Generator, logger *zap.Logger) *Server {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}

	s := &Server{
		app: fiber.New(fiber.Config{
			AppName:      "NeoFeed API",
			ErrorHandler: errorHandler(logger),
		}),
		cfg:     cfg,
		store:   store,
		fetcher: pf,
		queue:   queue,
		reports: reports,
		logger:  logger,
	}

	s.app.Use(recover.New())
	s.app.Use(requestLogger(logger))
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.CORSOrigins, ","),
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))
	if cfg.Metrics != nil {
		cfg.Metrics.RegisterAt(s.app, "/metrics")
		s.app.Use(cfg.Metrics.Middleware)
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/", s.handleRoot)
	s.app.Get("/health", s.handleHealth)

	api := s.app.Group("/api")
	api.Post("/items", s.handleCreateItem)
	api.Get("/items", s.handleListItems)
	api.Get("/items/:id", s.handleGetItem)
	api.Post("/items/:id/process", s.handleProcessItem)
	api.Get("/stats", s.handleStats)
	api.Get("/tags", s.handleTags)
	api.Get("/reports", s.handleListReports)
	api.Post("/reports", s.handleCreateReport)
	api.Get("/reports/:id", s.handleGetReport)
	api.Post("/reports/:id/publish", s.handlePublishReport)
}

func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, models.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, models.ErrInvalidTransition):
		return fiber.StatusConflict
	case errors.Is(err, processor.ErrQueueFull), errors.Is(err, processor.ErrPoolClosed):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func errorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := statusFor(err)
		msg := err.Error()
		if code == fiber.StatusInternalServerError {
			logger.Error("Request failed",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Error(err))
			msg = "internal server error"
		}
		return c.Status(code).JSON(fiber.Map{
			"success": false,
			"error":   msg,
		})
	}
}
