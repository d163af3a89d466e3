package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/xaenox/neofeed/internal/api"
	"github.com/xaenox/neofeed/internal/bot"
	"github.com/xaenox/neofeed/internal/classifier"
	"github.com/xaenox/neofeed/internal/fetcher"
	"github.com/xaenox/neofeed/internal/processor"
	"github.com/xaenox/neofeed/internal/report"
	"github.com/xaenox/neofeed/internal/storage"
	"github.com/xaenox/neofeed/pkg/config"
	"github.com/xaenox/neofeed/pkg/logger"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Initialize storage
	var store storage.Storage
	if cfg.Database.UseInMemory {
		log.Info("Using in-memory storage")
		store = storage.NewMemoryStorage()
	} else {
		log.Info("Using PostgreSQL storage")
		store, err = storage.NewPostgresStorage(storage.DatabaseConfig{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			DBName:          cfg.Database.DBName,
			SSLMode:         cfg.Database.SSLMode,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}, log)
		if err != nil {
			log.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer store.Close()

	var pageFetcher api.PageFetcher
	if cfg.Features.EnableWebScraping {
		pageFetcher = fetcher.New(fetcher.Config{
			ReaderURL: cfg.Fetcher.ReaderURL,
			Timeout:   cfg.Fetcher.Timeout,
			CacheTTL:  cfg.Fetcher.CacheTTL,
		}, log)
	}

	// Enrichment pool
	var pool *processor.Pool
	if cfg.AIEnabled() {
		var enricher processor.Enricher
		if cfg.OpenAI.APIKey != "" {
			enricher = classifier.NewGPTClassifier(classifier.GPTConfig{
				APIKey:            cfg.OpenAI.APIKey,
				BaseURL:           cfg.OpenAI.BaseURL,
				Model:             cfg.OpenAI.Model,
				Timeout:           cfg.OpenAI.RequestTimeout,
				RequestsPerSecond: cfg.OpenAI.RequestsPerSecond,
				MaxKeywords:       cfg.Classifier.MaxTags,
			}, log)
		} else {
			log.Warn("OPENAI_API_KEY not set, using the offline classifier")
			enricher = classifier.NewSimpleClassifier(cfg.Classifier.MaxTags)
		}

		proc := processor.NewProcessor(store, enricher, cfg.OpenAI.RequestTimeout, log)
		pool = processor.NewPool(proc, processor.PoolConfig{
			Workers:   cfg.Worker.Count,
			QueueSize: cfg.Worker.QueueSize,
		}, processor.NewMetrics(prometheus.DefaultRegisterer), log)
	}

	reports := report.NewGenerator(store, log)
	scheduler, err := report.NewScheduler(reports, cfg.Report.Cron, func(ctx context.Context) (string, error) {
		user, err := store.GetOrCreateDefaultUser(ctx)
		if err != nil {
			return "", err
		}
		return user.ID, nil
	}, log)
	if err != nil {
		log.Fatal("Failed to create report scheduler", zap.Error(err))
	}
	scheduler.Start()

	apiCfg := api.Config{
		AIEnabled:    cfg.AIEnabled(),
		WebScraping:  cfg.Features.EnableWebScraping,
		CORSOrigins:  cfg.Server.CORSOrigins,
		FetchTimeout: cfg.Fetcher.Timeout,
	}
	if cfg.Server.EnableMetrics {
		apiCfg.Metrics = fiberprometheus.New("neofeed")
	}

	// a nil *Pool must not become a non-nil interface
	var queue api.Queue
	if pool != nil {
		queue = pool
	}
	server := api.NewServer(apiCfg, store, pageFetcher, queue, reports, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Telegram.Token != "" {
		var botQueue bot.Queue
		if pool != nil {
			botQueue = pool
		}
		b, err := bot.New(cfg.Telegram.Token, store, botQueue, log)
		if err != nil {
			log.Fatal("Failed to create bot", zap.Error(err))
		}
		go func() {
			if err := b.Start(ctx); err != nil {
				log.Error("Bot error", zap.Error(err))
			}
		}()
	}

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		log.Info("Starting HTTP server", zap.String("addr", addr))
		if err := server.Listen(addr); err != nil {
			log.Error("HTTP server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown failed", zap.Error(err))
	}
	scheduler.Stop()
	if pool != nil {
		if err := pool.Shutdown(shutdownCtx); err != nil {
			log.Warn("Workers did not drain in time", zap.Error(err))
		}
	}
}
