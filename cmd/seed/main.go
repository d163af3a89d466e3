package main

import (
	"context"
	"fmt"
	"os"

	"github.com/xaenox/neofeed/internal/seed"
	"github.com/xaenox/neofeed/internal/storage"
	"github.com/xaenox/neofeed/pkg/config"
	"github.com/xaenox/neofeed/pkg/logger"
	"go.uber.org/zap"
)

func main() {
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

	if cfg.Database.UseInMemory {
		log.Fatal("Seeding needs PostgreSQL; unset DATABASE_USE_IN_MEMORY")
	}

	store, err := storage.NewPostgresStorage(storage.DatabaseConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer store.Close()

	sum, err := seed.Run(context.Background(), store, log)
	if err != nil {
		log.Fatal("Seeding failed", zap.Error(err))
	}
	fmt.Printf("user %s: %d items, %d tags, report %s\n", sum.UserID, len(sum.ItemIDs), sum.Tags, sum.ReportID)
}
