package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/xaenox/neofeed/internal/migrator"
	"github.com/xaenox/neofeed/internal/storage"
	"github.com/xaenox/neofeed/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	sqlitePath := flag.String("sqlite", "neofeed.db", "Path to the legacy SQLite database")
	dsn := flag.String("dsn", "", "PostgreSQL DSN or URL (defaults to $DATABASE_URL)")
	createSchema := flag.Bool("create-schema", false, "Apply the PostgreSQL schema before migrating")
	exportSchema := flag.String("export-schema", "", "Write the PostgreSQL schema to this file and exit")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	if *exportSchema != "" {
		if err := writeSchema(*exportSchema); err != nil {
			fmt.Fprintf(os.Stderr, "export failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Schema written to %s\n", *exportSchema)
		return
	}

	_ = godotenv.Load()

	log, err := logger.New(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if *dsn == "" {
		*dsn = os.Getenv("DATABASE_URL")
	}
	if *dsn == "" {
		log.Fatal("A PostgreSQL DSN is required (-dsn or DATABASE_URL)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, err := migrator.OpenSQLite(*sqlitePath)
	if err != nil {
		log.Fatal("Failed to open SQLite source", zap.Error(err), zap.String("path", *sqlitePath))
	}
	defer source.Close()

	target, err := migrator.OpenPostgres(*dsn)
	if err != nil {
		log.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer target.Close()

	if *createSchema {
		if err := target.CreateSchema(ctx); err != nil {
			log.Fatal("Failed to create schema", zap.Error(err))
		}
		log.Info("Schema applied")
	}

	report, runErr := migrator.New(source, target, log).Run(ctx)

	out, err := json.MarshalIndent(report, "", "  ")
	if err == nil {
		fmt.Println(string(out))
	}

	if runErr != nil {
		log.Error("Migration aborted", zap.Error(runErr))
		os.Exit(1)
	}
	if n := report.Failed(); n > 0 {
		log.Warn("Migration finished with failed rows", zap.Int("failed", n))
		os.Exit(2)
	}
	log.Info("Migration finished")
}

func writeSchema(path string) error {
	schema, err := storage.Schema()
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(schema), 0o644)
}
