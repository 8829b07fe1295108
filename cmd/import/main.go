// Command import bulk-loads accounts and trade history from CSV exports.
//
// Usage:
//
//	DATABASE_URL=postgres://... go run ./cmd/import -accounts accounts.csv -trades trades.csv
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/propguard/riskwatch/internal/importer"
	"github.com/propguard/riskwatch/internal/logging"
	"github.com/propguard/riskwatch/internal/risk"
)

func main() {
	accountsPath := flag.String("accounts", "", "path to accounts CSV")
	tradesPath := flag.String("trades", "", "path to trades CSV")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall import timeout")
	flag.Parse()

	logger := logging.New("info", "text")

	if *accountsPath == "" && *tradesPath == "" {
		logger.Error("nothing to do: pass -accounts and/or -trades")
		flag.Usage()
		os.Exit(1)
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Error("DATABASE_URL environment variable is required")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	store := risk.NewPostgresStore(db)
	if err := store.Migrate(ctx); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}

	imp := importer.New(store, logger)

	if *accountsPath != "" {
		parsed, inserted, err := imp.LoadAccounts(ctx, *accountsPath)
		if err != nil {
			logger.Error("account import failed", "error", err)
			os.Exit(1)
		}
		logger.Info("accounts imported", "parsed", parsed, "inserted", inserted)
	}

	if *tradesPath != "" {
		parsed, inserted, err := imp.LoadTrades(ctx, *tradesPath)
		if err != nil {
			logger.Error("trade import failed", "error", err)
			os.Exit(1)
		}
		logger.Info("trades imported", "parsed", parsed, "inserted", inserted)
	}
}
