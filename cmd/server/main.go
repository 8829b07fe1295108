// Riskwatch - risk analytics and alerting for trading accounts
package main

import (
	"context"
	"os"

	"github.com/propguard/riskwatch/internal/config"
	"github.com/propguard/riskwatch/internal/logging"
	"github.com/propguard/riskwatch/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Create logger
	logger := logging.New("info", "text")

	logger.Info("starting riskwatch",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"eval_interval", cfg.EvalInterval,
	)

	runtime := config.NewRuntime(config.LoadThresholds())

	// Create and run server
	srv, err := server.New(cfg, runtime, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
