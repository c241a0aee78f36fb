// Package main is the entry point for the strategy hub API server.
//
// The main package stays minimal. Its job is to:
//  1. Read configuration (environment, optionally a .env file)
//  2. Create the logger
//  3. Build the server and block in Start until a shutdown signal
//
// All actual logic lives in internal/.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/sakif/strategy-hub/internal/config"
	"github.com/sakif/strategy-hub/internal/server"
)

func main() {
	// === 1. READ CONFIGURATION ===
	// Missing JWT_SECRET is the one fatal setting; everything else has a default.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	// LOG_LEVEL picks the floor: debug, info, warn or error.
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	if cfg.GitHubEnabled() {
		logger.Info("GitHub login enabled", slog.String("callback", cfg.GitHubCallbackURL))
	}

	// === 3. CREATE AND START THE SERVER ===
	// Connecting to MongoDB or Redis gets a bounded startup window.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	srv, err := server.New(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
