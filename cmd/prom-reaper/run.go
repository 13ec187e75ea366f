package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/prom-reaper/internal/config"
	"github.com/tinytelemetry/prom-reaper/internal/httpserver"
	"github.com/tinytelemetry/prom-reaper/internal/scraper"
	"github.com/tinytelemetry/prom-reaper/internal/selfmetrics"
	"github.com/tinytelemetry/prom-reaper/internal/state"
)

// runServer wires the pipeline together and blocks until shutdown.
func runServer(cfg *config.Config) error {
	configureLogging()

	pub := state.NewPublisher()
	scr := scraper.New(cfg, pub)
	registry := selfmetrics.NewRegistry(selfmetrics.NewCollector(pub, cfg.NumShards, scr))

	srv := httpserver.NewServer(cfg.Listen, pub, cfg.NumShards, registry)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server on %s: %w", cfg.Listen, err)
	}
	defer srv.Stop()

	slog.Info("starting prom-reaper",
		"version", version,
		"listen", cfg.Listen,
		"num_shards", cfg.NumShards,
		"sources", len(cfg.Sources))

	// Set up context and signal handling before the errgroup.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		slog.Info("shutting down gracefully, interrupt again to force")
		cancel()

		// Shutdown deadline starts now — not at boot.
		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			slog.Warn("force shutdown")
		case <-deadline.C:
			slog.Warn("shutdown timed out, forcing exit")
		}
		os.Exit(1)
	}()

	// Use errgroup for concurrent goroutine lifecycle management.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return scr.Run(gctx)
	})

	// Wait for context cancellation (from the signal handler).
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	signal.Stop(sigCh)
	return nil
}

// configureLogging sets the default slog handler, taking the level from
// the PROM_REAPER_LOG environment variable (debug, info, warn, error).
func configureLogging() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("PROM_REAPER_LOG")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
