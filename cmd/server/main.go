// Framewell server - runs the frame acquisition pipeline and exposes it
// over HTTP and WebSocket.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/framewell/framewell/internal/config"
	"github.com/framewell/framewell/internal/engine/remote"
	"github.com/framewell/framewell/internal/orchestrator"
	"github.com/framewell/framewell/internal/server"
	"github.com/framewell/framewell/internal/source"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Connect to the processing engine
	eng, err := remote.New(cfg.EngineAddr)
	if err != nil {
		slog.Error("failed to connect to engine", "addr", cfg.EngineAddr, "error", err)
		os.Exit(1)
	}
	defer func() { _ = eng.Close() }()

	// Build the pipeline over a synthetic demo source; real deployments
	// push frames through the API instead.
	src := source.NewSynthetic(cfg.SourceFPS, cfg.SourceFrames)
	orch, err := orchestrator.New(cfg, eng, src)
	if err != nil {
		slog.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	defer orch.Close()

	if err := orch.StartFetching(); err != nil {
		slog.Error("failed to start frame source", "error", err)
		os.Exit(1)
	}
	if err := orch.StartCapturing(); err != nil {
		slog.Error("failed to start capture", "error", err)
		os.Exit(1)
	}

	// Create HTTP/WebSocket server
	srv := server.New(orch, cfg)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("framewell server starting",
			"http", cfg.HTTPAddr, "engine", cfg.EngineAddr, "session_id", orch.SessionID())
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	orch.Close()
	slog.Info("shutdown complete")
}
