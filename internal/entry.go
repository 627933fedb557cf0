// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/avorein/quire/internal/api"
	"github.com/avorein/quire/internal/blockstore"
	"github.com/avorein/quire/internal/clock"
	"github.com/avorein/quire/internal/execution"
	"github.com/avorein/quire/internal/kernel"
	"github.com/avorein/quire/internal/mcpserver"
	"github.com/avorein/quire/internal/notebook"
	"github.com/avorein/quire/internal/sse"
	"github.com/avorein/quire/internal/syncengine"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("servers_path", cfg.Servers.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Initialize block storage.
	db, err := blockstore.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init blockstore: %w", err)
	}
	defer db.Close()

	// Kernel server registry.
	servers, err := kernel.NewRegistry(cfg.Servers.Path, logger)
	if err != nil {
		return fmt.Errorf("init server registry: %w", err)
	}

	transport := app.transport
	if transport == nil {
		transport = kernel.NewHTTPTransport()
	}

	// SSE broker carries save and execution status to the UI.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	nbCfg := notebook.Config{
		Sync: syncengine.Config{
			Debounce:  cfg.Sync.Debounce(),
			MaxQueue:  cfg.Sync.MaxQueue,
			Retention: cfg.Sync.Retention(),
		},
		SessionRetries: cfg.Sync.SessionRetries,
		SessionBackoff: cfg.Sync.SessionBackoff(),
		ResultInterval: cfg.Sync.ResultInterval(),
	}

	svc := notebook.NewService(db, servers, transport, clock.New(), nbCfg,
		func(notebookID string, status syncengine.SaveStatus) {
			broker.PublishSaveStatus(notebookID, string(status))
		},
		func(notebookID, cellID string, status execution.CellStatus) {
			broker.PublishCellStatus(notebookID, cellID, string(status))
		},
		logger)

	// Final flush of any open notebook before the process exits.
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		svc.CloseAll(flushCtx)
	}()

	if app.mcpMode {
		logger.Info("Starting MCP server on stdio")
		return mcpserver.New(svc, servers, transport).ServeStdio()
	}

	apiRouter := api.NewRouter(svc, servers, transport, cfg.Auth.AuthEnabled(), cfg.Auth.Token, http.HandlerFunc(broker.ServeHTTP))

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Watch the kernel servers file for hot reload.
	g.Go(func() error {
		if err := servers.Watch(gCtx); err != nil {
			logger.Warn("servers watcher exited", slog.String("error", err.Error()))
		}
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
