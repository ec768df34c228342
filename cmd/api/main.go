package main

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

	"github.com/bryanwahyu/automaton-sca/internal/bootstrap"
	"github.com/bryanwahyu/automaton-sca/internal/config"
	"github.com/bryanwahyu/automaton-sca/internal/infra/httpserver"
	"github.com/bryanwahyu/automaton-sca/internal/logging"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	// load config
	cfg, err := config.Load(path)
	if err != nil {
		slog.Error("config load error", "path", path, "err", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap failed", "mode", cfg.Mode, "err", err)
		os.Exit(1)
	}
	defer app.Close()

	// status dan analyzed set di-refresh di background
	app.Refresher.Start(ctx)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr: addr,
		Handler: httpserver.NewRouter(httpserver.Options{
			Catalog:        app.Catalog,
			Board:          app.Board,
			Orchestrator:   app.Orchestrator,
			Batches:        app.Batches,
			History:        app.History,
			Exporter:       app.Exporter,
			Health:         app.Health,
			Critical:       app.Critical,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			BatchRateLimit: cfg.Server.BatchRateLimit,
			Logger:         logger,
		}),
		ReadHeaderTimeout: 15 * time.Second,
		// no WriteTimeout: analyze waits on the AI provider and events stream
		IdleTimeout: 60 * time.Second,
	}

	// run server
	go func() {
		logger.Info("server listening", "addr", addr, "mode", cfg.Mode, "api", cfg.BaseURL())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			stop()
		}
	}()

	// graceful shutdown
	<-ctx.Done()
	logger.Info("shutting down server...")
	app.Refresher.Stop()

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		logger.Error("shutdown error", "err", err)
	}
	if app.Batches.Active() {
		logger.Warn("batches still running at shutdown; their remaining tasks are abandoned")
	}
}
