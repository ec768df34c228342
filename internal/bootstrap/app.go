// Package bootstrap wires config into the application services shared by
// the API server and the CLI.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bryanwahyu/automaton-sca/internal/application"
	appanalysis "github.com/bryanwahyu/automaton-sca/internal/application/analysis"
	"github.com/bryanwahyu/automaton-sca/internal/application/batch"
	"github.com/bryanwahyu/automaton-sca/internal/application/catalog"
	"github.com/bryanwahyu/automaton-sca/internal/application/export"
	apphistory "github.com/bryanwahyu/automaton-sca/internal/application/history"
	"github.com/bryanwahyu/automaton-sca/internal/application/status"
	"github.com/bryanwahyu/automaton-sca/internal/config"
	"github.com/bryanwahyu/automaton-sca/internal/domain/analysis"
	"github.com/bryanwahyu/automaton-sca/internal/domain/history"
	"github.com/bryanwahyu/automaton-sca/internal/domain/provider"
	"github.com/bryanwahyu/automaton-sca/internal/infra/ai/openai"
	"github.com/bryanwahyu/automaton-sca/internal/infra/backend"
	"github.com/bryanwahyu/automaton-sca/internal/infra/cache"
	"github.com/bryanwahyu/automaton-sca/internal/infra/db/mysql"
	"github.com/bryanwahyu/automaton-sca/internal/infra/db/postgres"
	"github.com/bryanwahyu/automaton-sca/internal/infra/storage"
	"github.com/bryanwahyu/automaton-sca/internal/middleware"
)

// ErrPDFUnavailable is returned by the renderer used in direct mode.
var ErrPDFUnavailable = errors.New("pdf rendering is not available in direct mode")

// App holds every wired service.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Catalog      *catalog.Service
	Board        *status.Board
	Orchestrator *batch.Orchestrator
	Batches      *batch.Registry
	History      *apphistory.Service
	Exporter     *export.Exporter
	Refresher    *status.Refresher

	Health   map[string]middleware.HealthChecker
	Critical []string

	closers []func() error
}

// ports the selected mode provides
type ports struct {
	analyzer analysis.Analyzer
	history  history.Client
	renderer export.Renderer
	fetcher  status.Fetcher
}

// New connects every collaborator the config names. On error anything
// already opened is closed.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (app *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		Config: cfg,
		Logger: logger,
		Health: make(map[string]middleware.HealthChecker),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	be := backend.New(cfg.BaseURL(), cfg.API.Timeout, logger.With("component", "backend"))
	a.Health["backend"] = middleware.CheckFunc(be.Ping)

	var p ports
	switch cfg.Mode {
	case config.ModeDirect:
		p, err = a.direct(ctx, be)
	default:
		p = ports{analyzer: be, history: be, renderer: be, fetcher: be}
		a.Critical = append(a.Critical, "backend")
	}
	if err != nil {
		return nil, err
	}

	c, err := a.cache(ctx)
	if err != nil {
		return nil, err
	}
	sink, err := a.sink(ctx)
	if err != nil {
		return nil, err
	}

	a.History = &apphistory.Service{
		Client: p.history,
		Cache:  c,
		MaxAge: cfg.Refresh.AnalyzedInterval,
		Logger: logger.With("component", "history"),
	}
	a.Catalog = &catalog.Service{Source: be, Analyzed: a.History, Logger: logger}
	a.Board = &status.Board{Fetcher: p.fetcher, Logger: logger.With("component", "status")}
	a.Orchestrator = &batch.Orchestrator{
		Analyzer: p.analyzer,
		Marker:   a.History,
		Clock:    application.SystemClock{},
		Logger:   logger.With("component", "batch"),
	}
	a.Batches = batch.NewRegistry(100)
	a.Exporter = &export.Exporter{
		Format:   export.Format(cfg.Export.Format),
		Renderer: p.renderer,
		Sink:     sink,
		Interval: cfg.Export.Interval,
		Clock:    application.SystemClock{},
		Logger:   logger.With("component", "export"),
	}
	a.Refresher = &status.Refresher{Jobs: a.jobs(c), Logger: logger.With("component", "refresher")}
	return a, nil
}

// direct wires local inference and the SQL history store. The check
// catalog still comes from the backend.
func (a *App) direct(ctx context.Context, be *backend.Client) (ports, error) {
	cfg := a.Config
	repo, db, err := openRepository(ctx, cfg)
	if err != nil {
		return ports{}, err
	}
	a.closers = append(a.closers, db.Close)
	a.Health["database"] = &middleware.DatabaseHealthChecker{DB: db}
	a.Critical = append(a.Critical, "database")

	httpClient := &http.Client{Timeout: cfg.API.Timeout}
	vllm := openai.NewClient(provider.VLLM, "", cfg.AI.VLLM.BaseURL, cfg.AI.VLLM.Model, httpClient)
	gens := []appanalysis.Generator{vllm}
	keySet := cfg.AI.OpenAI.APIKey != ""
	if keySet {
		gens = append(gens, openai.NewClient(provider.OpenAI, cfg.AI.OpenAI.APIKey, cfg.AI.OpenAI.BaseURL, cfg.AI.OpenAI.Model, httpClient))
	}

	svc := appanalysis.NewService(repo, be, gens...)
	svc.CacheEnabled = cfg.Cache.Enabled
	svc.CacheTTL = time.Duration(cfg.Cache.TTLHours) * time.Hour
	svc.Clock = application.SystemClock{}
	svc.Logger = a.Logger.With("component", "analysis")

	a.Logger.Info("direct analysis mode",
		"driver", cfg.Database.Driver,
		"ai_mode", cfg.AI.Mode,
		"openai_key_set", keySet,
	)
	return ports{
		analyzer: svc,
		history:  repo,
		renderer: unavailableRenderer{},
		fetcher: &appanalysis.DirectStatus{
			Mode:         provider.Mode(cfg.AI.Mode),
			VLLM:         vllm,
			VLLMURL:      cfg.AI.VLLM.BaseURL,
			VLLMModel:    cfg.AI.VLLM.Model,
			OpenAIModel:  cfg.AI.OpenAI.Model,
			OpenAIKeySet: keySet,
		},
	}, nil
}

func openRepository(ctx context.Context, cfg *config.Config) (history.Repository, *sql.DB, error) {
	ttl := time.Duration(cfg.Cache.TTLHours) * time.Hour
	switch cfg.Database.Driver {
	case "postgres":
		db, err := postgres.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, nil, fmt.Errorf("postgres connect: %w", err)
		}
		repo := postgres.NewHistoryRepository(db, cfg.Cache.Enabled, ttl)
		if err := repo.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("postgres migrate: %w", err)
		}
		return repo, db, nil
	default:
		db, err := mysql.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, nil, fmt.Errorf("mysql connect: %w", err)
		}
		repo := mysql.NewHistoryRepository(db, cfg.Cache.Enabled, ttl)
		if err := repo.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("mysql migrate: %w", err)
		}
		return repo, db, nil
	}
}

func (a *App) cache(ctx context.Context) (application.Cache, error) {
	if a.Config.Cache.RedisURL == "" {
		return cache.NewMemory(), nil
	}
	r, err := cache.NewRedis(ctx, a.Config.Cache.RedisURL, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	a.closers = append(a.closers, r.Close)
	a.Health["redis"] = middleware.CheckFunc(r.Ping)
	return r, nil
}

func (a *App) sink(ctx context.Context) (export.Sink, error) {
	m := a.Config.Export.Minio
	if !m.Enabled {
		return storage.Dir{Root: a.Config.Export.Dir}, nil
	}
	store, err := storage.New(ctx, m.Endpoint, m.Region, m.BucketName, m.AccessKey, m.SecretKey, m.UseSSL)
	if err != nil {
		return nil, fmt.Errorf("minio init: %w", err)
	}
	a.Health["minio"] = middleware.CheckFunc(store.Ping)
	return store, nil
}

func (a *App) jobs(c application.Cache) []status.Job {
	jobs := []status.Job{
		{
			Name:     "status",
			Interval: a.Config.Refresh.StatusInterval,
			Run: func(ctx context.Context) error {
				_, err := a.Board.Refresh(ctx)
				return err
			},
		},
		{
			Name:     "analyzed",
			Interval: a.Config.Refresh.AnalyzedInterval,
			Run:      a.refreshAnalyzed,
		},
	}
	if m, ok := c.(*cache.Memory); ok {
		jobs = append(jobs, status.Job{
			Name:     "cache-sweep",
			Interval: time.Minute,
			Run: func(context.Context) error {
				m.Sweep()
				return nil
			},
		})
	}
	return jobs
}

// refreshAnalyzed recomputes the analyzed set of every agent viewed so far.
func (a *App) refreshAnalyzed(ctx context.Context) error {
	var errs []error
	for _, agentID := range a.History.Viewed() {
		if _, err := a.History.Refresh(ctx, agentID); err != nil {
			errs = append(errs, fmt.Errorf("agent %s: %w", agentID, err))
		}
	}
	return errors.Join(errs...)
}

// Close stops the refresher and releases connections.
func (a *App) Close() error {
	if a.Refresher != nil {
		a.Refresher.Stop()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

type unavailableRenderer struct{}

func (unavailableRenderer) RenderPDF(context.Context, export.PDFRequest) (string, error) {
	return "", ErrPDFUnavailable
}

func (unavailableRenderer) DownloadPDF(context.Context, string) ([]byte, error) {
	return nil, ErrPDFUnavailable
}
