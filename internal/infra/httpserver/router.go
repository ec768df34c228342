package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/bryanwahyu/automaton-sca/internal/application/batch"
	"github.com/bryanwahyu/automaton-sca/internal/application/catalog"
	"github.com/bryanwahyu/automaton-sca/internal/application/export"
	apphistory "github.com/bryanwahyu/automaton-sca/internal/application/history"
	"github.com/bryanwahyu/automaton-sca/internal/application/status"
	"github.com/bryanwahyu/automaton-sca/internal/domain/analysis"
	"github.com/bryanwahyu/automaton-sca/internal/domain/history"
	"github.com/bryanwahyu/automaton-sca/internal/domain/provider"
	"github.com/bryanwahyu/automaton-sca/internal/infra/backend"
	"github.com/bryanwahyu/automaton-sca/internal/metrics"
	"github.com/bryanwahyu/automaton-sca/internal/middleware"
)

var (
	errBadRequest = errors.New("bad request")
	errRunActive  = errors.New("batch is still running")
)

// Options carries the services and settings the router needs.
type Options struct {
	Catalog      *catalog.Service
	Board        *status.Board
	Orchestrator *batch.Orchestrator
	Batches      *batch.Registry
	History      *apphistory.Service
	Exporter     *export.Exporter

	Health         map[string]middleware.HealthChecker
	Critical       []string
	AllowedOrigins []string
	// batch starts per client per minute, 0 disables the limit
	BatchRateLimit int
	Logger         *slog.Logger
}

type Router struct {
	catalog  *catalog.Service
	board    *status.Board
	orch     *batch.Orchestrator
	batches  *batch.Registry
	history  *apphistory.Service
	exporter *export.Exporter
	logger   *slog.Logger
}

func NewRouter(o Options) http.Handler {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		catalog:  o.Catalog,
		board:    o.Board,
		orch:     o.Orchestrator,
		batches:  o.Batches,
		history:  o.History,
		exporter: o.Exporter,
		logger:   logger,
	}

	origins := o.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.Recoverer)
	mux.Use(middleware.Metrics)
	mux.Use(middleware.Logging(logger))
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"Location"},
		MaxAge:         300,
	}))

	mux.Get("/health", middleware.HealthHandler(o.Health, o.Critical...))
	mux.Handle("/metrics", metrics.Handler())

	mux.Route("/v1", func(rt chi.Router) {
		rt.Get("/status", r.wrap(r.handleStatus))
		rt.Post("/status/refresh", r.wrap(r.handleStatusRefresh))
		rt.Put("/provider", r.wrap(r.handleChooseProvider))

		rt.Get("/agents", r.wrap(r.handleAgents))
		rt.Route("/agents/{agent}", func(ra chi.Router) {
			ra.Get("/policies", r.wrap(r.handlePolicies))
			ra.Get("/policies/{policy}/checks", r.wrap(r.handleChecks))
			ra.Post("/policies/{policy}/checks/{check}/analyze", r.wrap(r.handleAnalyzeOne))

			start := ra.With()
			if o.BatchRateLimit > 0 {
				start = ra.With(middleware.RateLimit(o.BatchRateLimit, o.BatchRateLimit))
			}
			start.Post("/batches", r.wrap(r.handleStartBatch))

			ra.Get("/history", r.wrap(r.handleHistoryByAgent))
			ra.Get("/checks/{check}/history", r.wrap(r.handleHistoryByCheck))
		})

		rt.Route("/batches/{id}", func(rb chi.Router) {
			rb.Get("/", r.wrap(r.handleGetBatch))
			rb.Get("/events", r.wrap(r.handleBatchEvents))
			rb.Post("/stop", r.wrap(r.handleStopBatch))
			rb.Post("/export", r.wrap(r.handleExportBatch))
		})

		rt.Get("/history/{id}", r.wrap(r.handleGetHistory))
		rt.Delete("/history/{id}", r.wrap(r.handleDeleteHistory))
		rt.Get("/history/stats/cache", r.wrap(r.handleCacheStats))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			code := statusFor(err)
			if code >= http.StatusInternalServerError {
				r.logger.Error("request failed", "method", req.Method, "path", req.URL.Path, "err", err)
			}
			_ = writeJSON(w, code, map[string]string{"error": err.Error()})
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, batch.ErrRunNotFound),
		errors.Is(err, history.ErrNotFound),
		errors.Is(err, catalog.ErrUnknownCheck):
		return http.StatusNotFound
	case errors.Is(err, analysis.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, history.ErrConfirmationRequired):
		return http.StatusPreconditionRequired
	case errors.Is(err, errRunActive),
		errors.Is(err, export.ErrNothingToExport),
		errors.Is(err, provider.ErrNotPermitted):
		return http.StatusConflict
	case errors.Is(err, status.ErrStatusUnknown),
		errors.Is(err, status.ErrNoProvider):
		return http.StatusServiceUnavailable
	case errors.Is(err, errBadRequest),
		errors.Is(err, middleware.ErrInvalidParam),
		errors.Is(err, batch.ErrEmptyBatch),
		errors.Is(err, batch.ErrDuplicateCheck),
		errors.Is(err, batch.ErrInvalidProvider),
		errors.Is(err, analysis.ErrUnsupportedLanguage),
		errors.Is(err, history.ErrInvalidStatus),
		errors.Is(err, apphistory.ErrInvalidPage),
		errors.Is(err, export.ErrUnknownFormat):
		return http.StatusBadRequest
	}
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}

// decodeBody decodes a JSON body. An empty body leaves v untouched.
func decodeBody(req *http.Request, v any) error {
	err := json.NewDecoder(req.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("%w: %v", errBadRequest, err)
}

// GET /v1/status
func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) error {
	return writeJSON(w, http.StatusOK, r.board.View())
}

// POST /v1/status/refresh
// Gagal fetch tetap balikin view (degraded) supaya UI bisa tampilkan retry.
func (r *Router) handleStatusRefresh(w http.ResponseWriter, req *http.Request) error {
	view, err := r.board.Refresh(req.Context())
	if err != nil {
		return writeJSON(w, http.StatusBadGateway, view)
	}
	return writeJSON(w, http.StatusOK, view)
}

// PUT /v1/provider
// Body: {"ai_provider": "vllm"|"openai"}
func (r *Router) handleChooseProvider(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Provider string `json:"ai_provider"`
	}
	if err := decodeBody(req, &body); err != nil {
		return err
	}
	p := provider.Provider(body.Provider)
	if !p.Valid() {
		return fmt.Errorf("%w: %q", batch.ErrInvalidProvider, body.Provider)
	}
	view, err := r.board.Choose(p)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, view)
}

// GET /v1/agents?search=
func (r *Router) handleAgents(w http.ResponseWriter, req *http.Request) error {
	search := middleware.SanitizeString(req.URL.Query().Get("search"))
	agents, err := r.catalog.Agents(req.Context(), search)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, agents)
}

// GET /v1/agents/{agent}/policies
func (r *Router) handlePolicies(w http.ResponseWriter, req *http.Request) error {
	agentID := chi.URLParam(req, "agent")
	if err := middleware.ValidateAgentID(agentID); err != nil {
		return err
	}
	policies, err := r.catalog.Policies(req.Context(), agentID)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, policies)
}

// GET /v1/agents/{agent}/policies/{policy}/checks
func (r *Router) handleChecks(w http.ResponseWriter, req *http.Request) error {
	agentID, policyID, err := agentPolicy(req)
	if err != nil {
		return err
	}
	checks, err := r.catalog.FailedChecks(req.Context(), agentID, policyID)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, checks)
}

func agentPolicy(req *http.Request) (string, string, error) {
	agentID := chi.URLParam(req, "agent")
	if err := middleware.ValidateAgentID(agentID); err != nil {
		return "", "", err
	}
	policyID := chi.URLParam(req, "policy")
	if err := middleware.ValidatePolicyID(policyID); err != nil {
		return "", "", err
	}
	return agentID, policyID, nil
}
