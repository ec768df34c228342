// Package analysis runs single-check analysis directly against the AI
// providers, with history-backed caching. It is used when the service is
// configured in direct mode.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bryanwahyu/automaton-sca/internal/application"
	domain "github.com/bryanwahyu/automaton-sca/internal/domain/analysis"
	"github.com/bryanwahyu/automaton-sca/internal/domain/history"
	"github.com/bryanwahyu/automaton-sca/internal/domain/provider"
	"github.com/bryanwahyu/automaton-sca/internal/domain/sca"
)

var (
	ErrProviderUnavailable = errors.New("ai provider not configured")
	ErrCheckNotFound       = errors.New("check not found")
)

// Generator produces a report with one provider.
type Generator interface {
	Provider() provider.Provider
	Generate(ctx context.Context, check sca.Check, lang domain.Language) (string, error)
}

// CheckLookup resolves check details when a request carries only the id.
type CheckLookup interface {
	FailedChecks(ctx context.Context, agentID, policyID string) ([]sca.Check, error)
}

// Service implements domain.Analyzer.
type Service struct {
	Repo       history.Repository
	Checks     CheckLookup
	generators map[provider.Provider]Generator

	CacheEnabled bool
	CacheTTL     time.Duration
	Clock        application.Clock
	Logger       *slog.Logger
}

func NewService(repo history.Repository, checks CheckLookup, gens ...Generator) *Service {
	s := &Service{
		Repo:         repo,
		Checks:       checks,
		generators:   make(map[provider.Provider]Generator, len(gens)),
		CacheEnabled: true,
		CacheTTL:     24 * time.Hour,
		Clock:        application.SystemClock{},
		Logger:       slog.Default(),
	}
	for _, g := range gens {
		s.generators[g.Provider()] = g
	}
	return s
}

// Analyze serves, in order: this agent's cached analysis, another agent's
// cached analysis (marked with CachedFromAgent), a fresh inference. Fresh
// outcomes are appended to history, failures included.
func (s *Service) Analyze(ctx context.Context, req domain.Request) (domain.Result, error) {
	gen, ok := s.generators[req.Provider]
	if !ok {
		return domain.Result{}, fmt.Errorf("%w: %q", ErrProviderUnavailable, req.Provider)
	}
	if req.Language == "" {
		req.Language = domain.LangEN
	}
	check, err := s.resolveCheck(ctx, req)
	if err != nil {
		return domain.Result{}, err
	}

	if s.CacheEnabled {
		if res, ok := s.fromCache(ctx, req, check); ok {
			return res, nil
		}
	}

	start := time.Now()
	report, genErr := gen.Generate(ctx, check, req.Language)
	elapsed := time.Since(start).Seconds()

	rec := s.newRecord(req, check)
	rec.AIProvider = req.Provider
	rec.ExecutionTimeSeconds = &elapsed
	if genErr != nil {
		rec.Status = history.StatusFailed
		rec.ErrorMessage = genErr.Error()
	} else {
		rec.Status = history.StatusCompleted
		rec.ReportText = report
	}
	// history write failure tidak boleh membatalkan hasil analisa
	if err := s.Repo.Append(ctx, rec); err != nil {
		s.Logger.Error("save analysis history failed", "check_id", req.CheckID, "err", err)
	}
	if genErr != nil {
		return domain.Result{}, genErr
	}

	s.Logger.Info("analysis completed",
		"agent_id", req.AgentID,
		"check_id", req.CheckID,
		"provider", req.Provider,
		"seconds", elapsed,
	)
	return domain.Result{
		CheckID:    req.CheckID,
		Report:     report,
		AIProvider: req.Provider,
		Language:   req.Language,
	}, nil
}

func (s *Service) fromCache(ctx context.Context, req domain.Request, check sca.Check) (domain.Result, bool) {
	since := s.Clock.Now().Add(-s.CacheTTL)

	rec, err := s.Repo.FindCached(ctx, req.AgentID, req.CheckID, req.Language, since)
	if err != nil {
		s.Logger.Warn("cache lookup failed", "check_id", req.CheckID, "err", err)
	} else if rec != nil {
		s.Logger.Info("analysis served from cache", "agent_id", req.AgentID, "check_id", req.CheckID)
		return resultFrom(rec, ""), true
	}

	shared, err := s.Repo.FindShared(ctx, req.CheckID, req.Language, req.AgentID, since)
	if err != nil {
		s.Logger.Warn("shared cache lookup failed", "check_id", req.CheckID, "err", err)
		return domain.Result{}, false
	}
	if shared == nil {
		return domain.Result{}, false
	}

	// salinan untuk agent ini supaya check-nya ikut terhitung sudah dianalisa
	cp := s.newRecord(req, check)
	cp.AIProvider = shared.AIProvider
	cp.ReportText = shared.ReportText
	cp.RemediationScript = shared.RemediationScript.Clone()
	cp.Status = history.StatusCompleted
	if err := s.Repo.Append(ctx, cp); err != nil {
		s.Logger.Warn("save shared analysis copy failed", "check_id", req.CheckID, "err", err)
	}
	s.Logger.Info("analysis served from another agent",
		"agent_id", req.AgentID,
		"check_id", req.CheckID,
		"cached_from_agent", shared.AgentID,
	)
	return resultFrom(shared, shared.AgentID), true
}

func (s *Service) resolveCheck(ctx context.Context, req domain.Request) (sca.Check, error) {
	if req.Check != nil {
		return *req.Check, nil
	}
	if s.Checks == nil {
		return sca.Check{ID: req.CheckID}, nil
	}
	checks, err := s.Checks.FailedChecks(ctx, req.AgentID, req.PolicyID)
	if err != nil {
		return sca.Check{}, fmt.Errorf("load check %d: %w", req.CheckID, err)
	}
	for _, c := range checks {
		if c.ID == req.CheckID {
			return c, nil
		}
	}
	return sca.Check{}, fmt.Errorf("%w: %d in policy %s", ErrCheckNotFound, req.CheckID, req.PolicyID)
}

func (s *Service) newRecord(req domain.Request, check sca.Check) *history.Record {
	return &history.Record{
		ID:               uuid.New().String(),
		AgentID:          req.AgentID,
		AgentName:        req.AgentName,
		PolicyID:         req.PolicyID,
		CheckID:          req.CheckID,
		CheckTitle:       check.Title,
		CheckDescription: check.Description,
		AnalysisDate:     s.Clock.Now().UTC(),
		Language:         req.Language,
	}
}

func resultFrom(rec *history.Record, fromAgent string) domain.Result {
	return domain.Result{
		CheckID:         rec.CheckID,
		Report:          rec.ReportText,
		Script:          rec.RemediationScript.Clone(),
		AIProvider:      rec.AIProvider,
		Language:        rec.Language,
		CachedFromAgent: fromAgent,
	}
}
