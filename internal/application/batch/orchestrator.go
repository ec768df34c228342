// Package batch drives sequential AI analysis over a set of SCA checks.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/bryanwahyu/automaton-sca/internal/application"
	"github.com/bryanwahyu/automaton-sca/internal/domain/analysis"
	"github.com/bryanwahyu/automaton-sca/internal/domain/provider"
	"github.com/bryanwahyu/automaton-sca/internal/domain/sca"
	"github.com/bryanwahyu/automaton-sca/internal/metrics"
)

var (
	ErrEmptyBatch      = errors.New("batch has no checks")
	ErrDuplicateCheck  = errors.New("duplicate check id in batch")
	ErrInvalidProvider = errors.New("invalid ai provider")
)

// AnalyzedMarker is told about every completed analysis so the analyzed
// indicator can be updated without waiting for the next refresh.
type AnalyzedMarker interface {
	MarkAnalyzed(agentID string, checkID int)
}

// Request describes one batch.
type Request struct {
	AgentID   string
	AgentName string
	PolicyID  string
	Checks    []sca.Check
	Provider  provider.Provider
	Language  analysis.Language
}

func (r Request) validate() error {
	if len(r.Checks) == 0 {
		return ErrEmptyBatch
	}
	if !r.Provider.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidProvider, r.Provider)
	}
	if _, err := analysis.ParseLanguage(string(r.Language)); err != nil {
		return err
	}
	seen := make(map[int]struct{}, len(r.Checks))
	for _, c := range r.Checks {
		if _, ok := seen[c.ID]; ok {
			return fmt.Errorf("%w: %d", ErrDuplicateCheck, c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return nil
}

// Orchestrator starts runs. Each run processes its checks strictly in input
// order, one analysis in flight at a time.
type Orchestrator struct {
	Analyzer analysis.Analyzer
	Marker   AnalyzedMarker
	Clock    application.Clock
	Logger   *slog.Logger
}

func (o *Orchestrator) now() time.Time {
	if o.Clock == nil {
		return time.Now()
	}
	return o.Clock.Now()
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// Start validates req, creates one pending task per check and begins
// processing in the background. The run outlives ctx's cancellation: an
// in-flight analysis is never aborted, only Stop prevents later tasks.
func (o *Orchestrator) Start(ctx context.Context, req Request) (*Run, error) {
	if req.Language == "" {
		req.Language = analysis.LangEN
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	checks := make([]sca.Check, len(req.Checks))
	copy(checks, req.Checks)
	req.Checks = checks

	run := newRun(uuid.New().String(), req, o.now())
	metrics.BatchesStarted.WithLabelValues(string(req.Provider)).Inc()
	o.logger().Info("batch started",
		"batch_id", run.id,
		"agent_id", req.AgentID,
		"policy_id", req.PolicyID,
		"checks", len(checks),
		"provider", req.Provider,
		"language", req.Language,
	)

	go o.process(context.WithoutCancel(ctx), run)
	return run, nil
}

// AnalyzeOne runs a fresh single-task orchestration and waits for it.
func (o *Orchestrator) AnalyzeOne(ctx context.Context, req Request) (analysis.Task, error) {
	if len(req.Checks) != 1 {
		return analysis.Task{}, fmt.Errorf("analyze one: want 1 check, got %d", len(req.Checks))
	}
	run, err := o.Start(ctx, req)
	if err != nil {
		return analysis.Task{}, err
	}
	snap, err := run.Wait(ctx)
	if err != nil {
		return analysis.Task{}, err
	}
	return snap.Tasks[0], nil
}

func (o *Orchestrator) process(ctx context.Context, run *Run) {
	log := o.logger().With("batch_id", run.id)
	stopped := false
	defer func() {
		run.finish(o.now(), stopped)
		p := run.Snapshot().Progress
		log.Info("batch finished",
			"completed", p.Completed,
			"failed", p.Failed,
			"pending", p.Pending,
			"stopped", stopped,
		)
	}()

	for i := range run.req.Checks {
		if run.stopRequested() {
			stopped = true
			return
		}
		check := run.req.Checks[i]

		// analyzing must be visible before the call starts
		if err := run.apply(analysis.Event{Type: analysis.EventStart, CheckID: check.ID}); err != nil {
			log.Error("task start rejected", "check_id", check.ID, "err", err)
			continue
		}

		start := time.Now()
		res, err := o.analyze(ctx, analysis.Request{
			AgentID:   run.req.AgentID,
			AgentName: run.req.AgentName,
			PolicyID:  run.req.PolicyID,
			CheckID:   check.ID,
			Language:  run.req.Language,
			Provider:  run.req.Provider,
			Check:     &check,
		})
		metrics.AnalysisDuration.WithLabelValues(string(run.req.Provider)).Observe(time.Since(start).Seconds())

		if err != nil {
			log.Warn("analysis failed", "check_id", check.ID, "err", err)
			metrics.TasksSettled.WithLabelValues(string(analysis.StatusError), "false").Inc()
			_ = run.apply(analysis.Event{Type: analysis.EventFail, CheckID: check.ID, Error: err.Error()})
			continue
		}

		cached := res.CachedFromAgent != ""
		metrics.TasksSettled.WithLabelValues(string(analysis.StatusCompleted), strconv.FormatBool(cached)).Inc()
		_ = run.apply(analysis.Event{
			Type:            analysis.EventSucceed,
			CheckID:         check.ID,
			Report:          res.Report,
			Script:          res.Script,
			CachedFromAgent: res.CachedFromAgent,
		})
		if o.Marker != nil {
			o.Marker.MarkAnalyzed(run.req.AgentID, check.ID)
		}
		log.Debug("analysis completed", "check_id", check.ID, "cached_from_agent", res.CachedFromAgent)
	}
}

// analyze isolates one call: a panicking analyzer fails its task only.
func (o *Orchestrator) analyze(ctx context.Context, req analysis.Request) (res analysis.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("analyzer panic: %v", p)
		}
	}()
	return o.Analyzer.Analyze(ctx, req)
}
