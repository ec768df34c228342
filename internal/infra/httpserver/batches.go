package httpserver

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bryanwahyu/automaton-sca/internal/application/batch"
	"github.com/bryanwahyu/automaton-sca/internal/application/export"
	"github.com/bryanwahyu/automaton-sca/internal/domain/analysis"
	"github.com/bryanwahyu/automaton-sca/internal/domain/provider"
	"github.com/bryanwahyu/automaton-sca/internal/middleware"
)

type runBody struct {
	AgentName string `json:"agent_name"`
	Provider  string `json:"ai_provider"`
	Language  string `json:"language"`
}

// resolve fills provider and language. An empty provider takes the board's
// selection; an explicit one must be enabled.
func (r *Router) resolve(b runBody) (provider.Provider, analysis.Language, error) {
	lang, err := analysis.ParseLanguage(b.Language)
	if err != nil {
		return "", "", err
	}
	p := provider.Provider(b.Provider)
	if p != "" && !p.Valid() {
		return "", "", fmt.Errorf("%w: %q", batch.ErrInvalidProvider, b.Provider)
	}
	p, err = r.board.ForRun(p)
	if err != nil {
		return "", "", err
	}
	return p, lang, nil
}

// POST /v1/agents/{agent}/batches
// Body: {"policy_id": "...", "check_ids": [..], "agent_name": "...", "ai_provider": "...", "language": "en"}
// Tanpa check_ids semua failed check di policy dianalisa.
func (r *Router) handleStartBatch(w http.ResponseWriter, req *http.Request) error {
	agentID := chi.URLParam(req, "agent")
	if err := middleware.ValidateAgentID(agentID); err != nil {
		return err
	}
	var body struct {
		runBody
		PolicyID string `json:"policy_id"`
		CheckIDs []int  `json:"check_ids"`
	}
	if err := decodeBody(req, &body); err != nil {
		return err
	}
	if err := middleware.ValidatePolicyID(body.PolicyID); err != nil {
		return err
	}
	p, lang, err := r.resolve(body.runBody)
	if err != nil {
		return err
	}

	checks, err := r.catalog.Select(req.Context(), agentID, body.PolicyID, body.CheckIDs)
	if err != nil {
		return err
	}
	run, err := r.orch.Start(req.Context(), batch.Request{
		AgentID:   agentID,
		AgentName: orDefault(body.AgentName, agentID),
		PolicyID:  body.PolicyID,
		Checks:    checks,
		Provider:  p,
		Language:  lang,
	})
	if err != nil {
		return err
	}
	r.batches.Add(run)

	w.Header().Set("Location", "/v1/batches/"+run.ID())
	return writeJSON(w, http.StatusAccepted, run.Snapshot())
}

// GET /v1/batches/{id}
func (r *Router) handleGetBatch(w http.ResponseWriter, req *http.Request) error {
	run, err := r.batches.Get(chi.URLParam(req, "id"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, run.Snapshot())
}

// POST /v1/batches/{id}/stop
func (r *Router) handleStopBatch(w http.ResponseWriter, req *http.Request) error {
	run, err := r.batches.Get(chi.URLParam(req, "id"))
	if err != nil {
		return err
	}
	run.Stop()
	return writeJSON(w, http.StatusAccepted, run.Snapshot())
}

// POST /v1/batches/{id}/export
// Body (opsional): {"format": "pdf"|"markdown"}
func (r *Router) handleExportBatch(w http.ResponseWriter, req *http.Request) error {
	run, err := r.batches.Get(chi.URLParam(req, "id"))
	if err != nil {
		return err
	}
	var body struct {
		Format string `json:"format"`
	}
	if err := decodeBody(req, &body); err != nil {
		return err
	}
	var format export.Format
	if body.Format != "" {
		if format, err = export.ParseFormat(body.Format); err != nil {
			return err
		}
	}

	snap := run.Snapshot()
	if snap.Running {
		return errRunActive
	}
	res, err := r.exporter.Export(req.Context(), format, snap.Tasks, export.Meta{
		AgentName:  snap.AgentName,
		CheckCount: len(snap.Tasks),
		Language:   snap.Language,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, res)
}

// POST /v1/agents/{agent}/policies/{policy}/checks/{check}/analyze
// Body (opsional): {"agent_name": "...", "ai_provider": "...", "language": "en"}
func (r *Router) handleAnalyzeOne(w http.ResponseWriter, req *http.Request) error {
	agentID, policyID, err := agentPolicy(req)
	if err != nil {
		return err
	}
	checkID, err := middleware.ParseCheckID(chi.URLParam(req, "check"))
	if err != nil {
		return err
	}
	var body runBody
	if err := decodeBody(req, &body); err != nil {
		return err
	}
	p, lang, err := r.resolve(body)
	if err != nil {
		return err
	}

	checks, err := r.catalog.Select(req.Context(), agentID, policyID, []int{checkID})
	if err != nil {
		return err
	}
	task, err := r.orch.AnalyzeOne(req.Context(), batch.Request{
		AgentID:   agentID,
		AgentName: orDefault(body.AgentName, agentID),
		PolicyID:  policyID,
		Checks:    checks,
		Provider:  p,
		Language:  lang,
	})
	if err != nil {
		return err
	}
	if task.Status == analysis.StatusError {
		return writeJSON(w, http.StatusBadGateway, task)
	}
	return writeJSON(w, http.StatusOK, task)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
