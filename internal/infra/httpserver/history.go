package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bryanwahyu/automaton-sca/internal/domain/history"
	"github.com/bryanwahyu/automaton-sca/internal/middleware"
)

// GET /v1/agents/{agent}/history?limit=50&offset=0&status=completed
func (r *Router) handleHistoryByAgent(w http.ResponseWriter, req *http.Request) error {
	agentID := chi.URLParam(req, "agent")
	if err := middleware.ValidateAgentID(agentID); err != nil {
		return err
	}
	q := req.URL.Query()
	limit, err := middleware.ParseInt("limit", q.Get("limit"), 0)
	if err != nil {
		return err
	}
	offset, err := middleware.ParseInt("offset", q.Get("offset"), 0)
	if err != nil {
		return err
	}
	st, err := history.ParseStatus(q.Get("status"))
	if err != nil {
		return err
	}

	page, err := r.history.ListByAgent(req.Context(), agentID, history.ListOptions{
		Limit:  limit,
		Offset: offset,
		Status: st,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, page)
}

// GET /v1/agents/{agent}/checks/{check}/history?limit=20
func (r *Router) handleHistoryByCheck(w http.ResponseWriter, req *http.Request) error {
	agentID := chi.URLParam(req, "agent")
	if err := middleware.ValidateAgentID(agentID); err != nil {
		return err
	}
	checkID, err := middleware.ParseCheckID(chi.URLParam(req, "check"))
	if err != nil {
		return err
	}
	limit, err := middleware.ParseInt("limit", req.URL.Query().Get("limit"), 0)
	if err != nil {
		return err
	}

	page, err := r.history.ListByCheck(req.Context(), agentID, checkID, limit)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, page)
}

// GET /v1/history/{id}
func (r *Router) handleGetHistory(w http.ResponseWriter, req *http.Request) error {
	rec, err := r.history.Get(req.Context(), chi.URLParam(req, "id"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, rec)
}

// DELETE /v1/history/{id}?confirm=true
func (r *Router) handleDeleteHistory(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	confirm := middleware.ParseBool(req.URL.Query().Get("confirm"))
	if err := r.history.Delete(req.Context(), id, confirm); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// GET /v1/history/stats/cache
func (r *Router) handleCacheStats(w http.ResponseWriter, req *http.Request) error {
	st, err := r.history.CacheStats(req.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, struct {
		history.CacheStats
		HitRate float64 `json:"hit_rate"`
	}{st, st.HitRate()})
}
