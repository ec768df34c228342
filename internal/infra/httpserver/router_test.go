package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/automaton-sca/internal/application/batch"
	"github.com/bryanwahyu/automaton-sca/internal/application/catalog"
	"github.com/bryanwahyu/automaton-sca/internal/application/export"
	apphistory "github.com/bryanwahyu/automaton-sca/internal/application/history"
	"github.com/bryanwahyu/automaton-sca/internal/application/status"
	"github.com/bryanwahyu/automaton-sca/internal/domain/analysis"
	"github.com/bryanwahyu/automaton-sca/internal/domain/history"
	"github.com/bryanwahyu/automaton-sca/internal/domain/provider"
	"github.com/bryanwahyu/automaton-sca/internal/domain/sca"
	"github.com/bryanwahyu/automaton-sca/internal/infra/backend"
	"github.com/bryanwahyu/automaton-sca/internal/infra/cache"
	"github.com/bryanwahyu/automaton-sca/internal/logging"
)

type fakeSource struct{}

func (fakeSource) Agents(ctx context.Context, search string) ([]sca.Agent, error) {
	return []sca.Agent{{ID: "001", Name: "web-01"}}, nil
}

func (fakeSource) Policies(ctx context.Context, agentID string) ([]sca.Policy, error) {
	return []sca.Policy{{PolicyID: "cis", Name: "CIS"}}, nil
}

func (fakeSource) FailedChecks(ctx context.Context, agentID, policyID string) ([]sca.Check, error) {
	return []sca.Check{{ID: 1, Title: "ssh root"}, {ID: 2, Title: "tmp noexec"}, {ID: 3, Title: "auditd"}}, nil
}

// fakeAnalyzer fails check 2 with a quota error. With gate set every call
// waits for the gate to close.
type fakeAnalyzer struct {
	gate chan struct{}
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req analysis.Request) (analysis.Result, error) {
	if f.gate != nil {
		<-f.gate
	}
	if req.CheckID == 2 {
		return analysis.Result{}, fmt.Errorf("openai: %w", analysis.ErrQuotaExceeded)
	}
	res := analysis.Result{CheckID: req.CheckID, Report: fmt.Sprintf("report %d", req.CheckID)}
	if req.CheckID == 3 {
		res.Script = &analysis.RemediationScript{Content: "systemctl enable --now auditd", Language: analysis.ScriptBash, RequiresRoot: true}
	}
	return res, nil
}

type fakeHistory struct{}

func (fakeHistory) ListByAgent(ctx context.Context, agentID string, opts history.ListOptions) (history.Page, error) {
	return history.Page{
		Analyses: []history.Record{{ID: "r1", AgentID: agentID, CheckID: 1, Status: history.StatusCompleted}},
		Total:    1,
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	}, nil
}

func (fakeHistory) ListByCheck(ctx context.Context, agentID string, checkID, limit int) (history.Page, error) {
	return history.Page{Limit: limit}, nil
}

func (fakeHistory) CacheStats(ctx context.Context) (history.CacheStats, error) {
	return history.CacheStats{TotalAnalyses: 5, Completed: 4, Failed: 1, CachedValid: 1}, nil
}

func (fakeHistory) Get(ctx context.Context, id string) (*history.Record, error) {
	if id != "r1" {
		return nil, history.ErrNotFound
	}
	return &history.Record{
		ID: "r1", AgentID: "001", CheckID: 3, Status: history.StatusCompleted, ReportText: "r",
		RemediationScript: &analysis.RemediationScript{Content: "echo fix", Language: analysis.ScriptPython, Risks: []string{"none"}},
	}, nil
}

func (fakeHistory) Delete(ctx context.Context, id string) error {
	if id == "missing" {
		return history.ErrNotFound
	}
	return nil
}

type fakeFetcher struct{ st provider.SystemStatus }

func (f fakeFetcher) SystemStatus(context.Context) (provider.SystemStatus, error) { return f.st, nil }

type memSink struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (m *memSink) Save(ctx context.Context, name, contentType string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files == nil {
		m.files = make(map[string][]byte)
	}
	m.files[name] = data
	return "mem://" + name, nil
}

type env struct {
	handler  http.Handler
	batches  *batch.Registry
	analyzer *fakeAnalyzer
	sink     *memSink
}

func newEnv(t *testing.T, refresh bool, rateLimit int) *env {
	t.Helper()
	logger := logging.Discard()
	board := &status.Board{
		Fetcher: fakeFetcher{st: provider.SystemStatus{
			AIMode: provider.ModeMixed,
			VLLM:   provider.Backend{Enabled: true, Available: true},
		}},
		Logger: logger,
	}
	if refresh {
		_, err := board.Refresh(context.Background())
		require.NoError(t, err)
	}
	hist := &apphistory.Service{Client: fakeHistory{}, Cache: cache.NewMemory(), Logger: logger}
	e := &env{batches: batch.NewRegistry(10), analyzer: &fakeAnalyzer{}, sink: &memSink{}}
	e.handler = NewRouter(Options{
		Catalog:        &catalog.Service{Source: fakeSource{}, Analyzed: hist, Logger: logger},
		Board:          board,
		Orchestrator:   &batch.Orchestrator{Analyzer: e.analyzer, Marker: hist, Logger: logger},
		Batches:        e.batches,
		History:        hist,
		Exporter:       &export.Exporter{Format: export.FormatMarkdown, Sink: e.sink, Logger: logger},
		BatchRateLimit: rateLimit,
		Logger:         logger,
	})
	return e
}

func (e *env) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *env) startBatch(t *testing.T, body string) batch.Snapshot {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/agents/001/batches", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var snap batch.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "/v1/batches/"+snap.BatchID, rec.Header().Get("Location"))
	return snap
}

func (e *env) wait(t *testing.T, id string) batch.Snapshot {
	t.Helper()
	run, err := e.batches.Get(id)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := run.Wait(ctx)
	require.NoError(t, err)
	return snap
}

func TestStatusAndProvider(t *testing.T) {
	e := newEnv(t, true, 0)

	rec := e.do(t, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view status.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, provider.VLLM, view.Provider)
	assert.False(t, view.Degraded)

	rec = e.do(t, http.MethodPut, "/v1/provider", `{"ai_provider":"openai"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, http.MethodPut, "/v1/provider", `{"ai_provider":"claude"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/v1/status/refresh", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChecksAnnotated(t *testing.T) {
	e := newEnv(t, true, 0)
	rec := e.do(t, http.MethodGet, "/v1/agents/001/policies/cis/checks", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var views []catalog.CheckView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 3)
	assert.True(t, views[0].Analyzed)
	assert.False(t, views[1].Analyzed)

	rec = e.do(t, http.MethodGet, "/v1/agents/bad%20id/policies", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchLifecycleAndExport(t *testing.T) {
	e := newEnv(t, true, 0)
	snap := e.startBatch(t, `{"policy_id":"cis","agent_name":"web-01"}`)
	assert.Len(t, snap.Tasks, 3)
	assert.Equal(t, provider.VLLM, snap.Provider)

	final := e.wait(t, snap.BatchID)
	assert.Equal(t, 2, final.Progress.Completed)
	assert.Equal(t, 1, final.Progress.Failed)
	assert.Contains(t, final.Tasks[1].Error, "quota")

	rec := e.do(t, http.MethodGet, "/v1/batches/"+snap.BatchID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodPost, "/v1/batches/"+snap.BatchID+"/export", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res export.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, export.FormatMarkdown, res.Format)
	require.Len(t, res.Artifacts, 1)
	assert.Contains(t, string(e.sink.files[res.Artifacts[0].Name]), "## Check 2: auditd")

	rec = e.do(t, http.MethodPost, "/v1/batches/"+snap.BatchID+"/export", `{"format":"docx"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/v1/batches/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBatchStartRejects(t *testing.T) {
	e := newEnv(t, true, 0)
	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "unknown check", body: `{"policy_id":"cis","check_ids":[9]}`, want: http.StatusNotFound},
		{name: "duplicate check", body: `{"policy_id":"cis","check_ids":[1,1]}`, want: http.StatusBadRequest},
		{name: "language", body: `{"policy_id":"cis","language":"fr"}`, want: http.StatusBadRequest},
		{name: "policy missing", body: `{}`, want: http.StatusBadRequest},
		{name: "provider not enabled", body: `{"policy_id":"cis","ai_provider":"openai"}`, want: http.StatusConflict},
		{name: "malformed", body: `{"policy_id":`, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, "/v1/agents/001/batches", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestBatchStart_StatusUnknown(t *testing.T) {
	e := newEnv(t, false, 0)
	rec := e.do(t, http.MethodPost, "/v1/agents/001/batches", `{"policy_id":"cis"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBatchStopAndExportWhileRunning(t *testing.T) {
	e := newEnv(t, true, 0)
	e.analyzer.gate = make(chan struct{})
	snap := e.startBatch(t, `{"policy_id":"cis","check_ids":[1,3]}`)
	run, err := e.batches.Get(snap.BatchID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return run.Snapshot().Tasks[0].Status == analysis.StatusAnalyzing
	}, 2*time.Second, 5*time.Millisecond)

	rec := e.do(t, http.MethodPost, "/v1/batches/"+snap.BatchID+"/export", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, http.MethodPost, "/v1/batches/"+snap.BatchID+"/stop", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	close(e.analyzer.gate)

	final := e.wait(t, snap.BatchID)
	assert.True(t, final.Stopped)
	assert.Equal(t, 1, final.Progress.Completed)
	assert.Equal(t, 1, final.Progress.Pending)
}

func TestBatchEvents(t *testing.T) {
	e := newEnv(t, true, 0)
	srv := httptest.NewServer(e.handler)
	defer srv.Close()

	snap := e.startBatch(t, `{"policy_id":"cis","check_ids":[1]}`)
	resp, err := http.Get(srv.URL + "/v1/batches/" + snap.BatchID + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events []string
	var last batch.Snapshot
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			events = append(events, strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &last))
		}
	}
	require.NotEmpty(t, events)
	assert.Equal(t, "snapshot", events[0])
	assert.Equal(t, "done", events[len(events)-1])
	assert.False(t, last.Running)
	assert.Equal(t, analysis.StatusCompleted, last.Tasks[0].Status)
}

func TestAnalyzeOne(t *testing.T) {
	e := newEnv(t, true, 0)

	rec := e.do(t, http.MethodPost, "/v1/agents/001/policies/cis/checks/3/analyze", `{"language":"pt"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var task analysis.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	assert.Equal(t, "report 3", task.Report)
	require.NotNil(t, task.Script)
	assert.Equal(t, "systemctl enable --now auditd", task.Script.Content)

	rec = e.do(t, http.MethodPost, "/v1/agents/001/policies/cis/checks/2/analyze", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = e.do(t, http.MethodPost, "/v1/agents/001/policies/cis/checks/x/analyze", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryRoutes(t *testing.T) {
	e := newEnv(t, true, 0)

	rec := e.do(t, http.MethodGet, "/v1/agents/001/history?limit=10&offset=0&status=completed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page history.Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 10, page.Limit)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/v1/agents/001/history?limit=500", "").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/v1/agents/001/history?status=bogus", "").Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/v1/agents/001/checks/1/history", "").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/v1/agents/001/checks/1/history?limit=101", "").Code)

	rec = e.do(t, http.MethodGet, "/v1/history/r1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var one history.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	require.NotNil(t, one.RemediationScript)
	assert.Equal(t, analysis.ScriptPython, one.RemediationScript.Language)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/v1/history/nope", "").Code)

	assert.Equal(t, http.StatusPreconditionRequired, e.do(t, http.MethodDelete, "/v1/history/r1", "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodDelete, "/v1/history/missing?confirm=true", "").Code)
	assert.Equal(t, http.StatusNoContent, e.do(t, http.MethodDelete, "/v1/history/r1?confirm=true", "").Code)

	rec = e.do(t, http.MethodGet, "/v1/history/stats/cache", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, float64(25), stats["hit_rate"])
	assert.Equal(t, float64(4), stats["completed"])
}

func TestBatchStartRateLimited(t *testing.T) {
	e := newEnv(t, true, 1)
	e.startBatch(t, `{"policy_id":"cis","check_ids":[1]}`)
	rec := e.do(t, http.MethodPost, "/v1/agents/001/batches", `{"policy_id":"cis","check_ids":[1]}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// other routes are not limited
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/v1/status", "").Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadGateway, statusFor(&backend.APIError{StatusCode: 500}))
	assert.Equal(t, http.StatusTooManyRequests, statusFor(fmt.Errorf("x: %w", &backend.APIError{StatusCode: 429})))
	assert.Equal(t, http.StatusNotFound, statusFor(&backend.APIError{StatusCode: 404}))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(status.ErrNoProvider))
	assert.Equal(t, http.StatusInternalServerError, statusFor(fmt.Errorf("boom")))
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t, true, 0)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/health", "").Code)
	rec := e.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sca_http_requests_total")
}
