package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/automaton-sca/internal/application/export"
	"github.com/bryanwahyu/automaton-sca/internal/config"
	"github.com/bryanwahyu/automaton-sca/internal/domain/analysis"
	"github.com/bryanwahyu/automaton-sca/internal/domain/provider"
	"github.com/bryanwahyu/automaton-sca/internal/logging"
)

func backendServer(t *testing.T, listCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/analysis/system-status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ai_mode":"external","vllm":{"enabled":false},"openai":{"enabled":true,"available":true}}`))
	})
	mux.HandleFunc("GET /api/history/agent/{agent}", func(w http.ResponseWriter, r *http.Request) {
		listCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"analyses":[{"id":"a","agent_id":"001","check_id":7,"status":"completed","analysis_date":"2025-01-01T10:00:00"}],"total":1,"limit":200,"offset":0}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func backendConfig(t *testing.T, url string) *config.Config {
	cfg := config.Default()
	cfg.API.Host = url
	cfg.API.Timeout = 5 * time.Second
	cfg.Export.Dir = t.TempDir()
	return cfg
}

func TestNew_BackendMode(t *testing.T) {
	var calls atomic.Int32
	srv := backendServer(t, &calls)
	app, err := New(context.Background(), backendConfig(t, srv.URL), logging.Discard())
	require.NoError(t, err)
	defer app.Close()

	assert.Contains(t, app.Health, "backend")
	assert.Equal(t, []string{"backend"}, app.Critical)
	assert.NotNil(t, app.Exporter.Renderer)

	view, err := app.Board.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, provider.OpenAI, view.Provider)

	set, err := app.History.AnalyzedSet(context.Background(), "001")
	require.NoError(t, err)
	assert.True(t, set.Has(7))

	require.NoError(t, app.refreshAnalyzed(context.Background()))
	assert.Equal(t, int32(2), calls.Load())
}

func TestNew_JobsIncludeSweepForMemoryCache(t *testing.T) {
	var calls atomic.Int32
	srv := backendServer(t, &calls)
	app, err := New(context.Background(), backendConfig(t, srv.URL), logging.Discard())
	require.NoError(t, err)
	defer app.Close()

	var names []string
	for _, j := range app.Refresher.Jobs {
		names = append(names, j.Name)
	}
	assert.Equal(t, []string{"status", "analyzed", "cache-sweep"}, names)
}

func TestNew_MarkdownExportToDir(t *testing.T) {
	var calls atomic.Int32
	srv := backendServer(t, &calls)
	cfg := backendConfig(t, srv.URL)
	cfg.Export.Format = config.FormatMarkdown
	app, err := New(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	defer app.Close()

	tasks := []analysis.Task{{CheckID: 1, Title: "t", Status: analysis.StatusCompleted, Report: "r"}}
	res, err := app.Exporter.Export(context.Background(), "", tasks, export.Meta{AgentName: "web-01"})
	require.NoError(t, err)
	require.Len(t, res.Artifacts, 1)
	assert.FileExists(t, res.Artifacts[0].Location)
}

func TestUnavailableRenderer(t *testing.T) {
	_, err := unavailableRenderer{}.RenderPDF(context.Background(), export.PDFRequest{})
	assert.True(t, errors.Is(err, ErrPDFUnavailable))
	_, err = unavailableRenderer{}.DownloadPDF(context.Background(), "x.pdf")
	assert.ErrorIs(t, err, ErrPDFUnavailable)
}
