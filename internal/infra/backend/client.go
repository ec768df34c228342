// Package backend is the REST client for the SCA analysis backend: agents,
// checks, AI analysis, PDF reports, history and system status.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/bryanwahyu/automaton-sca/internal/application/export"
	"github.com/bryanwahyu/automaton-sca/internal/domain/analysis"
	"github.com/bryanwahyu/automaton-sca/internal/domain/history"
	"github.com/bryanwahyu/automaton-sca/internal/domain/provider"
	"github.com/bryanwahyu/automaton-sca/internal/domain/sca"
)

type Client struct {
	rc *resty.Client
}

// New creates a client rooted at baseURL (for example http://host:8000/api).
// Transport timeouts surface as ordinary errors.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetLogger(restyLogger{logger})
	return &Client{rc: rc}
}

func (c *Client) req(ctx context.Context) *resty.Request {
	return c.rc.R().SetContext(ctx).SetError(&errorBody{})
}

func check(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.IsSuccess() {
		return nil
	}
	apiErr := &APIError{
		StatusCode: resp.StatusCode(),
		Method:     resp.Request.Method,
		Path:       resp.Request.URL,
	}
	if b, ok := resp.Error().(*errorBody); ok && b.text() != "" {
		apiErr.Detail = b.text()
	} else {
		apiErr.Detail = strings.TrimSpace(resp.String())
	}
	return apiErr
}

// ==== catalog ====

func (c *Client) Agents(ctx context.Context, search string) ([]sca.Agent, error) {
	var out []sca.Agent
	r := c.req(ctx).SetResult(&out)
	if search != "" {
		r.SetQueryParam("search", search)
	}
	if err := check(r.Get("/agents")); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Policies(ctx context.Context, agentID string) ([]sca.Policy, error) {
	var out []sca.Policy
	err := check(c.req(ctx).
		SetPathParam("agentId", agentID).
		SetResult(&out).
		Get("/sca/{agentId}/policies"))
	return out, err
}

func (c *Client) FailedChecks(ctx context.Context, agentID, policyID string) ([]sca.Check, error) {
	var out []sca.Check
	err := check(c.req(ctx).
		SetPathParams(map[string]string{"agentId": agentID, "policyId": policyID}).
		SetResult(&out).
		Get("/sca/{agentId}/checks/{policyId}/failed"))
	return out, err
}

// ==== analysis ====

// Analyze implements analysis.Analyzer over POST /analysis.
func (c *Client) Analyze(ctx context.Context, req analysis.Request) (analysis.Result, error) {
	var out analysis.Result
	err := check(c.req(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/analysis"))
	return out, err
}

// SystemStatus reads /analysis/system-status, falling back to the older
// /analysis/status (which has no wazuh block) when the former is missing.
func (c *Client) SystemStatus(ctx context.Context) (provider.SystemStatus, error) {
	var out provider.SystemStatus
	err := check(c.req(ctx).SetResult(&out).Get("/analysis/system-status"))
	if errors.Is(err, ErrNotFound) {
		out = provider.SystemStatus{}
		err = check(c.req(ctx).SetResult(&out).Get("/analysis/status"))
	}
	return out, err
}

// ==== reports ====

// RenderPDF implements export.Renderer.
func (c *Client) RenderPDF(ctx context.Context, req export.PDFRequest) (string, error) {
	var out struct {
		Filename    string `json:"filename"`
		DownloadURL string `json:"download_url"`
	}
	if err := check(c.req(ctx).SetBody(req).SetResult(&out).Post("/reports/pdf")); err != nil {
		return "", err
	}
	if out.Filename == "" {
		return "", errors.New("render pdf: backend returned no filename")
	}
	return out.Filename, nil
}

func (c *Client) DownloadPDF(ctx context.Context, filename string) ([]byte, error) {
	resp, err := c.req(ctx).
		SetHeader("Accept", "application/pdf").
		SetPathParam("filename", filename).
		Get("/reports/download/{filename}")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

// ==== history ====

func (c *Client) ListByAgent(ctx context.Context, agentID string, opts history.ListOptions) (history.Page, error) {
	var out history.Page
	r := c.req(ctx).
		SetPathParam("agentId", agentID).
		SetQueryParam("limit", strconv.Itoa(opts.Limit)).
		SetQueryParam("offset", strconv.Itoa(opts.Offset)).
		SetResult(&out)
	if opts.Status != "" {
		r.SetQueryParam("status", string(opts.Status))
	}
	if err := check(r.Get("/history/agent/{agentId}")); err != nil {
		return history.Page{}, err
	}
	return out, nil
}

func (c *Client) ListByCheck(ctx context.Context, agentID string, checkID, limit int) (history.Page, error) {
	var out history.Page
	err := check(c.req(ctx).
		SetPathParams(map[string]string{"agentId": agentID, "checkId": strconv.Itoa(checkID)}).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&out).
		Get("/history/check/{agentId}/{checkId}"))
	return out, err
}

func (c *Client) Get(ctx context.Context, id string) (*history.Record, error) {
	var out history.Record
	if err := check(c.req(ctx).SetPathParam("id", id).SetResult(&out).Get("/history/{id}")); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return check(c.req(ctx).SetPathParam("id", id).Delete("/history/{id}"))
}

func (c *Client) CacheStats(ctx context.Context) (history.CacheStats, error) {
	var out history.CacheStats
	err := check(c.req(ctx).SetResult(&out).Get("/history/stats/cache"))
	return out, err
}

// Ping is used by the readiness check.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.rc.R().SetContext(ctx).Get("/agents")
	if err != nil {
		return err
	}
	if resp.StatusCode() >= http.StatusInternalServerError {
		return &APIError{StatusCode: resp.StatusCode(), Method: http.MethodGet, Path: "/agents"}
	}
	return nil
}

type restyLogger struct{ l *slog.Logger }

func (r restyLogger) Errorf(format string, v ...any) { r.l.Error("resty", "msg", fmt.Sprintf(format, v...)) }
func (r restyLogger) Warnf(format string, v ...any)  { r.l.Warn("resty", "msg", fmt.Sprintf(format, v...)) }
func (r restyLogger) Debugf(format string, v ...any) { r.l.Debug("resty", "msg", fmt.Sprintf(format, v...)) }
