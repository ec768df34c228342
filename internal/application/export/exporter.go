// Package export turns the completed tasks of a batch into downloadable artifacts.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bryanwahyu/automaton-sca/internal/application"
	"github.com/bryanwahyu/automaton-sca/internal/domain/analysis"
	"github.com/bryanwahyu/automaton-sca/internal/metrics"
)

// Format selects the export strategy.
type Format string

const (
	FormatPDF      Format = "pdf"
	FormatMarkdown Format = "markdown"
)

// DefaultInterval spaces consecutive PDF downloads.
const DefaultInterval = 500 * time.Millisecond

var (
	ErrNothingToExport = errors.New("no completed tasks to export")
	ErrUnknownFormat   = errors.New("unknown export format")
)

// ParseFormat accepts "pdf", "markdown" or "md".
func ParseFormat(s string) (Format, error) {
	switch s {
	case "pdf":
		return FormatPDF, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// PDFRequest is the body sent to the report renderer.
type PDFRequest struct {
	AgentName  string            `json:"agent_name"`
	CheckID    int               `json:"check_id"`
	ReportText string            `json:"report_text"`
	Language   analysis.Language `json:"language"`
}

// Renderer port: renders one report to PDF and serves the file.
type Renderer interface {
	RenderPDF(ctx context.Context, req PDFRequest) (filename string, err error)
	DownloadPDF(ctx context.Context, filename string) ([]byte, error)
}

// Sink port: where a finished artifact is delivered.
type Sink interface {
	Save(ctx context.Context, name, contentType string, data []byte) (location string, err error)
}

// Meta is batch metadata printed in exports.
type Meta struct {
	AgentName  string
	CheckCount int
	Language   analysis.Language
}

// Artifact is one delivered file.
type Artifact struct {
	CheckID     int    `json:"check_id,omitempty"`
	Name        string `json:"name"`
	Location    string `json:"location"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

// Failure records an artifact that could not be produced.
type Failure struct {
	CheckID int    `json:"check_id"`
	Error   string `json:"error"`
}

// Result summarises one export.
type Result struct {
	Format      Format     `json:"format"`
	GeneratedAt time.Time  `json:"generated_at"`
	Artifacts   []Artifact `json:"artifacts"`
	Failures    []Failure  `json:"failures,omitempty"`
}

// Exporter builds artifacts from completed tasks.
type Exporter struct {
	Format   Format
	Renderer Renderer
	Sink     Sink
	Interval time.Duration
	Clock    application.Clock
	Logger   *slog.Logger
}

func (e *Exporter) now() time.Time {
	if e.Clock == nil {
		return time.Now()
	}
	return e.Clock.Now()
}

func (e *Exporter) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// Export delivers the completed tasks in format (empty means the configured
// default). Tasks in any other state are never exported.
func (e *Exporter) Export(ctx context.Context, format Format, tasks []analysis.Task, meta Meta) (Result, error) {
	if format == "" {
		format = e.Format
	}
	if meta.CheckCount == 0 {
		meta.CheckCount = len(tasks)
	}
	completed := completedTasks(tasks)
	if len(completed) == 0 {
		return Result{Format: format}, ErrNothingToExport
	}

	switch format {
	case FormatMarkdown:
		return e.exportMarkdown(ctx, tasks, meta)
	case FormatPDF:
		return e.exportPDF(ctx, completed, meta)
	}
	return Result{Format: format}, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

func (e *Exporter) exportMarkdown(ctx context.Context, tasks []analysis.Task, meta Meta) (Result, error) {
	now := e.now()
	res := Result{Format: FormatMarkdown, GeneratedAt: now}

	doc := BuildMarkdown(tasks, meta, now)
	name := MarkdownFilename(meta.AgentName, now)
	loc, err := e.Sink.Save(ctx, name, "text/markdown", []byte(doc))
	if err != nil {
		metrics.ExportArtifacts.WithLabelValues(string(FormatMarkdown), "failed").Inc()
		return res, fmt.Errorf("save %s: %w", name, err)
	}
	metrics.ExportArtifacts.WithLabelValues(string(FormatMarkdown), "ok").Inc()
	res.Artifacts = append(res.Artifacts, Artifact{
		Name:        name,
		Location:    loc,
		ContentType: "text/markdown",
		Size:        len(doc),
	})
	return res, nil
}

// exportPDF renders and downloads one PDF per task, sequentially. A download
// starts no sooner than Interval after the previous one finished; a failing
// task is logged and skipped.
func (e *Exporter) exportPDF(ctx context.Context, completed []analysis.Task, meta Meta) (Result, error) {
	res := Result{Format: FormatPDF, GeneratedAt: e.now()}
	interval := e.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	pace := &pacer{gap: interval}

	for _, t := range completed {
		art, err := e.exportOnePDF(ctx, pace, t, meta)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			e.logger().Error("pdf export failed", "check_id", t.CheckID, "err", err)
			metrics.ExportArtifacts.WithLabelValues(string(FormatPDF), "failed").Inc()
			res.Failures = append(res.Failures, Failure{CheckID: t.CheckID, Error: err.Error()})
			continue
		}
		metrics.ExportArtifacts.WithLabelValues(string(FormatPDF), "ok").Inc()
		res.Artifacts = append(res.Artifacts, art)
	}
	return res, nil
}

func (e *Exporter) exportOnePDF(ctx context.Context, pace *pacer, t analysis.Task, meta Meta) (Artifact, error) {
	filename, err := e.Renderer.RenderPDF(ctx, PDFRequest{
		AgentName:  meta.AgentName,
		CheckID:    t.CheckID,
		ReportText: t.Report,
		Language:   meta.Language,
	})
	if err != nil {
		return Artifact{}, fmt.Errorf("render: %w", err)
	}

	if err := pace.wait(ctx); err != nil {
		return Artifact{}, err
	}
	data, err := e.Renderer.DownloadPDF(ctx, filename)
	pace.mark()
	if err != nil {
		return Artifact{}, fmt.Errorf("download %s: %w", filename, err)
	}

	loc, err := e.Sink.Save(ctx, filename, "application/pdf", data)
	if err != nil {
		return Artifact{}, fmt.Errorf("save %s: %w", filename, err)
	}
	return Artifact{
		CheckID:     t.CheckID,
		Name:        filename,
		Location:    loc,
		ContentType: "application/pdf",
		Size:        len(data),
	}, nil
}

func completedTasks(tasks []analysis.Task) []analysis.Task {
	var out []analysis.Task
	for _, t := range tasks {
		if t.Status == analysis.StatusCompleted {
			out = append(out, t)
		}
	}
	return out
}
