package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/bryanwahyu/automaton-sca/internal/domain/analysis"
)

const dateLayout = "2006-01-02 15:04:05 MST"

// BuildMarkdown renders the combined report. Header counts are taken from
// tasks at call time; only completed tasks get a section.
func BuildMarkdown(tasks []analysis.Task, meta Meta, now time.Time) string {
	p := analysis.Summarize(tasks)
	total := meta.CheckCount
	if total == 0 {
		total = p.Total
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Batch Analysis Report - %s\n\n", meta.AgentName)
	fmt.Fprintf(&b, "**Date:** %s\n", now.Format(dateLayout))
	fmt.Fprintf(&b, "**Total Checks:** %d\n", total)
	fmt.Fprintf(&b, "**Successful:** %d\n", p.Completed)
	fmt.Fprintf(&b, "**Failed:** %d\n\n", p.Failed)
	b.WriteString("---\n\n")

	n := 0
	for _, t := range tasks {
		if t.Status != analysis.StatusCompleted {
			continue
		}
		n++
		fmt.Fprintf(&b, "\n## Check %d: %s\n\n", n, t.Title)
		if t.CachedFromAgent != "" {
			fmt.Fprintf(&b, "_Reused analysis from agent %s._\n\n", t.CachedFromAgent)
		}
		b.WriteString(t.Report)
		b.WriteString("\n\n---\n\n")
	}
	return b.String()
}

// MarkdownFilename is deterministic in agent name and generation time.
func MarkdownFilename(agentName string, now time.Time) string {
	return fmt.Sprintf("batch-analysis-%s-%d.md", safeName(agentName), now.UnixMilli())
}

func safeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "agent"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, s)
}
