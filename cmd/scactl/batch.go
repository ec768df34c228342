package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/bryanwahyu/automaton-sca/internal/application/batch"
	"github.com/bryanwahyu/automaton-sca/internal/application/export"
	"github.com/bryanwahyu/automaton-sca/internal/bootstrap"
	"github.com/bryanwahyu/automaton-sca/internal/domain/analysis"
	"github.com/bryanwahyu/automaton-sca/internal/domain/provider"
)

// runFlags are shared by batch and analyze.
type runFlags struct {
	provider  string
	language  string
	agentName string
}

func (f *runFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.provider, "provider", "", "AI provider (vllm, openai); default follows system status")
	cmd.Flags().StringVar(&f.language, "lang", "en", "Report language (en, pt)")
	cmd.Flags().StringVar(&f.agentName, "agent-name", "", "Agent name printed in reports (default: agent id)")
}

// request refreshes status, then resolves provider, language and checks.
func (f *runFlags) request(cmd *cobra.Command, a *bootstrap.App, agentID, policyID string, ids []int) (batch.Request, error) {
	ctx := cmd.Context()
	if _, err := a.Board.Refresh(ctx); err != nil {
		return batch.Request{}, fmt.Errorf("system status: %w", err)
	}
	p := provider.Provider(f.provider)
	if p != "" && !p.Valid() {
		return batch.Request{}, fmt.Errorf("%w: %q", batch.ErrInvalidProvider, f.provider)
	}
	p, err := a.Board.ForRun(p)
	if err != nil {
		return batch.Request{}, err
	}
	lang, err := analysis.ParseLanguage(f.language)
	if err != nil {
		return batch.Request{}, err
	}
	checks, err := a.Catalog.Select(ctx, agentID, policyID, ids)
	if err != nil {
		return batch.Request{}, err
	}

	name := f.agentName
	if name == "" {
		name = agentID
	}
	return batch.Request{
		AgentID:   agentID,
		AgentName: name,
		PolicyID:  policyID,
		Checks:    checks,
		Provider:  p,
		Language:  lang,
	}, nil
}

type batchOutput struct {
	Batch  batch.Snapshot `json:"batch"`
	Export *export.Result `json:"export,omitempty"`
}

func (c *cli) batchCmd() *cobra.Command {
	var (
		flags    runFlags
		checkIDs []int
		format   string
	)
	cmd := &cobra.Command{
		Use:   "batch AGENT POLICY",
		Short: "Analyze failed checks one by one, then export the reports",
		Long: `Analyze the failed checks of a policy sequentially, in the order given.

Interrupt (Ctrl-C) stops after the check in progress; checks not yet started
stay pending. Completed reports are exported afterwards.

Examples:
  scactl batch 001 cis_ubuntu22-04
  scactl batch 001 cis_ubuntu22-04 --checks 28500,28502 --export markdown
  scactl batch 001 cis_ubuntu22-04 --provider openai --lang pt --export none`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.app(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()

			var f export.Format
			if format != "none" && format != "" {
				if f, err = export.ParseFormat(format); err != nil {
					return err
				}
			}
			req, err := flags.request(cmd, a, args[0], args[1], checkIDs)
			if err != nil {
				return err
			}
			run, err := a.Orchestrator.Start(ctx, req)
			if err != nil {
				return err
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt)
			defer signal.Stop(sig)
			go func() {
				select {
				case <-sig:
					printf(cmd.ErrOrStderr(), "stopping after the current check...\n")
					run.Stop()
				case <-run.Done():
				}
			}()

			snaps, cancel := run.Subscribe()
			defer cancel()
			progress := newProgress(cmd.OutOrStdout(), c.jsonOutput())
			for s := range snaps {
				progress.update(s)
			}
			final := run.Snapshot()
			progress.summary(final)

			out := batchOutput{Batch: final}
			if format != "none" {
				res, err := a.Exporter.Export(ctx, f, final.Tasks, export.Meta{
					AgentName:  final.AgentName,
					CheckCount: len(final.Tasks),
					Language:   final.Language,
				})
				switch {
				case errors.Is(err, export.ErrNothingToExport):
					if !c.jsonOutput() {
						printf(cmd.OutOrStdout(), "nothing to export\n")
					}
				case err != nil:
					return fmt.Errorf("export: %w", err)
				default:
					out.Export = &res
				}
			}

			return c.render(cmd, out, func(w io.Writer) {
				if out.Export == nil {
					return
				}
				printf(w, "\nEXPORTED\tSIZE\tLOCATION\n")
				for _, art := range out.Export.Artifacts {
					printf(w, "%s\t%d\t%s\n", art.Name, art.Size, art.Location)
				}
				for _, fl := range out.Export.Failures {
					printf(w, "check %d\t-\tfailed: %s\n", fl.CheckID, fl.Error)
				}
			})
		},
	}
	flags.bind(cmd)
	cmd.Flags().IntSliceVar(&checkIDs, "checks", nil, "Check ids to analyze, in order (default: every failed check)")
	cmd.Flags().StringVar(&format, "export", "", "Export format (pdf, markdown, none); default from config")
	return cmd
}

func (c *cli) analyzeCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "analyze AGENT POLICY CHECK",
		Short: "Analyze one failed check and print the report",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var checkID int
			if _, err := fmt.Sscan(args[2], &checkID); err != nil {
				return fmt.Errorf("invalid check id %q", args[2])
			}
			a, err := c.app(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			req, err := flags.request(cmd, a, args[0], args[1], []int{checkID})
			if err != nil {
				return err
			}
			task, err := a.Orchestrator.AnalyzeOne(cmd.Context(), req)
			if err != nil {
				return err
			}
			if task.Status == analysis.StatusError {
				return fmt.Errorf("analysis of check %d failed: %s", task.CheckID, task.Error)
			}
			return c.renderText(cmd, task, func(w io.Writer) {
				printf(w, "# Check %d: %s\n", task.CheckID, task.Title)
				if task.CachedFromAgent != "" {
					printf(w, "(reused analysis from agent %s)\n", task.CachedFromAgent)
				}
				printf(w, "\n%s\n", task.Report)
				printScript(w, task.Script)
			})
		},
	}
	flags.bind(cmd)
	return cmd
}

// progress prints one line per task transition.
type progress struct {
	w     io.Writer
	quiet bool
	seen  map[int]analysis.Status
}

func newProgress(w io.Writer, quiet bool) *progress {
	return &progress{w: w, quiet: quiet, seen: make(map[int]analysis.Status)}
}

func (p *progress) update(s batch.Snapshot) {
	if p.quiet {
		return
	}
	settled := s.Progress.Completed + s.Progress.Failed
	for _, t := range s.Tasks {
		if p.seen[t.CheckID] == t.Status {
			continue
		}
		p.seen[t.CheckID] = t.Status
		switch t.Status {
		case analysis.StatusAnalyzing:
			printf(p.w, "[%d/%d] analyzing check %d: %s\n", settled, s.Progress.Total, t.CheckID, truncate(t.Title, 60))
		case analysis.StatusCompleted:
			note := ""
			if t.CachedFromAgent != "" {
				note = " (cached from agent " + t.CachedFromAgent + ")"
			}
			printf(p.w, "[%d/%d] completed check %d%s\n", settled, s.Progress.Total, t.CheckID, note)
		case analysis.StatusError:
			printf(p.w, "[%d/%d] failed check %d: %s\n", settled, s.Progress.Total, t.CheckID, t.Error)
		}
	}
}

func (p *progress) summary(s batch.Snapshot) {
	if p.quiet {
		return
	}
	pr := s.Progress
	printf(p.w, "done: %d completed, %d failed, %d pending", pr.Completed, pr.Failed, pr.Pending)
	if s.Stopped {
		printf(p.w, " (stopped)")
	}
	printf(p.w, "\n")
}
