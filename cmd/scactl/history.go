package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bryanwahyu/automaton-sca/internal/domain/analysis"
	"github.com/bryanwahyu/automaton-sca/internal/domain/history"
)

func (c *cli) historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List, delete and summarize stored analyses",
	}
	cmd.AddCommand(c.historyListCmd(), c.historyCheckCmd(), c.historyShowCmd(), c.historyDeleteCmd(), c.historyStatsCmd())
	return cmd
}

func (c *cli) printPage(cmd *cobra.Command, page history.Page) error {
	return c.render(cmd, page, func(w io.Writer) {
		printf(w, "ID\tDATE\tCHECK\tSTATUS\tPROVIDER\tLANG\tSECONDS\tSCRIPT\n")
		for _, r := range page.Analyses {
			secs := "-"
			if r.ExecutionTimeSeconds != nil {
				secs = strconv.FormatFloat(*r.ExecutionTimeSeconds, 'f', 1, 64)
			}
			printf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
				r.ID, r.AnalysisDate.Format("2006-01-02 15:04"), r.CheckID, r.Status, r.AIProvider, r.Language, secs,
				scriptSummary(r.RemediationScript))
		}
		if len(page.Analyses) > 0 {
			printf(w, "\nshowing %d-%d of %d\n", page.Offset+1, page.Offset+len(page.Analyses), page.Total)
		}
	})
}

func (c *cli) historyListCmd() *cobra.Command {
	var (
		limit, offset int
		status        string
	)
	cmd := &cobra.Command{
		Use:   "list AGENT",
		Short: "List analyses of an agent, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := history.ParseStatus(status)
			if err != nil {
				return fmt.Errorf("%w: %q", err, status)
			}
			a, err := c.app(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			page, err := a.History.ListByAgent(cmd.Context(), args[0], history.ListOptions{
				Limit:  limit,
				Offset: offset,
				Status: st,
			})
			if err != nil {
				return err
			}
			return c.printPage(cmd, page)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Page size (1-200)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Records to skip")
	cmd.Flags().StringVar(&status, "status", "", "Filter: pending, completed, failed, all")
	return cmd
}

func (c *cli) historyCheckCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "check AGENT CHECK",
		Short: "List analyses of one check",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			checkID, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid check id %q", args[1])
			}
			a, err := c.app(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			page, err := a.History.ListByCheck(cmd.Context(), args[0], checkID, limit)
			if err != nil {
				return err
			}
			return c.printPage(cmd, page)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Records to return (1-100)")
	return cmd
}

func (c *cli) historyShowCmd() *cobra.Command {
	var saveDir string
	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Print one analysis with its remediation script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.app(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.History.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if saveDir != "" {
				if rec.RemediationScript == nil {
					return fmt.Errorf("analysis %s has no remediation script", rec.ID)
				}
				path := filepath.Join(saveDir, rec.RemediationScript.Filename(rec.CheckTitle))
				if err := os.WriteFile(path, []byte(rec.RemediationScript.Content), 0o600); err != nil {
					return err
				}
				printf(cmd.ErrOrStderr(), "script saved to %s\n", path)
			}
			return c.renderText(cmd, rec, func(w io.Writer) {
				printf(w, "# Check %d: %s\n", rec.CheckID, rec.CheckTitle)
				printf(w, "agent %s (%s), %s, %s via %s\n",
					rec.AgentID, orDash(rec.AgentName), rec.AnalysisDate.Format("2006-01-02 15:04"), rec.Status, rec.AIProvider)
				if rec.ErrorMessage != "" {
					printf(w, "error: %s\n", rec.ErrorMessage)
				}
				if rec.ReportText != "" {
					printf(w, "\n%s\n", rec.ReportText)
				}
				printScript(w, rec.RemediationScript)
			})
		},
	}
	cmd.Flags().StringVar(&saveDir, "save-script", "", "Also write the remediation script into this directory")
	return cmd
}

func scriptSummary(s *analysis.RemediationScript) string {
	if s == nil {
		return "-"
	}
	if s.RequiresRoot {
		return string(s.Language) + " (root)"
	}
	return string(s.Language)
}

func printScript(w io.Writer, s *analysis.RemediationScript) {
	if s == nil {
		return
	}
	printf(w, "\n## Remediation script (%s)\n", s.Language)
	if s.RequiresRoot {
		printf(w, "requires root/admin\n")
	}
	if s.EstimatedDuration != "" {
		printf(w, "estimated duration: %s\n", s.EstimatedDuration)
	}
	printf(w, "\n%s\n", s.Content)
	if s.ValidationCommand != "" {
		printf(w, "\nvalidate with: %s\n", s.ValidationCommand)
	}
	for _, r := range s.Risks {
		printf(w, "risk: %s\n", r)
	}
}

func (c *cli) historyDeleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete one analysis (requires --yes)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.app(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.History.Delete(cmd.Context(), args[0], yes); err != nil {
				if !yes {
					return fmt.Errorf("%w: rerun with --yes", err)
				}
				return err
			}
			if !c.jsonOutput() {
				printf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")
	return cmd
}

type statsOutput struct {
	history.CacheStats
	HitRate float64 `json:"hit_rate"`
}

func (c *cli) historyStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show history cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.app(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.History.CacheStats(cmd.Context())
			if err != nil {
				return err
			}
			out := statsOutput{CacheStats: st, HitRate: st.HitRate()}
			return c.render(cmd, out, func(w io.Writer) {
				printf(w, "TOTAL\t%d\n", st.TotalAnalyses)
				printf(w, "COMPLETED\t%d\n", st.Completed)
				printf(w, "FAILED\t%d\n", st.Failed)
				printf(w, "CACHED VALID\t%d\n", st.CachedValid)
				printf(w, "HIT RATE\t%.1f%%\n", out.HitRate)
				printf(w, "CACHE\t%s (ttl %dh)\n", yesNo(st.CacheEnabled), st.CacheTTLHours)
			})
		},
	}
}
