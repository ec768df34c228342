package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bryanwahyu/automaton-sca/internal/bootstrap"
	"github.com/bryanwahyu/automaton-sca/internal/config"
	"github.com/bryanwahyu/automaton-sca/internal/logging"
)

type appFactory func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*bootstrap.App, error)

// cli carries global flags shared by every subcommand.
type cli struct {
	cfgPath string
	output  string
	verbose bool
	newApp  appFactory
}

func newRootCmd() *cobra.Command {
	return (&cli{newApp: bootstrap.New}).root()
}

func (c *cli) root() *cobra.Command {
	root := &cobra.Command{
		Use:   "scactl",
		Short: "AI-assisted analysis of failed SCA checks",
		Long: `scactl runs AI analysis over failed SCA checks of a monitored agent.

Core Commands:
  status     Show AI provider and data source status
  agents     List agents
  policies   List SCA policies of an agent
  checks     List failed checks of a policy
  batch      Analyze many checks, then export the reports
  analyze    Analyze one check
  history    List, delete and summarize stored analyses`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.cfgPath, "config", "", "Config file (default: $CONFIG_PATH or config.yaml)")
	root.PersistentFlags().StringVarP(&c.output, "output", "o", "table", "Output format (table, json)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Log at the configured level instead of warn")

	root.AddCommand(
		c.statusCmd(),
		c.agentsCmd(),
		c.policiesCmd(),
		c.checksCmd(),
		c.batchCmd(),
		c.analyzeCmd(),
		c.historyCmd(),
	)
	return root
}

func (c *cli) configPath() string {
	if c.cfgPath != "" {
		return c.cfgPath
	}
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		return v
	}
	return "config.yaml"
}

// app loads config and wires services. Logs go to stderr so stdout stays
// parseable with -o json.
func (c *cli) app(cmd *cobra.Command) (*bootstrap.App, error) {
	cfg, err := config.Load(c.configPath())
	if err != nil {
		return nil, err
	}
	level := "warn"
	if c.verbose {
		level = cfg.Log.Level
	}
	logger := logging.NewWithWriter(cmd.ErrOrStderr(), level, "text")
	return c.newApp(cmd.Context(), cfg, logger)
}

func (c *cli) jsonOutput() bool { return c.output == "json" }

// render prints v as JSON with -o json, otherwise through table.
func (c *cli) render(cmd *cobra.Command, v any, table func(w io.Writer)) error {
	if c.jsonOutput() {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	table(w)
	return w.Flush()
}

// renderText is render without column alignment, for reports and scripts.
func (c *cli) renderText(cmd *cobra.Command, v any, text func(w io.Writer)) error {
	if c.jsonOutput() {
		return c.render(cmd, v, nil)
	}
	text(cmd.OutOrStdout())
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
