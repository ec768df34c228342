package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bryanwahyu/automaton-sca/internal/domain/provider"
)

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show AI provider and data source status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.app(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			view, err := a.Board.Refresh(cmd.Context())
			if err != nil {
				return fmt.Errorf("system status: %w", err)
			}
			st := view.Status
			return c.render(cmd, view, func(w io.Writer) {
				printf(w, "AI MODE\t%s\n\n", st.AIMode)
				printf(w, "PROVIDER\tENABLED\tAVAILABLE\tMODEL\tURL\tERROR\n")
				for _, p := range []provider.Provider{provider.VLLM, provider.OpenAI} {
					b := st.Backend(p)
					printf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", p, yesNo(b.Enabled), yesNo(b.Available), orDash(b.Model), orDash(b.URL), orDash(b.Error))
				}
				printf(w, "wazuh\t-\t%s\t-\t%s\t%s\n\n", yesNo(st.Wazuh.Available), orDash(st.Wazuh.URL), orDash(st.Wazuh.Error))
				if view.NoProvider {
					printf(w, "SELECTED\tnone (no ai provider configured)\n")
					return
				}
				printf(w, "SELECTED\t%s\n", view.Provider)
			})
		},
	}
}

func (c *cli) agentsCmd() *cobra.Command {
	var search string
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.app(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			agents, err := a.Catalog.Agents(cmd.Context(), search)
			if err != nil {
				return err
			}
			return c.render(cmd, agents, func(w io.Writer) {
				printf(w, "ID\tNAME\tIP\tSTATUS\n")
				for _, ag := range agents {
					printf(w, "%s\t%s\t%s\t%s\n", ag.ID, ag.Name, orDash(ag.IP), orDash(ag.Status))
				}
			})
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "Filter by name or id")
	return cmd
}

func (c *cli) policiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "policies AGENT",
		Short: "List SCA policies of an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.app(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			policies, err := a.Catalog.Policies(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.render(cmd, policies, func(w io.Writer) {
				printf(w, "POLICY\tNAME\n")
				for _, p := range policies {
					printf(w, "%s\t%s\n", p.PolicyID, p.Name)
				}
			})
		},
	}
}

func (c *cli) checksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checks AGENT POLICY",
		Short: "List failed checks of a policy",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.app(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			checks, err := a.Catalog.FailedChecks(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return c.render(cmd, checks, func(w io.Writer) {
				printf(w, "ID\tANALYZED\tTITLE\n")
				for _, ch := range checks {
					printf(w, "%d\t%s\t%s\n", ch.ID, yesNo(ch.Analyzed), truncate(ch.Title, 80))
				}
			})
		},
	}
}
