package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/aktibguard/aktibguard/internal/client"
	"github.com/spf13/cobra"
)

func newThreatsCmd(opts *globalOptions) *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "threats",
		Short: "List threats",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := opts.client()
			if err != nil {
				return err
			}

			threats, err := c.Threats(commandContext(cmd), status, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, threats)
			}
			if len(threats) == 0 {
				fmt.Fprintln(out, "No threats.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSEVERITY\tSTATUS\tHOST\tTYPE\tTITLE\tDETECTED")
			for _, t := range threats {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					t.ID, t.Severity, t.Status, t.Hostname, t.Type, t.Title, t.Timestamp.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "threat status: active, investigating, false_positive or resolved (default active)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of threats (default 50)")

	cmd.AddCommand(newThreatsSetStatusCmd(opts))

	return cmd
}

func newThreatsSetStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-status <id> <status>",
		Short: "Change the status of a threat",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := opts.client()
			if err != nil {
				return err
			}

			if err := c.SetThreatStatus(commandContext(cmd), args[0], args[1]); err != nil {
				if client.IsNotFound(err) {
					return fmt.Errorf("threat %q not found", args[0])
				}
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Threat %s marked %s\n", args[0], args[1])
			return nil
		},
	}
}
