package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/aktibguard/aktibguard/internal/client"
	"github.com/aktibguard/aktibguard/internal/models"
	"github.com/spf13/cobra"
)

func newFleetCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fleet",
		Short: "Show the fleet summary and every agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := opts.client()
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)

			summary, err := c.Summary(ctx)
			if err != nil {
				return err
			}
			fleet, err := c.Fleet(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, map[string]any{"summary": summary, "agents": fleet})
			}

			fmt.Fprintf(out, "Agents: %d total, %d online\n", summary.TotalAgents, summary.OnlineAgents)
			fmt.Fprintf(out, "Active threats: %d\n", summary.ActiveThreats)
			fmt.Fprintf(out, "Avg CPU (1h): %.0f%%  Avg memory (1h): %.0f%%\n", summary.AvgCPU, summary.AvgMemory)
			fmt.Fprintln(out)

			if len(fleet) == 0 {
				fmt.Fprintln(out, "No agents have reported yet.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tHOSTNAME\tSTATUS\tHEALTH\tCPU\tMEM\tTHREATS\tLAST SEEN")
			for _, a := range fleet {
				cpu, mem := "-", "-"
				if a.LatestMetric != nil {
					cpu = fmt.Sprintf("%.0f%%", a.LatestMetric.CPUPercent)
					mem = fmt.Sprintf("%.0f%%", a.LatestMetric.MemoryPercent)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					a.ID, a.Hostname, a.Status, a.Health, cpu, mem, a.ActiveThreats, since(a.LastSeen))
			}
			return w.Flush()
		},
	}
}

func newAgentCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "agent <id>",
		Short: "Show one agent with its latest metrics and processes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := opts.client()
			if err != nil {
				return err
			}

			detail, err := c.Agent(commandContext(cmd), args[0])
			if err != nil {
				if client.IsNotFound(err) {
					return fmt.Errorf("agent %q not found", args[0])
				}
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, detail)
			}
			printAgent(out, detail)
			return nil
		},
	}
}

func printAgent(out io.Writer, d *models.AgentDetail) {
	a := d.Agent
	if a == nil {
		return
	}
	fmt.Fprintf(out, "Agent:     %s\n", a.ID)
	fmt.Fprintf(out, "Hostname:  %s\n", a.Hostname)
	fmt.Fprintf(out, "Platform:  %s %s %s\n", a.Platform, a.Architecture, a.OSRelease)
	fmt.Fprintf(out, "Version:   %s\n", a.Version)
	fmt.Fprintf(out, "Status:    %s (%s)\n", a.Status, d.Health)
	fmt.Fprintf(out, "Last seen: %s (%s)\n", a.LastSeen.Format(time.RFC3339), since(a.LastSeen))

	if m := d.LatestMetric; m != nil {
		fmt.Fprintf(out, "Metrics:   cpu %.1f%%  memory %.1f%%  disk %.1f%%  connections %d\n",
			m.CPUPercent, m.MemoryPercent, m.DiskPercent, m.NetworkConnections)
	}

	if len(d.Processes) == 0 {
		return
	}
	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PID\tNAME\tUSER\tCPU\tMEM")
	for _, p := range d.Processes {
		fmt.Fprintf(w, "%d\t%s\t%s\t%.1f%%\t%.1f%%\n", p.PID, p.Name, p.Username, p.CPUPercent, p.MemoryPercent)
	}
	w.Flush()
}

func since(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return time.Since(t).Truncate(time.Second).String() + " ago"
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// commandContext falls back to Background for commands run without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := commandContext(cmd); ctx != nil {
		return ctx
	}
	return context.Background()
}
