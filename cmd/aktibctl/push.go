package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aktibguard/aktibguard/internal/health"
	pkgmodels "github.com/aktibguard/aktibguard/pkg/models"
	"github.com/spf13/cobra"
)

func newPushCmd(opts *globalOptions) *cobra.Command {
	var (
		fromHost     bool
		maxProcesses int
	)

	cmd := &cobra.Command{
		Use:   "push [file|-]",
		Short: "Send a telemetry payload to the server",
		Long: `Push sends one telemetry payload. The payload is read from a JSON file,
from stdin when the file is "-", or built from the local host with --from-host.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if fromHost == (len(args) == 1) {
				return fmt.Errorf("pass either a payload file or --from-host")
			}

			c, cfg, err := opts.client()
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)

			var resp *pkgmodels.TelemetryResponse
			if fromHost {
				payload, err := health.NewCollector(500*time.Millisecond).Payload(ctx, cfg.AgentID, Version, maxProcesses)
				if err != nil {
					return fmt.Errorf("collect host telemetry: %w", err)
				}
				resp, err = c.SendTelemetry(ctx, payload)
				if err != nil {
					return err
				}
			} else {
				body, err := readPayload(cmd.InOrStdin(), args[0])
				if err != nil {
					return err
				}
				resp, err = c.SendRawTelemetry(ctx, body)
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, resp)
			}
			fmt.Fprintf(out, "%s (server time %s)\n", resp.Message, resp.ServerTime.Format(time.RFC3339))
			fmt.Fprintf(out, "  metrics:   %d\n", resp.MetricsAccepted)
			fmt.Fprintf(out, "  threats:   %d of %d\n", resp.ThreatsAccepted, resp.ThreatsDetected)
			fmt.Fprintf(out, "  processes: %d (%d dropped)\n", resp.ProcessesAccepted, resp.ProcessesDropped)
			return nil
		},
	}

	cmd.Flags().BoolVar(&fromHost, "from-host", false, "build the payload from this machine")
	cmd.Flags().IntVar(&maxProcesses, "max-processes", 10, "processes to include with --from-host")

	return cmd
}

func readPayload(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		body, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return body, nil
	}
	body, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return body, nil
}
