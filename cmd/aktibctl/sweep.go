package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/aktibguard/aktibguard/internal/config"
	"github.com/aktibguard/aktibguard/internal/db"
	"github.com/aktibguard/aktibguard/internal/db/sqlite"
	"github.com/aktibguard/aktibguard/internal/maintenance"
	"github.com/aktibguard/aktibguard/internal/registry"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newSweepCmd(opts *globalOptions) *cobra.Command {
	var local bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one maintenance sweep",
		Long: `Sweep deletes expired metrics and process snapshots and marks silent
agents offline. By default the server runs the sweep; with --local the
sweep runs here against the store named by the server configuration
(AKTIBGUARD_CONFIG, DATABASE_URL or SQLITE_PATH).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)

			var (
				result *maintenance.SweepResult
				err    error
			)
			if local {
				result, err = localSweep(ctx)
			} else {
				c, _, cerr := opts.client()
				if cerr != nil {
					return cerr
				}
				result, err = c.Sweep(ctx)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				if err := printJSON(out, result); err != nil {
					return err
				}
			} else {
				printSweep(out, result)
			}
			if !result.OK() {
				return fmt.Errorf("sweep finished with %d failed action(s)", len(result.Errors))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&local, "local", false, "run against the store directly instead of through the server")

	return cmd
}

func localSweep(ctx context.Context) (*maintenance.SweepResult, error) {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		return nil, fmt.Errorf("load server config: %w", err)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(zerolog.WarnLevel).
		With().
		Timestamp().
		Logger()

	var store db.Store
	if cfg.UsePostgres() {
		store, err = db.Open(ctx, cfg.DatabaseURL, logger)
	} else {
		store, err = sqlite.Open(cfg.SQLitePath, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	reg := registry.New(store, cfg.LivenessTimeout, logger)
	sweeper := maintenance.NewSweeper(store, reg, nil, maintenance.Config{
		MetricRetention:  cfg.MetricRetention,
		ProcessRetention: cfg.ProcessRetention,
		ActionTimeout:    cfg.SweepActionTimeout,
	}, logger)

	return sweeper.RunNow(ctx), nil
}

func printSweep(out io.Writer, r *maintenance.SweepResult) {
	fmt.Fprintf(out, "Sweep started %s, took %s\n", r.StartedAt.Format(time.RFC3339), r.Duration)
	fmt.Fprintf(out, "  metrics deleted:   %d\n", r.MetricsDeleted)
	fmt.Fprintf(out, "  processes deleted: %d\n", r.ProcessesDeleted)
	fmt.Fprintf(out, "  agents offline:    %d\n", len(r.AgentsOffline))
	for _, id := range r.AgentsOffline {
		fmt.Fprintf(out, "    %s\n", id)
	}

	actions := make([]string, 0, len(r.Errors))
	for action := range r.Errors {
		actions = append(actions, action)
	}
	sort.Strings(actions)
	for _, action := range actions {
		fmt.Fprintf(out, "  %s failed: %s\n", action, r.Errors[action])
	}
}
