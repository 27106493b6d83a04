// Package main is the entrypoint for aktibctl, the aktibguard operator CLI.
package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/aktibguard/aktibguard/internal/client"
	"github.com/aktibguard/aktibguard/internal/config"
	"github.com/spf13/cobra"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	serverURL  string
	timeout    time.Duration
	jsonOutput bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "aktibctl",
		Short: "aktibguard operator CLI",
		Long: `aktibctl talks to an aktibguard collector server: it lists the fleet and
its threats, pushes telemetry and runs maintenance sweeps.

Run 'aktibctl config set-server <url>' to choose a server.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ~/.aktibguard/config.yml)")
	rootCmd.PersistentFlags().StringVar(&opts.serverURL, "server", "", "server URL, overrides the config file")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 0, "request timeout (default 30s)")
	rootCmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "print raw JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newConfigCmd(opts),
		newFleetCmd(opts),
		newAgentCmd(opts),
		newThreatsCmd(opts),
		newPushCmd(opts),
		newSweepCmd(opts),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "aktibctl %s\n", Version)
			fmt.Fprintf(out, "  Commit:     %s\n", Commit)
			fmt.Fprintf(out, "  Built:      %s\n", BuildDate)
			fmt.Fprintf(out, "  Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

// path resolves the config file location.
func (o *globalOptions) path() (string, error) {
	if o.configPath != "" {
		return o.configPath, nil
	}
	return config.DefaultCLIConfigPath()
}

// load reads the CLI config and applies flag overrides.
func (o *globalOptions) load() (*config.CLIConfig, error) {
	path, err := o.path()
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadCLI(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.serverURL != "" {
		cfg.ServerURL = o.serverURL
	}
	if o.timeout > 0 {
		cfg.Timeout = o.timeout
	}
	return cfg, nil
}

// client builds an API client from the config, failing when no server is set.
func (o *globalOptions) client() (*client.Client, *config.CLIConfig, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, nil, err
	}
	if !cfg.IsConfigured() {
		return nil, nil, fmt.Errorf("no server configured: run 'aktibctl config set-server <url>' or pass --server")
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	c, err := client.NewClientWithProxy(cfg.ServerURL, cfg.Timeout, cfg.Proxy)
	if err != nil {
		return nil, nil, err
	}
	return c, cfg, nil
}
