package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/aktibguard/aktibguard/internal/client"
	"github.com/aktibguard/aktibguard/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration",
	}

	cmd.AddCommand(
		newConfigShowCmd(opts),
		newConfigSetServerCmd(opts),
		newConfigSetAgentIDCmd(opts),
	)

	return cmd
}

func newConfigShowCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			path, _ := opts.path()
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "Config file: %s\n", path)
			fmt.Fprintln(out)

			if !cfg.IsConfigured() {
				fmt.Fprintln(out, "No server configured. Run 'aktibctl config set-server <url>' to set one.")
				return nil
			}

			fmt.Fprintf(out, "Server URL: %s\n", cfg.ServerURL)
			if cfg.AgentID != "" {
				fmt.Fprintf(out, "Agent ID:   %s\n", cfg.AgentID)
			}
			if cfg.Timeout > 0 {
				fmt.Fprintf(out, "Timeout:    %s\n", cfg.Timeout)
			}
			fmt.Fprintf(out, "Proxy:      %s\n", client.ProxyInfo(cfg.Proxy))
			return nil
		},
	}
}

func newConfigSetServerCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-server <url>",
		Short: "Set the server URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serverURL := args[0]

			parsed, err := url.Parse(serverURL)
			if err != nil {
				return fmt.Errorf("invalid server URL: %w", err)
			}
			if parsed.Scheme != "http" && parsed.Scheme != "https" {
				return fmt.Errorf("server URL must use http or https scheme")
			}

			serverURL = strings.TrimSuffix(serverURL, "/")
			if err := updateConfig(opts, func(cfg *config.CLIConfig) { cfg.ServerURL = serverURL }); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Server URL set to: %s\n", serverURL)
			return nil
		},
	}
}

func newConfigSetAgentIDCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-agent-id <id>",
		Short: "Set the agent id used by 'push --from-host'",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if id == "" {
				return fmt.Errorf("agent id cannot be empty")
			}
			if err := updateConfig(opts, func(cfg *config.CLIConfig) { cfg.AgentID = id }); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Agent ID set to: %s\n", id)
			return nil
		},
	}
}

// updateConfig loads the file as stored, without flag overrides, applies
// set and saves it.
func updateConfig(opts *globalOptions, set func(cfg *config.CLIConfig)) error {
	path, err := opts.path()
	if err != nil {
		return err
	}
	stored := &globalOptions{configPath: path}
	cfg, err := stored.load()
	if err != nil {
		return err
	}

	set(cfg)

	if err := cfg.Save(path); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}
