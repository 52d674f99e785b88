package main

import (
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/cmdrelay/internal/audit"
	"github.com/haasonsaas/cmdrelay/internal/commands"
	"github.com/haasonsaas/cmdrelay/internal/config"
)

const defaultConfigPath = "cmdrelay.yaml"

func buildRunCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to Discord and dispatch commands",
		Long: `Connect to Discord and dispatch commands until SIGINT/SIGTERM or the
owner runs the shutdown command.

When metrics are enabled, /metrics and /healthz are served on metrics.addr.`,
		Example: `  # Start with the default config file
  cmdrelay run

  # Environment only, with debug logging
  CMDRELAY_TOKEN=... CMDRELAY_PREFIX=! CMDRELAY_OWNER_ID=... cmdrelay run --config "" --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML or JSON5 configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func buildCommandsCmd() *cobra.Command {
	var prefix string

	cmd := &cobra.Command{
		Use:   "commands",
		Short: "List the commands the bot registers",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := commands.NewRegistry(slog.Default())
			newExampleCommands(nil).HandleRegistration(registry)
			if err := commands.RegisterBuiltins(registry, commands.BuiltinConfig{Prefix: prefix}); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tALIASES\tCATEGORY\tUSAGE")
			for _, c := range registry.List() {
				desc := c.Descriptor()
				usage := desc.Usage
				if usage == "" {
					usage = desc.Name
				}
				usage = prefix + usage
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", desc.Name, strings.Join(desc.Aliases, ","), desc.Category, usage)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&prefix, "prefix", "p", "!", "Prefix used to render usage")
	return cmd
}

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	var configPath string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "configuration OK (version %d)\n", cfg.Version)
			fmt.Fprintf(out, "prefix: %q, owner: %d, workers: %d\n",
				cfg.Bot.Prefix, cfg.Bot.OwnerID, cfg.Dispatch.Workers)
			return nil
		},
	}
	validate.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")

	cmd.AddCommand(validate)
	return cmd
}

func buildAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the command audit log",
	}

	var (
		configPath string
		limit      int
	)
	recent := &cobra.Command{
		Use:   "recent",
		Short: "Show the most recent command invocations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadUnvalidated(configPath)
			if err != nil {
				return err
			}
			store, err := audit.Open(cmd.Context(), cfg.Audit.Driver, cfg.Audit.DSN)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tCOMMAND\tAUTHOR\tCHANNEL\tOUTCOME\tDURATION\tERROR")
			for _, e := range entries {
				name := e.Command
				if e.Alias != "" {
					name += " (" + e.Alias + ")"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					e.Timestamp.Format(time.RFC3339), name, e.AuthorID, e.ChannelID,
					e.Outcome, e.Duration.Round(time.Millisecond), e.Error)
			}
			return w.Flush()
		},
	}
	recent.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	recent.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show")

	cmd.AddCommand(recent)
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cmdrelay %s\n", formatVersion())
		},
	}
}
