// Package main provides the cmdrelay CLI: a prefix-command Discord bot.
//
// # Basic Usage
//
// Start the bot:
//
//	cmdrelay run --config cmdrelay.yaml
//
// List the commands the bot will register:
//
//	cmdrelay commands
//
// # Environment Variables
//
// A .env file in the working directory is loaded first. Any setting can
// then be overridden, for example:
//
//   - CMDRELAY_TOKEN: Discord bot token
//   - CMDRELAY_PREFIX: command prefix
//   - CMDRELAY_OWNER_ID: Discord user ID allowed to run owner commands
//   - CMDRELAY_LOG_LEVEL: debug, info, warn or error
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/cmdrelay/internal/config"
)

// Build information, set with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	if err := config.LoadDotEnv(".env"); err != nil {
		slog.Warn("failed to load .env", "error", err)
	}

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cmdrelay",
		Short: "cmdrelay - prefix command bot for Discord",
		Long: `cmdrelay connects to the Discord gateway and dispatches messages that
start with a configured prefix to registered command handlers.`,
		Version:      formatVersion(),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildCommandsCmd(),
		buildConfigCmd(),
		buildAuditCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func formatVersion() string {
	return version + " (commit: " + commit + ", built: " + date + ")"
}
