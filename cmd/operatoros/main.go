package main

import (
	"fmt"
	"os"

	"github.com/biodoia/operatoros/cmd/operatoros/commands"
	"github.com/biodoia/operatoros/internal/gateway"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	gateway.Version = version

	rootCmd := &cobra.Command{
		Use:   "operatoros",
		Short: "OperatorOS - Multi-agent conversation orchestrator",
		Long: `OperatorOS - Multi-agent conversation orchestrator

Runs a conversation through an ordered pipeline of specialist agents,
each backed by an LLM selected from a pool of health-checked backends.

Features:
  • Predefined and custom agent pipelines
  • Affinity-aware backend routing with failover
  • Bounded retries with response validation
  • Persistent step history (SQLite or PostgreSQL)
  • HTTP API with metrics and webhooks`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("dev", false, "Human readable console logging")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.AdvanceCmd)
	rootCmd.AddCommand(commands.HistoryCmd)
	rootCmd.AddCommand(commands.ListCmd)
	rootCmd.AddCommand(commands.BackendsCmd)
	rootCmd.AddCommand(commands.MigrateCmd)
	rootCmd.AddCommand(commands.ConfigCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "OperatorOS version %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Commit: %s\n", commit)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(commands.ExitCode(err))
	}
}
