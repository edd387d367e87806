// Package main is the rook CLI: a conversational agent runtime with
// persistent sessions, long-term memory, delegated command-line agents, and
// external tool providers.
//
// Start the agent:
//
//	rook serve --config rook.yaml
//
// Configuration can reference environment variables with ${VAR} syntax;
// ANTHROPIC_API_KEY and OPENAI_API_KEY are the usual ones.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "rook",
		Short:        "Rook - conversational agent runtime",
		Long:         "Rook runs a tool-using conversational agent with persistent sessions,\nlong-term memory, delegated CLI agents, and external tool providers.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		buildServeCmd(),
		buildSessionsCmd(),
		buildMemoryCmd(),
	)
	return rootCmd
}
