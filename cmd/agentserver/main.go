// Command agentserver is the entry point for the tool-calling protocol
// server: it wires the description cache (C1), tool registry (C2), LM
// gateway (C3), browser pool (C4), web action interpreter (C5), task
// executor (C6), and protocol façade (C7) into one process and serves the
// JSON-RPC/agent-card/SSE dialects over HTTP.
//
// Grounded on the teacher's cmd/nexus main/commands split: a small root
// command built with cobra, a "serve" subcommand doing the real work, and
// JSON-structured logging via log/slog from process start.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during release builds.
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
		Use:          "agentserver",
		Short:        "Protocol-speaking agent server exposing browser-automation tools",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd())
	rootCmd.AddCommand(buildDoctorCmd())
	return rootCmd
}
