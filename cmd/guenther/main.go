// Package main provides the CLI entry point for the Guenther agent server.
//
// Guenther exposes one LLM agent over several channels: the web terminal,
// Telegram, inbound webhooks and scheduled autoprompts. The agent carries
// an extensible tool belt of builtins, self-built Python tools and
// external MCP servers.
//
// Start the server:
//
//	guenther serve --data data --listen :8080
package main

import (
	"fmt"
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
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Fehler:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "guenther",
		Short:        "Guenther - Self-hosted multi-channel MCP agent",
		Long:         "Guenther runs one LLM agent behind a web terminal, Telegram, webhooks and scheduled autoprompts.",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("guenther %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
