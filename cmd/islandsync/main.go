package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "islandsync",
		Short: "Headless island state synchronization client",
		Long: `islandsync mounts the islands of a manifest into a synchronization
engine, connects it to the server over WebSocket or QUIC and keeps the
session's props, globals, streams and forms in sync.

The engine state is served as JSON on /debug/islands and the engine
metrics on /metrics.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		runCmd(),
		validateCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "islandsync %s (%s)\n", version, commit)
		},
	}
}
