package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time via ldflags.
	Version = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "parlor",
	Short: "🪑 Parlor - run many Claude CLI sessions across credential profiles",
	Long: `Parlor manages a fleet of interactive Claude CLI sessions, each running
under a PTY, and keeps them working when the upstream service rate limits
a credential profile: it records the limit, picks another authenticated
profile, and hot-swaps the session's credential context without
restarting the process.

Start the daemon with "parlor serve" and attach terminals over WebSocket.`,
	Version: Version,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
