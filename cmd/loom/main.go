// Command loom is a file synchronization daemon for shared workspaces where
// several workers edit the same tree concurrently.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "Multi-worker file synchronization and conflict resolution",
	Long: `Loom keeps a shared workspace consistent while several workers edit it
concurrently. A single daemon serializes every write, detects racing edits
to the same file, keeps per-path change history and pre-write backups, and
fans accepted changes out to the other workers.

Run 'loom daemon' in the workspace root to start syncing.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./loom.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Conflicted resolves exit 1 through their own path; everything
		// else lands here.
		rootCmd.PrintErrln("Error:", err)
		os.Exit(1)
	}
}
