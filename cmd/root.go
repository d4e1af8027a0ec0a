package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "tidx",
	Short: "Transcribe meeting recordings and query them",
	Long: `tidx ingests cloud meeting recordings and uploaded videos, transcribes them once,
and keeps a queryable index of every transcript.`,
	SilenceUsage: true,
}

// versionCmd prints build information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tidx %s (commit: %s)\n", Version, Commit)
	},
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
