package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	serverAddr string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "patchpal",
		Short: "Submit patches for interactive review",
		Long:  "patchpal submits diffs to a patchpald reviewer daemon and waits for the per-hunk accept/reject verdicts",
	}

	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "ws://127.0.0.1:8443/ws", "reviewer daemon address")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		// Check for exitError to exit with specific code without extra output
		if exitErr, ok := err.(*exitError); ok {
			os.Exit(exitErr.code)
		}
		os.Exit(1)
	}
}
