package main

import (
	"fmt"

	"github.com/connor15mcc/patchpal/internal/version"
	"github.com/spf13/cobra"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show patchpal version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("patchpal %s\n", version.Version)
		},
	}
}
