package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show reviewer daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := healthURL(serverAddr)
			if err != nil {
				return err
			}

			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get(url)
			if err != nil {
				fmt.Printf("Daemon: not reachable at %s\n", serverAddr)
				return &exitError{code: exitFailure}
			}
			defer resp.Body.Close()

			var health struct {
				Version   string `json:"version"`
				Uptime    string `json:"uptime"`
				Sessions  int    `json:"sessions"`
				Pending   int    `json:"pending"`
				Decided   int    `json:"decided"`
				Cancelled int    `json:"cancelled"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
				return fmt.Errorf("decode health response: %w", err)
			}

			fmt.Printf("Daemon:    %s (up %s)\n", health.Version, health.Uptime)
			fmt.Printf("Sessions:  %d\n", health.Sessions)
			fmt.Printf("Pending:   %d\n", health.Pending)
			fmt.Printf("Decided:   %d\n", health.Decided)
			fmt.Printf("Cancelled: %d\n", health.Cancelled)
			return nil
		},
	}
}
