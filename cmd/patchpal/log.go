package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/connor15mcc/patchpal/internal/storage"
)

func logCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show recent review decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoint, err := healthURL(serverAddr)
			if err != nil {
				return err
			}
			u, _ := url.Parse(endpoint)
			u.Path = "/decisions"
			u.RawQuery = fmt.Sprintf("limit=%d", limit)

			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get(u.String())
			if err != nil {
				fmt.Printf("Daemon: not reachable at %s\n", serverAddr)
				return &exitError{code: exitFailure}
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("daemon returned %s", resp.Status)
			}

			var records []storage.DecisionRecord
			if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
				return fmt.Errorf("decode decisions: %w", err)
			}
			if len(records) == 0 {
				fmt.Println("No decisions recorded")
				return nil
			}

			for _, rec := range records {
				verdict := rec.Outcome
				if useColor {
					if rec.Outcome == "accepted" {
						verdict = green(verdict)
					} else {
						verdict = red(verdict)
					}
				}
				fmt.Printf("%s  %s  hunk %d  %s  %s\n",
					rec.DecidedAt.Local().Format("2006-01-02 15:04:05"),
					verdict, rec.HunkID, rec.RepoRef, rec.FilePath)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of decisions to show")
	return cmd
}
