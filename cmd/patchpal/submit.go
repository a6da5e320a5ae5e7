package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/connor15mcc/patchpal/internal/daemon"
	"github.com/connor15mcc/patchpal/internal/diffsplit"
	"github.com/connor15mcc/patchpal/internal/git"
	"github.com/connor15mcc/patchpal/internal/github"
	"github.com/connor15mcc/patchpal/internal/protocol"
)

const heartbeatInterval = 10 * time.Second

func submitCmd() *cobra.Command {
	var (
		path     string
		rangeRef string
		prRepo   string
		prNumber int
		repoRef  string
		metadata string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a diff for review and wait for the verdicts",
		Long: `Submit gathers a diff, splits it into hunks, and streams each hunk's
accept/reject decision as the reviewer works through the queue.

By default the uncommitted changes of the repository at --path are
submitted. Use --range for a committed range, or --pr with --repo to
review a GitHub pull request.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd.Context(), path, rangeRef, prRepo, prNumber, repoRef, metadata)
		},
	}

	cmd.Flags().StringVar(&path, "path", ".", "repository path")
	cmd.Flags().StringVar(&rangeRef, "range", "", "submit a committed range (e.g. main..HEAD) instead of the dirty diff")
	cmd.Flags().StringVar(&prRepo, "repo", "", "GitHub repository (owner/repo) for --pr")
	cmd.Flags().IntVar(&prNumber, "pr", 0, "GitHub pull request number to review")
	cmd.Flags().StringVar(&repoRef, "repo-ref", "", "override the repository identifier sent to the reviewer")
	cmd.Flags().StringVar(&metadata, "metadata", "", "free-form note shown alongside the patch")

	return cmd
}

func runSubmit(ctx context.Context, path, rangeRef, prRepo string, prNumber int, repoRef, metadata string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	diff, ref, err := gatherDiff(ctx, path, rangeRef, prRepo, prNumber)
	if err != nil {
		return err
	}
	if repoRef != "" {
		ref = repoRef
	}

	hunks, err := diffsplit.Split(diff)
	if err != nil {
		return err
	}
	if len(hunks) == 0 {
		fmt.Println("No changes to submit")
		return nil
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "Submitting %d hunk(s) for %s\n", len(hunks), ref)
	}

	client, err := daemon.Dial(ctx, serverAddr, heartbeatInterval)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach reviewer at %s: %v\n", serverAddr, err)
		return &exitError{code: exitFailure}
	}
	defer client.Close()

	resp, err := client.Submit(ctx, ref, metadata, hunks)
	if err != nil {
		var refused *daemon.SubmitRefusedError
		if errors.As(err, &refused) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", refused)
			return &exitError{code: exitFailure}
		}
		fmt.Fprintf(os.Stderr, "Error: submission failed: %v\n", err)
		return &exitError{code: exitFailure}
	}

	fmt.Printf("Patch %d queued (%d hunks), waiting for review...\n", resp.PatchID, len(resp.HunkIDs))

	// Index hunk ids back to their content for display
	byID := make(map[uint64]protocol.HunkContent, len(hunks))
	for i, id := range resp.HunkIDs {
		byID[id] = hunks[i]
	}

	rejected := 0
	for decided := 0; decided < len(resp.HunkIDs); decided++ {
		dn, err := client.Await(ctx)
		if err != nil {
			if errors.Is(err, daemon.ErrServerClosed) {
				fmt.Fprintln(os.Stderr, "Error: reviewer went away before all hunks were decided")
			} else {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			return &exitError{code: exitFailure}
		}

		h := byID[dn.HunkID]
		switch dn.Outcome {
		case protocol.OutcomeAccepted:
			fmt.Printf("%s %s %s\n", green("accepted"), h.Path, shortHeader(h.Header))
		case protocol.OutcomeRejected:
			rejected++
			fmt.Printf("%s %s %s\n", red("rejected"), h.Path, shortHeader(h.Header))
		}
	}

	if rejected > 0 {
		fmt.Printf("%d of %d hunk(s) rejected\n", rejected, len(resp.HunkIDs))
		return &exitError{code: exitRejected}
	}
	fmt.Printf("All %d hunk(s) accepted\n", len(resp.HunkIDs))
	return nil
}

// gatherDiff produces the diff text and the repository identifier for the
// selected source.
func gatherDiff(ctx context.Context, path, rangeRef, prRepo string, prNumber int) (diff, ref string, err error) {
	if prNumber > 0 {
		if prRepo == "" {
			return "", "", fmt.Errorf("--pr requires --repo owner/repo")
		}
		owner, repo, err := github.ParseRepo(prRepo)
		if err != nil {
			return "", "", err
		}
		diff, err := github.NewClient().PRDiff(ctx, owner, repo, prNumber)
		if err != nil {
			return "", "", err
		}
		return diff, fmt.Sprintf("github.com/%s/%s", owner, repo), nil
	}

	if rangeRef != "" {
		diff, err := git.DiffRange(path, rangeRef)
		if err != nil {
			return "", "", err
		}
		return diff, git.RepoRef(path), nil
	}

	dirty, err := git.HasUncommittedChanges(path)
	if err != nil {
		return "", "", err
	}
	if !dirty {
		return "", git.RepoRef(path), nil
	}
	diff, err = git.DirtyDiff(path)
	if err != nil {
		return "", "", err
	}
	return diff, git.RepoRef(path), nil
}
