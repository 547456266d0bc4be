package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ostin-pil/lesca/internal/scrape"
	"github.com/ostin-pil/lesca/internal/types"
)

func newScrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Fetch content through the session-aware browser pool",
	}
	cmd.AddCommand(newScrapeProblemCmd(), newScrapeListCmd())
	return cmd
}

// newScrapeProblemCmd implements `lesca scrape problem <slug>...`. Every
// slug list, a single slug included, is driven through the Batch Executor
// (concurrency/continueOnError/resume from Config), which is how this
// command exercises checkpointing and progress reporting.
func newScrapeProblemCmd() *cobra.Command {
	var sessionName string
	var resume bool
	var outPath string

	cmd := &cobra.Command{
		Use:   "problem <slug> [<slug>...]",
		Short: "Fetch one or more problem statements by slug",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			requests := make([]any, len(args))
			for i, slug := range args {
				requests[i] = scrape.Request{Kind: scrape.KindProblem, SessionName: sessionName, Slug: slug}
			}

			exec := theApp.newExecutor(resume, func(p types.BatchProgress) {
				fmt.Fprintf(cmd.ErrOrStderr(), "progress: %d/%d (%.0f%%)\n", p.Completed, p.Total, p.Percentage)
			})

			summary, err := exec.Run(cmd.Context(), requests, func(ctx context.Context, index int, request any) (any, error) {
				req := request.(scrape.Request)
				return theApp.scrape.Dispatch(ctx, req)
			})
			if err != nil && summary.Total == 0 {
				return err
			}
			if writeErr := writeScrapeOutput(outPath, summary); writeErr != nil {
				return writeErr
			}
			return err
		},
	}

	cmd.Flags().StringVar(&sessionName, "session", "default", "named session whose browser pool serves this fetch")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume from the batch progress file instead of restarting")
	cmd.Flags().StringVar(&outPath, "out", "", "write JSON results here instead of stdout")
	return cmd
}

func newScrapeListCmd() *cobra.Command {
	var sessionName string
	var page, pageSize int
	var outPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Fetch the problem list page",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := scrape.Request{Kind: scrape.KindList, SessionName: sessionName, Page: page, PageSize: pageSize}
			res, err := theApp.scrape.Dispatch(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeScrapeOutput(outPath, res)
		},
	}

	cmd.Flags().StringVar(&sessionName, "session", "default", "named session whose browser pool serves this fetch")
	cmd.Flags().IntVar(&page, "page", 1, "list page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 50, "items per list page")
	cmd.Flags().StringVar(&outPath, "out", "", "write JSON result here instead of stdout")
	return cmd
}

func writeScrapeOutput(outPath string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	data = append(data, '\n')
	if outPath == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(outPath, data, 0o600)
}
