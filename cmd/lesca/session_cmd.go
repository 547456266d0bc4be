package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ostin-pil/lesca/internal/types"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage persisted browser sessions",
	}
	cmd.AddCommand(
		newSessionListCmd(),
		newSessionRenameCmd(),
		newSessionDeleteCmd(),
		newSessionMergeCmd(),
		newSessionCleanupCmd(),
	)
	return cmd
}

func newSessionListCmd() *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !activeOnly {
				names, err := theApp.sessions.List()
				if err != nil {
					return fmt.Errorf("list sessions: %w", err)
				}
				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}

			sessions, err := theApp.sessions.ListActive()
			if err != nil {
				return fmt.Errorf("list active sessions: %w", err)
			}
			for _, s := range sessions {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tlastUsed=%d\tcookies=%d\n", s.Name, s.Metadata.LastUsed, len(s.Cookies))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only list non-expired sessions with full metadata")
	return cmd
}

func newSessionRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <old> <new>",
		Short: "Rename a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := theApp.sessions.Rename(args[0], args[1]); err != nil {
				return fmt.Errorf("rename session: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "renamed %s -> %s\n", args[0], args[1])
			return nil
		},
	}
}

func newSessionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deleted, err := theApp.sessions.Delete(args[0])
			if err != nil {
				return fmt.Errorf("delete session: %w", err)
			}
			if !deleted {
				return &usageError{err: fmt.Errorf("session %q not found", args[0])}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func newSessionMergeCmd() *cobra.Command {
	var strategy string
	cmd := &cobra.Command{
		Use:   "merge <target> <source> [<source>...]",
		Short: "Merge one or more source sessions into target",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]
			sources := args[1:]

			strat := types.MergeStrategy(strategy)
			switch strat {
			case types.MergeKeepExisting, types.MergePreferFresh, types.MergeAll:
			default:
				return &usageError{err: fmt.Errorf("unknown merge strategy %q (want keep-existing|prefer-fresh|merge-all)", strategy)}
			}

			merged, err := theApp.sessions.Merge(sources, target, strat)
			if err != nil {
				return fmt.Errorf("merge sessions: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "merged %d source(s) into %s (%d cookies)\n", len(sources), merged.Name, len(merged.Cookies))
			return nil
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", string(types.MergeAll), "merge strategy: keep-existing|prefer-fresh|merge-all")
	return cmd
}

func newSessionCleanupCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Run the two-phase (age, then count) session cleanup pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := theApp.sessions.RunCleanup(cfg.SessionMaxAge, cfg.SessionMaxCount, dryRun)
			if err != nil {
				return fmt.Errorf("cleanup sessions: %w", err)
			}
			verb := "removed"
			if dryRun {
				verb = "would remove"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d session(s) (%d age, %d count); %d survivor(s)\n",
				verb, len(plan.Deleted()), len(plan.AgeExpired), len(plan.CountExpired), len(plan.Survivors))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "categorise without deleting")
	return cmd
}
