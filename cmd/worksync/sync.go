package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/JohanCodinha/worksync/internal/store"
	"github.com/JohanCodinha/worksync/internal/sync"
)

func newSyncCmd(a *app) *cobra.Command {
	var windowDays int

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull data from Jira into the local store",
		Long: `Pull data from Jira into the local store.

Each sync is recorded in the run history (see "worksync runs"). A transport
or authentication failure marks the run failed; records that cannot be
converted are skipped and counted.`,
	}
	cmd.PersistentFlags().IntVar(&windowDays, "window-days", 0, "days of worklogs to fetch (default sync.window_days)")

	window := func() int {
		if windowDays > 0 {
			return windowDays
		}
		return a.cfg.Sync.WindowDays
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "worklogs",
		Short: "Sync worklogs updated within the window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.engine()
			if err != nil {
				return err
			}
			stats, err := engine.Worklogs.Sync(cmd.Context(), window())
			if err != nil {
				return fmt.Errorf("worklog sync failed: %w", err)
			}
			printStats(cmd.OutOrStdout(), store.SyncTypeWorklogs, stats)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "users",
		Short: "Sync members of the configured Jira group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.engine()
			if err != nil {
				return err
			}
			stats, err := engine.Users.Sync(cmd.Context())
			if err != nil {
				return fmt.Errorf("user sync failed: %w", err)
			}
			printUserStats(cmd.OutOrStdout(), stats)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "projects",
		Short: "Sync the Jira project list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.engine()
			if err != nil {
				return err
			}
			stats, err := engine.Projects.Sync(cmd.Context())
			if err != nil {
				return fmt.Errorf("project sync failed: %w", err)
			}
			printStats(cmd.OutOrStdout(), store.SyncTypeProjects, stats)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "all",
		Short: "Sync projects, then users, then worklogs",
		Long: `Sync projects, then users, then worklogs. Each stage is its own run; a
failed stage does not stop the ones after it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.engine()
			if err != nil {
				return err
			}
			summary, err := engine.SyncAll(cmd.Context(), window())
			out := cmd.OutOrStdout()
			printStats(out, store.SyncTypeProjects, summary.Projects)
			printUserStats(out, summary.Users)
			printStats(out, store.SyncTypeWorklogs, summary.Worklogs)
			if err != nil {
				return fmt.Errorf("full sync failed: %w", err)
			}
			return nil
		},
	})

	return cmd
}

func printStats(w io.Writer, syncType string, s sync.Stats) {
	fmt.Fprintf(w, "%s: %d added, %d updated, %d errors\n", syncType, s.Added, s.Updated, s.Errors)
}

func printUserStats(w io.Writer, s sync.UserStats) {
	fmt.Fprintf(w, "users: %d synced (%d added, %d updated)\n", s.UsersSynced, s.Added, s.Updated)
}

func newRunsCmd(a *app) *cobra.Command {
	var (
		syncType string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent sync runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch syncType {
			case "", store.SyncTypeWorklogs, store.SyncTypeUsers, store.SyncTypeProjects:
			default:
				return fmt.Errorf("invalid --type %q: must be worklogs, users or projects", syncType)
			}

			db, err := a.openStore()
			if err != nil {
				return err
			}
			runs, err := db.ListSyncRuns(cmd.Context(), syncType, limit)
			if err != nil {
				return err
			}
			printRuns(cmd.OutOrStdout(), runs, time.Now())
			return nil
		},
	}
	cmd.Flags().StringVar(&syncType, "type", "", "only show runs of this type (worklogs, users, projects)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to show")
	return cmd
}

func printRuns(w io.Writer, runs []store.SyncRun, now time.Time) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no sync runs recorded")
		return
	}
	for _, r := range runs {
		duration := "-"
		if r.CompletedAt != nil {
			duration = r.Duration().Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%-6d %-9s %s %6d  %-10s %s\n",
			r.ID, r.SyncType, statusLabel(r.Status), r.ItemsProcessed, duration,
			humanize.RelTime(r.StartedAt, now, "ago", "from now"))
		if r.ErrorMessage != "" {
			fmt.Fprintf(w, "       %s\n", r.ErrorMessage)
		}
	}
}

// statusLabel pads the status before colouring so columns stay aligned.
func statusLabel(status string) string {
	padded := fmt.Sprintf("%-11s", status)
	switch status {
	case store.RunCompleted:
		return color.GreenString("%s", padded)
	case store.RunFailed:
		return color.RedString("%s", padded)
	case store.RunInProgress:
		return color.YellowString("%s", padded)
	default:
		return padded
	}
}
