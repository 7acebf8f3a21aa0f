package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/JohanCodinha/worksync/internal/md"
	"github.com/JohanCodinha/worksync/internal/report"
	"github.com/JohanCodinha/worksync/internal/store"
)

func newReportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print reports as markdown",
	}
	cmd.AddCommand(newWorkloadCmd(a), newMissingCmd(a), newShadowCmd(a))
	return cmd
}

func newWorkloadCmd(a *app) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "workload",
		Short: "Compare logged and planned hours per user and month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			month := time.Now().Format("2006-01")
			if from == "" {
				from = month
			}
			if to == "" {
				to = from
			}

			db, err := a.openStore()
			if err != nil {
				return err
			}
			rows, err := report.New(db).WorkloadAnalysis(cmd.Context(), from, to)
			if err != nil {
				return err
			}

			doc := md.Document{
				Title:   "Workload",
				Meta:    map[string]interface{}{"from": from, "to": to},
				Headers: []string{"User", "Month", "Actual", "Planned", "Overload %"},
			}
			for _, r := range rows {
				doc.Rows = append(doc.Rows, []string{
					r.UserName, r.Month, formatHours(r.ActualHours), formatHours(r.PlannedHours),
					strconv.FormatFloat(r.OverloadPercentage, 'f', 2, 64),
				})
			}
			return writeDocument(cmd, doc)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first month, YYYY-MM (default current month)")
	cmd.Flags().StringVar(&to, "to", "", "last month, YYYY-MM (default --from)")
	return cmd
}

func newMissingCmd(a *app) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "missing",
		Short: "List weekdays on which active users logged nothing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openStore()
			if err != nil {
				return err
			}
			alerts, err := report.New(db).MissingWorklogAlerts(cmd.Context(), days)
			if err != nil {
				return err
			}

			doc := md.Document{
				Title:   "Missing worklogs",
				Meta:    map[string]interface{}{"days": days},
				Headers: []string{"User", "Date"},
			}
			for _, m := range alerts {
				doc.Rows = append(doc.Rows, []string{m.UserName, m.Date})
			}
			return writeDocument(cmd, doc)
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "calendar days to check, ending yesterday")
	return cmd
}

func newShadowCmd(a *app) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "shadow",
		Short: "List worklogs on projects the user is not assigned to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fromDate, toDate, err := parseRange(from, to, time.Now(), 30)
			if err != nil {
				return err
			}

			db, err := a.openStore()
			if err != nil {
				return err
			}
			worklogs, err := report.New(db).ShadowWork(cmd.Context(), fromDate, toDate)
			if err != nil {
				return err
			}

			doc := md.Document{
				Title: "Shadow work",
				Meta: map[string]interface{}{
					"from": fromDate.Format(store.DateLayout),
					"to":   toDate.Format(store.DateLayout),
				},
				Headers: []string{"User", "Project", "Issue", "Date", "Hours"},
			}
			for _, w := range worklogs {
				doc.Rows = append(doc.Rows, []string{
					w.UserName, w.ProjectKey, w.IssueKey, w.WorkDate.Format(store.DateLayout), formatHours(w.Hours),
				})
			}
			return writeDocument(cmd, doc)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day, YYYY-MM-DD (default 30 days ago)")
	cmd.Flags().StringVar(&to, "to", "", "last day, YYYY-MM-DD (default today)")
	return cmd
}

// parseRange parses optional YYYY-MM-DD bounds. An empty to means today and
// an empty from means defaultDays before to.
func parseRange(from, to string, now time.Time, defaultDays int) (time.Time, time.Time, error) {
	toDate := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if to != "" {
		d, err := time.Parse(store.DateLayout, to)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to %q: want YYYY-MM-DD", to)
		}
		toDate = d
	}

	fromDate := toDate.AddDate(0, 0, -defaultDays)
	if from != "" {
		d, err := time.Parse(store.DateLayout, from)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from %q: want YYYY-MM-DD", from)
		}
		fromDate = d
	}
	return fromDate, toDate, nil
}

func formatHours(h float64) string {
	return strconv.FormatFloat(h, 'f', -1, 64)
}

func writeDocument(cmd *cobra.Command, doc md.Document) error {
	doc.Meta["generated_at"] = time.Now().UTC().Format(time.RFC3339)
	out, err := md.Format(doc)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), out)
	return err
}
