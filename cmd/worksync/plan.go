package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/JohanCodinha/worksync/internal/store"
)

func newPlanCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Record allocations, project assignments and absences",
		Long: `Record the planning data the reports compare worklogs against:
monthly planned hours, project assignments and declared absences.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "allocate <user> <YYYY-MM> <hours>",
		Short: "Set a user's planned hours for a month",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := time.Parse("2006-01", args[1]); err != nil {
				return fmt.Errorf("invalid month %q: want YYYY-MM", args[1])
			}
			hours, err := strconv.ParseFloat(args[2], 64)
			if err != nil || hours < 0 {
				return fmt.Errorf("invalid hours %q", args[2])
			}
			db, err := a.openStore()
			if err != nil {
				return err
			}
			return db.SetAllocation(cmd.Context(), store.Allocation{UserName: args[0], Month: args[1], PlannedHours: hours})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "assign <user> <project>",
		Short: "Assign a user to a project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openStore()
			if err != nil {
				return err
			}
			return db.AddAssignment(cmd.Context(), store.Assignment{UserName: args[0], ProjectKey: args[1]})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "unassign <user> <project>",
		Short: "Remove a project assignment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openStore()
			if err != nil {
				return err
			}
			return db.RemoveAssignment(cmd.Context(), store.Assignment{UserName: args[0], ProjectKey: args[1]})
		},
	})

	var reason string
	absence := &cobra.Command{
		Use:   "absence <user> <from> <to>",
		Short: "Declare an absence, inclusive of both dates",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := time.Parse(store.DateLayout, args[1])
			if err != nil {
				return fmt.Errorf("invalid start date %q: want YYYY-MM-DD", args[1])
			}
			end, err := time.Parse(store.DateLayout, args[2])
			if err != nil {
				return fmt.Errorf("invalid end date %q: want YYYY-MM-DD", args[2])
			}
			if end.Before(start) {
				return fmt.Errorf("absence ends before it starts")
			}
			db, err := a.openStore()
			if err != nil {
				return err
			}
			id, err := db.AddUnavailability(cmd.Context(), store.Unavailability{
				UserName: args[0], StartDate: start, EndDate: end, Reason: reason,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recorded absence %d\n", id)
			return nil
		},
	}
	absence.Flags().StringVar(&reason, "reason", "", "free-text reason")
	cmd.AddCommand(absence)

	return cmd
}
