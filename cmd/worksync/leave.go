package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/JohanCodinha/worksync/internal/leave"
	"github.com/JohanCodinha/worksync/internal/store"
)

func newLeaveCmd(a *app) *cobra.Command {
	var (
		year      int
		changedBy string
	)

	cmd := &cobra.Command{
		Use:   "leave",
		Short: "Inspect and change yearly leave balances",
	}
	cmd.PersistentFlags().IntVar(&year, "year", 0, "balance year (default current year)")
	cmd.PersistentFlags().StringVar(&changedBy, "by", defaultActor(), "name recorded in the change history")

	cmd.AddCommand(&cobra.Command{
		Use:   "balance <user>",
		Short: "Show a user's balance, creating it if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, userID, err := a.ledgerFor(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			b, err := ledger.GetOrCreate(cmd.Context(), userID, year)
			if err != nil {
				return err
			}
			printBalance(cmd.OutOrStdout(), args[0], b)
			return nil
		},
	})

	type mutation func(l *leave.Ledger, ctx context.Context, userID int64, year int, days float64, changedBy string) (*store.LeaveBalance, error)
	for _, m := range []struct {
		use, short string
		fn         mutation
	}{
		{"request <user> <days>", "Reserve days of leave as pending", (*leave.Ledger).Request},
		{"approve <user> <days>", "Move pending days to used", (*leave.Ledger).Approve},
		{"reject <user> <days>", "Release pending days", (*leave.Ledger).Reject},
	} {
		fn := m.fn
		cmd.AddCommand(&cobra.Command{
			Use:   m.use,
			Short: m.short,
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				days, err := parseDays(args[1])
				if err != nil {
					return err
				}
				ledger, userID, err := a.ledgerFor(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				b, err := fn(ledger, cmd.Context(), userID, year, days, changedBy)
				if errors.Is(err, leave.ErrInsufficientBalance) {
					return fmt.Errorf("cannot request %g days for %s: %w", days, args[0], err)
				}
				if err != nil {
					return err
				}
				printBalance(cmd.OutOrStdout(), args[0], b)
				return nil
			},
		})
	}

	return cmd
}

func (a *app) ledgerFor(ctx context.Context, userName string) (*leave.Ledger, int64, error) {
	db, err := a.openStore()
	if err != nil {
		return nil, 0, err
	}
	u, err := db.GetUser(ctx, userName)
	if errors.Is(err, store.ErrNotFound) {
		return nil, 0, fmt.Errorf("unknown user %q: run \"worksync sync users\" first", userName)
	}
	if err != nil {
		return nil, 0, err
	}
	return leave.New(db), u.ID, nil
}

func parseDays(s string) (float64, error) {
	days, err := strconv.ParseFloat(s, 64)
	if err != nil || days <= 0 {
		return 0, fmt.Errorf("invalid day count %q: must be a positive number", s)
	}
	return days, nil
}

func printBalance(w io.Writer, userName string, b *store.LeaveBalance) {
	fmt.Fprintf(w, "%s %d: total %g, carried over %g, used %g, pending %g, remaining %g\n",
		userName, b.Year, b.TotalDays, b.CarriedOver, b.UsedDays, b.PendingDays, b.RemainingDays())
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}
