package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JohanCodinha/worksync/internal/access"
	"github.com/JohanCodinha/worksync/internal/auth"
	"github.com/JohanCodinha/worksync/internal/store"
)

func newAccountCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage protected local accounts",
		Long: `Manage protected local accounts.

A protected account keeps its role and password hash when user sync
rewrites the users table. Use it for administrators that do not exist in
Jira or whose Jira role must not apply.`,
	}
	cmd.AddCommand(newProtectCmd(a), newUnprotectCmd(a), newListAccountsCmd(a))
	return cmd
}

func newProtectCmd(a *app) *cobra.Command {
	var (
		role          string
		password      string
		passwordStdin bool
		changedBy     string
	)

	cmd := &cobra.Command{
		Use:   "protect <user>",
		Short: "Create or protect an account with a fixed role and password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !access.ValidRole(role) {
				return fmt.Errorf("invalid role %q: must be user, manager, admin or superadmin", role)
			}
			if passwordStdin {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("failed to read password from stdin: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}

			hash := ""
			if password != "" {
				var err error
				if hash, err = auth.HashPassword(password); err != nil {
					return err
				}
			}

			db, err := a.openStore()
			if err != nil {
				return err
			}
			if err := db.ProtectAccount(cmd.Context(), args[0], role, hash, changedBy); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "protected %s as %s\n", args[0], role)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", access.RoleSuperAdmin, "role to pin")
	cmd.Flags().StringVar(&password, "password", "", "API login password")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	cmd.Flags().StringVar(&changedBy, "by", defaultActor(), "name recorded in the change history")
	cmd.MarkFlagsMutuallyExclusive("password", "password-stdin")
	return cmd
}

func newUnprotectCmd(a *app) *cobra.Command {
	var changedBy string

	cmd := &cobra.Command{
		Use:   "unprotect <user>",
		Short: "Let user sync manage the account again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openStore()
			if err != nil {
				return err
			}
			if err := db.UnprotectAccount(cmd.Context(), args[0], changedBy); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unprotected %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&changedBy, "by", defaultActor(), "name recorded in the change history")
	return cmd
}

func newListAccountsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List protected accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openStore()
			if err != nil {
				return err
			}
			accounts, err := db.ListProtectedAccounts(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(accounts) == 0 {
				fmt.Fprintln(out, "no protected accounts")
				return nil
			}
			for _, p := range accounts {
				fmt.Fprintf(out, "%-20s %-11s %-8s %s\n", p.UserName, p.Role, passwordState(p), p.ProtectedAt.Format(store.DateLayout))
			}
			return nil
		},
	}
}

func passwordState(p store.ProtectedAccount) string {
	if p.PasswordHash == "" {
		return "no-login"
	}
	return "login"
}
