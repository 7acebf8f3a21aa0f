package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.loader.YAML()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if file := a.loader.ConfigFile(); file != "" {
				fmt.Fprintf(w, "# %s\n", file)
			}
			_, err = w.Write(out)
			return err
		},
	})

	return cmd
}
