package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			v, err := store.Migrate()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Database schema at version %d\n", v)
			return nil
		},
	}
}
