package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"text2sql/internal/database"
)

func newMigrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the state database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := database.OpenState(cmd.Context(), a.cfg.Storage.StateDB, a.logger)
			if err != nil {
				return err
			}
			defer state.Close()

			version, err := database.MigrationVersion(state)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s at schema version %d\n", a.cfg.Storage.StateDB, version)
			return nil
		},
	}
}
