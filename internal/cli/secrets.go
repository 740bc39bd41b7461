package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"text2sql/internal/database"
)

func newSecretsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage secrets kept in the state database",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set NAME VALUE",
		Short: "Store a secret, e.g. " + APIKeySecret,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := database.OpenState(cmd.Context(), a.cfg.Storage.StateDB, a.logger)
			if err != nil {
				return err
			}
			defer state.Close()

			if err := database.NewMetadataDB(state).SetSecret(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "secret %s stored\n", args[0])
			return nil
		},
	})
	return cmd
}
