package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newExecCommand(a *app) *cobra.Command {
	var ref, csvPath string

	cmd := &cobra.Command{
		Use:   "exec SQL",
		Short: "Run a SQL statement against a store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := a.services(ctx, false)
			if err != nil {
				return err
			}
			defer svc.Close()

			res := svc.manager.Execute(ctx, ref, args[0])
			if !res.OK() {
				return fmt.Errorf("query failed: %w", res.Err)
			}

			out := cmd.OutOrStdout()
			if err := printTable(out, res.Table); err != nil {
				return err
			}
			if csvPath != "" {
				if err := writeCSVFile(csvPath, res.Table); err != nil {
					return fmt.Errorf("failed to write %s: %w", csvPath, err)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&ref, "db", "", "store to query (required)")
	cmd.Flags().StringVar(&csvPath, "csv", "", "also write the result table to this CSV file")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}
