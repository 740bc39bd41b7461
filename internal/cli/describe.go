package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"text2sql/internal/catalog"
)

func newDescribeCommand(a *app) *cobra.Command {
	var ref string

	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Show the schema of a store, or list stores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := a.services(ctx, false)
			if err != nil {
				return err
			}
			defer svc.Close()

			out := cmd.OutOrStdout()
			if ref == "" {
				refs, err := svc.catalog.Stores()
				if err != nil {
					return err
				}
				for _, r := range refs {
					fmt.Fprintln(out, r)
					datasets, err := svc.manager.Storage().Datasets(ctx, r)
					if err != nil {
						return err
					}
					for _, d := range datasets {
						fmt.Fprintf(out, "  %s (from %s): %d rows, %d columns\n", d.Table, d.Source, d.RowCount, d.ColumnCount)
					}
				}
				return nil
			}

			tables, err := svc.manager.Describe(ctx, ref)
			if err != nil {
				return err
			}
			fmt.Fprint(out, catalog.FormatSchema(tables))
			return nil
		},
	}

	cmd.Flags().StringVar(&ref, "db", "", "store to describe (default: list stores)")
	return cmd
}
