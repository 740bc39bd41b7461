package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"text2sql/internal/catalog"
	"text2sql/internal/loop"
)

func newIngestCommand(a *app) *cobra.Command {
	var (
		ref     string
		preview bool
	)

	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Load CSV files into a SQLite store",
		Long: `Load one or more CSV files, one table per file. Without --db a new store
is created and its name printed; with --db tables are added to an existing
store, replacing same-named tables. A file that cannot be loaded is
reported and the others still load.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := a.services(ctx, false)
			if err != nil {
				return err
			}
			defer svc.Close()

			datasets := make([]catalog.Dataset, len(args))
			for i, path := range args {
				datasets[i] = catalog.FileDataset(path)
			}

			in, err := svc.manager.Ingest(ctx, loop.IngestRequest{Database: ref, Datasets: datasets})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "database: %s\n\n", in.Database)
			fmt.Fprint(out, in.Schema)
			if preview {
				for _, p := range in.Previews {
					if err := printPreview(out, p); err != nil {
						return err
					}
				}
			}

			for _, e := range in.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "failed: %v\n", e)
			}
			if len(in.Errors) > 0 {
				return fmt.Errorf("%d of %d files failed to load", len(in.Errors), len(datasets))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&ref, "db", "", "existing store to add tables to")
	cmd.Flags().BoolVar(&preview, "preview", false, "print column statistics and the first rows of each table")
	return cmd
}
