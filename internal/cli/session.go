package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newSessionCommand(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "session [ID]",
		Short: "Print a session's transitions, feedback and result as JSON, or list recent sessions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := a.services(ctx, false)
			if err != nil {
				return err
			}
			defer svc.Close()

			storage := svc.manager.Storage()
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				sessions, err := storage.RecentSessions(ctx, limit)
				if err != nil {
					return err
				}
				tw := newTabWriter(out)
				fmt.Fprintln(tw, "ID\tSTATUS\tREVISIONS\tDATABASE\tQUESTION")
				for _, s := range sessions {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", s.ID, s.Status, s.Revisions, s.DatabaseRef, s.Question)
				}
				return tw.Flush()
			}

			report, err := storage.LoadSession(ctx, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of sessions to list when no ID is given")
	return cmd
}
