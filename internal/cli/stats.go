package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatsCommand(a *app) *cobra.Command {
	var window time.Duration

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show session counts, model usage, metrics and latency percentiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := a.services(ctx, false)
			if err != nil {
				return err
			}
			defer svc.Close()

			stats, err := svc.manager.Storage().Stats(ctx, window)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "sessions: %d (avg revisions %.2f)\n", stats.Sessions.Total, stats.Sessions.AvgRevisions)
			tw := newTabWriter(out)
			for _, status := range sortedKeys(stats.Sessions.ByStatus) {
				fmt.Fprintf(tw, "  %s\t%d\n", status, stats.Sessions.ByStatus[status])
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			fmt.Fprintln(out, "\nmodel usage:")
			tw = newTabWriter(out)
			fmt.Fprintln(tw, "  ROLE\tCALLS\tPROMPT\tCOMPLETION\tAVG MS")
			for _, role := range sortedKeys(stats.Usage) {
				u := stats.Usage[role]
				fmt.Fprintf(tw, "  %s\t%d\t%d\t%d\t%.0f\n", role, u.Calls, u.PromptTokens, u.CompletionTokens, u.AvgLatencyMs)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			fmt.Fprintf(out, "\nlast %s:\n", window)
			tw = newTabWriter(out)
			fmt.Fprintln(tw, "  OPERATION\tCOUNT\tP50 MS\tP95 MS\tP99 MS")
			for _, op := range sortedKeys(stats.Latencies) {
				p := stats.Latencies[op]
				fmt.Fprintf(tw, "  %s\t%d\t%.0f\t%.0f\t%.0f\n", op, p.Count, p.P50, p.P95, p.P99)
			}
			fmt.Fprintln(tw, "  METRIC\tCOUNT\tAVG\tMIN\tMAX")
			for _, name := range sortedKeys(stats.Metrics) {
				m := stats.Metrics[name]
				fmt.Fprintf(tw, "  %s\t%d\t%.2f\t%.2f\t%.2f\n", name, m.Count, m.Avg, m.Min, m.Max)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().DurationVar(&window, "window", time.Hour, "how far back to aggregate metrics and latencies")
	return cmd
}
