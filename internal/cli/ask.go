package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"text2sql/internal/loop"
)

func newAskCommand(a *app) *cobra.Command {
	var (
		ref         string
		revisions   int
		temperature float64
		csvPath     string
		noExec      bool
	)

	cmd := &cobra.Command{
		Use:   "ask QUESTION",
		Short: "Answer a question about a store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := a.services(ctx, true)
			if err != nil {
				return err
			}
			defer svc.Close()

			req := loop.AskRequest{
				Question:      args[0],
				Database:      ref,
				RevisionLimit: revisions,
				SkipExecution: noExec,
			}
			if cmd.Flags().Changed("temperature") {
				req.Temperature = &temperature
			}

			resp, err := svc.manager.Ask(ctx, req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "session: %s\n", resp.SessionID)
			if resp.NoQuery {
				fmt.Fprintln(out, "The model did not produce a SQL query.")
				return loop.ErrNoQuery
			}

			fmt.Fprintf(out, "\n%s\n\n", resp.SQL)
			if resp.Accepted {
				fmt.Fprintf(out, "accepted after %d revision(s)\n", resp.Revisions)
			} else {
				fmt.Fprintf(out, "not accepted after %d revision(s); last feedback:\n", resp.Revisions)
				if n := len(resp.Feedback); n > 0 {
					fmt.Fprintf(out, "  %s\n", resp.Feedback[n-1])
				}
			}

			if resp.ExecError != nil {
				return fmt.Errorf("query failed: %w", resp.ExecError)
			}
			if resp.Table == nil {
				return nil
			}

			fmt.Fprintln(out)
			if err := printTable(out, resp.Table); err != nil {
				return err
			}
			if csvPath != "" {
				if err := writeCSVFile(csvPath, resp.Table); err != nil {
					return fmt.Errorf("failed to write %s: %w", csvPath, err)
				}
				fmt.Fprintf(out, "results written to %s\n", csvPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&ref, "db", "", "store to query (required)")
	cmd.Flags().IntVar(&revisions, "revisions", 0, "maximum writer attempts (default from config)")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "sampling temperature (default from config)")
	cmd.Flags().StringVar(&csvPath, "csv", "", "also write the result table to this CSV file")
	cmd.Flags().BoolVar(&noExec, "no-exec", false, "stop after the loop without running the query")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}

