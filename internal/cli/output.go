package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"text2sql/internal/catalog"
	"text2sql/internal/executor"
)

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func printTable(w io.Writer, t *executor.Table) error {
	tw := newTabWriter(w)
	fmt.Fprintln(tw, strings.Join(t.Columns, "\t"))
	cells := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i, v := range row {
			cells[i] = cell(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "(%d rows)\n", len(t.Rows))
	return nil
}

func printPreview(w io.Writer, p catalog.Preview) error {
	fmt.Fprintf(w, "\n%s (from %s): %d rows, %d columns, %d missing values\n",
		p.Table, p.Source, p.RowCount, p.ColumnCount, p.MissingValues)
	if len(p.NumericColumns) > 0 {
		fmt.Fprintf(w, "numeric: %s\n", strings.Join(p.NumericColumns, ", "))
	}

	tw := newTabWriter(w)
	fmt.Fprintln(tw, "COLUMN\tTYPE\tUNIQUE\tMISSING\tMISSING %")
	for _, s := range p.ColumnStats {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.1f\n", s.Name, s.Type, s.Unique, s.Missing, s.MissingPct)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	return printTable(w, &executor.Table{Columns: p.Columns, Rows: p.Rows})
}

func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func writeCSVFile(path string, t *executor.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := t.WriteCSV(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
