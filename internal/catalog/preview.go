package catalog

import "fmt"

// ColumnStat summarizes one column of an ingested dataset.
type ColumnStat struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Unique     int     `json:"unique"`
	Missing    int     `json:"missing"`
	MissingPct float64 `json:"missing_pct"`
}

// Preview is the in-memory look at a dataset returned by ingestion.
type Preview struct {
	Table          string       `json:"table"`
	Source         string       `json:"source"`
	Columns        []string     `json:"columns"`
	Rows           [][]any      `json:"rows"`
	RowCount       int          `json:"row_count"`
	ColumnCount    int          `json:"column_count"`
	NumericColumns []string     `json:"numeric_columns"`
	MissingValues  int          `json:"missing_values"`
	ColumnStats    []ColumnStat `json:"column_stats"`
}

func buildPreview(t *table, limit int) Preview {
	p := Preview{
		Table:       t.name,
		Source:      t.source,
		Columns:     make([]string, len(t.columns)),
		RowCount:    len(t.rows),
		ColumnCount: len(t.columns),
		ColumnStats: make([]ColumnStat, len(t.columns)),
	}

	n := min(limit, len(t.rows))
	if n > 0 {
		p.Rows = t.rows[:n]
	}

	for i, c := range t.columns {
		p.Columns[i] = c.Name
		if c.Type == TypeInteger || c.Type == TypeReal {
			p.NumericColumns = append(p.NumericColumns, c.Name)
		}

		distinct := make(map[string]struct{})
		missing := 0
		for _, row := range t.rows {
			if row[i] == nil {
				missing++
				continue
			}
			distinct[fmt.Sprint(row[i])] = struct{}{}
		}

		stat := ColumnStat{Name: c.Name, Type: c.Type, Unique: len(distinct), Missing: missing}
		if len(t.rows) > 0 {
			stat.MissingPct = float64(missing) / float64(len(t.rows)) * 100
		}
		p.ColumnStats[i] = stat
		p.MissingValues += missing
	}
	return p
}
