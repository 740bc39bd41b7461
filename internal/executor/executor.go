// Package executor runs SQL against a materialized store. Failures are
// returned as data so callers can display them.
package executor

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"text2sql/internal/database"
)

const timestampLayout = "2006-01-02 15:04:05"

// ExecutionError carries the engine's rejection of a query.
type ExecutionError struct {
	Query   string `json:"query"`
	Message string `json:"message"`
}

func (e *ExecutionError) Error() string {
	return e.Message
}

// Table is an ordered tabular result.
type Table struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// WriteCSV writes the header followed by every row. NULL becomes an empty
// cell.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i, v := range row {
			record[i] = formatCell(v)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Result holds either a table or an execution error, never both.
type Result struct {
	Table   *Table          `json:"table,omitempty"`
	Err     *ExecutionError `json:"error,omitempty"`
	Elapsed time.Duration   `json:"elapsed"`
}

// OK reports whether the query produced a table.
func (r Result) OK() bool { return r.Err == nil }

// Resolver maps a store reference to a file path.
type Resolver interface {
	Path(ref string) (string, error)
}

// Executor runs single-attempt queries.
type Executor struct {
	resolver Resolver
	logger   *zap.Logger
}

// New creates an executor.
func New(resolver Resolver, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{resolver: resolver, logger: logger}
}

// Execute opens the store, runs query and releases the connection. It never
// returns a Go error; every failure lands in Result.Err.
func (e *Executor) Execute(ctx context.Context, ref, query string) Result {
	start := time.Now()
	table, err := e.run(ctx, ref, query)
	res := Result{Elapsed: time.Since(start)}
	if err != nil {
		res.Err = &ExecutionError{Query: query, Message: err.Error()}
		e.logger.Info("query rejected", zap.String("database", ref), zap.Error(err))
		return res
	}
	res.Table = table
	e.logger.Debug("query executed",
		zap.String("database", ref),
		zap.Int("rows", len(table.Rows)),
		zap.Duration("elapsed", res.Elapsed))
	return res
}

func (e *Executor) run(ctx context.Context, ref, query string) (*Table, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty query")
	}
	path, err := e.resolver.Path(ref)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("database %s not found", ref)
	}

	db, err := database.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scan(rows)
}

func scan(rows *sql.Rows) (*Table, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	t := &Table{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			values[i] = normalize(v)
		}
		t.Rows = append(t.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

func normalize(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(timestampLayout)
	default:
		return v
	}
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
