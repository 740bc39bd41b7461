package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Result is the published outcome of executing a session's final query.
type Result struct {
	SessionID string    `json:"session_id"`
	SQL       string    `json:"sql"`
	RowCount  int       `json:"row_count"`
	Columns   []string  `json:"columns"`
	Error     string    `json:"error"`
	CreatedAt time.Time `json:"created_at"`
}

// Aggregate summarizes one metric series.
type Aggregate struct {
	Count int     `json:"count"`
	Avg   float64 `json:"avg"`
	Max   float64 `json:"max"`
	Min   float64 `json:"min"`
}

// OutputDB provides helper methods for published results and metrics
type OutputDB struct {
	db *sql.DB
}

// NewOutputDB creates a new output database helper
func NewOutputDB(db *sql.DB) *OutputDB {
	return &OutputDB{db: db}
}

// PublishResult stores or replaces the result of a session.
func (o *OutputDB) PublishResult(ctx context.Context, r Result) error {
	cols, err := json.Marshal(r.Columns)
	if err != nil {
		return fmt.Errorf("failed to marshal columns: %w", err)
	}

	_, err = o.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO results (session_id, sql_text, row_count, columns, error, created_at)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), ?)
	`, r.SessionID, r.SQL, r.RowCount, string(cols), r.Error, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to publish result: %w", err)
	}
	return nil
}

// GetResult retrieves the published result of a session.
func (o *OutputDB) GetResult(ctx context.Context, sessionID string) (*Result, error) {
	var (
		r         = Result{SessionID: sessionID}
		cols      sql.NullString
		errText   sql.NullString
		createdAt int64
	)
	err := o.db.QueryRowContext(ctx, `
		SELECT sql_text, row_count, columns, error, created_at
		FROM results
		WHERE session_id = ?
	`, sessionID).Scan(&r.SQL, &r.RowCount, &cols, &errText, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("result %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	if cols.Valid && cols.String != "" {
		if err := json.Unmarshal([]byte(cols.String), &r.Columns); err != nil {
			return nil, fmt.Errorf("failed to unmarshal columns: %w", err)
		}
	}
	r.Error = errText.String
	r.CreatedAt = time.Unix(createdAt, 0)
	return &r, nil
}

// RecordMetric records a metric value
func (o *OutputDB) RecordMetric(ctx context.Context, name string, value float64) error {
	_, err := o.db.ExecContext(ctx, `
		INSERT INTO metrics (timestamp, metric_name, metric_value)
		VALUES (?, ?, ?)
	`, time.Now().Unix(), name, value)
	if err != nil {
		return fmt.Errorf("failed to record metric: %w", err)
	}
	return nil
}

// GetAggregatedMetrics retrieves aggregated metrics
func (o *OutputDB) GetAggregatedMetrics(ctx context.Context, since time.Time) (map[string]Aggregate, error) {
	rows, err := o.db.QueryContext(ctx, `
		SELECT metric_name, COUNT(*), AVG(metric_value), MAX(metric_value), MIN(metric_value)
		FROM metrics
		WHERE timestamp >= ?
		GROUP BY metric_name
	`, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate metrics: %w", err)
	}
	defer rows.Close()

	results := make(map[string]Aggregate)
	for rows.Next() {
		var name string
		var a Aggregate
		if err := rows.Scan(&name, &a.Count, &a.Avg, &a.Max, &a.Min); err != nil {
			return nil, err
		}
		results[name] = a
	}
	return results, rows.Err()
}
