package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Session statuses.
const (
	StatusRunning   = "running"
	StatusAccepted  = "accepted"
	StatusExhausted = "exhausted"
	StatusFailed    = "failed"
)

// Session is one question put through the revision loop.
type Session struct {
	ID            string    `json:"id"`
	Question      string    `json:"question"`
	DatabaseRef   string    `json:"database_ref"`
	RevisionLimit int       `json:"revision_limit"`
	Status        string    `json:"status"`
	FinalSQL      string    `json:"final_sql"`
	Accepted      bool      `json:"accepted"`
	Revisions     int       `json:"revisions"`
	Error         string    `json:"error"`
	CreatedAt     time.Time `json:"created_at"`
	CompletedAt   time.Time `json:"completed_at"`
}

// Transition is one checkpoint of the loop state.
type Transition struct {
	SessionID string    `json:"session_id"`
	Seq       int       `json:"seq"`
	Phase     string    `json:"phase"`
	Revision  int       `json:"revision"`
	SQL       string    `json:"sql"`
	SQLDiff   string    `json:"sql_diff"`
	CreatedAt time.Time `json:"created_at"`
}

// Usage is the accounting for one model invocation.
type Usage struct {
	RequestID        string
	SessionID        string
	Role             string
	Model            string
	Temperature      float64
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// UsageTotal aggregates usage for one role.
type UsageTotal struct {
	Calls            int     `json:"calls"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	AvgLatencyMs     float64 `json:"avg_latency_ms"`
}

// Dataset records one ingested table.
type Dataset struct {
	DatabaseRef string    `json:"database_ref"`
	Table       string    `json:"table"`
	Source      string    `json:"source"`
	RowCount    int       `json:"row_count"`
	ColumnCount int       `json:"column_count"`
	IngestedAt  time.Time `json:"ingested_at"`
}

// LifecycleDB provides helper methods for session lifecycle records
type LifecycleDB struct {
	db *sql.DB
}

// NewLifecycleDB creates a new lifecycle database helper
func NewLifecycleDB(db *sql.DB) *LifecycleDB {
	return &LifecycleDB{db: db}
}

// CreateSession inserts a session in the running state.
func (l *LifecycleDB) CreateSession(ctx context.Context, s Session) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, question, database_ref, revision_limit, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.ID, s.Question, s.DatabaseRef, s.RevisionLimit, StatusRunning, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID
func (l *LifecycleDB) GetSession(ctx context.Context, id string) (*Session, error) {
	var (
		s                 Session
		finalSQL, errText sql.NullString
		accepted          int
		createdAt         int64
		completedAt       sql.NullInt64
	)
	err := l.db.QueryRowContext(ctx, `
		SELECT session_id, question, database_ref, revision_limit, status,
		       final_sql, accepted, revisions, error, created_at, completed_at
		FROM sessions
		WHERE session_id = ?
	`, id).Scan(&s.ID, &s.Question, &s.DatabaseRef, &s.RevisionLimit, &s.Status,
		&finalSQL, &accepted, &s.Revisions, &errText, &createdAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	s.FinalSQL = finalSQL.String
	s.Error = errText.String
	s.Accepted = accepted == 1
	s.CreatedAt = time.Unix(createdAt, 0)
	if completedAt.Valid {
		s.CompletedAt = time.Unix(completedAt.Int64, 0)
	}
	return &s, nil
}

// CompleteSession stores the terminal status of a session.
func (l *LifecycleDB) CompleteSession(ctx context.Context, id, status, finalSQL string, accepted bool, revisions int, errText string) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE sessions
		SET status = ?, final_sql = ?, accepted = ?, revisions = ?, error = NULLIF(?, ''), completed_at = ?
		WHERE session_id = ?
	`, status, finalSQL, boolInt(accepted), revisions, errText, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to complete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListSessions returns the most recent sessions first.
func (l *LifecycleDB) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT session_id, question, database_ref, status, accepted, revisions, created_at
		FROM sessions
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			s         Session
			accepted  int
			createdAt int64
		)
		if err := rows.Scan(&s.ID, &s.Question, &s.DatabaseRef, &s.Status, &accepted, &s.Revisions, &createdAt); err != nil {
			return nil, err
		}
		s.Accepted = accepted == 1
		s.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, s)
	}
	return out, rows.Err()
}

// RecordTransition appends a loop checkpoint.
func (l *LifecycleDB) RecordTransition(ctx context.Context, t Transition) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO session_transitions (session_id, seq, phase, revision, sql_text, sql_diff, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, t.SessionID, t.Seq, t.Phase, t.Revision, t.SQL, t.SQLDiff, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}
	return nil
}

// Transitions returns the checkpoints of a session in order.
func (l *LifecycleDB) Transitions(ctx context.Context, sessionID string) ([]Transition, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT seq, phase, revision, COALESCE(sql_text, ''), COALESCE(sql_diff, ''), created_at
		FROM session_transitions
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		t := Transition{SessionID: sessionID}
		var createdAt int64
		if err := rows.Scan(&t.Seq, &t.Phase, &t.Revision, &t.SQL, &t.SQLDiff, &createdAt); err != nil {
			return nil, err
		}
		t.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecordFeedback stores one improver critique.
func (l *LifecycleDB) RecordFeedback(ctx context.Context, sessionID string, revision int, feedback string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO session_feedback (session_id, revision, feedback, created_at)
		VALUES (?, ?, ?, ?)
	`, sessionID, revision, feedback, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record feedback: %w", err)
	}
	return nil
}

// Feedback returns the critiques of a session, oldest first.
func (l *LifecycleDB) Feedback(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT feedback FROM session_feedback WHERE session_id = ? ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// RecordModelUsage records token and latency accounting for one call.
func (l *LifecycleDB) RecordModelUsage(ctx context.Context, u Usage) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO model_usage
		(request_id, session_id, role, model, temperature, prompt_tokens, completion_tokens, latency_ms, created_at)
		VALUES (?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?)
	`, u.RequestID, u.SessionID, u.Role, u.Model, u.Temperature,
		u.PromptTokens, u.CompletionTokens, u.Latency.Milliseconds(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record model usage: %w", err)
	}
	return nil
}

// UsageByRole aggregates model usage per role.
func (l *LifecycleDB) UsageByRole(ctx context.Context) (map[string]UsageTotal, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT role, COUNT(*), SUM(prompt_tokens), SUM(completion_tokens), AVG(latency_ms)
		FROM model_usage
		GROUP BY role
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	defer rows.Close()

	out := make(map[string]UsageTotal)
	for rows.Next() {
		var role string
		var t UsageTotal
		if err := rows.Scan(&role, &t.Calls, &t.PromptTokens, &t.CompletionTokens, &t.AvgLatencyMs); err != nil {
			return nil, err
		}
		out[role] = t
	}
	return out, rows.Err()
}

// UpsertDataset records an ingested table, replacing any previous entry.
func (l *LifecycleDB) UpsertDataset(ctx context.Context, d Dataset) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO datasets (database_ref, table_name, source, row_count, column_count, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(database_ref, table_name) DO UPDATE SET
			source = excluded.source,
			row_count = excluded.row_count,
			column_count = excluded.column_count,
			ingested_at = excluded.ingested_at
	`, d.DatabaseRef, d.Table, d.Source, d.RowCount, d.ColumnCount, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record dataset: %w", err)
	}
	return nil
}

// Datasets lists the tables ingested into a store.
func (l *LifecycleDB) Datasets(ctx context.Context, databaseRef string) ([]Dataset, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT table_name, source, row_count, column_count, ingested_at
		FROM datasets
		WHERE database_ref = ?
		ORDER BY table_name
	`, databaseRef)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	defer rows.Close()

	var out []Dataset
	for rows.Next() {
		d := Dataset{DatabaseRef: databaseRef}
		var ingestedAt int64
		if err := rows.Scan(&d.Table, &d.Source, &d.RowCount, &d.ColumnCount, &ingestedAt); err != nil {
			return nil, err
		}
		d.IngestedAt = time.Unix(ingestedAt, 0)
		out = append(out, d)
	}
	return out, rows.Err()
}

// SessionStats counts sessions per status.
type SessionStats struct {
	Total        int            `json:"total"`
	ByStatus     map[string]int `json:"by_status"`
	AvgRevisions float64        `json:"avg_revisions"`
}

// SessionStats aggregates sessions by status.
func (l *LifecycleDB) SessionStats(ctx context.Context) (*SessionStats, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(revisions), 0)
		FROM sessions
		GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate sessions: %w", err)
	}
	defer rows.Close()

	stats := &SessionStats{ByStatus: make(map[string]int)}
	revisions := 0
	for rows.Next() {
		var status string
		var count, sum int
		if err := rows.Scan(&status, &count, &sum); err != nil {
			return nil, err
		}
		stats.ByStatus[status] = count
		stats.Total += count
		revisions += sum
	}
	if stats.Total > 0 {
		stats.AvgRevisions = float64(revisions) / float64(stats.Total)
	}
	return stats, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
