package loop

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"text2sql/internal/catalog"
	"text2sql/internal/database"
	"text2sql/internal/executor"
	"text2sql/internal/llm"
	"text2sql/internal/metrics"
	"text2sql/internal/prompts"
)

// Settings are the loop defaults applied when a request leaves them unset.
type Settings struct {
	RevisionLimit int
	Temperature   float64
	Acceptance    Acceptance
	CallTimeout   time.Duration
}

// Manager composes ingestion, the revision loop and execution, and keeps
// the audit trail of every session.
type Manager struct {
	catalog   *catalog.Catalog
	executor  *executor.Executor
	provider  llm.Provider
	prompts   *prompts.Registry
	lifecycle *database.LifecycleDB
	output    *database.OutputDB
	histogram *metrics.Histogram
	settings  Settings
	logger    *zap.Logger
}

// NewManager creates a new session manager over the state database.
func NewManager(state *sql.DB, cat *catalog.Catalog, exec *executor.Executor, provider llm.Provider, registry *prompts.Registry, settings Settings, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.Acceptance == "" {
		settings.Acceptance = AcceptWord
	}
	return &Manager{
		catalog:   cat,
		executor:  exec,
		provider:  provider,
		prompts:   registry,
		lifecycle: database.NewLifecycleDB(state),
		output:    database.NewOutputDB(state),
		histogram: metrics.NewHistogram(state),
		settings:  settings,
		logger:    logger,
	}
}

// Ingest loads datasets into a new or existing store.
func (m *Manager) Ingest(ctx context.Context, req IngestRequest) (*catalog.Ingestion, error) {
	start := time.Now()
	var (
		in  *catalog.Ingestion
		err error
	)
	if req.Database == "" {
		in, err = m.catalog.Ingest(ctx, req.Datasets)
	} else {
		in, err = m.catalog.IngestInto(ctx, req.Database, req.Datasets)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to ingest: %w", err)
	}
	m.observe(ctx, "ingest", time.Since(start))
	return in, nil
}

// Describe returns the schema of an existing store.
func (m *Manager) Describe(ctx context.Context, ref string) ([]catalog.TableSchema, error) {
	return m.catalog.Describe(ctx, ref)
}

// Execute runs a query outside of any session.
func (m *Manager) Execute(ctx context.Context, ref, query string) executor.Result {
	res := m.executor.Execute(ctx, ref, query)
	m.observe(ctx, "execute", res.Elapsed)
	return res
}

// Ask runs a question through the revision loop and executes the final SQL.
// A model failure returns a *ModelInvocationError; the session is then
// marked failed.
func (m *Manager) Ask(ctx context.Context, req AskRequest) (*AskResponse, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, errors.New("question is required")
	}
	if !m.catalog.Exists(req.Database) {
		return nil, fmt.Errorf("database %q not found", req.Database)
	}

	limit := req.RevisionLimit
	if limit == 0 {
		limit = m.settings.RevisionLimit
	}
	if limit < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidRevisionLimit, limit)
	}

	schema := req.Schema
	if schema == "" {
		tables, err := m.catalog.Describe(ctx, req.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to describe database: %w", err)
		}
		if len(tables) == 0 {
			return nil, fmt.Errorf("database %q has no tables", req.Database)
		}
		schema = catalog.FormatSchema(tables)
	}

	temperature := m.settings.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	sessionID := uuid.New().String()
	if err := m.lifecycle.CreateSession(ctx, database.Session{
		ID:            sessionID,
		Question:      req.Question,
		DatabaseRef:   req.Database,
		RevisionLimit: limit,
	}); err != nil {
		return nil, err
	}

	logger := m.logger.With(zap.String("session_id", sessionID))
	logger.Info("session started", zap.String("database", req.Database), zap.Int("revision_limit", limit))
	start := time.Now()

	lp := New(m.provider, m.prompts,
		WithTemperature(temperature),
		WithAcceptance(m.settings.Acceptance),
		WithCallTimeout(m.settings.CallTimeout),
		WithObserver(NewRecorder(m.lifecycle, m.histogram, sessionID)),
		WithLogger(logger))

	out, err := lp.Run(ctx, Request{
		Question:      req.Question,
		Schema:        schema,
		Database:      req.Database,
		RevisionLimit: limit,
	})
	if err != nil {
		m.complete(ctx, sessionID, database.StatusFailed, "", false, 0, err.Error())
		m.metric(ctx, "session_failed", 1)
		return nil, err
	}

	resp := &AskResponse{
		SessionID: sessionID,
		Status:    database.StatusExhausted,
		SQL:       out.SQL,
		Accepted:  out.Accepted,
		Revisions: out.Revisions,
		Feedback:  out.Feedback,
	}
	if out.Accepted {
		resp.Status = database.StatusAccepted
	}

	result := database.Result{SessionID: sessionID, SQL: out.SQL}
	switch {
	case out.SQL == "":
		resp.NoQuery = true
		result.Error = ErrNoQuery.Error()
	case !req.SkipExecution:
		res := m.Execute(ctx, req.Database, out.SQL)
		if res.OK() {
			resp.Table = res.Table
			result.Columns = res.Table.Columns
			result.RowCount = len(res.Table.Rows)
		} else {
			resp.ExecError = res.Err
			result.Error = res.Err.Message
		}
	}

	if err := m.output.PublishResult(ctx, result); err != nil {
		logger.Warn("failed to publish result", zap.Error(err))
	}
	m.complete(ctx, sessionID, resp.Status, out.SQL, out.Accepted, out.Revisions, result.Error)
	m.metric(ctx, "session_revisions", float64(out.Revisions))
	m.observe(ctx, "ask", time.Since(start))

	logger.Info("session finished",
		zap.String("status", resp.Status),
		zap.Int("revisions", out.Revisions),
		zap.Bool("no_query", resp.NoQuery),
		zap.Bool("execution_failed", resp.ExecError != nil))
	return resp, nil
}

// RecordMetric stores one sample of a named metric.
func (m *Manager) RecordMetric(ctx context.Context, name string, value float64) error {
	return m.output.RecordMetric(ctx, name, value)
}

// Storage exposes read access to the audit trail.
func (m *Manager) Storage() *Storage {
	return NewStorage(m.lifecycle, m.output, m.histogram)
}

func (m *Manager) complete(ctx context.Context, id, status, finalSQL string, accepted bool, revisions int, errText string) {
	// The caller's context may already be cancelled; bookkeeping still runs.
	ctx = context.WithoutCancel(ctx)
	if err := m.lifecycle.CompleteSession(ctx, id, status, finalSQL, accepted, revisions, errText); err != nil {
		m.logger.Warn("failed to complete session", zap.String("session_id", id), zap.Error(err))
	}
}

func (m *Manager) metric(ctx context.Context, name string, value float64) {
	if err := m.output.RecordMetric(context.WithoutCancel(ctx), name, value); err != nil {
		m.logger.Warn("failed to record metric", zap.String("metric", name), zap.Error(err))
	}
}

func (m *Manager) observe(ctx context.Context, op string, d time.Duration) {
	if err := m.histogram.Observe(context.WithoutCancel(ctx), op, d); err != nil {
		m.logger.Warn("failed to record latency", zap.String("operation", op), zap.Error(err))
	}
}
