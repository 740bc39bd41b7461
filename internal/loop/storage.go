package loop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"text2sql/internal/database"
	"text2sql/internal/metrics"
)

// Storage provides read access to recorded sessions.
type Storage struct {
	lifecycle *database.LifecycleDB
	output    *database.OutputDB
	histogram *metrics.Histogram
}

// NewStorage creates a new storage helper
func NewStorage(lifecycle *database.LifecycleDB, output *database.OutputDB, histogram *metrics.Histogram) *Storage {
	return &Storage{lifecycle: lifecycle, output: output, histogram: histogram}
}

// SessionReport is everything recorded about one session.
type SessionReport struct {
	Session     *database.Session     `json:"session"`
	Transitions []database.Transition `json:"transitions"`
	Feedback    []string              `json:"feedback"`
	Result      *database.Result      `json:"result,omitempty"`
}

// LoadSession assembles the audit trail of a session.
func (s *Storage) LoadSession(ctx context.Context, id string) (*SessionReport, error) {
	sess, err := s.lifecycle.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	transitions, err := s.lifecycle.Transitions(ctx, id)
	if err != nil {
		return nil, err
	}
	feedback, err := s.lifecycle.Feedback(ctx, id)
	if err != nil {
		return nil, err
	}

	report := &SessionReport{Session: sess, Transitions: transitions, Feedback: feedback}
	result, err := s.output.GetResult(ctx, id)
	switch {
	case err == nil:
		report.Result = result
	case !errors.Is(err, database.ErrNotFound):
		return nil, err
	}
	return report, nil
}

// Stats is the operational summary reported by get_stats.
type Stats struct {
	Sessions  *database.SessionStats         `json:"sessions"`
	Usage     map[string]database.UsageTotal `json:"usage"`
	Metrics   map[string]database.Aggregate  `json:"metrics"`
	Latencies map[string]metrics.Percentiles `json:"latencies"`
}

// Stats aggregates sessions, model usage, metrics and latencies over window.
func (s *Storage) Stats(ctx context.Context, window time.Duration) (*Stats, error) {
	sessions, err := s.lifecycle.SessionStats(ctx)
	if err != nil {
		return nil, err
	}
	usage, err := s.lifecycle.UsageByRole(ctx)
	if err != nil {
		return nil, err
	}
	aggregated, err := s.output.GetAggregatedMetrics(ctx, time.Now().Add(-window))
	if err != nil {
		return nil, err
	}
	latencies, err := s.histogram.Snapshot(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot latencies: %w", err)
	}
	return &Stats{Sessions: sessions, Usage: usage, Metrics: aggregated, Latencies: latencies}, nil
}

// PruneLatencies drops latency observations older than retention.
func (s *Storage) PruneLatencies(ctx context.Context, retention time.Duration) (int64, error) {
	return s.histogram.Cleanup(ctx, retention)
}

// RecentSessions returns up to limit sessions, newest first.
func (s *Storage) RecentSessions(ctx context.Context, limit int) ([]database.Session, error) {
	return s.lifecycle.ListSessions(ctx, limit)
}

// Datasets lists the tables recorded for a store at ingestion time.
func (s *Storage) Datasets(ctx context.Context, ref string) ([]database.Dataset, error) {
	return s.lifecycle.Datasets(ctx, ref)
}
