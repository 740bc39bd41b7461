package metrics

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"text2sql/internal/database"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.OpenState(context.Background(), filepath.Join(t.TempDir(), "state.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestFindBucket(t *testing.T) {
	tests := []struct {
		latency  int
		expected int
	}{
		{5, 10},
		{10, 10},
		{25, 50},
		{150, 500},
		{999, 1000},
		{5001, 10000},
		{20000, 30000},
		{500000, 120000}, // above max bucket
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, findBucket(tt.latency), "latency %d", tt.latency)
	}
}

func TestObserveAndPercentiles(t *testing.T) {
	ctx := context.Background()
	h := NewHistogram(setupTestDB(t))

	for i := 0; i < 90; i++ {
		require.NoError(t, h.Observe(ctx, "sql_writer", 40*time.Millisecond))
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, h.Observe(ctx, "sql_writer", 800*time.Millisecond))
	}

	p, ok, err := h.Percentiles(ctx, "sql_writer", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 100, p.Count)
	// 50th sample sits inside the (10,50] bucket.
	assert.InDelta(t, 10+40*50.0/90.0, p.P50, 0.01)
	// 95th sample is the 5th of 10 in the (500,1000] bucket.
	assert.InDelta(t, 750, p.P95, 0.01)
	assert.LessOrEqual(t, p.P99, 1000.0)
}

func TestPercentilesWithoutData(t *testing.T) {
	h := NewHistogram(setupTestDB(t))
	_, ok, err := h.Percentiles(context.Background(), "unknown", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSnapshotAndCleanup(t *testing.T) {
	ctx := context.Background()
	h := NewHistogram(setupTestDB(t))

	past := time.Now().Add(-48 * time.Hour)
	h.now = func() time.Time { return past }
	require.NoError(t, h.Observe(ctx, "old", time.Second))

	h.now = time.Now
	require.NoError(t, h.Observe(ctx, "ask", 2*time.Second))
	require.NoError(t, h.Observe(ctx, "execute", 5*time.Millisecond))

	snap, err := h.Snapshot(ctx, time.Hour)
	require.NoError(t, err)
	assert.Len(t, snap, 2)
	assert.Contains(t, snap, "ask")
	assert.NotContains(t, snap, "old")

	removed, err := h.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}
