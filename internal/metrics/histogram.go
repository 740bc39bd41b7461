// Package metrics keeps per-operation latency histograms in the state store.
package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"
)

// LatencyBuckets defines histogram upper bounds in milliseconds. Model calls
// routinely take seconds, hence the long tail.
var LatencyBuckets = []int{10, 50, 100, 500, 1000, 5000, 10000, 30000, 60000, 120000}

// Histogram manages latency histogram data
type Histogram struct {
	db  *sql.DB
	now func() time.Time
}

// NewHistogram creates a new histogram manager
func NewHistogram(db *sql.DB) *Histogram {
	return &Histogram{db: db, now: time.Now}
}

// Observe records one latency sample for an operation, bucketed into
// one-minute windows.
func (h *Histogram) Observe(ctx context.Context, operation string, d time.Duration) error {
	bucket := findBucket(int(d.Milliseconds()))
	window := h.now().Unix() / 60 * 60

	_, err := h.db.ExecContext(ctx, `
		INSERT INTO latency_histogram (operation, bucket_ms, count, timestamp)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(operation, bucket_ms, timestamp)
		DO UPDATE SET count = count + 1
	`, operation, bucket, window)
	if err != nil {
		return fmt.Errorf("failed to record latency: %w", err)
	}
	return nil
}

// findBucket finds the appropriate bucket for a latency value
func findBucket(latencyMs int) int {
	for _, bucket := range LatencyBuckets {
		if latencyMs <= bucket {
			return bucket
		}
	}
	return LatencyBuckets[len(LatencyBuckets)-1]
}

// Percentiles holds calculated percentile values
type Percentiles struct {
	Operation string  `json:"operation"`
	P50       float64 `json:"p50"`
	P95       float64 `json:"p95"`
	P99       float64 `json:"p99"`
	Count     int     `json:"count"`
}

type bucketCount struct {
	bucket int
	count  int
}

// Percentiles estimates p50, p95 and p99 for an operation over the last
// window. ok is false when no samples exist.
func (h *Histogram) Percentiles(ctx context.Context, operation string, window time.Duration) (p Percentiles, ok bool, err error) {
	buckets, total, err := h.buckets(ctx, operation, window)
	if err != nil || total == 0 {
		return Percentiles{}, false, err
	}

	return Percentiles{
		Operation: operation,
		P50:       interpolate(buckets, total, 0.50),
		P95:       interpolate(buckets, total, 0.95),
		P99:       interpolate(buckets, total, 0.99),
		Count:     total,
	}, true, nil
}

// Snapshot returns percentiles for every operation seen in the window.
func (h *Histogram) Snapshot(ctx context.Context, window time.Duration) (map[string]Percentiles, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT DISTINCT operation
		FROM latency_histogram
		WHERE timestamp >= ?
	`, h.windowStart(window))
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}

	var ops []string
	for rows.Next() {
		var op string
		if err := rows.Scan(&op); err != nil {
			rows.Close()
			return nil, err
		}
		ops = append(ops, op)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make(map[string]Percentiles, len(ops))
	for _, op := range ops {
		p, ok, err := h.Percentiles(ctx, op, window)
		if err != nil {
			return nil, err
		}
		if ok {
			out[op] = p
		}
	}
	return out, nil
}

// Cleanup removes windows older than retention.
func (h *Histogram) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := h.db.ExecContext(ctx, `
		DELETE FROM latency_histogram WHERE timestamp < ?
	`, h.now().Add(-retention).Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (h *Histogram) windowStart(window time.Duration) int64 {
	return h.now().Unix()/60*60 - int64(window.Seconds())
}

func (h *Histogram) buckets(ctx context.Context, operation string, window time.Duration) ([]bucketCount, int, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT bucket_ms, SUM(count)
		FROM latency_histogram
		WHERE operation = ? AND timestamp >= ?
		GROUP BY bucket_ms
		ORDER BY bucket_ms ASC
	`, operation, h.windowStart(window))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query histogram: %w", err)
	}
	defer rows.Close()

	var buckets []bucketCount
	total := 0
	for rows.Next() {
		var bc bucketCount
		if err := rows.Scan(&bc.bucket, &bc.count); err != nil {
			return nil, 0, err
		}
		buckets = append(buckets, bc)
		total += bc.count
	}
	return buckets, total, rows.Err()
}

// interpolate walks the cumulative distribution and interpolates linearly
// inside the bucket holding the target rank.
func interpolate(buckets []bucketCount, total int, percentile float64) float64 {
	target := int(math.Ceil(float64(total) * percentile))
	cumulative := 0

	for _, bc := range buckets {
		cumulative += bc.count
		if cumulative < target {
			continue
		}
		prevCumulative := cumulative - bc.count
		ratio := float64(target-prevCumulative) / float64(bc.count)

		lower := 0
		for i, b := range LatencyBuckets {
			if b == bc.bucket && i > 0 {
				lower = LatencyBuckets[i-1]
				break
			}
		}
		return float64(lower) + ratio*float64(bc.bucket-lower)
	}
	return float64(buckets[len(buckets)-1].bucket)
}
