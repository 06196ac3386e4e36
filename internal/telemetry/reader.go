package telemetry

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Factor clamps keep one bad batch of observations from distorting
// scoring by more than an order of magnitude.
const (
	minFactor = 0.1
	maxFactor = 10.0

	// minSampleSize is how many executions a (tool, pattern) needs
	// before its observed ratios are trusted for calibration.
	minSampleSize = 5
)

// Reader aggregates the execution stream for calibration and the
// summary API.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewReader opens a ClickHouse connection for read queries.
func NewReader(dsn string, logger *zap.Logger) (*Reader, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}

	return &Reader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// PatternStats is the aggregate view of one (tool, pattern).
type PatternStats struct {
	Tool               string  `json:"tool"`
	Pattern            string  `json:"pattern"`
	Executions         uint64  `json:"executions"`
	Successes          uint64  `json:"successes"`
	AvgObservedTimeMs  float64 `json:"avg_observed_time_ms"`
	AvgEstimatedTimeMs float64 `json:"avg_estimated_time_ms"`
	AvgObservedCost    float64 `json:"avg_observed_cost"`
	AvgEstimatedCost   float64 `json:"avg_estimated_cost"`
}

// Key returns the "tool/pattern" identity.
func (s PatternStats) Key() string {
	return s.Tool + "/" + s.Pattern
}

// PatternStats aggregates executions per (tool, pattern) over the last
// sinceDays days.
func (r *Reader) PatternStats(ctx context.Context, sinceDays int) ([]PatternStats, error) {
	if sinceDays <= 0 {
		sinceDays = 7
	}
	since := time.Now().AddDate(0, 0, -sinceDays)

	rows, err := r.conn.Query(ctx,
		"SELECT tool, pattern, count(), countIf(success = 1), "+
			"avg(observed_time_ms), avg(estimated_time_ms), "+
			"avg(observed_cost), avg(estimated_cost) "+
			"FROM tool_executions "+
			"WHERE timestamp >= @since "+
			"GROUP BY tool, pattern "+
			"ORDER BY tool, pattern",
		clickhouse.Named("since", since),
	)
	if err != nil {
		return nil, fmt.Errorf("PatternStats query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []PatternStats
	for rows.Next() {
		var s PatternStats
		if err := rows.Scan(
			&s.Tool, &s.Pattern, &s.Executions, &s.Successes,
			&s.AvgObservedTimeMs, &s.AvgEstimatedTimeMs,
			&s.AvgObservedCost, &s.AvgEstimatedCost,
		); err != nil {
			return nil, fmt.Errorf("PatternStats scan: %w", err)
		}
		stats = append(stats, s)
	}

	return stats, rows.Err()
}

// Factors turns aggregates into observed/estimated multipliers, keyed
// by "tool/pattern". Patterns with too few samples or without usable
// estimates are skipped, leaving them at the neutral factor.
func Factors(stats []PatternStats) (timeFactors, costFactors map[string]float64) {
	timeFactors = make(map[string]float64)
	costFactors = make(map[string]float64)
	for _, s := range stats {
		if s.Executions < minSampleSize {
			continue
		}
		if s.AvgEstimatedTimeMs > 0 && s.AvgObservedTimeMs > 0 {
			timeFactors[s.Key()] = clampFactor(s.AvgObservedTimeMs / s.AvgEstimatedTimeMs)
		}
		if s.AvgEstimatedCost > 0 && s.AvgObservedCost > 0 {
			costFactors[s.Key()] = clampFactor(s.AvgObservedCost / s.AvgEstimatedCost)
		}
	}
	return timeFactors, costFactors
}

func clampFactor(f float64) float64 {
	if f < minFactor {
		return minFactor
	}
	if f > maxFactor {
		return maxFactor
	}
	return f
}
