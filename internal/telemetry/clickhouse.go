package telemetry

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const (
	bufferSize    = 10_000
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
)

// ClickHouseWriter writes execution records to ClickHouse asynchronously.
// Write() is non-blocking — records are buffered and batch-inserted in a
// background goroutine.
type ClickHouseWriter struct {
	conn    driver.Conn
	buffer  chan *Record
	done    chan struct{}
	flushed chan struct{}
	logger  *zap.Logger
}

// NewClickHouseWriter creates a ClickHouseWriter and starts the
// background flush loop.
func NewClickHouseWriter(dsn string, logger *zap.Logger) (*ClickHouseWriter, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	w := &ClickHouseWriter{
		conn:    conn,
		buffer:  make(chan *Record, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}

	go w.flushLoop()
	return w, nil
}

// Write queues a record for async insertion.
// Non-blocking: drops the record if the buffer is full.
func (w *ClickHouseWriter) Write(rec *Record) {
	select {
	case w.buffer <- rec:
	default:
		w.logger.Warn("telemetry buffer full, dropping record",
			zap.String("tool", rec.Tool),
			zap.String("pattern", rec.Pattern),
		)
	}
}

// Close signals the flush loop to drain remaining records.
func (w *ClickHouseWriter) Close() {
	close(w.done)
	<-w.flushed
}

func (w *ClickHouseWriter) flushLoop() {
	defer close(w.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*Record, 0, flushBatch)

	for {
		select {
		case rec := <-w.buffer:
			batch = append(batch, rec)
			if len(batch) >= flushBatch {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-w.done:
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case rec := <-w.buffer:
					batch = append(batch, rec)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				w.flush(batch)
			}
			return
		}
	}
}

func (w *ClickHouseWriter) flush(records []*Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO tool_executions (
			request_id, plan_id, step_id, tool, pattern, capability,
			execution_location, host,
			estimated_time_ms, estimated_cost, observed_time_ms, observed_cost,
			success, error, timestamp
		)
	`)
	if err != nil {
		w.logger.Error("clickhouse prepare batch failed", zap.Error(err))
		return
	}

	for _, r := range records {
		var successUint8 uint8
		if r.Success {
			successUint8 = 1
		}

		if err := batch.Append(
			r.RequestID,
			r.PlanID,
			r.StepID,
			r.Tool,
			r.Pattern,
			r.Capability,
			r.ExecutionLocation,
			r.Host,
			r.EstimatedTimeMs,
			r.EstimatedCost,
			r.ObservedTimeMs,
			r.ObservedCost,
			successUint8,
			r.ErrorText,
			r.Timestamp,
		); err != nil {
			w.logger.Error("clickhouse append record failed",
				zap.String("tool", r.Tool),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		w.logger.Error("clickhouse batch send failed",
			zap.Int("batch_size", len(records)),
			zap.Error(err),
		)
	}
}

// LogWriter is a fallback Writer for local development and for
// deployments without ClickHouse.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs records to the given
// logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(rec *Record) {
	w.logger.Info("tool_execution",
		zap.String("tool", rec.Tool),
		zap.String("pattern", rec.Pattern),
		zap.String("step_id", rec.StepID),
		zap.String("execution_location", rec.ExecutionLocation),
		zap.Float64("observed_time_ms", rec.ObservedTimeMs),
		zap.Float64("estimated_time_ms", rec.EstimatedTimeMs),
		zap.Bool("success", rec.Success),
		zap.String("error", rec.ErrorText),
	)
}

func (w *LogWriter) Close() {}
