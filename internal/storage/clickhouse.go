package storage

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// ClickHouseWriter writes moderation events to ClickHouse asynchronously.
// Write() is non-blocking; events are buffered and batch-inserted in a background goroutine.
type ClickHouseWriter struct {
	conn   driver.Conn
	batch  *batcher
	logger *zap.Logger
}

// NewClickHouseWriter creates a ClickHouseWriter and starts the background flush loop.
func NewClickHouseWriter(dsn string, logger *zap.Logger) (*ClickHouseWriter, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewClickHouseWriter: %w", err)
	}
	// ClickHouse Cloud requires TLS even when the DSN omits ?secure=true.
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewClickHouseWriter: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("NewClickHouseWriter: %w", err)
	}

	w := &ClickHouseWriter{conn: conn, logger: logger}
	w.batch = newBatcher("clickhouse", w.flush, logger)
	return w, nil
}

// Write queues an event for async insertion.
func (w *ClickHouseWriter) Write(event *ModerationEvent) {
	w.batch.enqueue(event)
}

// Close drains buffered events and closes the connection.
func (w *ClickHouseWriter) Close() {
	w.batch.close()
	if err := w.conn.Close(); err != nil {
		w.logger.Warn("clickhouse close failed", zap.Error(err))
	}
}

func (w *ClickHouseWriter) flush(ctx context.Context, events []*ModerationEvent) {
	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO moderation_events (
			request_id, trace_id, project_id, timestamp,
			user_id, session_id, content_type,
			payload_preview, payload_hash, payload_size,
			risk_score, risk_level, reasons,
			category_names, category_scores,
			actions, policies, banner_message, explanation,
			failed_classifiers, config_version, config_hash,
			is_shadow, latency_ms, source
		)
	`)
	if err != nil {
		w.logger.Error("clickhouse prepare batch failed", zap.Error(err))
		return
	}

	for _, e := range events {
		var isShadow uint8
		if e.IsShadow {
			isShadow = 1
		}

		if err := batch.Append(
			e.RequestID,
			e.TraceID,
			e.ProjectID,
			e.Timestamp,
			e.UserID,
			e.SessionID,
			e.ContentType,
			e.PayloadPreview,
			e.PayloadHash,
			e.PayloadSize,
			e.RiskScore,
			e.RiskLevel,
			nonNil(e.Reasons),
			nonNil(e.CategoryNames),
			e.CategoryScores,
			nonNil(e.Actions),
			nonNil(e.Policies),
			e.BannerMessage,
			e.Explanation,
			nonNil(e.FailedClassifiers),
			e.ConfigVersion,
			e.ConfigHash,
			isShadow,
			e.LatencyMs,
			e.Source,
		); err != nil {
			w.logger.Error("clickhouse append event failed",
				zap.String("request_id", e.RequestID),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		w.logger.Error("clickhouse batch send failed",
			zap.Int("batch_size", len(events)),
			zap.Error(err),
		)
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// LogWriter is a fallback EventWriter for local development.
// It logs events as structured JSON via zap.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs events to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(event *ModerationEvent) {
	w.logger.Info("moderation_event",
		zap.String("request_id", event.RequestID),
		zap.String("trace_id", event.TraceID),
		zap.String("project_id", event.ProjectID),
		zap.String("risk_level", event.RiskLevel),
		zap.Float32("risk_score", event.RiskScore),
		zap.Strings("actions", event.Actions),
		zap.Bool("is_shadow", event.IsShadow),
		zap.Strings("reasons", event.Reasons),
		zap.String("config_hash", event.ConfigHash),
		zap.Float32("latency_ms", event.LatencyMs),
		zap.String("user_id", event.UserID),
		zap.String("payload_preview", event.PayloadPreview),
	)
}

func (w *LogWriter) Close() {}

// MultiWriter fans each event out to several writers.
type MultiWriter []EventWriter

func (m MultiWriter) Write(event *ModerationEvent) {
	for _, w := range m {
		w.Write(event)
	}
}

func (m MultiWriter) Close() {
	for _, w := range m {
		w.Close()
	}
}
