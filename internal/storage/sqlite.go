package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS moderation_events (
	request_id         TEXT PRIMARY KEY,
	trace_id           TEXT NOT NULL DEFAULT '',
	project_id         TEXT NOT NULL DEFAULT '',
	timestamp          TEXT NOT NULL,
	user_id            TEXT NOT NULL DEFAULT '',
	session_id         TEXT NOT NULL DEFAULT '',
	content_type       TEXT NOT NULL DEFAULT '',
	payload_preview    TEXT NOT NULL DEFAULT '',
	payload_hash       TEXT NOT NULL DEFAULT '',
	payload_size       INTEGER NOT NULL DEFAULT 0,
	risk_score         REAL NOT NULL DEFAULT 0,
	risk_level         TEXT NOT NULL DEFAULT '',
	reasons            TEXT NOT NULL DEFAULT '[]',
	category_names     TEXT NOT NULL DEFAULT '[]',
	category_scores    TEXT NOT NULL DEFAULT '[]',
	actions            TEXT NOT NULL DEFAULT '[]',
	policies           TEXT NOT NULL DEFAULT '[]',
	banner_message     TEXT NOT NULL DEFAULT '',
	explanation        TEXT NOT NULL DEFAULT '',
	failed_classifiers TEXT NOT NULL DEFAULT '[]',
	config_version     TEXT NOT NULL DEFAULT '',
	config_hash        TEXT NOT NULL DEFAULT '',
	is_shadow          INTEGER NOT NULL DEFAULT 0,
	latency_ms         REAL NOT NULL DEFAULT 0,
	source             TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_moderation_events_project_ts
	ON moderation_events (project_id, timestamp);
`

// SQLiteTimeLayout is the timestamp format stored in moderation_events.
// Fixed-width so lexical order matches chronological order.
const SQLiteTimeLayout = "2006-01-02T15:04:05.000000Z"

// OpenSQLite opens (creating if needed) a local audit database and ensures
// the moderation_events table exists.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("OpenSQLite: %w", err)
	}
	// A single writer connection avoids SQLITE_BUSY between the flush loop and readers.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("OpenSQLite pragma: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("OpenSQLite schema: %w", err)
	}
	return db, nil
}

// SQLiteWriter writes moderation events to a local SQLite database using the
// same buffered flush loop as ClickHouseWriter.
type SQLiteWriter struct {
	db     *sql.DB
	batch  *batcher
	logger *zap.Logger
}

// NewSQLiteWriter starts the background flush loop. The caller owns db.
func NewSQLiteWriter(db *sql.DB, logger *zap.Logger) *SQLiteWriter {
	w := &SQLiteWriter{db: db, logger: logger}
	w.batch = newBatcher("sqlite", w.flush, logger)
	return w
}

// Write queues an event for async insertion.
func (w *SQLiteWriter) Write(event *ModerationEvent) {
	w.batch.enqueue(event)
}

// Close drains buffered events. It does not close the database.
func (w *SQLiteWriter) Close() {
	w.batch.close()
}

func (w *SQLiteWriter) flush(ctx context.Context, events []*ModerationEvent) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		w.logger.Error("sqlite begin failed", zap.Error(err))
		return
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO moderation_events (
			request_id, trace_id, project_id, timestamp,
			user_id, session_id, content_type,
			payload_preview, payload_hash, payload_size,
			risk_score, risk_level, reasons,
			category_names, category_scores,
			actions, policies, banner_message, explanation,
			failed_classifiers, config_version, config_hash,
			is_shadow, latency_ms, source
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = tx.Rollback()
		w.logger.Error("sqlite prepare failed", zap.Error(err))
		return
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx,
			e.RequestID,
			e.TraceID,
			e.ProjectID,
			e.Timestamp.UTC().Format(SQLiteTimeLayout),
			e.UserID,
			e.SessionID,
			e.ContentType,
			e.PayloadPreview,
			e.PayloadHash,
			int64(e.PayloadSize),
			float64(e.RiskScore),
			e.RiskLevel,
			jsonText(nonNil(e.Reasons)),
			jsonText(nonNil(e.CategoryNames)),
			jsonText(e.CategoryScores),
			jsonText(nonNil(e.Actions)),
			jsonText(nonNil(e.Policies)),
			e.BannerMessage,
			e.Explanation,
			jsonText(nonNil(e.FailedClassifiers)),
			e.ConfigVersion,
			e.ConfigHash,
			e.IsShadow,
			float64(e.LatencyMs),
			e.Source,
		); err != nil {
			w.logger.Error("sqlite insert event failed",
				zap.String("request_id", e.RequestID),
				zap.Error(err),
			)
		}
	}

	if err := tx.Commit(); err != nil {
		w.logger.Error("sqlite commit failed",
			zap.Int("batch_size", len(events)),
			zap.Error(err),
		)
	}
}

func jsonText(v any) string {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return "[]"
	}
	return string(b)
}
