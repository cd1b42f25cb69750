package chread

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LakshiRajika/Content-Moderation-AI/internal/storage"
	"go.uber.org/zap"
)

// SQLiteReader serves the audit log from the local SQLite fallback written by
// storage.SQLiteWriter.
type SQLiteReader struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteReader wraps an audit database opened with storage.OpenSQLite.
// The caller owns db.
func NewSQLiteReader(db *sql.DB, logger *zap.Logger) *SQLiteReader {
	return &SQLiteReader{db: db, logger: logger}
}

// Close is a no-op; the database belongs to the caller.
func (r *SQLiteReader) Close() error { return nil }

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRow(s sqlScanner) (EventRow, error) {
	var e EventRow
	var ts, reasons, names, scores, actions, policies, failed string
	var size int64
	var risk, latency float64
	err := s.Scan(
		&e.RequestID, &e.TraceID, &e.ProjectID, &ts,
		&e.UserID, &e.SessionID, &e.ContentType,
		&e.PayloadPreview, &e.PayloadHash, &size,
		&risk, &e.RiskLevel, &reasons, &names, &scores,
		&actions, &policies, &e.BannerMessage, &e.Explanation,
		&failed, &e.ConfigVersion, &e.ConfigHash,
		&e.IsShadow, &latency, &e.Source,
	)
	if err != nil {
		return e, err
	}

	e.PayloadSize = uint32(size)
	e.RiskScore = float32(risk)
	e.LatencyMs = float32(latency)
	if e.Timestamp, err = time.Parse(storage.SQLiteTimeLayout, ts); err != nil {
		return e, fmt.Errorf("timestamp %q: %w", ts, err)
	}
	for _, f := range []struct {
		raw string
		dst any
	}{
		{reasons, &e.Reasons},
		{names, &e.CategoryNames},
		{scores, &e.CategoryScores},
		{actions, &e.Actions},
		{policies, &e.Policies},
		{failed, &e.FailedClassifiers},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return e, fmt.Errorf("decode %q: %w", f.raw, err)
		}
	}
	return e, nil
}

func sqliteTime(t time.Time) string {
	return t.UTC().Format(storage.SQLiteTimeLayout)
}

// ListEvents returns paginated, filtered moderation events and the total count.
func (r *SQLiteReader) ListEvents(ctx context.Context, params ListEventsParams) ([]EventRow, int, error) {
	conditions := []string{"project_id = ?"}
	args := []any{params.ProjectID}

	if params.UserID != nil {
		conditions = append(conditions, "user_id = ?")
		args = append(args, *params.UserID)
	}
	if params.Level != nil {
		conditions = append(conditions, "risk_level = ?")
		args = append(args, *params.Level)
	}
	if params.Action != nil {
		conditions = append(conditions, "EXISTS (SELECT 1 FROM json_each(actions) WHERE value = ?)")
		args = append(args, *params.Action)
	}
	if params.IsShadow != nil {
		conditions = append(conditions, "is_shadow = ?")
		args = append(args, *params.IsShadow)
	}
	if params.StartTime != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, sqliteTime(*params.StartTime))
	}
	if params.EndTime != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, sqliteTime(*params.EndTime))
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := r.db.QueryRowContext(ctx,
		"SELECT count(*) FROM moderation_events WHERE "+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListEvents count: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+eventColumns+" FROM moderation_events WHERE "+where+
			" ORDER BY timestamp DESC LIMIT ? OFFSET ?",
		append(args, params.PageSize, params.offset())...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ListEvents query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []EventRow
	for rows.Next() {
		e, err := scanSQLiteRow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ListEvents scan: %w", err)
		}
		events = append(events, e)
	}
	return events, total, rows.Err()
}

// GetEvent returns a single event by project ID and request ID, or nil if not found.
func (r *SQLiteReader) GetEvent(ctx context.Context, projectID, requestID string) (*EventRow, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+eventColumns+" FROM moderation_events WHERE project_id = ? AND request_id = ?",
		projectID, requestID,
	)
	e, err := scanSQLiteRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetEvent: %w", err)
	}
	return &e, nil
}

// FindSimilar returns past events whose payload hash equals the hash of text
// or whose preview contains its opening fragment, newest first.
func (r *SQLiteReader) FindSimilar(ctx context.Context, projectID, text string, limit int) ([]EventRow, error) {
	hash, fragment := similarKeys(text)
	if fragment == "" {
		return nil, nil
	}
	if limit < 1 {
		limit = DefaultSimilarLimit
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+eventColumns+" FROM moderation_events "+
			"WHERE project_id = ? AND (payload_hash = ? OR instr(payload_preview, ?) > 0) "+
			"ORDER BY timestamp DESC LIMIT ?",
		projectID, hash, fragment, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("FindSimilar query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []EventRow
	for rows.Next() {
		e, err := scanSQLiteRow(rows)
		if err != nil {
			return nil, fmt.Errorf("FindSimilar scan: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetSummary returns audit aggregates for a project over the given number of days.
// Day and hour buckets are cut from the fixed-width timestamp text.
func (r *SQLiteReader) GetSummary(ctx context.Context, projectID string, days int) (*Summary, error) {
	const window = " WHERE project_id = ? AND timestamp >= ?"
	args := []any{projectID, sqliteTime(windowStart(time.Now(), days))}

	result := newSummary(days)

	var avg sql.NullFloat64
	var shadow sql.NullInt64
	if err := r.db.QueryRowContext(ctx,
		"SELECT count(*), sum(is_shadow), avg(risk_score) FROM moderation_events"+window, args...,
	).Scan(&result.TotalDecisions, &shadow, &avg); err != nil {
		return nil, fmt.Errorf("GetSummary totals: %w", err)
	}
	result.ShadowDecisions = int(shadow.Int64)
	result.AverageRiskScore = round3(avg.Float64)

	groups := []struct {
		name string
		expr string
		fn   func(key string, count int)
	}{
		{"levels", "risk_level", func(k string, n int) { result.LevelCounts[k] = n }},
		{"content types", "content_type", func(k string, n int) { result.ContentTypes[k] = n }},
		{"daily", "substr(timestamp, 1, 10)", func(k string, n int) {
			result.DailyActivity = append(result.DailyActivity, CountBucket{Key: k, Count: n})
		}},
		{"hourly", "substr(timestamp, 12, 2)", func(k string, n int) {
			result.HourlyActivity = append(result.HourlyActivity, CountBucket{Key: k, Count: n})
		}},
	}
	for _, g := range groups {
		if err := r.groupCount(ctx, g.expr, window, args, g.fn); err != nil {
			return nil, fmt.Errorf("GetSummary %s: %w", g.name, err)
		}
	}

	actRows, err := r.db.QueryContext(ctx,
		"SELECT actions, count(*) AS n FROM moderation_events"+window+
			" GROUP BY actions ORDER BY n DESC, actions LIMIT ?",
		append(args, topActionSets)...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetSummary actions: %w", err)
	}
	defer func() { _ = actRows.Close() }()
	for actRows.Next() {
		var raw string
		var n int
		if err := actRows.Scan(&raw, &n); err != nil {
			return nil, fmt.Errorf("GetSummary actions scan: %w", err)
		}
		var set []string
		if err := json.Unmarshal([]byte(raw), &set); err != nil {
			return nil, fmt.Errorf("GetSummary actions decode: %w", err)
		}
		result.TopActionSets = append(result.TopActionSets, ActionSetCount{Actions: set, Count: n})
	}

	// SQLite has no array type, so category averages are folded in Go.
	catRows, err := r.db.QueryContext(ctx,
		"SELECT category_names, category_scores FROM moderation_events"+window, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetSummary categories: %w", err)
	}
	defer func() { _ = catRows.Close() }()
	sums := map[string]float64{}
	counts := map[string]int{}
	for catRows.Next() {
		var rawNames, rawScores string
		if err := catRows.Scan(&rawNames, &rawScores); err != nil {
			return nil, fmt.Errorf("GetSummary categories scan: %w", err)
		}
		row := EventRow{}
		if json.Unmarshal([]byte(rawNames), &row.CategoryNames) != nil ||
			json.Unmarshal([]byte(rawScores), &row.CategoryScores) != nil {
			r.logger.Warn("skipping undecodable category scores")
			continue
		}
		for name, v := range row.Scores() {
			sums[name] += float64(v)
			counts[name]++
		}
	}
	for name, sum := range sums {
		result.CategoryAverages[name] = round3(sum / float64(counts[name]))
	}

	return result, nil
}

func (r *SQLiteReader) groupCount(ctx context.Context, expr, window string, args []any, fn func(string, int)) error {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+expr+" AS k, count(*) FROM moderation_events"+window+" GROUP BY k ORDER BY k",
		args...,
	)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		fn(key, n)
	}
	return rows.Err()
}
