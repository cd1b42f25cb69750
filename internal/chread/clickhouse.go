package chread

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Reader provides read access to the ClickHouse moderation_events table.
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

type chScanner interface {
	Scan(dest ...any) error
}

func scanCHRow(s chScanner) (EventRow, error) {
	var e EventRow
	var isShadow uint8
	err := s.Scan(
		&e.RequestID, &e.TraceID, &e.ProjectID, &e.Timestamp,
		&e.UserID, &e.SessionID, &e.ContentType,
		&e.PayloadPreview, &e.PayloadHash, &e.PayloadSize,
		&e.RiskScore, &e.RiskLevel, &e.Reasons, &e.CategoryNames, &e.CategoryScores,
		&e.Actions, &e.Policies, &e.BannerMessage, &e.Explanation,
		&e.FailedClassifiers, &e.ConfigVersion, &e.ConfigHash,
		&isShadow, &e.LatencyMs, &e.Source,
	)
	e.IsShadow = isShadow == 1
	return e, err
}

// ListEvents returns paginated, filtered moderation events and the total count.
func (r *Reader) ListEvents(ctx context.Context, params ListEventsParams) ([]EventRow, int, error) {
	conditions := []string{"project_id = @project_id"}
	args := []any{
		clickhouse.Named("project_id", params.ProjectID),
	}

	if params.UserID != nil {
		conditions = append(conditions, "user_id = @user_id")
		args = append(args, clickhouse.Named("user_id", *params.UserID))
	}
	if params.Level != nil {
		conditions = append(conditions, "risk_level = @risk_level")
		args = append(args, clickhouse.Named("risk_level", *params.Level))
	}
	if params.Action != nil {
		conditions = append(conditions, "has(actions, @action)")
		args = append(args, clickhouse.Named("action", *params.Action))
	}
	if params.IsShadow != nil {
		var v uint8
		if *params.IsShadow {
			v = 1
		}
		conditions = append(conditions, "is_shadow = @is_shadow")
		args = append(args, clickhouse.Named("is_shadow", v))
	}
	if params.StartTime != nil {
		conditions = append(conditions, "timestamp >= @start_time")
		args = append(args, clickhouse.Named("start_time", *params.StartTime))
	}
	if params.EndTime != nil {
		conditions = append(conditions, "timestamp <= @end_time")
		args = append(args, clickhouse.Named("end_time", *params.EndTime))
	}

	where := strings.Join(conditions, " AND ")

	var total uint64
	countQuery := fmt.Sprintf("SELECT count() FROM moderation_events WHERE %s", where)
	if err := r.conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListEvents count: %w", err)
	}

	dataQuery := fmt.Sprintf(
		"SELECT %s FROM moderation_events WHERE %s "+
			"ORDER BY timestamp DESC "+
			"LIMIT @limit OFFSET @offset",
		eventColumns, where,
	)
	args = append(args,
		clickhouse.Named("limit", uint32(params.PageSize)),
		clickhouse.Named("offset", uint32(params.offset())),
	)

	rows, err := r.conn.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListEvents query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []EventRow
	for rows.Next() {
		e, err := scanCHRow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ListEvents scan: %w", err)
		}
		events = append(events, e)
	}

	return events, int(total), rows.Err()
}

// GetEvent returns a single event by project ID and request ID, or nil if not found.
func (r *Reader) GetEvent(ctx context.Context, projectID, requestID string) (*EventRow, error) {
	row := r.conn.QueryRow(ctx,
		"SELECT "+eventColumns+" FROM moderation_events "+
			"WHERE project_id = @project_id AND request_id = @request_id",
		clickhouse.Named("project_id", projectID),
		clickhouse.Named("request_id", requestID),
	)

	e, err := scanCHRow(row)
	if err != nil {
		// ClickHouse doesn't return sql.ErrNoRows, so check for empty result
		return nil, fmt.Errorf("GetEvent: %w", err)
	}
	if e.RequestID == "" {
		return nil, nil
	}
	return &e, nil
}

// FindSimilar returns past events whose payload hash equals the hash of text
// or whose preview contains its opening fragment, newest first.
func (r *Reader) FindSimilar(ctx context.Context, projectID, text string, limit int) ([]EventRow, error) {
	hash, fragment := similarKeys(text)
	if fragment == "" {
		return nil, nil
	}
	if limit < 1 {
		limit = DefaultSimilarLimit
	}

	rows, err := r.conn.Query(ctx,
		"SELECT "+eventColumns+" FROM moderation_events "+
			"WHERE project_id = @project_id "+
			"AND (payload_hash = @hash OR position(payload_preview, @fragment) > 0) "+
			"ORDER BY timestamp DESC LIMIT @limit",
		clickhouse.Named("project_id", projectID),
		clickhouse.Named("hash", hash),
		clickhouse.Named("fragment", fragment),
		clickhouse.Named("limit", uint32(limit)),
	)
	if err != nil {
		return nil, fmt.Errorf("FindSimilar query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []EventRow
	for rows.Next() {
		e, err := scanCHRow(rows)
		if err != nil {
			return nil, fmt.Errorf("FindSimilar scan: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetSummary returns audit aggregates for a project over the given number of days.
func (r *Reader) GetSummary(ctx context.Context, projectID string, days int) (*Summary, error) {
	baseArgs := []any{
		clickhouse.Named("project_id", projectID),
		clickhouse.Named("range_start", windowStart(time.Now(), days)),
	}
	const window = "WHERE project_id = @project_id AND timestamp >= @range_start"

	result := newSummary(days)

	var total, shadow uint64
	var avg float64
	err := r.conn.QueryRow(ctx,
		"SELECT count(), countIf(is_shadow = 1), avg(risk_score) FROM moderation_events "+window,
		baseArgs...,
	).Scan(&total, &shadow, &avg)
	if err != nil {
		return nil, fmt.Errorf("GetSummary totals: %w", err)
	}
	result.TotalDecisions = int(total)
	result.ShadowDecisions = int(shadow)
	result.AverageRiskScore = round3(avg)

	if err := r.countBy(ctx, "risk_level", window, baseArgs, result.LevelCounts); err != nil {
		return nil, fmt.Errorf("GetSummary levels: %w", err)
	}
	if err := r.countBy(ctx, "content_type", window, baseArgs, result.ContentTypes); err != nil {
		return nil, fmt.Errorf("GetSummary content types: %w", err)
	}

	catRows, err := r.conn.Query(ctx,
		"SELECT name, avg(score) FROM moderation_events "+
			"ARRAY JOIN category_names AS name, category_scores AS score "+
			window+" GROUP BY name",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetSummary categories: %w", err)
	}
	defer func() { _ = catRows.Close() }()
	for catRows.Next() {
		var name string
		var v float64
		if err := catRows.Scan(&name, &v); err != nil {
			return nil, fmt.Errorf("GetSummary categories scan: %w", err)
		}
		result.CategoryAverages[name] = round3(v)
	}

	actRows, err := r.conn.Query(ctx,
		"SELECT actions, count() AS count FROM moderation_events "+window+
			" GROUP BY actions ORDER BY count DESC LIMIT "+fmt.Sprint(topActionSets),
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetSummary actions: %w", err)
	}
	defer func() { _ = actRows.Close() }()
	for actRows.Next() {
		var set []string
		var count uint64
		if err := actRows.Scan(&set, &count); err != nil {
			return nil, fmt.Errorf("GetSummary actions scan: %w", err)
		}
		result.TopActionSets = append(result.TopActionSets, ActionSetCount{Actions: set, Count: int(count)})
	}

	dayRows, err := r.conn.Query(ctx,
		"SELECT toDate(timestamp) AS day, count() FROM moderation_events "+window+
			" GROUP BY day ORDER BY day",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetSummary daily: %w", err)
	}
	defer func() { _ = dayRows.Close() }()
	for dayRows.Next() {
		var day time.Time
		var count uint64
		if err := dayRows.Scan(&day, &count); err != nil {
			return nil, fmt.Errorf("GetSummary daily scan: %w", err)
		}
		result.DailyActivity = append(result.DailyActivity, CountBucket{Key: day.Format("2006-01-02"), Count: int(count)})
	}

	hourRows, err := r.conn.Query(ctx,
		"SELECT toHour(timestamp) AS hour, count() FROM moderation_events "+window+
			" GROUP BY hour ORDER BY hour",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetSummary hourly: %w", err)
	}
	defer func() { _ = hourRows.Close() }()
	for hourRows.Next() {
		var hour uint8
		var count uint64
		if err := hourRows.Scan(&hour, &count); err != nil {
			return nil, fmt.Errorf("GetSummary hourly scan: %w", err)
		}
		result.HourlyActivity = append(result.HourlyActivity, CountBucket{Key: fmt.Sprintf("%02d", hour), Count: int(count)})
	}

	return result, nil
}

func (r *Reader) countBy(ctx context.Context, column, window string, args []any, into map[string]int) error {
	rows, err := r.conn.Query(ctx,
		"SELECT "+column+", count() FROM moderation_events "+window+" GROUP BY "+column,
		args...,
	)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var key string
		var count uint64
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		into[key] = int(count)
	}
	return rows.Err()
}
