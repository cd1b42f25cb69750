package chread

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/LakshiRajika/Content-Moderation-AI/internal/storage"
)

// EventReader is the read side of the moderation audit log. Reader serves it
// from ClickHouse and SQLiteReader from a local SQLite file.
type EventReader interface {
	ListEvents(ctx context.Context, params ListEventsParams) ([]EventRow, int, error)
	GetEvent(ctx context.Context, projectID, requestID string) (*EventRow, error)
	GetSummary(ctx context.Context, projectID string, days int) (*Summary, error)
	FindSimilar(ctx context.Context, projectID, text string, limit int) ([]EventRow, error)
	Close() error
}

// EventRow represents a single row from the moderation_events table.
type EventRow struct {
	RequestID         string    `json:"request_id"`
	TraceID           string    `json:"trace_id"`
	ProjectID         string    `json:"project_id"`
	Timestamp         time.Time `json:"timestamp"`
	UserID            string    `json:"user_id"`
	SessionID         string    `json:"session_id"`
	ContentType       string    `json:"content_type"`
	PayloadPreview    string    `json:"payload_preview"`
	PayloadHash       string    `json:"payload_hash"`
	PayloadSize       uint32    `json:"payload_size"`
	RiskScore         float32   `json:"risk_score"`
	RiskLevel         string    `json:"risk_level"`
	Reasons           []string  `json:"reasons"`
	CategoryNames     []string  `json:"category_names"`
	CategoryScores    []float32 `json:"category_scores"`
	Actions           []string  `json:"actions"`
	Policies          []string  `json:"policies"`
	BannerMessage     string    `json:"banner_message"`
	Explanation       string    `json:"explanation"`
	FailedClassifiers []string  `json:"failed_classifiers"`
	ConfigVersion     string    `json:"config_version"`
	ConfigHash        string    `json:"config_hash"`
	IsShadow          bool      `json:"is_shadow"`
	LatencyMs         float32   `json:"latency_ms"`
	Source            string    `json:"source"`
}

// Scores zips the parallel category arrays into a map.
func (e EventRow) Scores() map[string]float32 {
	out := make(map[string]float32, len(e.CategoryNames))
	for i, name := range e.CategoryNames {
		if i < len(e.CategoryScores) {
			out[name] = e.CategoryScores[i]
		}
	}
	return out
}

// eventColumns is the projection shared by both readers, in scan order.
const eventColumns = "request_id, trace_id, project_id, timestamp, " +
	"user_id, session_id, content_type, " +
	"payload_preview, payload_hash, payload_size, " +
	"risk_score, risk_level, reasons, category_names, category_scores, " +
	"actions, policies, banner_message, explanation, " +
	"failed_classifiers, config_version, config_hash, " +
	"is_shadow, latency_ms, source"

// ListEventsParams holds filters and pagination for event listing.
type ListEventsParams struct {
	ProjectID string
	UserID    *string
	Level     *string
	Action    *string
	IsShadow  *bool
	StartTime *time.Time
	EndTime   *time.Time
	Page      int
	PageSize  int
}

func (p ListEventsParams) offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.PageSize
}

// DefaultSimilarLimit is the FindSimilar result count when none is given.
const DefaultSimilarLimit = 5

// similarFragmentRunes is how much of the text's start must appear in a
// stored preview for the event to count as similar.
const similarFragmentRunes = 50

// similarKeys returns the exact-match hash and the preview fragment for text.
// The fragment is empty for blank text.
func similarKeys(text string) (hash, fragment string) {
	hash = storage.ContentHash(text)
	r := []rune(strings.TrimSpace(text))
	if len(r) > similarFragmentRunes {
		r = r[:similarFragmentRunes]
	}
	return hash, string(r)
}

// CountBucket holds a labelled count (a day, an hour, a level).
type CountBucket struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// ActionSetCount holds one distinct action list and how often it was decided.
type ActionSetCount struct {
	Actions []string `json:"actions"`
	Count   int      `json:"count"`
}

// Summary holds the audit aggregates for a project over a window of days.
type Summary struct {
	PeriodDays       int                `json:"period_days"`
	TotalDecisions   int                `json:"total_decisions"`
	LevelCounts      map[string]int     `json:"risk_distribution"`
	ContentTypes     map[string]int     `json:"content_type_distribution"`
	AverageRiskScore float64            `json:"average_risk_score"`
	CategoryAverages map[string]float64 `json:"category_averages"`
	TopActionSets    []ActionSetCount   `json:"common_actions"`
	DailyActivity    []CountBucket      `json:"daily_activity"`
	HourlyActivity   []CountBucket      `json:"hourly_activity"`
	ShadowDecisions  int                `json:"shadow_decisions"`
}

// topActionSets is the number of action sets reported in a Summary.
const topActionSets = 5

func newSummary(days int) *Summary {
	return &Summary{
		PeriodDays:       days,
		LevelCounts:      map[string]int{},
		ContentTypes:     map[string]int{},
		CategoryAverages: map[string]float64{},
		TopActionSets:    []ActionSetCount{},
		DailyActivity:    []CountBucket{},
		HourlyActivity:   []CountBucket{},
	}
}

// windowStart returns the lower timestamp bound for a summary over days.
func windowStart(now time.Time, days int) time.Time {
	return now.UTC().Add(-time.Duration(days) * 24 * time.Hour)
}

// round3 matches the precision the summary reports averages at.
func round3(v float64) float64 {
	return math.Round(safeFloat(v)*1000) / 1000
}

// safeFloat replaces NaN/Inf with 0.0.
// ClickHouse returns NaN for avg() on empty result sets.
func safeFloat(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0.0
	}
	return f
}
