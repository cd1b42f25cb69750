package chread

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// MaxExportRows caps a single audit export.
const MaxExportRows = 10_000

var csvHeader = []string{
	"request_id", "timestamp", "project_id", "user_id", "session_id", "content_type",
	"risk_score", "risk_level", "category_scores", "actions", "policies", "reasons",
	"banner_message", "explanation", "failed_classifiers", "config_version", "config_hash",
	"is_shadow", "latency_ms", "source", "payload_hash", "payload_size", "payload_preview",
}

// ExportCSV writes events as CSV with a header row. List and map columns are
// JSON-encoded into a single cell.
func ExportCSV(w io.Writer, events []EventRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("ExportCSV: %w", err)
	}
	for _, e := range events {
		record := []string{
			e.RequestID,
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.ProjectID,
			e.UserID,
			e.SessionID,
			e.ContentType,
			strconv.FormatFloat(float64(e.RiskScore), 'f', 4, 32),
			e.RiskLevel,
			cell(e.Scores()),
			cell(nonNil(e.Actions)),
			cell(nonNil(e.Policies)),
			cell(nonNil(e.Reasons)),
			e.BannerMessage,
			e.Explanation,
			cell(nonNil(e.FailedClassifiers)),
			e.ConfigVersion,
			e.ConfigHash,
			strconv.FormatBool(e.IsShadow),
			strconv.FormatFloat(float64(e.LatencyMs), 'f', 2, 32),
			e.Source,
			e.PayloadHash,
			strconv.FormatUint(uint64(e.PayloadSize), 10),
			e.PayloadPreview,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("ExportCSV: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("ExportCSV: %w", err)
	}
	return nil
}

// ExportJSON writes events as an indented JSON array.
func ExportJSON(w io.Writer, events []EventRow) error {
	if events == nil {
		events = []EventRow{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(events); err != nil {
		return fmt.Errorf("ExportJSON: %w", err)
	}
	return nil
}

func cell(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
