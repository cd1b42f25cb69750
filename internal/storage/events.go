package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/LakshiRajika/Content-Moderation-AI/internal/engine"
)

// EventWriter is the interface for writing moderation events.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *ModerationEvent)
	Close()
}

// ModerationEvent is one moderation decision to be persisted for audit.
type ModerationEvent struct {
	RequestID         string
	TraceID           string
	ProjectID         string
	Timestamp         time.Time
	UserID            string
	SessionID         string
	ContentType       string
	PayloadPreview    string // First 500 runes
	PayloadHash       string // SHA256 of full payload
	PayloadSize       uint32
	RiskScore         float32
	RiskLevel         string
	Reasons           []string
	CategoryNames     []string
	CategoryScores    []float32
	Actions           []string
	Policies          []string
	BannerMessage     string
	Explanation       string
	FailedClassifiers []string
	ConfigVersion     string
	ConfigHash        string
	IsShadow          bool
	LatencyMs         float32
	Source            string // "http", "grpc" or "cli"
}

// PayloadPreviewLength is the max chars stored in payload_preview.
const PayloadPreviewLength = 500

// TruncatePayload returns the first maxLen runes of a payload. It never
// splits a multi-byte UTF-8 character.
func TruncatePayload(payload string, maxLen int) string {
	runes := []rune(payload)
	if len(runes) <= maxLen {
		return payload
	}
	return string(runes[:maxLen])
}

// ContentHash is the hex sha256 stored as payload_hash.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// EventMeta carries the request attributes that are not part of a Decision.
type EventMeta struct {
	RequestID   string
	ProjectID   string
	UserID      string
	SessionID   string
	ContentType string
	Source      string
	IsShadow    bool
}

// NewModerationEvent flattens a decision into an audit row. Category scores
// are stored as parallel arrays in HarmfulCategories order followed by normal.
func NewModerationEvent(meta EventMeta, text string, d *engine.Decision) *ModerationEvent {
	e := &ModerationEvent{
		RequestID:      meta.RequestID,
		ProjectID:      meta.ProjectID,
		Timestamp:      time.Now().UTC(),
		UserID:         meta.UserID,
		SessionID:      meta.SessionID,
		ContentType:    meta.ContentType,
		PayloadPreview: TruncatePayload(text, PayloadPreviewLength),
		PayloadHash:    ContentHash(text),
		PayloadSize:    uint32(len(text)),
		IsShadow:       meta.IsShadow,
		Source:         meta.Source,
	}
	if d == nil {
		return e
	}

	e.ConfigVersion = d.ConfigVersion
	e.ConfigHash = d.ConfigHash
	e.LatencyMs = float32(d.Latency.Microseconds()) / 1000

	if d.Risk != nil {
		e.TraceID = d.Risk.TraceID
		e.RiskScore = float32(d.Risk.Score)
		e.RiskLevel = d.Risk.Level.String()
		e.Reasons = append([]string(nil), d.Risk.Reasons...)
	}
	if d.Action != nil {
		e.Actions = append([]string(nil), d.Action.Actions...)
		e.Policies = append([]string(nil), d.Action.Policies...)
		e.BannerMessage = d.Action.BannerMessage
		e.Explanation = d.Action.Explanation
	}

	cats := append(append([]engine.Category(nil), engine.HarmfulCategories...), engine.CategoryNormal)
	e.CategoryNames = make([]string, len(cats))
	e.CategoryScores = make([]float32, len(cats))
	for i, c := range cats {
		e.CategoryNames[i] = string(c)
		e.CategoryScores[i] = float32(d.Classification.Get(c))
	}

	for _, oc := range d.Classifiers {
		if oc.Err != "" {
			e.FailedClassifiers = append(e.FailedClassifiers, oc.Name)
		}
	}
	return e
}
