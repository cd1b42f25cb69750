package moderation

import (
	"time"

	"github.com/LakshiRajika/Content-Moderation-AI/internal/engine"
)

// RiskView is the risk part of a moderation response.
type RiskView struct {
	Score           float64              `json:"score"`
	Level           string               `json:"level"`
	Reasons         []string             `json:"reasons"`
	TopContributors []engine.Contributor `json:"top_contributors"`
}

// ActionView is the action part of a moderation response.
type ActionView struct {
	Actions       []string `json:"actions"`
	BannerMessage string   `json:"banner_message"`
	Policies      []string `json:"policies"`
	Explanation   string   `json:"explanation"`
	Reasons       []string `json:"reasons"`
}

// Response is the transport-neutral body returned to the caller. AuditID is
// the evaluator trace id stored with the audit event.
type Response struct {
	RequestID         string             `json:"request_id"`
	AuditID           string             `json:"audit_id"`
	Classification    map[string]float64 `json:"classification"`
	Risk              RiskView           `json:"risk_score"`
	Action            ActionView         `json:"action"`
	IsShadow          bool               `json:"is_shadow"`
	FailedClassifiers []string           `json:"failed_classifiers"`
	ConfigVersion     string             `json:"config_version"`
	LatencyMs         float64            `json:"latency_ms"`
}

// Render builds the caller-facing body from the visible decision.
func (r *Result) Render() *Response {
	d := r.Visible
	resp := &Response{
		RequestID:         r.RequestID,
		Classification:    make(map[string]float64, len(d.Classification)),
		IsShadow:          r.IsShadow,
		FailedClassifiers: r.FailedClassifiers(),
		ConfigVersion:     d.ConfigVersion,
		LatencyMs:         float64(r.Elapsed) / float64(time.Millisecond),
		Risk: RiskView{
			Reasons:         []string{},
			TopContributors: []engine.Contributor{},
		},
		Action: ActionView{
			Actions:  []string{},
			Policies: []string{},
			Reasons:  []string{},
		},
	}
	for cat, v := range d.Classification {
		resp.Classification[string(cat)] = v
	}
	if d.Risk != nil {
		resp.AuditID = d.Risk.TraceID
		resp.Risk.Score = d.Risk.Score
		resp.Risk.Level = d.Risk.Level.String()
		resp.Risk.Reasons = nonNil(d.Risk.Reasons)
		if d.Risk.TopContributors != nil {
			resp.Risk.TopContributors = d.Risk.TopContributors
		}
	}
	if d.Action != nil {
		resp.Action = ActionView{
			Actions:       nonNil(d.Action.Actions),
			BannerMessage: d.Action.BannerMessage,
			Policies:      nonNil(d.Action.Policies),
			Explanation:   d.Action.Explanation,
			Reasons:       nonNil(d.Action.Reasons),
		}
	}
	return resp
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
