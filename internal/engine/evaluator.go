package engine

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// RiskEvaluator turns classifier confidences plus raw text into a RiskResult.
// It is safe for concurrent use; it holds only an immutable copy of its Config.
type RiskEvaluator struct {
	cfg     Config
	traceID func() string
}

// EvaluatorOption customizes a RiskEvaluator.
type EvaluatorOption func(*RiskEvaluator)

// WithTraceIDFunc replaces the trace id generator (uuid v4 by default).
func WithTraceIDFunc(fn func() string) EvaluatorOption {
	return func(e *RiskEvaluator) {
		if fn != nil {
			e.traceID = fn
		}
	}
}

// NewRiskEvaluator creates an evaluator over a private copy of cfg.
func NewRiskEvaluator(cfg Config, opts ...EvaluatorOption) *RiskEvaluator {
	e := &RiskEvaluator{
		cfg:     cfg.Clone(),
		traceID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// normalizeScores keeps only the configured harmful categories and replaces
// missing or non-finite confidences with 0.
func normalizeScores(scores CategoryScores) CategoryScores {
	out := make(CategoryScores, len(HarmfulCategories))
	for _, c := range HarmfulCategories {
		out[c] = scores.Get(c)
	}
	return out
}

// Evaluate scores one content item. It never fails: a nil or empty score set
// and empty text yield a Low result with no contributors.
func (e *RiskEvaluator) Evaluate(scores CategoryScores, text string) *RiskResult {
	norm := normalizeScores(scores)

	risk := 0.0
	reasons := make([]string, 0, 4)
	contributions := make(map[Category]float64, len(HarmfulCategories))

	for _, cat := range HarmfulCategories {
		cp, ok := e.cfg.Categories[cat]
		if !ok {
			continue
		}
		s := norm[cat]
		contrib := Round4(s * cp.Weight)
		contributions[cat] = contrib
		if s > cp.Threshold {
			risk += contrib
			reasons = append(reasons, fmt.Sprintf("%s > %.2f (score %.2f)", cat, cp.Threshold, s))
		}
	}

	if boost := textBoost(text); boost > 0 {
		risk += boost
		reasons = append(reasons, fmt.Sprintf("text features boost +%.2f", boost))
	}

	for _, hit := range matchFloors(text) {
		if risk < hit.floor {
			risk = hit.floor
		}
		reasons = append(reasons, fmt.Sprintf("keyword floor %s (min %.2f)", hit.family, hit.floor))
	}

	risk = Round4(clamp01(risk))

	return &RiskResult{
		Score:           risk,
		Level:           e.cfg.Levels.LevelFor(risk),
		Reasons:         reasons,
		Contributions:   contributions,
		TopContributors: rankContributors(contributions, norm),
		TraceID:         e.traceID(),
	}
}

// rankContributors returns the categories with a positive contribution,
// highest first, ties in declaration order.
func rankContributors(contributions map[Category]float64, scores CategoryScores) []Contributor {
	out := make([]Contributor, 0, len(contributions))
	for _, cat := range HarmfulCategories {
		c, ok := contributions[cat]
		if !ok || c <= 0 {
			continue
		}
		out = append(out, Contributor{Category: cat, Score: scores[cat], Contribution: c})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Contribution > out[j].Contribution
	})
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
