package engine

import (
	"fmt"
	"math"
	"strings"
)

// Category identifies one harm dimension scored by the classifier.
type Category string

const (
	CategorySexual     Category = "sexual"
	CategoryThreat     Category = "threat"
	CategoryViolence   Category = "violence"
	CategoryHateSpeech Category = "hate_speech"
	CategoryProfanity  Category = "profanity"
	CategorySpam       Category = "spam"

	// CategoryNormal is derived from the harmful categories, never classified directly.
	CategoryNormal Category = "normal"
)

// HarmfulCategories lists the scored categories in declaration order.
// Ranking ties are broken by position in this slice.
var HarmfulCategories = []Category{
	CategorySexual,
	CategoryThreat,
	CategoryViolence,
	CategoryHateSpeech,
	CategoryProfanity,
	CategorySpam,
}

// ParseCategory maps a wire name to a Category. Unknown names return false.
func ParseCategory(name string) (Category, bool) {
	c := Category(name)
	if c == CategoryNormal {
		return c, true
	}
	return c, categoryIndex(c) >= 0
}

// categoryIndex returns the declaration position of c, or -1.
func categoryIndex(c Category) int {
	for i, hc := range HarmfulCategories {
		if hc == c {
			return i
		}
	}
	return -1
}

// Level is the discrete risk band derived from a risk score.
type Level int

const (
	LevelLow Level = iota + 1
	LevelMedium
	LevelHigh
)

// String returns the display name of the level.
func (l Level) String() string {
	switch l {
	case LevelLow:
		return "Low"
	case LevelMedium:
		return "Medium"
	case LevelHigh:
		return "High"
	default:
		return "Unknown"
	}
}

// ParseLevel maps "Low"/"Medium"/"High" (any case) to a Level.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return LevelLow, true
	case "medium":
		return LevelMedium, true
	case "high":
		return LevelHigh, true
	default:
		return 0, false
	}
}

// MarshalText renders the level by name so it can key YAML/JSON maps.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText accepts the level name.
func (l *Level) UnmarshalText(b []byte) error {
	v, ok := ParseLevel(string(b))
	if !ok {
		return &UnknownLevelError{Name: string(b)}
	}
	*l = v
	return nil
}

// UnknownLevelError is returned when a level name cannot be parsed.
type UnknownLevelError struct {
	Name string
}

func (e *UnknownLevelError) Error() string {
	return fmt.Sprintf("unknown risk level %q", e.Name)
}

// Levels lists all levels in ascending severity.
var Levels = []Level{LevelLow, LevelMedium, LevelHigh}

// CategoryScores maps a category to a classifier confidence in [0,1].
type CategoryScores map[Category]float64

// Get returns the confidence for c, treating missing and non-finite values as 0.
func (s CategoryScores) Get(c Category) float64 {
	v, ok := s[c]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Clone returns an independent copy.
func (s CategoryScores) Clone() CategoryScores {
	out := make(CategoryScores, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// DeriveNormal sets the normal category to 1 - max(harmful), rounded to 4 places.
func (s CategoryScores) DeriveNormal() {
	maxHarm := 0.0
	for _, c := range HarmfulCategories {
		if v := s.Get(c); v > maxHarm {
			maxHarm = v
		}
	}
	s[CategoryNormal] = Round4(1.0 - maxHarm)
}

// NeutralScores returns an all-zero score set for every harmful category.
func NeutralScores() CategoryScores {
	out := make(CategoryScores, len(HarmfulCategories))
	for _, c := range HarmfulCategories {
		out[c] = 0
	}
	return out
}

// Contributor is one ranked category in a RiskResult.
type Contributor struct {
	Category     Category `json:"category"`
	Score        float64  `json:"score"`
	Contribution float64  `json:"contribution"`
}

// RiskResult is the output of RiskEvaluator.Evaluate. Read-only once returned.
type RiskResult struct {
	Score           float64              `json:"score"`
	Level           Level                `json:"level"`
	Reasons         []string             `json:"reasons"`
	Contributions   map[Category]float64 `json:"contributions"`
	TopContributors []Contributor        `json:"top_contributors"`
	TraceID         string               `json:"trace_id"`
}

// ActionResult is the output of ActionResolver.Resolve.
type ActionResult struct {
	Actions       []string `json:"actions"`
	BannerMessage string   `json:"banner_message"`
	Policies      []string `json:"policies"`
	Explanation   string   `json:"explanation"`
	Reasons       []string `json:"reasons"`
}

// AuxContext carries optional annotations for explanations. Sentiment is
// "positive", "negative", "neutral" or empty.
type AuxContext struct {
	Summary   string   `json:"summary,omitempty"`
	Entities  []string `json:"entities,omitempty"`
	Sentiment string   `json:"sentiment,omitempty"`
}

// Round4 rounds to 4 decimal places.
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
