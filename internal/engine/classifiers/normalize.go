package classifiers

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/LakshiRajika/Content-Moderation-AI/internal/engine"
)

var firstNumberRe = regexp.MustCompile(`[-+]?\d*\.\d+|\d+`)

var looseSplitRe = regexp.MustCompile(`[\n,;]+`)

// ToFloat coerces a loosely typed classifier value to a float.
// Numbers pass through, "NN%" strings are divided by 100, other strings
// yield their first embedded number, and everything else is 0.
func ToFloat(v any) float64 {
	switch x := v.(type) {
	case nil:
		return 0
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0
		}
		return f
	case string:
		return stringToFloat(x)
	default:
		return 0
	}
}

func stringToFloat(raw string) float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0
	}
	if strings.HasSuffix(s, "%") {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s[:len(s)-1]), 64); err == nil {
			return f / 100
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if m := firstNumberRe.FindString(s); m != "" {
		if f, err := strconv.ParseFloat(m, 64); err == nil {
			return f
		}
	}
	return 0
}

// NormalizeRaw reads only the harmful category keys from a decoded
// classifier payload. Unparseable and non-finite values become 0 and
// everything is clamped to [0,1].
func NormalizeRaw(raw map[string]any) engine.CategoryScores {
	out := engine.NeutralScores()
	for _, cat := range engine.HarmfulCategories {
		v := ToFloat(raw[string(cat)])
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		out[cat] = clamp01(v)
	}
	return out
}

// ExtractJSON isolates the span from the first '{' to the last '}'.
// Text without such a span is returned trimmed.
func ExtractJSON(text string) string {
	s := strings.TrimSpace(text)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

// ParseLoose recovers "key: value" pairs from text that is not valid JSON.
func ParseLoose(text string) map[string]any {
	clean := strings.NewReplacer("{", " ", "}", " ", `"`, "", "'", "").Replace(text)
	out := make(map[string]any)
	for _, part := range looseSplitRe.Split(clean, -1) {
		k, v, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = stringToFloat(v)
	}
	return out
}

// ParseModelOutput turns free-form model output into scores: JSON first,
// loose key/value recovery second.
func ParseModelOutput(text string) engine.CategoryScores {
	body := ExtractJSON(text)
	var raw map[string]any
	if err := json.Unmarshal([]byte(body), &raw); err != nil || raw == nil {
		raw = ParseLoose(body)
	}
	return NormalizeRaw(raw)
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
