package classifiers

import (
	"regexp"
	"strings"

	"github.com/LakshiRajika/Content-Moderation-AI/internal/engine"
)

// Rule-based raises applied on top of any classifier output. Each rule only
// ever increases a score.
var postprocessRules = []struct {
	patterns []*regexp.Regexp
	raises   map[engine.Category]float64
}{
	{
		patterns: compileAll(
			`\bi will kill you\b`, `\bi will kill\b`, `\bkill you\b`,
			`\bi'm going to kill\b`, `\bi am going to kill\b`, `\bi will hurt you\b`,
		),
		raises: map[engine.Category]float64{engine.CategoryThreat: 0.9, engine.CategoryViolence: 0.7},
	},
	{
		patterns: compileAll(`\bi hate you\b`, `\bi hate\b`, `\byou are (stupid|idiot|retard)\b`, `\bfuck you\b`),
		raises:   map[engine.Category]float64{engine.CategoryHateSpeech: 0.8},
	},
	{
		patterns: compileAll(
			`\bsend nudes\b`, `\bsend pics\b`, `\bshow me nude\b`, `\bsend pictures\b`,
			`\bwant to see your (body|nudes|pics)\b`,
		),
		raises: map[engine.Category]float64{engine.CategorySexual: 0.8},
	},
	{
		patterns: compileAll(`\bfree\b`, `\bclick here\b`, `\bbuy now\b`, `\bsubscribe\b`, `\bwin\b`, `\bprize\b`),
		raises:   map[engine.Category]float64{engine.CategorySpam: 0.6},
	},
}

const (
	degenerateScore = 0.98
	degenerateCount = 3
)

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// Postprocess applies the rule-based raises for text, rescales degenerate
// output (three or more categories at >= 0.98 are divided by their sum), then
// clamps and rounds to 4 places. It returns a new score set.
func Postprocess(scores engine.CategoryScores, text string) engine.CategoryScores {
	out := engine.NeutralScores()
	for _, cat := range engine.HarmfulCategories {
		out[cat] = clamp01(scores.Get(cat))
	}

	lower := strings.ToLower(text)
	for _, rule := range postprocessRules {
		for _, re := range rule.patterns {
			if !re.MatchString(lower) {
				continue
			}
			for cat, floor := range rule.raises {
				if out[cat] < floor {
					out[cat] = floor
				}
			}
			break
		}
	}

	high := 0
	sum := 0.0
	for _, cat := range engine.HarmfulCategories {
		if out[cat] >= degenerateScore {
			high++
		}
		sum += out[cat]
	}
	if high >= degenerateCount && sum > 0 {
		for _, cat := range engine.HarmfulCategories {
			out[cat] = out[cat] / sum
		}
	}

	for _, cat := range engine.HarmfulCategories {
		out[cat] = engine.Round4(clamp01(out[cat]))
	}
	return out
}
