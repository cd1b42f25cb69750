package classifiers

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/LakshiRajika/Content-Moderation-AI/internal/engine"
)

// Substring keyword table for the offline classifier.
var heuristicTerms = []struct {
	category engine.Category
	terms    []string
	score    float64
}{
	{engine.CategoryViolence, []string{"kill", "hurt", "attack", "murder", "rape"}, 0.6},
	{engine.CategoryThreat, []string{"i will kill", "i will hurt", "threaten", "bomb"}, 0.7},
	{engine.CategoryProfanity, []string{"fuck", "shit", "bitch", "asshole"}, 0.6},
	{engine.CategorySexual, []string{"send nudes", "nude", "sex", "porn"}, 0.7},
	{engine.CategorySpam, []string{"free", "click here", "buy now", "win prize", "subscribe"}, 0.6},
	{engine.CategoryHateSpeech, []string{"idiot", "retard", "hate you", "stupid"}, 0.6},
}

const (
	heuristicExclamations = 4
	heuristicCapsRunes    = 9
	heuristicStyleScore   = 0.5
)

// HeuristicClassifier is a deterministic keyword classifier used when no
// model endpoint is configured.
type HeuristicClassifier struct{}

func NewHeuristicClassifier() *HeuristicClassifier {
	return &HeuristicClassifier{}
}

func (c *HeuristicClassifier) Name() string {
	return "heuristic"
}

func (c *HeuristicClassifier) Classify(ctx context.Context, text string) (engine.CategoryScores, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lower := strings.ToLower(text)
	scores := engine.NeutralScores()

	for _, h := range heuristicTerms {
		for _, term := range h.terms {
			if strings.Contains(lower, term) {
				if h.score > scores[h.category] {
					scores[h.category] = h.score
				}
				break
			}
		}
	}

	if strings.Count(text, "!") >= heuristicExclamations && scores[engine.CategoryProfanity] < heuristicStyleScore {
		scores[engine.CategoryProfanity] = heuristicStyleScore
	}
	if isAllCaps(text) && scores[engine.CategoryHateSpeech] < heuristicStyleScore {
		scores[engine.CategoryHateSpeech] = heuristicStyleScore
	}

	return Postprocess(scores, text), nil
}

func isAllCaps(text string) bool {
	if utf8.RuneCountInString(text) < heuristicCapsRunes {
		return false
	}
	cased := false
	for _, r := range text {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			cased = true
		}
	}
	return cased
}
