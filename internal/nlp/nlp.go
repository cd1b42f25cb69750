// Package nlp provides rule-based annotations (entities, summary, sentiment)
// that enrich moderation explanations.
package nlp

import (
	"regexp"
	"strings"

	"github.com/LakshiRajika/Content-Moderation-AI/internal/engine"
)

var (
	emailRe = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	urlRe   = regexp.MustCompile(`https?://[^\s]+|www\.[^\s]+`)
	phoneRe = regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)

	personPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:Mr|Ms|Mrs|Dr)\.?\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*\b`),
		regexp.MustCompile(`\b[A-Z][a-z]+\s+[A-Z][a-z]+\b`),
	}
	orgPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b[A-Z][a-zA-Z]*(?:\s+[A-Z][a-zA-Z]*)*\s+(?:Company|Corporation|Corp|Inc|LLC|Ltd)\b`),
	}
	locationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b[A-Z][a-zA-Z]*(?:\s+[A-Z][a-zA-Z]*)*\s*(?:City|Town|Village)\b`),
		regexp.MustCompile(`\b(?:New|Los|San|Las)\s+[A-Z][a-zA-Z]+\b`),
	}

	sentenceSplitRe = regexp.MustCompile(`[.!?]+`)
)

// Entities groups extracted entities by kind, in order of first appearance.
type Entities struct {
	Persons       []string `json:"persons,omitempty"`
	Organizations []string `json:"organizations,omitempty"`
	Locations     []string `json:"locations,omitempty"`
	Other         []string `json:"other,omitempty"`
}

// Flatten lists contact entities first, then organizations, locations and persons.
func (e Entities) Flatten() []string {
	out := make([]string, 0, len(e.Other)+len(e.Organizations)+len(e.Locations)+len(e.Persons))
	out = append(out, e.Other...)
	out = append(out, e.Organizations...)
	out = append(out, e.Locations...)
	out = append(out, e.Persons...)
	return out
}

// ExtractEntities finds emails, URLs, phone numbers and capitalized names.
func ExtractEntities(text string) Entities {
	var e Entities
	for _, m := range emailRe.FindAllString(text, -1) {
		e.Other = appendUnique(e.Other, "Email: "+m)
	}
	for _, m := range urlRe.FindAllString(text, -1) {
		e.Other = appendUnique(e.Other, "URL: "+m)
	}
	for _, m := range phoneRe.FindAllString(text, -1) {
		e.Other = appendUnique(e.Other, "Phone: "+m)
	}

	seen := make(map[string]bool)
	collect := func(patterns []*regexp.Regexp) []string {
		var out []string
		for _, re := range patterns {
			for _, m := range re.FindAllString(text, -1) {
				if seen[m] {
					continue
				}
				seen[m] = true
				out = append(out, m)
			}
		}
		return out
	}
	// Organizations and locations claim their spans before the generic
	// two-capitalized-words person rule sees them.
	e.Organizations = collect(orgPatterns)
	e.Locations = collect(locationPatterns)
	e.Persons = collect(personPatterns)
	return e
}

// Summarize returns the text itself when it has at most two sentences,
// otherwise its first and last sentence.
func Summarize(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}
	var sentences []string
	for _, s := range sentenceSplitRe.Split(trimmed, -1) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) <= 2 {
		return trimmed
	}
	return sentences[0] + ". " + sentences[len(sentences)-1] + "."
}

var (
	positiveWords = []string{"good", "great", "excellent", "amazing", "wonderful", "fantastic", "love", "like"}
	negativeWords = []string{"bad", "terrible", "awful", "horrible", "hate", "dislike", "angry", "mad"}
)

// Sentiment is a keyword-count polarity estimate.
type Sentiment struct {
	Label    string  `json:"sentiment"`
	Positive int     `json:"positive_words"`
	Negative int     `json:"negative_words"`
	Score    float64 `json:"score"`
}

// AnalyzeSentiment counts positive and negative keywords.
func AnalyzeSentiment(text string) Sentiment {
	lower := strings.ToLower(text)
	var s Sentiment
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			s.Positive++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			s.Negative++
		}
	}
	switch {
	case s.Positive > s.Negative:
		s.Label = "positive"
	case s.Negative > s.Positive:
		s.Label = "negative"
	default:
		s.Label = "neutral"
	}
	words := len(strings.Fields(text))
	if words == 0 {
		words = 1
	}
	s.Score = float64(s.Positive-s.Negative) / float64(words)
	return s
}

// Annotator implements engine.Annotator.
type Annotator struct{}

func NewAnnotator() *Annotator {
	return &Annotator{}
}

// Annotate returns nil for blank text.
func (a *Annotator) Annotate(text string) *engine.AuxContext {
	summary := Summarize(text)
	if summary == "" {
		return nil
	}
	return &engine.AuxContext{
		Summary:   summary,
		Entities:  ExtractEntities(text).Flatten(),
		Sentiment: AnalyzeSentiment(text).Label,
	}
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
