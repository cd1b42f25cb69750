package engine

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Text-feature boost families. At most one boost per family applies.
var boostFamilies = []struct {
	name     string
	patterns []*regexp.Regexp
	boost    float64
}{
	{
		name: "threat",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\bkill you\b`),
			regexp.MustCompile(`\bi will kill\b`),
			regexp.MustCompile(`\bi will hurt\b`),
			regexp.MustCompile(`\b(i want to die|kill myself|suicide)\b`),
			regexp.MustCompile(`\bmurder\b`),
			regexp.MustCompile(`\brape\b`),
		},
		boost: 0.25,
	},
	{
		name: "sexual_solicitation",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\bsend nudes\b`),
			regexp.MustCompile(`\bsend pics\b`),
			regexp.MustCompile(`\bshow me nude\b`),
			regexp.MustCompile(`\bsend pictures\b`),
		},
		boost: 0.20,
	},
}

const (
	exclamationBoost    = 0.05
	exclamationMinCount = 3
	shoutingBoost       = 0.10
	shoutingMinRunes    = 11
	maxTextBoost        = 1.0
)

// Keyword floors. Every matching family raises the score to at least its floor.
var keywordFloors = []struct {
	family string
	re     *regexp.Regexp
	floor  float64
}{
	{"self_harm", regexp.MustCompile(`\b(kill myself|want to die|i want to die|suicide)\b`), 0.85},
	{"direct_threat", regexp.MustCompile(`\b(i will kill you|i'm going to kill|i will murder|i will hurt you)\b`), 0.80},
	{"explicit_solicitation", regexp.MustCompile(`\b(send nudes|send pics|show me nude|send pictures)\b`), 0.60},
}

// floorHit is one matched keyword floor.
type floorHit struct {
	family string
	floor  float64
}

// textBoost returns the summed, capped boost for the raw text.
// Pattern families match on the lowercased text; the shouting check needs the
// original casing.
func textBoost(raw string) float64 {
	if raw == "" {
		return 0
	}
	lower := strings.ToLower(raw)

	boost := 0.0
	for _, fam := range boostFamilies {
		for _, re := range fam.patterns {
			if re.MatchString(lower) {
				boost += fam.boost
				break
			}
		}
	}
	if strings.Count(raw, "!") >= exclamationMinCount {
		boost += exclamationBoost
	}
	if isShouting(raw) {
		boost += shoutingBoost
	}
	if boost > maxTextBoost {
		boost = maxTextBoost
	}
	return boost
}

// isShouting reports whether text is longer than 10 runes, has at least one
// cased letter, and has no lowercase letters.
func isShouting(raw string) bool {
	if utf8.RuneCountInString(raw) < shoutingMinRunes {
		return false
	}
	cased := false
	for _, r := range raw {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			cased = true
		}
	}
	return cased
}

// matchFloors returns every keyword floor the text hits, in table order.
func matchFloors(raw string) []floorHit {
	if raw == "" {
		return nil
	}
	lower := strings.ToLower(raw)
	var hits []floorHit
	for _, kf := range keywordFloors {
		if kf.re.MatchString(lower) {
			hits = append(hits, floorHit{family: kf.family, floor: kf.floor})
		}
	}
	return hits
}
