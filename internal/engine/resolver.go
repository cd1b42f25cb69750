package engine

import (
	"fmt"
	"sort"
	"strings"
)

const (
	bannerSeparator = " ⚠️ "
	reasonNoIssues  = "No safety issues detected"

	maxExplainedContributors = 3
	maxExplainedEntities     = 4
)

var levelBanners = map[Level]string{
	LevelHigh:   "Content violates safety guidelines - review required",
	LevelMedium: "Content may need review - check for context",
	LevelLow:    "Content appears safe",
}

// escalations are added for a level regardless of which categories fired.
var escalations = map[Level][]string{
	LevelHigh:   {ActionReview, ActionBlock},
	LevelMedium: {ActionReview},
}

// ActionResolver maps a RiskResult to moderation actions and rationale.
// It is safe for concurrent use.
type ActionResolver struct {
	cfg Config
}

// NewActionResolver creates a resolver over a private copy of cfg.
func NewActionResolver(cfg Config) *ActionResolver {
	return &ActionResolver{cfg: cfg.Clone()}
}

// Resolve is total: every input, including a nil risk, produces a non-empty
// action set, a banner and a four-sentence explanation.
func (r *ActionResolver) Resolve(risk *RiskResult, scores CategoryScores, aux *AuxContext) *ActionResult {
	level := LevelLow
	var top []Contributor
	if risk != nil {
		if risk.Level >= LevelLow && risk.Level <= LevelHigh {
			level = risk.Level
		}
		top = risk.TopContributors
	}

	actions := newOrderedSet()
	policies := newOrderedSet()
	var fired []string

	for _, c := range top {
		cp, ok := r.cfg.Categories[c.Category]
		if !ok || c.Score < cp.ActionThreshold {
			continue
		}
		actions.add(r.cfg.Actions[level][c.Category]...)
		policies.add(r.cfg.Policies[c.Category]...)
		if expl := r.cfg.Explanations[c.Category]; expl != "" {
			fired = append(fired, expl)
		}
	}

	actions.add(escalations[level]...)

	reasons := fired
	if actions.len() == 0 {
		actions.add(ActionNone)
		reasons = []string{reasonNoIssues}
	}

	banner := levelBanners[level]
	if len(fired) > 0 {
		banner = strings.Join(fired, bannerSeparator)
	}

	sortedActions := sortActions(actions.items())

	return &ActionResult{
		Actions:       sortedActions,
		BannerMessage: banner,
		Policies:      policies.items(),
		Explanation:   buildExplanation(level, top, scores, aux, sortedActions),
		Reasons:       append([]string(nil), reasons...),
	}
}

func buildExplanation(level Level, top []Contributor, scores CategoryScores, aux *AuxContext, actions []string) string {
	sentences := []string{
		fmt.Sprintf("This content is assessed as %s risk based on aggregated category scores and heuristics.", level),
		contributorSentence(top, scores),
		contextSentence(aux),
		actionSentence(actions),
	}
	return strings.Join(sentences, " ")
}

func contributorSentence(top []Contributor, scores CategoryScores) string {
	var parts []string
	if len(top) > 0 {
		for i, c := range top {
			if i == maxExplainedContributors {
				break
			}
			parts = append(parts, fmt.Sprintf("%s (%.2f)", c.Category, c.Score))
		}
	} else {
		// Fall back to the strongest raw confidences.
		ranked := make([]Contributor, 0, len(HarmfulCategories))
		for _, cat := range HarmfulCategories {
			if v := scores.Get(cat); v > 0 {
				ranked = append(ranked, Contributor{Category: cat, Score: v})
			}
		}
		sort.SliceStable(ranked, func(i, j int) bool {
			return ranked[i].Score > ranked[j].Score
		})
		for i, c := range ranked {
			if i == maxExplainedContributors {
				break
			}
			parts = append(parts, fmt.Sprintf("%s (%.2f)", c.Category, c.Score))
		}
	}
	if len(parts) == 0 {
		return "No specific harmful categories were prominent."
	}
	return "Top contributing factors include " + strings.Join(parts, ", ") + "."
}

func contextSentence(aux *AuxContext) string {
	if aux == nil {
		return "NLP analysis did not surface additional notable context."
	}
	s := annotationSentence(aux)
	if aux.Sentiment == "positive" || aux.Sentiment == "negative" {
		s += " Overall tone reads as " + aux.Sentiment + "."
	}
	return s
}

func annotationSentence(aux *AuxContext) string {
	ents := aux.Entities
	if len(ents) > maxExplainedEntities {
		ents = ents[:maxExplainedEntities]
	}
	entText := strings.Join(ents, ", ")
	summary := strings.TrimSpace(aux.Summary)

	switch {
	case summary != "" && entText != "":
		return fmt.Sprintf("NLP analysis notes: %s Key entities: %s.", summary, entText)
	case summary != "":
		return "NLP analysis notes: " + summary
	case entText != "":
		return fmt.Sprintf("Detected entities include: %s.", entText)
	default:
		return "NLP analysis did not surface additional notable context."
	}
}

func actionSentence(actions []string) string {
	if len(actions) == 0 || (len(actions) == 1 && actions[0] == ActionNone) {
		return "No immediate action is recommended given the current signal strengths."
	}
	return fmt.Sprintf("Recommended actions: %s. These are aligned with platform safety policies for the detected risk profile.",
		strings.Join(actions, ", "))
}

// sortActions orders actions by severity, unknown actions last in lexical order.
func sortActions(actions []string) []string {
	rank := func(a string) int {
		for i, known := range actionOrder {
			if known == a {
				return i
			}
		}
		return len(actionOrder)
	}
	out := append([]string(nil), actions...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := rank(out[i]), rank(out[j])
		if ri != rj {
			return ri < rj
		}
		return out[i] < out[j]
	})
	return out
}

// orderedSet is an insertion-ordered string set.
type orderedSet struct {
	seen  map[string]struct{}
	order []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{})}
}

func (s *orderedSet) add(vals ...string) {
	for _, v := range vals {
		if v == "" {
			continue
		}
		if _, ok := s.seen[v]; ok {
			continue
		}
		s.seen[v] = struct{}{}
		s.order = append(s.order, v)
	}
}

func (s *orderedSet) len() int { return len(s.order) }

func (s *orderedSet) items() []string {
	return append([]string{}, s.order...)
}
