package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ModerateRequest is one content item to moderate.
type ModerateRequest struct {
	Text string
	// Override is the caller's per-project policy overlay. Nil uses the live table.
	Override *PolicyOverride
}

// ClassifierOutcome records how one classifier fared for a request.
type ClassifierOutcome struct {
	Name    string        `json:"name"`
	Err     string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency_ns"`
	// TimedOut is set when the classifier missed the pipeline deadline.
	TimedOut bool `json:"timed_out,omitempty"`
}

// Decision is the full pipeline output for one content item.
type Decision struct {
	Classification CategoryScores      `json:"classification"`
	Risk           *RiskResult         `json:"risk"`
	Action         *ActionResult       `json:"action"`
	Classifiers    []ClassifierOutcome `json:"classifiers"`
	ConfigVersion  string              `json:"config_version"`
	ConfigHash     string              `json:"config_hash"`
	Latency        time.Duration       `json:"latency_ns"`
}

// ModerationEngine fans classification out to all registered classifiers in
// parallel, merges their scores and runs the evaluator and resolver from the
// live snapshot.
type ModerationEngine struct {
	classifiers []Classifier
	timeout     time.Duration
	holder      *SnapshotHolder
	annotator   Annotator
	logger      *zap.Logger
}

// NewModerationEngine creates an engine. annotator may be nil.
func NewModerationEngine(classifiers []Classifier, timeout time.Duration, holder *SnapshotHolder, annotator Annotator, logger *zap.Logger) *ModerationEngine {
	return &ModerationEngine{
		classifiers: classifiers,
		timeout:     timeout,
		holder:      holder,
		annotator:   annotator,
		logger:      logger,
	}
}

// classifierOutput holds a single classifier's result alongside its metadata.
type classifierOutput struct {
	name    string
	scores  CategoryScores
	err     error
	latency time.Duration
}

// Classify runs every classifier under the engine timeout and merges the
// results by per-category max. Classifiers that fail or miss the deadline
// contribute nothing, so an all-failed run yields neutral scores.
//
// Each goroutine sends into a buffered channel sized for all classifiers, so
// late finishers never block after the deadline has been reached.
func (e *ModerationEngine) Classify(ctx context.Context, text string) (CategoryScores, []ClassifierOutcome) {
	merged := NeutralScores()
	if len(e.classifiers) == 0 {
		merged.DeriveNormal()
		return merged, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ch := make(chan classifierOutput, len(e.classifiers))

	for _, cl := range e.classifiers {
		go func(c Classifier) {
			start := time.Now()
			scores, err := c.Classify(ctx, text)
			ch <- classifierOutput{
				name:    c.Name(),
				scores:  scores,
				err:     err,
				latency: time.Since(start),
			}
		}(cl)
	}

	done := make(map[string]bool, len(e.classifiers))
	outcomes := make([]ClassifierOutcome, 0, len(e.classifiers))
	remaining := len(e.classifiers)
	for remaining > 0 {
		select {
		case out := <-ch:
			remaining--
			done[out.name] = true
			oc := ClassifierOutcome{Name: out.name, Latency: out.latency}
			if out.err != nil {
				e.logger.Warn("classifier error, using neutral scores",
					zap.String("classifier", out.name),
					zap.Error(out.err),
				)
				oc.Err = out.err.Error()
				outcomes = append(outcomes, oc)
				continue
			}
			for _, cat := range HarmfulCategories {
				if v := clamp01(out.scores.Get(cat)); v > merged[cat] {
					merged[cat] = v
				}
			}
			outcomes = append(outcomes, oc)
		case <-ctx.Done():
			e.logger.Warn("classifier timeout exceeded, returning partial results",
				zap.Duration("timeout", e.timeout),
			)
			remaining = 0
		}
	}

	for _, cl := range e.classifiers {
		if !done[cl.Name()] {
			outcomes = append(outcomes, ClassifierOutcome{
				Name:     cl.Name(),
				Err:      context.DeadlineExceeded.Error(),
				Latency:  e.timeout,
				TimedOut: true,
			})
		}
	}

	merged.DeriveNormal()
	return merged, outcomes
}

// Moderate classifies, evaluates and resolves one content item. It never
// fails on classifier problems; an invalid per-project override is the only
// error, and the caller decides whether to fall back to the live table.
func (e *ModerationEngine) Moderate(ctx context.Context, req *ModerateRequest) (*Decision, error) {
	start := time.Now()

	scores, outcomes := e.Classify(ctx, req.Text)

	d, err := e.Decide(scores, req.Text, req.Override)
	if err != nil {
		return nil, err
	}
	d.Classifiers = outcomes
	d.Latency = time.Since(start)
	return d, nil
}

// Decide runs the evaluator and resolver against caller-supplied scores.
func (e *ModerationEngine) Decide(scores CategoryScores, text string, override *PolicyOverride) (*Decision, error) {
	start := time.Now()

	snap := e.holder.Load()
	if !override.IsEmpty() {
		s, err := snap.WithOverride(override)
		if err != nil {
			return nil, fmt.Errorf("ModerationEngine.Decide: %w", err)
		}
		snap = s
	}

	classification := normalizeScores(scores)
	for cat, v := range classification {
		classification[cat] = clamp01(v)
	}
	classification.DeriveNormal()

	risk := snap.Evaluator.Evaluate(classification, text)

	var aux *AuxContext
	if e.annotator != nil {
		aux = e.annotator.Annotate(text)
	}
	action := snap.Resolver.Resolve(risk, classification, aux)

	return &Decision{
		Classification: classification,
		Risk:           risk,
		Action:         action,
		ConfigVersion:  snap.Config.Version,
		ConfigHash:     snap.Hash,
		Latency:        time.Since(start),
	}, nil
}

// Snapshot returns the live snapshot.
func (e *ModerationEngine) Snapshot() *Snapshot {
	return e.holder.Load()
}

// Blocking reports whether the decision asks for anything beyond ActionNone.
func (d *Decision) Blocking() bool {
	if d == nil || d.Action == nil {
		return false
	}
	for _, a := range d.Action.Actions {
		if a != ActionNone {
			return true
		}
	}
	return false
}

// Shadowed returns the caller-facing view of d for a shadow-mode project:
// scores and risk are kept, the action set collapses to ActionNone. The
// explanation still describes what would have happened.
func (d *Decision) Shadowed() *Decision {
	if d == nil || d.Action == nil {
		return d
	}
	out := *d
	out.Action = &ActionResult{
		Actions:       []string{ActionNone},
		BannerMessage: levelBanners[LevelLow],
		Policies:      []string{},
		Explanation:   d.Action.Explanation,
		Reasons:       append([]string(nil), d.Action.Reasons...),
	}
	return &out
}
