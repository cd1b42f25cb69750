package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Canonical moderation actions.
const (
	ActionBlock      = "Block content"
	ActionBanUser    = "Ban user"
	ActionAutoDelete = "Auto-delete content"
	ActionReview     = "Flag for human review"
	ActionWarnUser   = "Warn user"
	ActionShadowBan  = "Shadow-ban user"
	ActionNone       = "No action required"
)

// actionOrder fixes the rendering order of action sets, most severe first.
// Actions not listed here sort after these, alphabetically.
var actionOrder = []string{
	ActionBlock,
	ActionBanUser,
	ActionAutoDelete,
	ActionReview,
	ActionWarnUser,
	ActionShadowBan,
	ActionNone,
}

// DefaultConfigVersion identifies the built-in table.
const DefaultConfigVersion = "builtin-v1"

// CategoryPolicy holds the per-category scoring and action bars.
//
// Threshold is the bar a confidence must exceed to add to the risk score.
// ActionThreshold is the (stricter) bar a confidence must meet to drive actions.
type CategoryPolicy struct {
	Threshold       float64 `json:"threshold" yaml:"threshold"`
	Weight          float64 `json:"weight" yaml:"weight"`
	ActionThreshold float64 `json:"action_threshold" yaml:"action_threshold"`
}

// LevelBounds holds the score boundaries between risk levels.
type LevelBounds struct {
	LowMax    float64 `json:"low_max" yaml:"low_max"`
	MediumMax float64 `json:"medium_max" yaml:"medium_max"`
}

// LevelFor maps a score to its level: < LowMax Low, < MediumMax Medium, else High.
func (b LevelBounds) LevelFor(score float64) Level {
	if score < b.LowMax {
		return LevelLow
	}
	if score < b.MediumMax {
		return LevelMedium
	}
	return LevelHigh
}

// Config is the versioned static moderation table shared by the evaluator and
// the resolver. Treat a Config handed to a constructor as frozen; constructors
// take their own deep copy.
type Config struct {
	Version      string                          `json:"version"`
	Categories   map[Category]CategoryPolicy     `json:"categories"`
	Levels       LevelBounds                     `json:"levels"`
	Actions      map[Level]map[Category][]string `json:"actions"`
	Policies     map[Category][]string           `json:"policies"`
	Explanations map[Category]string             `json:"explanations"`
}

// DefaultConfig returns the built-in canonical table.
func DefaultConfig() Config {
	return Config{
		Version: DefaultConfigVersion,
		Categories: map[Category]CategoryPolicy{
			CategorySexual:     {Threshold: 0.40, Weight: 0.60, ActionThreshold: 0.60},
			CategoryThreat:     {Threshold: 0.30, Weight: 0.80, ActionThreshold: 0.50},
			CategoryViolence:   {Threshold: 0.30, Weight: 0.70, ActionThreshold: 0.50},
			CategoryHateSpeech: {Threshold: 0.40, Weight: 0.50, ActionThreshold: 0.50},
			CategoryProfanity:  {Threshold: 0.50, Weight: 0.25, ActionThreshold: 0.60},
			CategorySpam:       {Threshold: 0.60, Weight: 0.20, ActionThreshold: 0.60},
		},
		Levels: LevelBounds{LowMax: 0.30, MediumMax: 0.70},
		Actions: map[Level]map[Category][]string{
			LevelHigh: {
				CategorySexual:     {ActionBlock, ActionBanUser, ActionReview},
				CategoryThreat:     {ActionBlock, ActionBanUser, ActionReview},
				CategoryViolence:   {ActionBlock, ActionBanUser, ActionReview},
				CategoryHateSpeech: {ActionBlock, ActionBanUser, ActionReview},
				CategoryProfanity:  {ActionBlock, ActionReview},
				CategorySpam:       {ActionAutoDelete, ActionReview},
			},
			LevelMedium: {
				CategorySexual:     {ActionReview},
				CategoryThreat:     {ActionReview},
				CategoryViolence:   {ActionReview},
				CategoryHateSpeech: {ActionReview},
				CategoryProfanity:  {ActionWarnUser, ActionReview},
				CategorySpam:       {ActionWarnUser, ActionReview},
			},
			LevelLow: {
				CategorySexual:     {ActionNone},
				CategoryThreat:     {ActionNone},
				CategoryViolence:   {ActionNone},
				CategoryHateSpeech: {ActionNone},
				CategoryProfanity:  {ActionNone},
				CategorySpam:       {ActionNone},
			},
		},
		Policies: map[Category][]string{
			CategorySexual:     {"Do not allow sexual requests or explicit content."},
			CategoryThreat:     {"Threatening content must be blocked and reported."},
			CategoryViolence:   {"Violence-promoting content must be blocked immediately."},
			CategoryHateSpeech: {"Hateful or discriminatory content must be blocked."},
			CategoryProfanity:  {"Offensive language should be flagged for review."},
			CategorySpam:       {"Spam content should be removed automatically or warned."},
		},
		Explanations: map[Category]string{
			CategorySexual:     "This content includes sexual requests or explicit material.",
			CategoryThreat:     "This content contains threats or harmful intent.",
			CategoryViolence:   "This content promotes violence or harm.",
			CategoryHateSpeech: "This content contains hateful language.",
			CategoryProfanity:  "This content includes strong or offensive language.",
			CategorySpam:       "This content appears to be spam or promotional.",
		},
	}
}

// Clone returns a deep copy so the original tables can never be mutated through it.
func (c Config) Clone() Config {
	out := Config{
		Version:      c.Version,
		Levels:       c.Levels,
		Categories:   make(map[Category]CategoryPolicy, len(c.Categories)),
		Actions:      make(map[Level]map[Category][]string, len(c.Actions)),
		Policies:     make(map[Category][]string, len(c.Policies)),
		Explanations: make(map[Category]string, len(c.Explanations)),
	}
	for k, v := range c.Categories {
		out.Categories[k] = v
	}
	for lvl, byCat := range c.Actions {
		m := make(map[Category][]string, len(byCat))
		for cat, acts := range byCat {
			m[cat] = append([]string(nil), acts...)
		}
		out.Actions[lvl] = m
	}
	for k, v := range c.Policies {
		out.Policies[k] = append([]string(nil), v...)
	}
	for k, v := range c.Explanations {
		out.Explanations[k] = v
	}
	return out
}

// Validate checks the table for completeness: every harmful category has a
// policy entry, every (level, category) pair resolves to a non-empty action
// list, and all bars lie in [0,1] with LowMax < MediumMax.
func (c Config) Validate() error {
	var errs []error

	if !(c.Levels.LowMax > 0 && c.Levels.LowMax < c.Levels.MediumMax && c.Levels.MediumMax <= 1) {
		errs = append(errs, fmt.Errorf("levels: require 0 < low_max < medium_max <= 1, got %.2f/%.2f",
			c.Levels.LowMax, c.Levels.MediumMax))
	}

	for _, cat := range HarmfulCategories {
		cp, ok := c.Categories[cat]
		if !ok {
			errs = append(errs, fmt.Errorf("categories: missing %s", cat))
		} else {
			if !inUnit(cp.Threshold) {
				errs = append(errs, fmt.Errorf("categories.%s.threshold out of [0,1]: %v", cat, cp.Threshold))
			}
			if !inUnit(cp.Weight) {
				errs = append(errs, fmt.Errorf("categories.%s.weight out of [0,1]: %v", cat, cp.Weight))
			}
			if !inUnit(cp.ActionThreshold) {
				errs = append(errs, fmt.Errorf("categories.%s.action_threshold out of [0,1]: %v", cat, cp.ActionThreshold))
			}
		}
		if len(c.Policies[cat]) == 0 {
			errs = append(errs, fmt.Errorf("policies: missing %s", cat))
		}
		if c.Explanations[cat] == "" {
			errs = append(errs, fmt.Errorf("explanations: missing %s", cat))
		}
		for _, lvl := range Levels {
			if len(c.Actions[lvl][cat]) == 0 {
				errs = append(errs, fmt.Errorf("actions: no entry for (%s, %s)", lvl, cat))
			}
		}
	}

	for cat := range c.Categories {
		if categoryIndex(cat) < 0 {
			errs = append(errs, fmt.Errorf("categories: unknown category %q", cat))
		}
	}

	return errors.Join(errs...)
}

// Hash returns a stable "sha256:<hex>" digest of the table for audit correlation.
func (c Config) Hash() string {
	// json.Marshal sorts map keys, which makes the encoding canonical.
	b, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	h := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(h[:])
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}

// CategoryOverride overlays one category's bars. Nil fields keep the base value.
type CategoryOverride struct {
	Threshold       *float64 `json:"threshold,omitempty" yaml:"threshold"`
	Weight          *float64 `json:"weight,omitempty" yaml:"weight"`
	ActionThreshold *float64 `json:"action_threshold,omitempty" yaml:"action_threshold"`
}

// LevelsOverride overlays the level boundaries. Nil fields keep the base value.
type LevelsOverride struct {
	LowMax    *float64 `json:"low_max,omitempty" yaml:"low_max"`
	MediumMax *float64 `json:"medium_max,omitempty" yaml:"medium_max"`
}

// PolicyOverride is a partial overlay on a Config. It is the shape of both the
// per-project JSON stored in Postgres and the numeric part of the YAML file.
type PolicyOverride struct {
	Categories map[string]CategoryOverride `json:"categories,omitempty" yaml:"categories"`
	Levels     *LevelsOverride             `json:"levels,omitempty" yaml:"levels"`
}

// IsEmpty reports whether the override changes nothing.
func (o *PolicyOverride) IsEmpty() bool {
	return o == nil || (len(o.Categories) == 0 && o.Levels == nil)
}

// Merge returns a new override where every non-nil field of patch replaces the
// matching field of o. Neither input is modified.
func (o *PolicyOverride) Merge(patch *PolicyOverride) *PolicyOverride {
	out := &PolicyOverride{Categories: map[string]CategoryOverride{}}
	for _, src := range []*PolicyOverride{o, patch} {
		if src == nil {
			continue
		}
		for name, co := range src.Categories {
			cur := out.Categories[name]
			if co.Threshold != nil {
				cur.Threshold = co.Threshold
			}
			if co.Weight != nil {
				cur.Weight = co.Weight
			}
			if co.ActionThreshold != nil {
				cur.ActionThreshold = co.ActionThreshold
			}
			out.Categories[name] = cur
		}
		if src.Levels != nil {
			if out.Levels == nil {
				out.Levels = &LevelsOverride{}
			}
			if src.Levels.LowMax != nil {
				out.Levels.LowMax = src.Levels.LowMax
			}
			if src.Levels.MediumMax != nil {
				out.Levels.MediumMax = src.Levels.MediumMax
			}
		}
	}
	if len(out.Categories) == 0 {
		out.Categories = nil
	}
	return out
}

// Apply returns a validated copy of base with the override laid on top.
// The result is validated even when the override is empty. The base is never
// modified.
func (o *PolicyOverride) Apply(base Config) (Config, error) {
	out := base.Clone()
	if o == nil {
		o = &PolicyOverride{}
	}

	for name, co := range o.Categories {
		cat, ok := ParseCategory(name)
		if !ok || cat == CategoryNormal {
			return Config{}, fmt.Errorf("PolicyOverride.Apply: unknown category %q", name)
		}
		cp := out.Categories[cat]
		if co.Threshold != nil {
			cp.Threshold = *co.Threshold
		}
		if co.Weight != nil {
			cp.Weight = *co.Weight
		}
		if co.ActionThreshold != nil {
			cp.ActionThreshold = *co.ActionThreshold
		}
		out.Categories[cat] = cp
	}

	if o.Levels != nil {
		if o.Levels.LowMax != nil {
			out.Levels.LowMax = *o.Levels.LowMax
		}
		if o.Levels.MediumMax != nil {
			out.Levels.MediumMax = *o.Levels.MediumMax
		}
	}

	if err := out.Validate(); err != nil {
		return Config{}, fmt.Errorf("PolicyOverride.Apply: %w", err)
	}
	return out, nil
}

// configFile is the on-disk YAML shape. Every section is optional and
// overlays DefaultConfig.
type configFile struct {
	Version        string `yaml:"version"`
	PolicyOverride `yaml:",inline"`
	Actions        map[string]map[string][]string `yaml:"actions"`
	Policies       map[string][]string            `yaml:"policies"`
	Explanations   map[string]string              `yaml:"explanations"`
}

// ParseConfig overlays YAML data on DefaultConfig and validates the result.
func ParseConfig(data []byte) (Config, error) {
	var f configFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Config{}, fmt.Errorf("ParseConfig: %w", err)
	}

	base := DefaultConfig()
	if f.Version != "" {
		base.Version = f.Version
	}

	for lvlName, byCat := range f.Actions {
		lvl, ok := ParseLevel(lvlName)
		if !ok {
			return Config{}, fmt.Errorf("ParseConfig: actions: unknown level %q", lvlName)
		}
		for catName, acts := range byCat {
			cat, err := parseHarmful(catName)
			if err != nil {
				return Config{}, fmt.Errorf("ParseConfig: actions.%s: %w", lvlName, err)
			}
			base.Actions[lvl][cat] = append([]string(nil), acts...)
		}
	}
	for catName, pols := range f.Policies {
		cat, err := parseHarmful(catName)
		if err != nil {
			return Config{}, fmt.Errorf("ParseConfig: policies: %w", err)
		}
		base.Policies[cat] = append([]string(nil), pols...)
	}
	for catName, text := range f.Explanations {
		cat, err := parseHarmful(catName)
		if err != nil {
			return Config{}, fmt.Errorf("ParseConfig: explanations: %w", err)
		}
		base.Explanations[cat] = text
	}

	cfg, err := f.PolicyOverride.Apply(base)
	if err != nil {
		return Config{}, fmt.Errorf("ParseConfig: %w", err)
	}
	return cfg, nil
}

// LoadConfigFile loads the moderation table from a YAML file.
// An empty path or a missing file yields DefaultConfig. Invalid YAML or an
// incomplete table is an error. The returned hash covers the resolved table.
func LoadConfigFile(path string) (Config, string, error) {
	if path == "" {
		cfg := DefaultConfig()
		return cfg, cfg.Hash(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			return cfg, cfg.Hash(), nil
		}
		return Config{}, "", fmt.Errorf("LoadConfigFile: %w", err)
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, "", fmt.Errorf("LoadConfigFile %s: %w", path, err)
	}
	return cfg, cfg.Hash(), nil
}

// ReadConfigFile loads and validates the table at path. Unlike
// LoadConfigFile, a missing file is an error.
func ReadConfigFile(path string) (Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, "", fmt.Errorf("ReadConfigFile: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, "", fmt.Errorf("ReadConfigFile %s: %w", path, err)
	}
	return cfg, cfg.Hash(), nil
}

func parseHarmful(name string) (Category, error) {
	cat, ok := ParseCategory(name)
	if !ok || cat == CategoryNormal {
		return "", fmt.Errorf("unknown category %q", name)
	}
	return cat, nil
}
