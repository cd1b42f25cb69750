package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/LakshiRajika/Content-Moderation-AI/internal/auth"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/engine"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/engine/classifiers"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/moderation"
	"github.com/LakshiRajika/Content-Moderation-AI/internal/nlp"
)

type evaluateOptions struct {
	text     string
	scores   []string
	policy   string
	override string
	asJSON   bool
}

func newEvaluateCommand() *cobra.Command {
	opts := &evaluateOptions{}
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score text or caller-supplied scores against a policy",
		Long: "Runs the built-in heuristic classifier over --text, or evaluates the\n" +
			"given --scores directly, and prints the risk level and resolved actions.\n\n" +
			"Scores accept fractions or percentages: --scores threat=0.9 --scores spam=40%",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.text, "text", "", "Text to moderate")
	cmd.Flags().StringArrayVar(&opts.scores, "scores", nil, "Category score as category=value (repeatable, comma-separated)")
	cmd.Flags().StringVar(&opts.policy, "policy", "", "Policy YAML file (defaults to the built-in table)")
	cmd.Flags().StringVar(&opts.override, "override", "", "Per-project override JSON file (optional)")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print the full response as JSON")
	return cmd
}

func runEvaluate(cmd *cobra.Command, opts *evaluateOptions) error {
	if strings.TrimSpace(opts.text) == "" && len(opts.scores) == 0 {
		return fmt.Errorf("one of --text or --scores is required")
	}

	cfg, _, err := engine.LoadConfigFile(opts.policy)
	if err != nil {
		return err
	}

	req := &moderation.Request{Text: opts.text, Source: "cli"}
	if len(opts.scores) > 0 {
		req.Scores, err = parseScores(opts.scores)
		if err != nil {
			return err
		}
	}

	var proj *auth.ProjectContext
	if opts.override != "" {
		o, err := loadOverride(opts.override)
		if err != nil {
			return err
		}
		if _, err := o.Apply(cfg); err != nil {
			return fmt.Errorf("override %s: %w", opts.override, err)
		}
		proj = &auth.ProjectContext{ProjectID: "cli", Override: o}
	}

	holder := engine.NewSnapshotHolder(engine.NewSnapshot(cfg))
	eng := engine.NewModerationEngine(
		[]engine.Classifier{classifiers.NewHeuristicClassifier()},
		2*time.Second, holder, nlp.NewAnnotator(), zap.NewNop(),
	)
	svc := moderation.NewService(eng, nil, nil, zap.NewNop())

	res, err := svc.Moderate(cmd.Context(), proj, req)
	if err != nil {
		return err
	}

	resp := res.Render()
	if opts.asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	printDecision(cmd.OutOrStdout(), resp)
	return nil
}

// parseScores reads category=value pairs. Values follow the classifier
// coercion rules, so "0.9" and "90%" both mean 0.9.
func parseScores(entries []string) (engine.CategoryScores, error) {
	raw := make(map[string]any)
	for _, entry := range entries {
		for _, pair := range strings.Split(entry, ",") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			name, value, ok := strings.Cut(pair, "=")
			if !ok {
				return nil, fmt.Errorf("invalid score %q: want category=value", pair)
			}
			name = strings.TrimSpace(name)
			cat, known := engine.ParseCategory(name)
			if !known || cat == engine.CategoryNormal {
				return nil, fmt.Errorf("unknown category %q", name)
			}
			raw[name] = strings.TrimSpace(value)
		}
	}
	return classifiers.NormalizeRaw(raw), nil
}

func loadOverride(path string) (*engine.PolicyOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read override: %w", err)
	}
	o, err := engine.ValidateOverrideJSON(data)
	if err != nil {
		return nil, fmt.Errorf("override %s: %w", path, err)
	}
	return o, nil
}

func printDecision(w io.Writer, resp *moderation.Response) {
	fmt.Fprintf(w, "Risk:    %s (%.4f)\n", resp.Risk.Level, resp.Risk.Score)
	fmt.Fprintf(w, "Actions: %s\n", strings.Join(resp.Action.Actions, ", "))
	fmt.Fprintf(w, "Banner:  %s\n", resp.Action.BannerMessage)
	if resp.Action.Explanation != "" {
		fmt.Fprintf(w, "Why:     %s\n", resp.Action.Explanation)
	}
	for _, p := range resp.Action.Policies {
		fmt.Fprintf(w, "Policy:  %s\n", p)
	}
	for _, r := range resp.Risk.Reasons {
		fmt.Fprintf(w, "  - %s\n", r)
	}
	fmt.Fprintf(w, "Config:  %s\n", resp.ConfigVersion)
}
