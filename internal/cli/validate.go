package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/LakshiRajika/Content-Moderation-AI/internal/engine"
)

type validateOptions struct {
	policy   string
	override string
}

func newValidateCommand() *cobra.Command {
	opts := &validateOptions{}
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a policy file and optional project override",
		Long: "Parses the policy YAML the server would load, overlays it on the built-in\n" +
			"table and checks it is complete. With --override, also validates a\n" +
			"per-project override document against the schema and the resulting table.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.policy, "policy", "", "Policy YAML file (required)")
	cmd.Flags().StringVar(&opts.override, "override", "", "Per-project override JSON file (optional)")
	_ = cmd.MarkFlagRequired("policy")
	return cmd
}

func runValidate(cmd *cobra.Command, opts *validateOptions) error {
	// Unlike the server, a missing file is an error here.
	data, err := os.ReadFile(opts.policy)
	if err != nil {
		return fmt.Errorf("read policy: %w", err)
	}
	cfg, err := engine.ParseConfig(data)
	if err != nil {
		return fmt.Errorf("policy %s: %w", opts.policy, err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "policy ok: version=%s hash=%s\n", cfg.Version, cfg.Hash())

	if opts.override == "" {
		return nil
	}
	o, err := loadOverride(opts.override)
	if err != nil {
		return err
	}
	merged, err := o.Apply(cfg)
	if err != nil {
		return fmt.Errorf("override %s: %w", opts.override, err)
	}
	fmt.Fprintf(out, "override ok: hash=%s\n", merged.Hash())
	return nil
}
