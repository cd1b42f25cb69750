// Package cli implements the modguard command line: offline evaluation of
// text or scores against a policy file, and policy validation.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCommand builds the modguard command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "modguard",
		Short: "Content moderation policy tooling",
		Long: "Evaluates text or classifier scores against a moderation policy and\n" +
			"validates policy files and per-project overrides before they are deployed.",
		SilenceUsage: true,
	}
	root.AddCommand(newEvaluateCommand(), newValidateCommand())
	return root
}
