package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/microtan/shaolinq/cli/internal/ui"
	"github.com/microtan/shaolinq/cli/internal/update"
	"github.com/microtan/shaolinq/cli/internal/version"
)

func newVersionCommand() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// the root's config loading is not needed here
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			fmt.Fprintln(cmd.OutOrStdout(), info.FullString())
			if !check {
				return nil
			}
			status, err := newChecker().Check(cmd.Context(), info.Version)
			if err != nil {
				return fmt.Errorf("release check failed: %w", err)
			}
			if status.Available {
				ui.PrintWarning("A new version is available: %s (current %s)", status.Latest, status.Current)
				ui.PrintInfo("Update with: %s", status.InstallCommand())
				return nil
			}
			ui.PrintSuccess("shaolinq is up to date")
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "check the module proxy for a newer release")
	return cmd
}

// newChecker is replaced in tests.
var newChecker = update.NewChecker
