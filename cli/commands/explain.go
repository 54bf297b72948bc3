package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/microtan/shaolinq/cli/internal/ui"
)

func newExplainCommand(a *app) *cobra.Command {
	var (
		file     string
		markdown bool
	)

	cmd := &cobra.Command{
		Use:   "explain [chain]",
		Short: "Show every compilation stage of a chain",
		Long:  "Print the parameterized chain, the bound plan, the optimized plan and the final SQL.",
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, err := readChain(args, file, stdin())
			if err != nil {
				return err
			}
			engine, err := a.engine()
			if err != nil {
				return err
			}
			ex, err := engine.Explain(chain)
			if err != nil {
				return err
			}

			if markdown {
				var sb strings.Builder
				fmt.Fprintf(&sb, "# %s\n\n", engine.Dialect().Key())
				fmt.Fprintf(&sb, "## Shape\n\n```\n%s\n```\n\n", ex.Shape)
				fmt.Fprintf(&sb, "## Bound plan\n\n```\n%s\n```\n\n", ex.Bound)
				fmt.Fprintf(&sb, "## Optimized plan\n\n```\n%s\n```\n\n", ex.Optimized)
				fmt.Fprintf(&sb, "## SQL\n\n```sql\n%s\n```\n", ex.Inline)
				return ui.PrintMarkdown(sb.String())
			}

			ui.PrintHeader("shaolinq", "explain · "+engine.Dialect().Key())
			ui.PrintSection("Shape")
			fmt.Fprintln(ui.Out, ex.Shape)
			ui.PrintSection("Bound plan")
			fmt.Fprintln(ui.Out, ex.Bound)
			ui.PrintSection("Optimized plan")
			fmt.Fprintln(ui.Out, ex.Optimized)
			ui.PrintSection("SQL")
			ui.PrintSQL(ex.SQL)
			if len(ex.Params) > 0 {
				rows := make([][]string, len(ex.Params))
				for i, p := range ex.Params {
					source := "fixed"
					if p.Placeholder >= 0 {
						source = fmt.Sprintf("$%d", p.Placeholder)
						if p.Element >= 0 {
							source += fmt.Sprintf("[%d]", p.Element)
						}
					}
					rows[i] = []string{engine.Dialect().Placeholder(i + 1), source, cell(p.Value)}
				}
				return ui.PrintTable([]string{"parameter", "source", "value"}, rows)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "read the chain from a file")
	cmd.Flags().BoolVar(&markdown, "markdown", false, "render the explanation as markdown")
	return cmd
}
