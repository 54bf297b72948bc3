package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/microtan/shaolinq/cli/internal/ui"
	"github.com/microtan/shaolinq/query/model"
)

func newValidateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [model]",
		Short: "Validate an entity model",
		Long:  "Load a model file, link its entity references and check every type has a finite primary key.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				a.cfg.ModelPath = args[0]
			}
			m, err := a.loadModel()
			if err != nil {
				ui.PrintError("Model validation failed:")
				return err
			}
			ui.PrintSuccess("Model is valid: %s", a.cfg.ModelPath)

			ui.PrintSection("Entities")
			var rows [][]string
			for _, t := range m.Types() {
				rows = append(rows, []string{t.Name, t.Table, keyColumns(t), fmt.Sprint(len(t.Properties)), references(t)})
			}
			return ui.PrintTable([]string{"entity", "table", "key columns", "properties", "references"}, rows)
		},
	}
}

func keyColumns(t *model.TypeDescriptor) string {
	var names []string
	for _, c := range model.PrimaryKeyColumns(t) {
		names = append(names, c.ColumnName)
	}
	return strings.Join(names, ", ")
}

func references(t *model.TypeDescriptor) string {
	var refs []string
	for _, p := range t.Properties {
		if p.IsEntity() {
			refs = append(refs, p.Name+" → "+p.RelatedType)
		}
	}
	if len(refs) == 0 {
		return "-"
	}
	return strings.Join(refs, ", ")
}
