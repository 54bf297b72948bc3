package optimizer

import "github.com/microtan/shaolinq/query/plan"

// normalizeDataModification rewrites the target table's columns in DELETE and UPDATE
// statements as unqualified names; the target carries no alias in the emitted statement.
func normalizeDataModification(n plan.Node) plan.Node {
	unqualify := func(alias string, e plan.Node) plan.Node {
		if e == nil {
			return nil
		}
		return plan.ReplaceColumns(e, alias, func(name string) plan.Node {
			return &plan.Column{Name: name}
		})
	}
	switch v := n.(type) {
	case *plan.Delete:
		if v.Alias == "" {
			return n
		}
		return &plan.Delete{Table: v.Table, Where: unqualify(v.Alias, v.Where)}
	case *plan.Update:
		if v.Alias == "" {
			return n
		}
		out := &plan.Update{Table: v.Table, Where: unqualify(v.Alias, v.Where)}
		for _, a := range v.Assignments {
			out.Assignments = append(out.Assignments, plan.Assignment{Column: a.Column, Value: unqualify(v.Alias, a.Value)})
		}
		return out
	case *plan.Insert:
		for _, a := range v.Assignments {
			if len(plan.ReferencedAliases(a.Value)) > 0 {
				violation("insert value for %s references a column", a.Column)
			}
		}
	}
	return n
}
