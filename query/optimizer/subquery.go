package optimizer

import "github.com/microtan/shaolinq/query/plan"

// removeRedundantSubqueries merges a select into the select it reads from when the result is
// unchanged, and replaces join sides that only rename a table's columns with the table.
func removeRedundantSubqueries(n plan.Node) plan.Node {
	return plan.RewriteFunc(n, func(x plan.Node) plan.Node {
		switch v := x.(type) {
		case *plan.Select:
			for {
				inner, ok := v.From.(*plan.Select)
				if !ok || !canMerge(v, inner) {
					return v
				}
				v = merge(v, inner)
			}
		case *plan.Join:
			l, r := unwrapTable(v.Left), unwrapTable(v.Right)
			if l == v.Left && r == v.Right {
				return x
			}
			return &plan.Join{Type: v.Type, Left: l, Right: r, Condition: v.Condition}
		}
		return x
	})
}

// simple reports a select that only projects.
func simple(s *plan.Select) bool {
	return s.Where == nil && len(s.GroupBy) == 0 && !s.Distinct && s.Skip == nil && s.Take == nil
}

// plainProjection reports that every column of outer is a bare column of inner.
func plainProjection(outer, inner *plan.Select) bool {
	for _, c := range outer.Columns {
		col, ok := c.Expr.(*plan.Column)
		if !ok || col.Alias != inner.Alias {
			return false
		}
	}
	return true
}

func canMerge(outer, inner *plan.Select) bool {
	if inner.From == nil {
		return false
	}
	if inner.Distinct {
		if !simple(outer) || len(outer.OrderBy) > 0 || !plainProjection(outer, inner) || len(outer.Columns) != len(inner.Columns) {
			return false
		}
	}
	if len(inner.GroupBy) > 0 || selectHasAggregate(inner) {
		if !simple(outer) || selectHasAggregate(outer) {
			return false
		}
	}
	if inner.Skip != nil || inner.Take != nil {
		if outer.Where != nil || len(outer.GroupBy) > 0 || outer.Distinct || len(outer.OrderBy) > 0 || selectHasAggregate(outer) {
			return false
		}
		if outer.Skip != nil || (outer.Take != nil && inner.Take != nil) {
			return false
		}
	}
	return true
}

// merge folds inner into outer, substituting inner's column expressions for references to
// inner's alias. The merged select keeps outer's alias so references from above still hold.
func merge(outer, inner *plan.Select) *plan.Select {
	subst := func(e plan.Node) plan.Node {
		if e == nil {
			return nil
		}
		return plan.ReplaceColumns(e, inner.Alias, func(name string) plan.Node {
			if c, ok := inner.Column(name); ok {
				return c.Expr
			}
			violation("select %s reads missing column %s.%s", outer.Alias, inner.Alias, name)
			return nil
		})
	}

	out := &plan.Select{
		Alias:     outer.Alias,
		From:      inner.From,
		Where:     plan.And(inner.Where, subst(outer.Where)),
		Distinct:  outer.Distinct || inner.Distinct,
		Skip:      inner.Skip,
		Take:      inner.Take,
		ForUpdate: outer.ForUpdate || inner.ForUpdate,
	}
	for _, c := range outer.Columns {
		out.Columns = append(out.Columns, plan.ColumnDeclaration{Name: c.Name, Expr: subst(c.Expr)})
	}
	if outer.Take != nil {
		out.Take = outer.Take
	}
	if outer.Skip != nil {
		out.Skip = outer.Skip
	}

	out.GroupBy = inner.GroupBy
	if len(outer.GroupBy) > 0 {
		out.GroupBy = nil
		for _, g := range outer.GroupBy {
			out.GroupBy = append(out.GroupBy, subst(g))
		}
	}

	for _, o := range outer.OrderBy {
		out.OrderBy = append(out.OrderBy, &plan.OrderBy{Direction: o.Direction, Expr: subst(o.Expr)})
	}
	// inner orderings survive as tie breakers unless the outer block reshapes the rows
	if len(outer.GroupBy) == 0 && !outer.Distinct && !selectHasAggregate(outer) {
		out.OrderBy = appendOrderings(out.OrderBy, inner.OrderBy)
	}
	return out
}

func appendOrderings(dst, src []*plan.OrderBy) []*plan.OrderBy {
	seen := map[string]bool{}
	for _, o := range dst {
		seen[plan.Key(o.Expr)] = true
	}
	for _, o := range src {
		if k := plan.Key(o.Expr); !seen[k] {
			seen[k] = true
			dst = append(dst, o)
		}
	}
	return dst
}

// unwrapTable turns a select that only renames a table's columns to themselves into the table,
// reusing the select's alias.
func unwrapTable(n plan.Node) plan.Node {
	s, ok := n.(*plan.Select)
	if !ok || !simple(s) || len(s.OrderBy) > 0 || s.ForUpdate {
		return n
	}
	t, ok := s.From.(*plan.Table)
	if !ok {
		return n
	}
	for _, c := range s.Columns {
		col, ok := c.Expr.(*plan.Column)
		if !ok || col.Alias != t.Alias || col.Name != c.Name {
			return n
		}
	}
	return &plan.Table{Name: t.Name, Alias: s.Alias}
}
