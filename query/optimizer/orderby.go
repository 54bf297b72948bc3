package optimizer

import "github.com/microtan/shaolinq/query/plan"

// amendSubCollectionOrderBy drops orderings inside subqueries: row order is unobservable
// there unless a limit depends on it.
func amendSubCollectionOrderBy(n plan.Node) plan.Node {
	return plan.RewriteFunc(n, func(x plan.Node) plan.Node {
		sub, ok := x.(*plan.Subquery)
		if !ok {
			return x
		}
		if s := stripOrder(sub.Select); s != sub.Select {
			return &plan.Subquery{Select: s}
		}
		return x
	})
}

func stripOrder(s *plan.Select) *plan.Select {
	if s.Skip != nil || s.Take != nil {
		return s
	}
	out := s
	if len(s.OrderBy) > 0 {
		out = s.Clone()
		out.OrderBy = nil
	}
	if inner, ok := s.From.(*plan.Select); ok {
		if stripped := stripOrder(inner); stripped != inner {
			if out == s {
				out = s.Clone()
			}
			out.From = stripped
		}
	}
	return out
}

// normalizeOrderBy lifts the orderings of nested sources to the select that reads them, where
// the database honours them, and removes duplicate sort keys.
func normalizeOrderBy(n plan.Node) plan.Node {
	return plan.RewriteFunc(n, func(x plan.Node) plan.Node {
		s, ok := x.(*plan.Select)
		if !ok || s.From == nil {
			return x
		}
		from, lifted := liftOrderings(s.From)
		reshaped := len(s.GroupBy) > 0 || s.Distinct || selectHasAggregate(s)
		if reshaped {
			lifted = nil
		}
		ordering := appendOrderings(nil, s.OrderBy)
		ordering = appendOrderings(ordering, lifted)
		if from == s.From && len(ordering) == len(s.OrderBy) {
			return x
		}
		out := s.Clone()
		out.From = from
		out.OrderBy = ordering
		return out
	})
}

// liftOrderings removes orderings from source selects that have no limit, returning them
// rewritten as references to the source's columns.
func liftOrderings(src plan.Node) (plan.Node, []*plan.OrderBy) {
	switch v := src.(type) {
	case *plan.Select:
		if len(v.OrderBy) == 0 {
			return src, nil
		}
		columns := append([]plan.ColumnDeclaration(nil), v.Columns...)
		var lifted []*plan.OrderBy
		for _, o := range v.OrderBy {
			var col *plan.Column
			columns, col = exposeColumn(v, columns, o.Expr, "ORD")
			lifted = append(lifted, &plan.OrderBy{Direction: o.Direction, Expr: col})
		}
		if (v.Skip != nil || v.Take != nil) && len(columns) == len(v.Columns) {
			return src, lifted
		}
		out := v.Clone()
		out.Columns = columns
		if v.Skip == nil && v.Take == nil {
			out.OrderBy = nil
		}
		return out, lifted
	case *plan.Join:
		l, ll := liftOrderings(v.Left)
		r, rl := liftOrderings(v.Right)
		if l == v.Left && r == v.Right {
			return src, append(ll, rl...)
		}
		return &plan.Join{Type: v.Type, Left: l, Right: r, Condition: v.Condition}, append(ll, rl...)
	}
	return src, nil
}
