package optimizer

import "github.com/microtan/shaolinq/query/plan"

// collateGroupBy flattens composite group keys into their scalar columns, drops constants
// and removes duplicates.
func collateGroupBy(n plan.Node) plan.Node {
	return plan.RewriteFunc(n, func(x plan.Node) plan.Node {
		s, ok := x.(*plan.Select)
		if !ok || len(s.GroupBy) == 0 {
			return x
		}
		var keys []plan.Node
		seen := map[string]bool{}
		var add func(plan.Node)
		add = func(k plan.Node) {
			switch v := k.(type) {
			case *plan.ObjectReference:
				for _, b := range v.Bindings {
					add(b.Expr)
				}
			case *plan.New:
				for _, f := range v.Fields {
					add(f.Expr)
				}
			case *plan.Tuple:
				for _, item := range v.Items {
					add(item)
				}
			case *plan.Constant, *plan.ConstantPlaceholder:
			case *plan.Projection, *plan.Grouping:
				violation("group key of %s is a sequence", s.Alias)
			default:
				if key := plan.Key(k); !seen[key] {
					seen[key] = true
					keys = append(keys, k)
				}
			}
		}
		for _, k := range s.GroupBy {
			add(k)
		}
		if len(keys) == len(s.GroupBy) && plan.Key(&plan.Tuple{Items: keys}) == plan.Key(&plan.Tuple{Items: s.GroupBy}) {
			return x
		}
		out := s.Clone()
		out.GroupBy = keys
		return out
	})
}

// rewriteAggregateSubqueries turns an aggregate over a group's elements into a column of the
// grouped select when the enclosing select reads directly from it.
func rewriteAggregateSubqueries(n plan.Node) plan.Node {
	return plan.RewriteFunc(n, func(x plan.Node) plan.Node {
		s, ok := x.(*plan.Select)
		if !ok {
			return x
		}
		g, ok := s.From.(*plan.Select)
		if !ok || len(g.GroupBy) == 0 {
			return x
		}
		columns := g.Columns
		grown := false
		out := mapExprs(s, func(e plan.Node) plan.Node {
			return rewriteLocal(e, func(y plan.Node) plan.Node {
				as, ok := y.(*plan.AggregateSubquery)
				if !ok || as.GroupByAlias != g.Alias {
					return y
				}
				var col *plan.Column
				before := len(columns)
				columns, col = exposeColumn(g, append([]plan.ColumnDeclaration(nil), columns...), as.InGroup, "AGG")
				grown = grown || len(columns) != before
				return col
			})
		})
		if out == s {
			return x
		}
		if grown {
			ng := g.Clone()
			ng.Columns = columns
			out.From = ng
		}
		return out
	})
}
