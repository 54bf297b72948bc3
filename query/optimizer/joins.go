package optimizer

import "github.com/microtan/shaolinq/query/plan"

func aliasSet(n plan.Node) map[string]bool {
	out := map[string]bool{}
	for _, a := range plan.DeclaredAliases(n) {
		out[a] = true
	}
	return out
}

func referencesAny(n plan.Node, aliases map[string]bool) bool {
	if n == nil {
		return false
	}
	for a := range plan.ReferencedAliases(n) {
		if aliases[a] {
			return true
		}
	}
	return false
}

// rewriteCrossJoins moves WHERE conjuncts that relate both sides of a cross join into its
// condition, turning it into an inner join.
func rewriteCrossJoins(n plan.Node) plan.Node {
	return plan.RewriteFunc(n, func(x plan.Node) plan.Node {
		s, ok := x.(*plan.Select)
		if !ok || s.Where == nil {
			return x
		}
		j, ok := s.From.(*plan.Join)
		if !ok || j.Type != plan.JoinCross {
			return x
		}
		left, right := aliasSet(j.Left), aliasSet(j.Right)
		var cond, rest plan.Node
		for _, c := range plan.Conjuncts(s.Where) {
			if referencesAny(c, left) && referencesAny(c, right) {
				cond = plan.And(cond, c)
				continue
			}
			rest = plan.And(rest, c)
		}
		if cond == nil {
			return x
		}
		out := s.Clone()
		out.From = &plan.Join{Type: plan.JoinInner, Left: j.Left, Right: j.Right, Condition: cond}
		out.Where = rest
		return out
	})
}

// rewriteCrossApplies turns apply joins into ordinary joins. An uncorrelated right side gives
// a cross (or always-true left) join; a right side correlated only through its WHERE gives an
// inner (or left) join on the correlated conjuncts. Anything else stays an apply, which only
// dialects with lateral joins can render.
func rewriteCrossApplies(n plan.Node, lateral bool) plan.Node {
	return plan.RewriteFunc(n, func(x plan.Node) plan.Node {
		j, ok := x.(*plan.Join)
		if !ok || (j.Type != plan.JoinCrossApply && j.Type != plan.JoinOuterApply) {
			return x
		}
		left := aliasSet(j.Left)
		if !referencesAny(j.Right, left) {
			if j.Type == plan.JoinCrossApply {
				return &plan.Join{Type: plan.JoinCross, Left: j.Left, Right: j.Right}
			}
			return &plan.Join{Type: plan.JoinLeft, Left: j.Left, Right: j.Right, Condition: &plan.Constant{Value: true}}
		}
		right, ok := j.Right.(*plan.Select)
		if !ok || !decorrelatable(right, left) {
			if !lateral {
				violation("apply join is correlated outside its WHERE and the dialect has no lateral joins")
			}
			return x
		}

		inner := aliasSet(right.From)
		columns := append([]plan.ColumnDeclaration(nil), right.Columns...)
		var cond, rest plan.Node
		for _, c := range plan.Conjuncts(right.Where) {
			if !referencesAny(c, left) {
				rest = plan.And(rest, c)
				continue
			}
			c = plan.RewriteFunc(c, func(y plan.Node) plan.Node {
				col, ok := y.(*plan.Column)
				if !ok || !inner[col.Alias] {
					return y
				}
				var exposed *plan.Column
				columns, exposed = exposeColumn(right, columns, col, "COL")
				return exposed
			})
			cond = plan.And(cond, c)
		}
		r := right.Clone()
		r.Columns = columns
		r.Where = rest

		typ := plan.JoinInner
		if j.Type == plan.JoinOuterApply {
			typ = plan.JoinLeft
		}
		return &plan.Join{Type: typ, Left: j.Left, Right: r, Condition: plan.And(cond, j.Condition)}
	})
}

// decorrelatable reports a right side whose only reference to the left is in its WHERE and
// whose rows do not depend on per-row limits or grouping.
func decorrelatable(s *plan.Select, left map[string]bool) bool {
	if s.Skip != nil || s.Take != nil || s.Distinct || len(s.GroupBy) > 0 || selectHasAggregate(s) {
		return false
	}
	if referencesAny(s.From, left) {
		return false
	}
	for _, c := range s.Columns {
		if referencesAny(c.Expr, left) {
			return false
		}
	}
	for _, o := range s.OrderBy {
		if referencesAny(o.Expr, left) {
			return false
		}
	}
	return true
}
