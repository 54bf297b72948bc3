package optimizer

import "github.com/microtan/shaolinq/query/plan"

// expandCollections lowers collection membership into IN lists, IN subqueries or EXISTS.
func expandCollections(n plan.Node) plan.Node {
	return plan.RewriteFunc(n, func(x plan.Node) plan.Node {
		f, ok := x.(*plan.FunctionCall)
		if !ok || f.Function != plan.FuncContainsElement {
			return x
		}
		if len(f.Args) != 2 {
			violation("ContainsElement takes 2 arguments, got %d", len(f.Args))
		}
		coll, item := f.Args[0], f.Args[1]
		switch c := coll.(type) {
		case *plan.ConstantPlaceholder:
			if c.Len == 0 {
				return &plan.Constant{Value: false}
			}
			return in(item, c)
		case *plan.Constant:
			values, ok := c.Value.([]any)
			if !ok {
				violation("ContainsElement over a %T constant", c.Value)
			}
			if len(values) == 0 {
				return &plan.Constant{Value: false}
			}
			items := make([]plan.Node, len(values))
			for i, v := range values {
				items[i] = &plan.Constant{Value: v}
			}
			return in(item, &plan.Tuple{Items: items})
		case *plan.Tuple:
			if len(c.Items) == 0 {
				return &plan.Constant{Value: false}
			}
			return in(item, c)
		case *plan.Projection:
			return containsInSequence(c, item)
		}
		violation("ContainsElement over %s", coll.Kind())
		return nil
	})
}

func in(item, set plan.Node) plan.Node {
	return &plan.FunctionCall{Function: plan.FuncIn, Args: []plan.Node{item, set}}
}

// containsInSequence tests membership in a bound sequence: a scalar element becomes an IN
// subquery over that one column, a composite one an EXISTS with pairwise equality.
func containsInSequence(p *plan.Projection, item plan.Node) plan.Node {
	s := p.Select
	projected := scalarsOf(p.Projector)
	values := scalarsOf(item)
	if len(projected) != len(values) {
		violation("ContainsElement compares %d values against %d columns", len(values), len(projected))
	}

	if len(projected) == 1 {
		if col, ok := projected[0].(*plan.Column); ok && col.Alias == s.Alias {
			if decl, ok := s.Column(col.Name); ok {
				out := s.Clone()
				out.Columns = []plan.ColumnDeclaration{decl}
				return in(values[0], &plan.Subquery{Select: out})
			}
		}
	}

	if s.Skip != nil || s.Take != nil || s.Distinct || len(s.GroupBy) > 0 {
		violation("ContainsElement over a limited or grouped sequence with a composite element")
	}
	var match plan.Node
	for i, e := range projected {
		e = plan.ReplaceColumns(e, s.Alias, func(name string) plan.Node {
			if decl, ok := s.Column(name); ok {
				return decl.Expr
			}
			return nil
		})
		match = plan.And(match, &plan.Binary{Op: plan.OpEqual, Left: e, Right: values[i]})
	}
	out := s.Clone()
	out.Where = plan.And(out.Where, match)
	out.OrderBy = nil
	return &plan.FunctionCall{Function: plan.FuncExists, Args: []plan.Node{&plan.Subquery{Select: out}}}
}

// scalarsOf flattens a value into the scalar expressions that identify it.
func scalarsOf(n plan.Node) []plan.Node {
	switch v := n.(type) {
	case *plan.ObjectReference:
		var out []plan.Node
		keys := v.KeyBindings()
		if len(keys) == 0 {
			keys = v.Bindings
		}
		for _, b := range keys {
			out = append(out, scalarsOf(b.Expr)...)
		}
		return out
	case *plan.New:
		var out []plan.Node
		for _, f := range v.Fields {
			out = append(out, scalarsOf(f.Expr)...)
		}
		return out
	case *plan.Tuple:
		var out []plan.Node
		for _, item := range v.Items {
			out = append(out, scalarsOf(item)...)
		}
		return out
	}
	return []plan.Node{n}
}
