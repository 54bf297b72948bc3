package plan

import "fmt"

// Validate checks the structural invariants of a plan: every column reference resolves to an
// alias in scope, join conditions only see their children (and enclosing scopes), and every
// ObjectReference has at least one binding.
func Validate(n Node) error {
	v := &validator{}
	v.node(n, nil)
	return v.err
}

type validator struct {
	err error
}

func (v *validator) fail(format string, args ...any) {
	if v.err == nil {
		v.err = fmt.Errorf(format, args...)
	}
}

func scopeWith(scope map[string]bool, aliases ...string) map[string]bool {
	out := make(map[string]bool, len(scope)+len(aliases))
	for a := range scope {
		out[a] = true
	}
	for _, a := range aliases {
		out[a] = true
	}
	return out
}

func (v *validator) node(n Node, scope map[string]bool) {
	if v.err != nil || isNil(n) {
		return
	}
	switch x := n.(type) {
	case *Projection:
		v.selectNode(x.Select, scope)
		v.expr(x.Projector, scopeWith(scope, x.Select.Alias))
	case *Select:
		v.selectNode(x, scope)
	case *Delete:
		v.expr(x.Where, scopeWith(scope, x.Alias, ""))
	case *Update:
		inner := scopeWith(scope, x.Alias, "")
		for _, a := range x.Assignments {
			v.expr(a.Value, inner)
		}
		v.expr(x.Where, inner)
	case *Insert:
		for _, a := range x.Assignments {
			v.expr(a.Value, scope)
		}
	default:
		v.expr(n, scope)
	}
}

func (v *validator) source(n Node, scope map[string]bool) {
	switch x := n.(type) {
	case *Table:
	case *Select:
		v.selectNode(x, scope)
	case *Join:
		v.source(x.Left, scope)
		right := scope
		if x.Type == JoinCrossApply || x.Type == JoinOuterApply {
			right = scopeWith(scope, DeclaredAliases(x.Left)...)
		}
		v.source(x.Right, right)
		if x.Condition != nil {
			inner := scopeWith(scope, DeclaredAliases(x.Left)...)
			v.expr(x.Condition, scopeWith(inner, DeclaredAliases(x.Right)...))
		}
	case nil:
	default:
		v.fail("invalid source node %s", n.Kind())
	}
}

func (v *validator) selectNode(s *Select, scope map[string]bool) {
	if s == nil {
		v.fail("nil select")
		return
	}
	v.source(s.From, scope)
	inner := scopeWith(scope, DeclaredAliases(s.From)...)
	if len(s.Columns) == 0 {
		v.fail("select %s has no columns", s.Alias)
	}
	for _, c := range s.Columns {
		v.expr(c.Expr, inner)
	}
	v.expr(s.Where, inner)
	for _, o := range s.OrderBy {
		v.expr(o.Expr, inner)
	}
	for _, g := range s.GroupBy {
		v.expr(g, inner)
	}
	v.expr(s.Skip, inner)
	v.expr(s.Take, inner)
}

func (v *validator) expr(n Node, scope map[string]bool) {
	if v.err != nil || isNil(n) {
		return
	}
	switch x := n.(type) {
	case *Column:
		if !scope[x.Alias] {
			v.fail("column %s.%s references an alias out of scope", x.Alias, x.Name)
		}
	case *Subquery:
		v.selectNode(x.Select, scope)
	case *Projection:
		v.node(x, scope)
	case *AggregateSubquery:
		v.selectNode(x.Subquery.Select, scope)
	case *ObjectReference:
		if len(x.Bindings) == 0 {
			v.fail("object reference %s has no bindings", x.Type.Name)
			return
		}
		ForEachChild(x, func(c Node) { v.expr(c, scope) })
	case *Select, *Table, *Join:
		v.fail("%s node in expression position", n.Kind())
	default:
		ForEachChild(n, func(c Node) { v.expr(c, scope) })
	}
}
