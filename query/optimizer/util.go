package optimizer

import (
	"fmt"

	"github.com/microtan/shaolinq/query/plan"
)

// localRewriter applies fn bottom-up to an expression without entering nested query blocks.
// fn still sees the nested block node itself.
type localRewriter func(plan.Node) plan.Node

func (f localRewriter) Rewrite(n plan.Node) plan.Node { return f(n) }

func (f localRewriter) Walk(n plan.Node) plan.Rewriter {
	switch n.(type) {
	case *plan.Select, *plan.Subquery, *plan.Projection, *plan.AggregateSubquery:
		return nil
	}
	return f
}

func rewriteLocal(n plan.Node, fn func(plan.Node) plan.Node) plan.Node {
	return plan.Rewrite(localRewriter(fn), n)
}

// mapExprs applies fn to every expression of s, leaving the source alone.
func mapExprs(s *plan.Select, fn func(plan.Node) plan.Node) *plan.Select {
	from := s.From
	out := plan.MapChildren(s, func(c plan.Node) plan.Node {
		if from != nil && c == from {
			return c
		}
		return fn(c)
	}).(*plan.Select)
	return out
}

// exposeColumn returns a column of s carrying expr, declaring one with a fresh name when no
// existing column matches. It reports the (possibly grown) column list.
func exposeColumn(s *plan.Select, columns []plan.ColumnDeclaration, expr plan.Node, prefix string) ([]plan.ColumnDeclaration, *plan.Column) {
	key := plan.Key(expr)
	for _, c := range columns {
		if plan.Key(c.Expr) == key {
			return columns, &plan.Column{Alias: s.Alias, Name: c.Name}
		}
	}
	name := prefix
	if col, ok := expr.(*plan.Column); ok {
		name = col.Name
	}
	name = uniqueName(columns, name)
	columns = append(columns, plan.ColumnDeclaration{Name: name, Expr: expr})
	return columns, &plan.Column{Alias: s.Alias, Name: name}
}

func uniqueName(columns []plan.ColumnDeclaration, base string) string {
	taken := map[string]bool{}
	for _, c := range columns {
		taken[c.Name] = true
	}
	if !taken[base] {
		return base
	}
	for i := 1; ; i++ {
		if name := fmt.Sprintf("%s%d", base, i); !taken[name] {
			return name
		}
	}
}

// sourceAliases returns the aliases of selects used as a FROM source or join side. Only their
// columns are read by name from outside; subquery and root columns are read by position.
func sourceAliases(n plan.Node) map[string]bool {
	out := map[string]bool{}
	var mark func(plan.Node)
	mark = func(n plan.Node) {
		switch x := n.(type) {
		case *plan.Select:
			out[x.Alias] = true
		case *plan.Join:
			mark(x.Left)
			mark(x.Right)
		}
	}
	plan.Inspect(n, func(x plan.Node) bool {
		if s, ok := x.(*plan.Select); ok && s.From != nil {
			mark(s.From)
		}
		return true
	})
	return out
}

// columnRefs maps alias to the set of referenced column names.
func columnRefs(n plan.Node) map[string]map[string]bool {
	out := map[string]map[string]bool{}
	plan.Inspect(n, func(x plan.Node) bool {
		if c, ok := x.(*plan.Column); ok {
			if out[c.Alias] == nil {
				out[c.Alias] = map[string]bool{}
			}
			out[c.Alias][c.Name] = true
		}
		return true
	})
	return out
}

// hasAggregate reports an aggregate in n outside nested query blocks.
func hasAggregate(n plan.Node) bool {
	found := false
	plan.Inspect(n, func(x plan.Node) bool {
		switch x.(type) {
		case *plan.Aggregate:
			found = true
			return false
		case *plan.Select, *plan.Subquery, *plan.Projection, *plan.AggregateSubquery:
			return false
		}
		return !found
	})
	return found
}

func selectHasAggregate(s *plan.Select) bool {
	for _, c := range s.Columns {
		if hasAggregate(c.Expr) {
			return true
		}
	}
	return false
}

func isBool(n plan.Node, want bool) bool {
	c, ok := n.(*plan.Constant)
	if !ok {
		return false
	}
	b, ok := c.Value.(bool)
	return ok && b == want
}

func boolConst(n plan.Node) (bool, bool) {
	c, ok := n.(*plan.Constant)
	if !ok {
		return false, false
	}
	b, ok := c.Value.(bool)
	return b, ok
}
