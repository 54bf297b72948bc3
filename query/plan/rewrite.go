package plan

import "fmt"

// Visitor is called for each node by Walk. If Visit returns a non-nil Visitor,
// Walk visits each child of n with it.
type Visitor interface {
	Visit(Node) Visitor
}

// Walk traverses n depth-first.
func Walk(v Visitor, n Node) {
	if n == nil {
		return
	}
	if v = v.Visit(n); v == nil {
		return
	}
	ForEachChild(n, func(child Node) { Walk(v, child) })
}

type inspector func(Node) bool

func (f inspector) Visit(n Node) Visitor {
	if f(n) {
		return f
	}
	return nil
}

// Inspect calls fn for each node in pre-order; returning false skips the node's children.
func Inspect(n Node, fn func(Node) bool) {
	Walk(inspector(fn), n)
}

// Rewriter rewrites a tree bottom-up. Walk returns the rewriter for n's children,
// or nil to leave them untouched; Rewrite is then applied to n itself.
type Rewriter interface {
	Rewrite(Node) Node
	Walk(Node) Rewriter
}

// Rewrite applies r to n and its descendants.
func Rewrite(r Rewriter, n Node) Node {
	if n == nil {
		return nil
	}
	if child := r.Walk(n); child != nil {
		n = MapChildren(n, func(c Node) Node { return Rewrite(child, c) })
	}
	return r.Rewrite(n)
}

type funcRewriter func(Node) Node

func (f funcRewriter) Rewrite(n Node) Node { return f(n) }
func (f funcRewriter) Walk(Node) Rewriter  { return f }

// RewriteFunc rewrites every node bottom-up with fn.
func RewriteFunc(n Node, fn func(Node) Node) Node {
	return Rewrite(funcRewriter(fn), n)
}

// ForEachChild calls fn for each non-nil direct child of n.
func ForEachChild(n Node, fn func(Node)) {
	MapChildren(n, func(c Node) Node {
		fn(c)
		return c
	})
}

// MapChildren returns n with fn applied to each non-nil direct child. A new node is built
// only if some child changed. Unknown node types panic: every variant must be handled here.
func MapChildren(n Node, fn func(Node) Node) Node {
	switch x := n.(type) {
	case *Table, *Column, *Constant, *ConstantPlaceholder:
		return n

	case *Select:
		var out *Select
		edit := func() *Select {
			if out == nil {
				out = x.Clone()
			}
			return out
		}
		for i, c := range x.Columns {
			if e := mapOne(c.Expr, fn); e != c.Expr {
				edit().Columns[i] = ColumnDeclaration{Name: c.Name, Expr: e}
			}
		}
		if f := mapOne(x.From, fn); f != x.From {
			edit().From = f
		}
		if w := mapOne(x.Where, fn); w != x.Where {
			edit().Where = w
		}
		for i, o := range x.OrderBy {
			if e := mapOne(Node(o), fn); e != Node(o) {
				edit().OrderBy[i] = mustOrderBy(e)
			}
		}
		for i, g := range x.GroupBy {
			if e := mapOne(g, fn); e != g {
				edit().GroupBy[i] = e
			}
		}
		if s := mapOne(x.Skip, fn); s != x.Skip {
			edit().Skip = s
		}
		if t := mapOne(x.Take, fn); t != x.Take {
			edit().Take = t
		}
		if out == nil {
			return x
		}
		return out

	case *Join:
		l, r, c := mapOne(x.Left, fn), mapOne(x.Right, fn), mapOne(x.Condition, fn)
		if l == x.Left && r == x.Right && c == x.Condition {
			return x
		}
		return &Join{Type: x.Type, Left: l, Right: r, Condition: c}

	case *Projection:
		s, p := mapOne(Node(x.Select), fn), mapOne(x.Projector, fn)
		if s == Node(x.Select) && p == x.Projector {
			return x
		}
		return &Projection{Select: mustSelect(s), Projector: p, Aggregator: x.Aggregator, DefaultIfEmpty: x.DefaultIfEmpty, Default: x.Default}

	case *Aggregate:
		a := mapOne(x.Argument, fn)
		if a == x.Argument {
			return x
		}
		return &Aggregate{Type: x.Type, Argument: a, Distinct: x.Distinct}

	case *AggregateSubquery:
		g, s := mapOne(x.InGroup, fn), mapOne(Node(x.Subquery), fn)
		if g == x.InGroup && s == Node(x.Subquery) {
			return x
		}
		sub, ok := s.(*Subquery)
		if !ok {
			panic(fmt.Errorf("plan: aggregate subquery rewritten to %T", s))
		}
		return &AggregateSubquery{GroupByAlias: x.GroupByAlias, InGroup: g, Subquery: sub}

	case *Subquery:
		s := mapOne(Node(x.Select), fn)
		if s == Node(x.Select) {
			return x
		}
		return &Subquery{Select: mustSelect(s)}

	case *ObjectReference:
		var bindings []Binding
		for i, b := range x.Bindings {
			if e := mapOne(b.Expr, fn); e != b.Expr {
				if bindings == nil {
					bindings = append([]Binding(nil), x.Bindings...)
				}
				bindings[i] = Binding{Property: b.Property, Expr: e}
			}
		}
		if bindings == nil {
			return x
		}
		return &ObjectReference{Type: x.Type, Bindings: bindings}

	case *New:
		var fields []Field
		for i, f := range x.Fields {
			if e := mapOne(f.Expr, fn); e != f.Expr {
				if fields == nil {
					fields = append([]Field(nil), x.Fields...)
				}
				fields[i] = Field{Name: f.Name, Expr: e}
			}
		}
		if fields == nil {
			return x
		}
		return &New{Fields: fields}

	case *Grouping:
		k, g := mapOne(x.Key, fn), mapOne(Node(x.Group), fn)
		if k == x.Key && g == Node(x.Group) {
			return x
		}
		p, ok := g.(*Projection)
		if !ok {
			panic(fmt.Errorf("plan: grouping element rewritten to %T", g))
		}
		return &Grouping{Key: k, Group: p}

	case *FunctionCall:
		if args, changed := mapList(x.Args, fn); changed {
			return &FunctionCall{Function: x.Function, Args: args}
		}
		return x

	case *Tuple:
		if items, changed := mapList(x.Items, fn); changed {
			return &Tuple{Items: items}
		}
		return x

	case *OrderBy:
		e := mapOne(x.Expr, fn)
		if e == x.Expr {
			return x
		}
		return &OrderBy{Direction: x.Direction, Expr: e}

	case *Binary:
		l, r := mapOne(x.Left, fn), mapOne(x.Right, fn)
		if l == x.Left && r == x.Right {
			return x
		}
		return &Binary{Op: x.Op, Left: l, Right: r}

	case *Unary:
		o := mapOne(x.Operand, fn)
		if o == x.Operand {
			return x
		}
		return &Unary{Op: x.Op, Operand: o}

	case *Conditional:
		t, a, b := mapOne(x.Test, fn), mapOne(x.IfTrue, fn), mapOne(x.IfFalse, fn)
		if t == x.Test && a == x.IfTrue && b == x.IfFalse {
			return x
		}
		return &Conditional{Test: t, IfTrue: a, IfFalse: b}

	case *Delete:
		w := mapOne(x.Where, fn)
		if w == x.Where {
			return x
		}
		return &Delete{Table: x.Table, Alias: x.Alias, Where: w}

	case *Update:
		assignments, changed := mapAssignments(x.Assignments, fn)
		w := mapOne(x.Where, fn)
		if !changed && w == x.Where {
			return x
		}
		return &Update{Table: x.Table, Alias: x.Alias, Assignments: assignments, Where: w}

	case *Insert:
		assignments, changed := mapAssignments(x.Assignments, fn)
		if !changed {
			return x
		}
		return &Insert{Table: x.Table, Assignments: assignments, Returning: x.Returning}
	}
	panic(fmt.Errorf("plan: unhandled node type %T", n))
}

func mapOne(n Node, fn func(Node) Node) Node {
	if isNil(n) {
		return n
	}
	return fn(n)
}

// isNil catches typed nil pointers stored in Node-typed fields.
func isNil(n Node) bool {
	if n == nil {
		return true
	}
	switch x := n.(type) {
	case *Select:
		return x == nil
	case *Subquery:
		return x == nil
	case *Projection:
		return x == nil
	case *OrderBy:
		return x == nil
	}
	return false
}

func mapList(in []Node, fn func(Node) Node) ([]Node, bool) {
	var out []Node
	for i, n := range in {
		if e := mapOne(n, fn); e != n {
			if out == nil {
				out = append([]Node(nil), in...)
			}
			out[i] = e
		}
	}
	if out == nil {
		return in, false
	}
	return out, true
}

func mapAssignments(in []Assignment, fn func(Node) Node) ([]Assignment, bool) {
	var out []Assignment
	for i, a := range in {
		if e := mapOne(a.Value, fn); e != a.Value {
			if out == nil {
				out = append([]Assignment(nil), in...)
			}
			out[i] = Assignment{Column: a.Column, Value: e}
		}
	}
	if out == nil {
		return in, false
	}
	return out, true
}

func mustSelect(n Node) *Select {
	s, ok := n.(*Select)
	if !ok {
		panic(fmt.Errorf("plan: select rewritten to %T", n))
	}
	return s
}

func mustOrderBy(n Node) *OrderBy {
	o, ok := n.(*OrderBy)
	if !ok {
		panic(fmt.Errorf("plan: order by rewritten to %T", n))
	}
	return o
}

// ReplaceColumns rewrites references to the given alias using fn, which receives the column
// name and returns the replacement (or nil to keep the column).
func ReplaceColumns(n Node, alias string, fn func(name string) Node) Node {
	return RewriteFunc(n, func(x Node) Node {
		if c, ok := x.(*Column); ok && c.Alias == alias {
			if r := fn(c.Name); r != nil {
				return r
			}
		}
		return x
	})
}

// ReferencedAliases returns the set of aliases referenced by Column nodes under n.
func ReferencedAliases(n Node) map[string]bool {
	out := map[string]bool{}
	Inspect(n, func(x Node) bool {
		if c, ok := x.(*Column); ok {
			out[c.Alias] = true
		}
		return true
	})
	return out
}

// DeclaredAliases returns the aliases a source node introduces: table and select aliases,
// and those of both sides of a join.
func DeclaredAliases(n Node) []string {
	switch x := n.(type) {
	case *Table:
		return []string{x.Alias}
	case *Select:
		return []string{x.Alias}
	case *Join:
		return append(DeclaredAliases(x.Left), DeclaredAliases(x.Right)...)
	}
	return nil
}
