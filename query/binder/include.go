package binder

import (
	"strings"

	"github.com/microtan/shaolinq/query/ast"
	"github.com/microtan/shaolinq/query/model"
	"github.com/microtan/shaolinq/query/plan"
)

type includeNode struct {
	name     string
	children []*includeNode
}

func (n *includeNode) child(name string) *includeNode {
	if n == nil {
		return nil
	}
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

func newIncludeTree(paths [][]string) *includeNode {
	root := &includeNode{}
	for _, path := range paths {
		n := root
		for _, name := range path {
			c := n.child(name)
			if c == nil {
				c = &includeNode{name: name}
				n.children = append(n.children, c)
			}
			n = c
		}
	}
	return root
}

// joinIncludes LEFT JOINs every included relation of t onto from. ownerAlias is the table alias
// holding the foreign key columns. It returns the extended source and column list, and the
// column name prefix assigned to each joined include.
func (b *Binder) joinIncludes(t *model.TypeDescriptor, ownerAlias, prefix string, inc *includeNode, from plan.Node, columns []plan.ColumnDeclaration) (plan.Node, []plan.ColumnDeclaration, map[*includeNode]string) {
	joined := map[*includeNode]string{}
	var walk func(t *model.TypeDescriptor, ownerAlias, prefix string, inc *includeNode)
	walk = func(t *model.TypeDescriptor, ownerAlias, prefix string, inc *includeNode) {
		if inc == nil {
			return
		}
		for _, child := range inc.children {
			p, ok := t.Property(child.name)
			if !ok || !p.IsEntity() {
				b.failf("Include", ErrUnknownMember, "%s.%s is not a related entity", t.Name, child.name)
			}
			rel := p.Related()
			relAlias := b.newAlias()
			fks := model.PropertyColumns(p)
			keys := model.PrimaryKeyColumns(rel)
			var cond plan.Node
			for i := range fks {
				cond = plan.And(cond, &plan.Binary{
					Op:    plan.OpEqual,
					Left:  &plan.Column{Alias: ownerAlias, Name: fks[i].ColumnName},
					Right: &plan.Column{Alias: relAlias, Name: keys[i].ColumnName},
				})
			}
			from = &plan.Join{Type: plan.JoinLeft, Left: from, Right: &plan.Table{Name: rel.Table, Alias: relAlias}, Condition: cond}

			childPrefix := prefix + p.Name + "_"
			joined[child] = childPrefix
			for _, ci := range model.ColumnInfos(rel) {
				columns = append(columns, plan.ColumnDeclaration{
					Name: childPrefix + ci.ColumnName,
					Expr: &plan.Column{Alias: relAlias, Name: ci.ColumnName},
				})
			}
			walk(rel, relAlias, childPrefix, child)
		}
	}
	walk(t, ownerAlias, prefix, inc)
	return from, columns, joined
}

// collectIncludes records the related paths the root entity of c must load: explicit Include
// operators, and member accesses that reach past the key of a related entity. Scanning stops
// at the first operator that changes the element shape.
func (b *Binder) collectIncludes(c *ast.Chain) {
	root, ok := c.Source.(*ast.Entity)
	if !ok {
		return
	}
	t := b.entityType(root.Name)
	var paths [][]string
	scan := func(l *ast.Lambda, param int) {
		if l != nil && param < len(l.Params) {
			paths = append(paths, navigationPaths(l, l.Params[param], t)...)
		}
	}
scanOps:
	for _, op := range c.Ops {
		switch o := op.(type) {
		case *ast.Include:
			path := memberPath(o.Path.Body, o.Path.Params[0])
			if len(path) == 0 {
				b.fail(o.String(), "include path must be a member access", ErrUnknownMember)
			}
			paths = append(paths, path)
		case *ast.Where:
			scan(o.Predicate, 0)
		case *ast.OrderBy:
			scan(o.Key, 0)
		case *ast.ThenBy:
			scan(o.Key, 0)
		case *ast.First:
			scan(o.Predicate, 0)
		case *ast.Any:
			scan(o.Predicate, 0)
		case *ast.Aggregate:
			scan(o.Selector, 0)
		case *ast.Select:
			scan(o.Selector, 0)
			break scanOps
		case *ast.GroupBy:
			scan(o.Key, 0)
			scan(o.Element, 0)
			break scanOps
		case *ast.Join:
			scan(o.OuterKey, 0)
			scan(o.Result, 0)
			break scanOps
		case *ast.GroupJoin:
			scan(o.OuterKey, 0)
			scan(o.Result, 0)
			break scanOps
		case *ast.SelectMany:
			scan(o.Collection, 0)
			scan(o.Result, 0)
			break scanOps
		case *ast.Skip, *ast.Take, *ast.Distinct, *ast.DefaultIfEmpty:
		default:
			break scanOps
		}
	}
	b.includes[root] = dedupePaths(paths)
}

func dedupePaths(paths [][]string) [][]string {
	seen := map[string]bool{}
	var out [][]string
	for _, p := range paths {
		k := strings.Join(p, ".")
		if !seen[k] {
			seen[k] = true
			out = append(out, p)
		}
	}
	return out
}

// memberPath returns the member names of a chain of accesses rooted at param.
func memberPath(e ast.Expr, param string) []string {
	var names []string
	for {
		switch x := e.(type) {
		case *ast.Member:
			names = append([]string{x.Name}, names...)
			e = x.Target
			continue
		case *ast.Param:
			if x.Name == param {
				return names
			}
		}
		return nil
	}
}

// navigationPaths finds the include paths implied by member accesses on param inside l.
func navigationPaths(l *ast.Lambda, param string, t *model.TypeDescriptor) [][]string {
	var out [][]string
	walkExpr(l.Body, param, func(m *ast.Member) bool {
		path := memberPath(m, param)
		if path == nil {
			return true
		}
		out = append(out, requiredIncludes(t, path)...)
		return false
	})
	return out
}

// requiredIncludes returns the prefixes of path that navigate into a related entity beyond
// its primary key.
func requiredIncludes(t *model.TypeDescriptor, path []string) [][]string {
	var out [][]string
	cur := t
	for i := 0; i < len(path)-1; i++ {
		p, ok := cur.Property(path[i])
		if !ok || !p.IsEntity() {
			return out
		}
		rel := p.Related()
		next, ok := rel.Property(path[i+1])
		if !ok {
			return out
		}
		if !next.PrimaryKey {
			out = append(out, append([]string(nil), path[:i+1]...))
		}
		cur = rel
	}
	return out
}

// walkExpr calls fn for each outermost Member access rooted at param, descending into nested
// chains whose lambdas do not shadow param.
func walkExpr(e ast.Expr, param string, fn func(*ast.Member) bool) {
	var walk func(ast.Expr)
	walkLambda := func(l *ast.Lambda) {
		if l == nil {
			return
		}
		for _, p := range l.Params {
			if p == param {
				return
			}
		}
		walk(l.Body)
	}
	walk = func(e ast.Expr) {
		switch x := e.(type) {
		case *ast.Member:
			if fn(x) {
				walk(x.Target)
			}
		case *ast.Binary:
			walk(x.Left)
			walk(x.Right)
		case *ast.Unary:
			walk(x.Operand)
		case *ast.Call:
			walk(x.Target)
			for _, a := range x.Args {
				walk(a)
			}
		case *ast.New:
			for _, f := range x.Fields {
				walk(f.Value)
			}
		case *ast.Conditional:
			walk(x.Test)
			walk(x.IfTrue)
			walk(x.IfFalse)
		case *ast.Array:
			for _, it := range x.Items {
				walk(it)
			}
		case *ast.Lambda:
			walkLambda(x)
		case *ast.Chain:
			walk(x.Source)
			for _, op := range x.Ops {
				for _, l := range operatorLambdas(op) {
					walkLambda(l)
				}
				for _, arg := range operatorExprs(op) {
					walk(arg)
				}
			}
		}
	}
	walk(e)
}

func operatorLambdas(op ast.Operator) []*ast.Lambda {
	switch o := op.(type) {
	case *ast.Where:
		return []*ast.Lambda{o.Predicate}
	case *ast.Select:
		return []*ast.Lambda{o.Selector}
	case *ast.OrderBy:
		return []*ast.Lambda{o.Key}
	case *ast.ThenBy:
		return []*ast.Lambda{o.Key}
	case *ast.Join:
		return []*ast.Lambda{o.OuterKey, o.InnerKey, o.Result}
	case *ast.GroupJoin:
		return []*ast.Lambda{o.OuterKey, o.InnerKey, o.Result}
	case *ast.GroupBy:
		return []*ast.Lambda{o.Key, o.Element, o.Result}
	case *ast.SelectMany:
		return []*ast.Lambda{o.Collection, o.Result}
	case *ast.Aggregate:
		return []*ast.Lambda{o.Selector}
	case *ast.First:
		return []*ast.Lambda{o.Predicate}
	case *ast.Any:
		return []*ast.Lambda{o.Predicate}
	}
	return nil
}

func operatorExprs(op ast.Operator) []ast.Expr {
	switch o := op.(type) {
	case *ast.Join:
		return []ast.Expr{o.Inner}
	case *ast.GroupJoin:
		return []ast.Expr{o.Inner}
	case *ast.Contains:
		return []ast.Expr{o.Item}
	case *ast.Skip:
		return []ast.Expr{o.Count}
	case *ast.Take:
		return []ast.Expr{o.Count}
	}
	return nil
}
