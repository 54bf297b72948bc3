package binder

import (
	"github.com/microtan/shaolinq/query/ast"
	"github.com/microtan/shaolinq/query/model"
	"github.com/microtan/shaolinq/query/plan"
)

// tableProjection binds an entity source: SELECT of every column of the table, an
// ObjectReference projector, LEFT JOINs for included related entities and the type's filters.
func (b *Binder) tableProjection(ent *ast.Entity) *plan.Projection {
	t := b.entityType(ent.Name)
	tableAlias := b.newAlias()
	selectAlias := b.newAlias()

	var from plan.Node = &plan.Table{Name: t.Table, Alias: tableAlias}
	var columns []plan.ColumnDeclaration
	for _, ci := range model.ColumnInfos(t) {
		columns = append(columns, plan.ColumnDeclaration{
			Name: ci.ColumnName,
			Expr: &plan.Column{Alias: tableAlias, Name: ci.ColumnName},
		})
	}

	inc := newIncludeTree(b.includes[ent])
	var joined map[*includeNode]string
	from, columns, joined = b.joinIncludes(t, tableAlias, "", inc, from, columns)

	projector := entityReference(t, selectAlias, "", inc, joined)
	proj := &plan.Projection{
		Select:    &plan.Select{Alias: selectAlias, Columns: columns, From: from},
		Projector: projector,
	}
	for _, f := range b.filters[t.Name] {
		proj = b.bindWhere(proj, f, false)
	}
	return proj
}

// entityReference builds the projector of an entity whose columns are exposed by alias.
// prefix is prepended to column names for included entities. Entity-kind properties become
// nested references: complete when included, key-only otherwise.
func entityReference(t *model.TypeDescriptor, alias, prefix string, inc *includeNode, joined map[*includeNode]string) *plan.ObjectReference {
	ref := &plan.ObjectReference{Type: t}
	for _, p := range t.Properties {
		var expr plan.Node
		switch {
		case !p.IsEntity():
			expr = &plan.Column{Alias: alias, Name: prefix + p.Column}
		case inc.child(p.Name) != nil:
			child := inc.child(p.Name)
			expr = entityReference(p.Related(), alias, joined[child], child, joined)
		default:
			expr = keyReference(p.Related(), alias, prefix+p.Column)
		}
		ref.Bindings = append(ref.Bindings, plan.Binding{Property: p, Expr: expr})
	}
	return ref
}

// keyReference builds a reference to a related entity that only carries its key columns,
// named with the same prefix concatenation model.ColumnInfos uses.
func keyReference(t *model.TypeDescriptor, alias, prefix string) *plan.ObjectReference {
	ref := &plan.ObjectReference{Type: t}
	for _, k := range t.PrimaryKey() {
		var expr plan.Node
		if k.IsEntity() {
			expr = keyReference(k.Related(), alias, prefix+k.Column)
		} else {
			expr = &plan.Column{Alias: alias, Name: prefix + k.Column}
		}
		ref.Bindings = append(ref.Bindings, plan.Binding{Property: k, Expr: expr})
	}
	return ref
}

// tableReference is an entity reference over a bare table alias, used by data modification.
func tableReference(t *model.TypeDescriptor, alias string) *plan.ObjectReference {
	return entityReference(t, alias, "", nil, nil)
}

// project wraps src in a new Select whose columns are the ones projector needs.
func (b *Binder) project(src *plan.Projection, projector plan.Node, edit func(s *plan.Select)) *plan.Projection {
	alias := b.newAlias()
	out, columns := b.projectColumns(projector, alias, src.Select.Alias)
	sel := &plan.Select{Alias: alias, Columns: columns, From: src.Select}
	if edit != nil {
		edit(sel)
	}
	return &plan.Projection{Select: sel, Projector: out}
}

func (b *Binder) bindWhere(src *plan.Projection, pred *ast.Lambda, forUpdate bool) *plan.Projection {
	where := b.bindLambda(pred, src.Projector)
	return b.project(src, src.Projector, func(s *plan.Select) {
		s.Where = where
		s.ForUpdate = forUpdate
	})
}

func (b *Binder) bindSelect(src *plan.Projection, op *ast.Select) *plan.Projection {
	selector := b.bindLambda(op.Selector, src.Projector)
	return b.project(src, selector, func(s *plan.Select) { s.ForUpdate = op.ForUpdate })
}

func (b *Binder) bindOrderBy(c *ast.Chain, i int, op *ast.OrderBy) *plan.Projection {
	thenBys := b.thenBys
	b.thenBys = nil
	src := b.sequence(c, i)

	var orderings []*plan.OrderBy
	add := func(key *ast.Lambda, descending bool) {
		dir := plan.Ascending
		if descending {
			dir = plan.Descending
		}
		for _, e := range scalars(b.bindLambda(key, src.Projector)) {
			orderings = append(orderings, &plan.OrderBy{Direction: dir, Expr: e})
		}
	}
	add(op.Key, op.Descending)
	// ThenBy operators were collected outermost first.
	for j := len(thenBys) - 1; j >= 0; j-- {
		add(thenBys[j].key, thenBys[j].descending)
	}
	return b.project(src, src.Projector, func(s *plan.Select) { s.OrderBy = orderings })
}

func (b *Binder) bindLimit(src *plan.Projection, skip, take ast.Expr) *plan.Projection {
	count := func(e ast.Expr) plan.Node {
		if e == nil {
			return nil
		}
		return b.expr(e)
	}
	s, t := count(skip), count(take)
	return b.project(src, src.Projector, func(sel *plan.Select) {
		sel.Skip = s
		sel.Take = t
	})
}

func (b *Binder) bindDistinct(src *plan.Projection) *plan.Projection {
	return b.project(src, src.Projector, func(s *plan.Select) { s.Distinct = true })
}

func (b *Binder) bindFirst(src *plan.Projection, op *ast.First, isRoot bool) plan.Node {
	if op.Predicate != nil {
		src = b.bindWhere(src, op.Predicate, false)
	}
	take := int64(1)
	if isRoot && (op.Kind == ast.FirstKindSingle || op.Kind == ast.FirstKindSingleOrDefault) {
		take = 2
	}
	proj := b.project(src, src.Projector, func(s *plan.Select) { s.Take = &plan.Constant{Value: take} })
	if isRoot {
		proj.Aggregator = plan.Aggregator(op.Kind)
		return proj
	}
	if len(proj.Select.Columns) != 1 || !isColumn(proj.Projector) {
		b.failf(op.String(), ErrUnsupportedOperator, "%s inside an expression must select a single scalar", op.Kind)
	}
	return &plan.Subquery{Select: proj.Select}
}

func (b *Binder) bindContains(src *plan.Projection, op *ast.Contains, isRoot bool) plan.Node {
	item := b.expr(op.Item)
	test := &plan.FunctionCall{Function: plan.FuncContainsElement, Args: []plan.Node{src, item}}
	if !isRoot {
		return test
	}
	return b.scalarSelect("Contains", test)
}

func (b *Binder) bindAny(src *plan.Projection, op *ast.Any, isRoot bool) plan.Node {
	if op.Predicate != nil {
		src = b.bindWhere(src, op.Predicate, false)
	}
	exists := &plan.FunctionCall{Function: plan.FuncExists, Args: []plan.Node{&plan.Subquery{Select: src.Select}}}
	if !isRoot {
		return exists
	}
	return b.scalarSelect("Any", exists)
}

// scalarSelect builds SELECT expr AS name without a FROM clause.
func (b *Binder) scalarSelect(name string, expr plan.Node) *plan.Projection {
	alias := b.newAlias()
	return &plan.Projection{
		Select:     &plan.Select{Alias: alias, Columns: []plan.ColumnDeclaration{{Name: name, Expr: expr}}},
		Projector:  &plan.Column{Alias: alias, Name: name},
		Aggregator: plan.AggregatorScalar,
	}
}

func isColumn(n plan.Node) bool {
	_, ok := n.(*plan.Column)
	return ok
}

// tableLike reports whether sel reads a base table through filters and projections only.
func tableLike(sel *plan.Select) bool {
	if len(sel.GroupBy) > 0 || sel.Distinct || sel.Skip != nil || sel.Take != nil {
		return false
	}
	for _, c := range sel.Columns {
		found := false
		plan.Inspect(c.Expr, func(n plan.Node) bool {
			switch n.(type) {
			case *plan.Aggregate, *plan.AggregateSubquery:
				found = true
			}
			return !found
		})
		if found {
			return false
		}
	}
	switch from := sel.From.(type) {
	case *plan.Table:
		return true
	case *plan.Select:
		return tableLike(from)
	case *plan.Join:
		return from.Type != plan.JoinCrossApply && from.Type != plan.JoinOuterApply
	}
	return false
}
