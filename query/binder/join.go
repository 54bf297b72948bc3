package binder

import (
	"github.com/microtan/shaolinq/query/ast"
	"github.com/microtan/shaolinq/query/plan"
)

// joinType picks the join flavour from which sides yield a default when empty.
func joinType(outerDefault, innerDefault bool) plan.JoinType {
	switch {
	case outerDefault && innerDefault:
		return plan.JoinFullOuter
	case outerDefault:
		return plan.JoinLeft
	case innerDefault:
		return plan.JoinRight
	}
	return plan.JoinInner
}

func (b *Binder) bindJoin(outer *plan.Projection, op *ast.Join) *plan.Projection {
	inner := b.asSequence(b.bindSource(op.Inner), op.Inner.String())
	outerKey := b.bindLambda(op.OuterKey, outer.Projector)
	innerKey := b.bindLambda(op.InnerKey, inner.Projector)
	join := &plan.Join{
		Type:      joinType(outer.DefaultIfEmpty, inner.DefaultIfEmpty),
		Left:      outer.Select,
		Right:     inner.Select,
		Condition: b.equality(op.String(), outerKey, innerKey),
	}
	result := b.bindLambda(op.Result, outer.Projector, inner.Projector)

	alias := b.newAlias()
	projector, columns := b.projectColumns(result, alias, outer.Select.Alias, inner.Select.Alias)
	return &plan.Projection{
		Select:    &plan.Select{Alias: alias, Columns: columns, From: join},
		Projector: projector,
	}
}

// bindGroupJoin binds the inner side as a sub-sequence correlated to each outer element.
func (b *Binder) bindGroupJoin(outer *plan.Projection, op *ast.GroupJoin) *plan.Projection {
	inner := b.asSequence(b.bindSource(op.Inner), op.Inner.String())
	outerKey := b.bindLambda(op.OuterKey, outer.Projector)
	innerKey := b.bindLambda(op.InnerKey, inner.Projector)

	groupAlias := b.newAlias()
	groupProjector, groupColumns := b.projectColumns(inner.Projector, groupAlias, inner.Select.Alias)
	group := &plan.Projection{
		Select: &plan.Select{
			Alias:   groupAlias,
			Columns: groupColumns,
			From:    inner.Select,
			Where:   b.equality(op.String(), innerKey, outerKey),
		},
		Projector: groupProjector,
	}
	result := b.bindLambda(op.Result, outer.Projector, group)
	return b.project(outer, result, nil)
}

// bindSelectMany joins each element with its collection. An uncorrelated table-like collection
// is a cross join; a correlated one binds as an apply join that the optimizer decorrelates.
func (b *Binder) bindSelectMany(src *plan.Projection, op *ast.SelectMany) *plan.Projection {
	coll := b.asSequence(b.bindLambda(op.Collection, src.Projector), op.Collection.String())
	if !tableLike(coll.Select) {
		b.fail(op.String(), "the collection must be a table-like sequence", ErrUnsupportedOperator)
	}

	correlated := correlatedTo(coll.Select, src.Select.Alias)

	typ := plan.JoinCross
	switch {
	case correlated && coll.DefaultIfEmpty:
		typ = plan.JoinOuterApply
	case correlated:
		typ = plan.JoinCrossApply
	case coll.DefaultIfEmpty:
		typ = plan.JoinOuterApply
	}

	result := coll.Projector
	if op.Result != nil {
		result = b.bindLambda(op.Result, src.Projector, coll.Projector)
	}
	alias := b.newAlias()
	projector, columns := b.projectColumns(result, alias, src.Select.Alias, coll.Select.Alias)
	return &plan.Projection{
		Select:    &plan.Select{Alias: alias, Columns: columns, From: &plan.Join{Type: typ, Left: src.Select, Right: coll.Select}},
		Projector: projector,
	}
}

// correlatedTo reports whether sel references alias without declaring it.
func correlatedTo(sel *plan.Select, alias string) bool {
	for _, a := range sourceAliases(sel) {
		if a == alias {
			return false
		}
	}
	return plan.ReferencedAliases(sel)[alias]
}

// sourceAliases lists every alias declared by sel and the sources beneath it.
func sourceAliases(n plan.Node) []string {
	var out []string
	var walk func(plan.Node)
	walk = func(n plan.Node) {
		switch x := n.(type) {
		case *plan.Table:
			out = append(out, x.Alias)
		case *plan.Select:
			out = append(out, x.Alias)
			walk(x.From)
		case *plan.Join:
			walk(x.Left)
			walk(x.Right)
		}
	}
	walk(n)
	return out
}
