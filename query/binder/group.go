package binder

import (
	"github.com/microtan/shaolinq/query/ast"
	"github.com/microtan/shaolinq/query/plan"
)

var aggregateTypes = map[ast.AggregateKind]plan.AggregateType{
	ast.AggregateCount:   plan.AggregateCount,
	ast.AggregateMin:     plan.AggregateMin,
	ast.AggregateMax:     plan.AggregateMax,
	ast.AggregateSum:     plan.AggregateSum,
	ast.AggregateAverage: plan.AggregateAverage,
}

// bindGroupBy binds the source twice: once as the grouped Select and once as the element
// subquery, correlated to the group key with null-safe equality.
func (b *Binder) bindGroupBy(c *ast.Chain, i int, op *ast.GroupBy) *plan.Projection {
	src := b.sequence(c, i)
	key := b.bindLambda(op.Key, src.Projector)
	element := src.Projector
	if op.Element != nil {
		element = b.bindLambda(op.Element, src.Projector)
	}

	sub := b.sequence(c, i)
	subKey := b.bindLambda(op.Key, sub.Projector)
	subElement := sub.Projector
	if op.Element != nil {
		subElement = b.bindLambda(op.Element, sub.Projector)
	}

	keys, subKeys := b.comparable(key), b.comparable(subKey)
	if len(keys) != len(subKeys) {
		b.fail(op.String(), "group key does not bind consistently", ErrMissingCorrelation)
	}
	var corr plan.Node
	for j := range keys {
		corr = plan.And(corr, nullSafeEqual(keys[j], subKeys[j]))
	}

	elemAlias := b.newAlias()
	elemProjector, elemColumns := b.projectColumns(subElement, elemAlias, sub.Select.Alias)
	elementSubquery := &plan.Projection{
		Select:    &plan.Select{Alias: elemAlias, Columns: elemColumns, From: sub.Select, Where: corr},
		Projector: elemProjector,
	}

	alias := b.newAlias()
	info := &GroupInfo{Alias: alias, Element: element}
	b.groupByMap[elementSubquery] = info

	var result plan.Node
	if op.Result != nil {
		saved := b.currentGroupElement
		b.currentGroupElement = elementSubquery
		result = b.bindLambda(op.Result, key, elementSubquery)
		b.currentGroupElement = saved
	} else {
		result = &plan.Grouping{Key: key, Group: elementSubquery}
	}

	projector, columns := b.projectColumns(result, alias, src.Select.Alias)
	return &plan.Projection{
		Select: &plan.Select{
			Alias:   alias,
			Columns: columns,
			From:    src.Select,
			GroupBy: []plan.Node{key},
		},
		Projector: projector,
	}
}

// nullSafeEqual is (a IS NULL AND b IS NULL) OR a = b.
func nullSafeEqual(a, b plan.Node) plan.Node {
	return &plan.Binary{
		Op: plan.OpOr,
		Left: &plan.Binary{
			Op:    plan.OpAnd,
			Left:  &plan.FunctionCall{Function: plan.FuncIsNull, Args: []plan.Node{a}},
			Right: &plan.FunctionCall{Function: plan.FuncIsNull, Args: []plan.Node{b}},
		},
		Right: &plan.Binary{Op: plan.OpEqual, Left: a, Right: b},
	}
}

func (b *Binder) bindAggregate(c *ast.Chain, i int, op *ast.Aggregate, isRoot bool) plan.Node {
	distinct := false
	n := i
	if n > 0 && c.Ops[n-1].Type() == ast.OperatorDistinct {
		distinct = true
		n--
	}
	src := b.sequence(c, n)
	typ := aggregateTypes[op.Kind]

	argument := func(projector plan.Node) plan.Node {
		if op.Selector != nil && op.Kind != ast.AggregateCount {
			return b.bindLambda(op.Selector, projector)
		}
		if op.Kind == ast.AggregateCount && !distinct {
			return nil
		}
		if isComposite(projector) {
			b.failf(op.String(), ErrUnsupportedOperator, "%s needs a scalar sequence", op.Kind)
		}
		return projector
	}

	if op.Kind == ast.AggregateCount && op.Selector != nil {
		src = b.bindWhere(src, op.Selector, false)
	}

	if info, ok := b.groupByMap[src]; ok && !isRoot {
		inGroup := &plan.Aggregate{Type: typ, Argument: argument(info.Element), Distinct: distinct}
		if src == b.currentGroupElement {
			return inGroup
		}
		agg := &plan.Aggregate{Type: typ, Argument: argument(src.Projector), Distinct: distinct}
		return &plan.AggregateSubquery{GroupByAlias: info.Alias, InGroup: inGroup, Subquery: b.aggregateSubquery(src, agg)}
	}

	agg := &plan.Aggregate{Type: typ, Argument: argument(src.Projector), Distinct: distinct}
	if !isRoot {
		return b.aggregateSubquery(src, agg)
	}
	alias := b.newAlias()
	projector, columns := b.projectColumns(agg, alias, src.Select.Alias)
	proj := &plan.Projection{
		Select:     &plan.Select{Alias: alias, Columns: columns, From: src.Select},
		Projector:  projector,
		Aggregator: plan.AggregatorScalar,
	}
	if typ == plan.AggregateSum || typ == plan.AggregateCount {
		proj.Default = &plan.Constant{Value: int64(0)}
	}
	return proj
}

func (b *Binder) aggregateSubquery(src *plan.Projection, agg *plan.Aggregate) *plan.Subquery {
	alias := b.newAlias()
	_, columns := b.projectColumns(agg, alias, src.Select.Alias)
	return &plan.Subquery{Select: &plan.Select{Alias: alias, Columns: columns, From: src.Select}}
}
