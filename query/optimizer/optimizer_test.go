package optimizer_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microtan/shaolinq/query/ast"
	"github.com/microtan/shaolinq/query/binder"
	"github.com/microtan/shaolinq/query/model"
	"github.com/microtan/shaolinq/query/optimizer"
	"github.com/microtan/shaolinq/query/plan"
)

const testModel = `
entities:
  - name: Person
    properties:
      - {name: Id, type: int, primaryKey: true}
      - {name: Name, type: string}
      - {name: Age, type: int}
  - name: Address
    properties:
      - {name: Id, type: int, primaryKey: true}
      - {name: OwnerId, type: int}
      - {name: City, type: string, nullable: true}
`

func bound(t *testing.T, text string) plan.Node {
	t.Helper()
	m, err := model.Parse([]byte(testModel), "yaml")
	require.NoError(t, err)
	res, err := binder.Bind(m, ast.MustParse(text))
	require.NoError(t, err)
	return res.Plan
}

func optimize(t *testing.T, n plan.Node, opts ...optimizer.Option) plan.Node {
	t.Helper()
	out, err := optimizer.Optimize(n, append(opts, optimizer.WithValidation())...)
	require.NoError(t, err)
	return out
}

func rootSelect(t *testing.T, n plan.Node) *plan.Select {
	t.Helper()
	switch v := n.(type) {
	case *plan.Projection:
		return v.Select
	case *plan.Select:
		return v
	}
	t.Fatalf("unexpected root %T", n)
	return nil
}

func col(alias, name string) *plan.Column { return &plan.Column{Alias: alias, Name: name} }

func table(name, alias string) *plan.Table { return &plan.Table{Name: name, Alias: alias} }

func contains(n plan.Node, kind plan.Kind) bool {
	found := false
	plan.Inspect(n, func(x plan.Node) bool {
		if x.Kind() == kind {
			found = true
		}
		return !found
	})
	return found
}

func TestOptimizeFlattensFilteredOrderedPage(t *testing.T) {
	out := optimize(t, bound(t, "Person.Where(p => p.Age > 18).OrderBy(p => p.Name).Take(10)"))
	s := rootSelect(t, out)

	from, ok := s.From.(*plan.Table)
	require.True(t, ok, "expected the table directly under the root select, got %T", s.From)
	assert.Equal(t, "Person", from.Name)
	assert.Equal(t, "(T0.Age > Const(int64:18))", plan.Key(s.Where))
	require.Len(t, s.OrderBy, 1)
	assert.Equal(t, "T0.Name ASC", plan.Key(s.OrderBy[0]))
	assert.Equal(t, "Const(int64:10)", plan.Key(s.Take))

	var names []string
	for _, c := range s.Columns {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"Id", "Name", "Age"}, names)
}

func TestOptimizeIsDeterministic(t *testing.T) {
	text := "Person.GroupBy(p => p.Age).Select(g => {Age: g.Key, Count: g.Count()}).OrderBy(x => x.Age)"
	a := optimize(t, bound(t, text))
	b := optimize(t, bound(t, text))
	assert.Equal(t, plan.Key(a), plan.Key(b))
}

func TestOptimizeGroupByCount(t *testing.T) {
	out := optimize(t, bound(t, "Person.GroupBy(p => p.Age).Select(g => {Age: g.Key, Count: g.Count()})"))
	s := rootSelect(t, out)

	_, ok := s.From.(*plan.Table)
	require.True(t, ok, "expected a single query block, got %T", s.From)
	require.Len(t, s.GroupBy, 1)
	assert.Equal(t, "T0.Age", plan.Key(s.GroupBy[0]))
	assert.False(t, contains(out, plan.KindAggregateSubquery))

	count, ok := s.Column("Count")
	require.True(t, ok)
	assert.Equal(t, "COUNT(*)", plan.Key(count.Expr))
}

func TestOptimizeDecorrelatesSelectMany(t *testing.T) {
	out := optimize(t, bound(t, "Person.SelectMany(p => Address.Where(a => a.OwnerId == p.Id), (p, a) => {N: p.Name, C: a.City})"))
	s := rootSelect(t, out)

	j, ok := s.From.(*plan.Join)
	require.True(t, ok)
	assert.Equal(t, plan.JoinInner, j.Type)
	require.NotNil(t, j.Condition)
	assert.IsType(t, &plan.Table{}, j.Left)
	assert.IsType(t, &plan.Table{}, j.Right)
}

func TestOptimizeUncorrelatedOuterApply(t *testing.T) {
	out := optimize(t, bound(t, "Person.SelectMany(p => Address.DefaultIfEmpty(), (p, a) => {N: p.Name, C: a.City})"))
	j, ok := rootSelect(t, out).From.(*plan.Join)
	require.True(t, ok)
	assert.Equal(t, plan.JoinLeft, j.Type)
	assert.Equal(t, "Const(bool:true)", plan.Key(j.Condition))
}

func correlatedApply() *plan.Select {
	right := &plan.Select{
		Alias:   "T2",
		Columns: []plan.ColumnDeclaration{{Name: "City", Expr: col("T1", "City")}, {Name: "N", Expr: col("T0", "Name")}},
		From:    table("Address", "T1"),
	}
	return &plan.Select{
		Alias:   "T3",
		Columns: []plan.ColumnDeclaration{{Name: "City", Expr: col("T2", "City")}, {Name: "N", Expr: col("T2", "N")}},
		From:    &plan.Join{Type: plan.JoinCrossApply, Left: table("Person", "T0"), Right: right},
	}
}

func TestOptimizeCorrelatedApplyNeedsLateralJoins(t *testing.T) {
	_, err := optimizer.Optimize(correlatedApply())
	var violation *optimizer.OptimizationInvariantViolation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, "cross-apply-rewriting", violation.Pass)

	out := optimize(t, correlatedApply(), optimizer.WithLateralJoins(true))
	j, ok := rootSelect(t, out).From.(*plan.Join)
	require.True(t, ok)
	assert.Equal(t, plan.JoinCrossApply, j.Type)
}

func TestGroupByCollation(t *testing.T) {
	s := &plan.Select{
		Alias:   "T1",
		Columns: []plan.ColumnDeclaration{{Name: "Age", Expr: col("T0", "Age")}},
		From:    table("Person", "T0"),
		GroupBy: []plan.Node{
			&plan.Tuple{Items: []plan.Node{col("T0", "Age"), &plan.Constant{Value: int64(1)}}},
			&plan.New{Fields: []plan.Field{{Name: "Name", Expr: col("T0", "Name")}, {Name: "Age", Expr: col("T0", "Age")}}},
		},
	}
	out := rootSelect(t, optimize(t, s, optimizer.WithPasses()))
	require.Len(t, out.GroupBy, 2)
	assert.Equal(t, "T0.Age", plan.Key(out.GroupBy[0]))
	assert.Equal(t, "T0.Name", plan.Key(out.GroupBy[1]))
}

func whereSelect(where plan.Node) *plan.Select {
	return &plan.Select{
		Alias:   "T1",
		Columns: []plan.ColumnDeclaration{{Name: "Id", Expr: col("T0", "Id")}},
		From:    table("Person", "T0"),
		Where:   where,
	}
}

func containsElement(coll, item plan.Node) plan.Node {
	return &plan.FunctionCall{Function: plan.FuncContainsElement, Args: []plan.Node{coll, item}}
}

func TestCollectionExpansion(t *testing.T) {
	tests := []struct {
		name string
		coll plan.Node
		want string
	}{
		{"placeholder array", &plan.ConstantPlaceholder{Index: 0, Type: "int", Len: 3}, "In(T0.Id, $0:int[3])"},
		{"empty placeholder array", &plan.ConstantPlaceholder{Index: 0, Type: "int", Len: 0}, "Const(bool:false)"},
		{"literal list", &plan.Constant{Value: []any{int64(1), int64(2)}}, "In(T0.Id, (Const(int64:1), Const(int64:2)))"},
		{"empty literal list", &plan.Constant{Value: []any{}}, "Const(bool:false)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := rootSelect(t, optimize(t, whereSelect(containsElement(tt.coll, col("T0", "Id"))), optimizer.WithPasses()))
			assert.Equal(t, tt.want, plan.Key(out.Where))
		})
	}
}

func TestCollectionExpansionOverSequence(t *testing.T) {
	t.Run("single column becomes IN subquery", func(t *testing.T) {
		inner := &plan.Select{
			Alias:   "T3",
			Columns: []plan.ColumnDeclaration{{Name: "OwnerId", Expr: col("T2", "OwnerId")}},
			From:    table("Address", "T2"),
			OrderBy: []*plan.OrderBy{{Direction: plan.Ascending, Expr: col("T2", "City")}},
		}
		seq := &plan.Projection{Select: inner, Projector: col("T3", "OwnerId")}
		out := rootSelect(t, optimize(t, whereSelect(containsElement(seq, col("T0", "Id")))))

		in, ok := out.Where.(*plan.FunctionCall)
		require.True(t, ok)
		assert.Equal(t, plan.FuncIn, in.Function)
		sub, ok := in.Args[1].(*plan.Subquery)
		require.True(t, ok)
		assert.Len(t, sub.Select.Columns, 1)
		assert.Empty(t, sub.Select.OrderBy)
	})

	t.Run("composite element becomes EXISTS", func(t *testing.T) {
		inner := &plan.Select{
			Alias: "T3",
			Columns: []plan.ColumnDeclaration{
				{Name: "OwnerId", Expr: col("T2", "OwnerId")},
				{Name: "City", Expr: col("T2", "City")},
			},
			From: table("Address", "T2"),
		}
		seq := &plan.Projection{Select: inner, Projector: &plan.New{Fields: []plan.Field{
			{Name: "O", Expr: col("T3", "OwnerId")},
			{Name: "C", Expr: col("T3", "City")},
		}}}
		item := &plan.New{Fields: []plan.Field{
			{Name: "O", Expr: col("T0", "Id")},
			{Name: "C", Expr: col("T0", "Name")},
		}}
		out := rootSelect(t, optimize(t, whereSelect(containsElement(seq, item))))

		exists, ok := out.Where.(*plan.FunctionCall)
		require.True(t, ok)
		assert.Equal(t, plan.FuncExists, exists.Function)
		sub := exists.Args[0].(*plan.Subquery)
		assert.Equal(t, "((T2.OwnerId = T0.Id) AND (T2.City = T0.Name))", plan.Key(sub.Select.Where))
	})
}

func TestRedundantBooleanRemoval(t *testing.T) {
	x := &plan.Binary{Op: plan.OpGreater, Left: col("T0", "Age"), Right: &plan.Constant{Value: int64(1)}}
	tests := []struct {
		name  string
		where plan.Node
		want  string
	}{
		{"and true", &plan.Binary{Op: plan.OpAnd, Left: &plan.Constant{Value: true}, Right: x}, "(T0.Age > Const(int64:1))"},
		{"or false", &plan.Binary{Op: plan.OpOr, Left: x, Right: &plan.Constant{Value: false}}, "(T0.Age > Const(int64:1))"},
		{"and false", &plan.Binary{Op: plan.OpAnd, Left: x, Right: &plan.Constant{Value: false}}, "Const(bool:false)"},
		{"duplicate conjunct", &plan.Binary{Op: plan.OpAnd, Left: x, Right: x}, "(T0.Age > Const(int64:1))"},
		{"double negation", &plan.Unary{Op: plan.OpNot, Operand: &plan.Unary{Op: plan.OpNot, Operand: x}}, "(T0.Age > Const(int64:1))"},
		{"always true", &plan.Binary{Op: plan.OpOr, Left: x, Right: &plan.Constant{Value: true}}, "nil"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := rootSelect(t, optimize(t, whereSelect(tt.where), optimizer.WithPasses(optimizer.RedundantBooleanRemoval)))
			assert.Equal(t, tt.want, plan.Key(out.Where))
		})
	}
}

func TestConditionalElimination(t *testing.T) {
	test := &plan.Binary{Op: plan.OpGreater, Left: col("T0", "Age"), Right: &plan.Constant{Value: int64(1)}}
	tests := []struct {
		name string
		expr plan.Node
		want string
	}{
		{"constant test", &plan.Conditional{Test: &plan.Constant{Value: false}, IfTrue: col("T0", "Age"), IfFalse: col("T0", "Id")}, "T0.Id"},
		{"same branches", &plan.Conditional{Test: test, IfTrue: col("T0", "Age"), IfFalse: col("T0", "Age")}, "T0.Age"},
		{"boolean branches", &plan.Conditional{Test: test, IfTrue: &plan.Constant{Value: true}, IfFalse: &plan.Constant{Value: false}}, "(T0.Age > Const(int64:1))"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &plan.Select{Alias: "T1", Columns: []plan.ColumnDeclaration{{Name: "V", Expr: tt.expr}}, From: table("Person", "T0")}
			out := rootSelect(t, optimize(t, s, optimizer.WithPasses(optimizer.ConditionalElimination)))
			assert.Equal(t, tt.want, plan.Key(out.Columns[0].Expr))
		})
	}
}

func TestFunctionCoalescing(t *testing.T) {
	concat := func(args ...plan.Node) plan.Node {
		return &plan.FunctionCall{Function: plan.FuncConcat, Args: args}
	}
	s := &plan.Select{
		Alias:   "T1",
		Columns: []plan.ColumnDeclaration{{Name: "V", Expr: concat(concat(col("T0", "Name"), col("T0", "Name")), col("T0", "Id"))}},
		From:    table("Person", "T0"),
	}
	out := rootSelect(t, optimize(t, s, optimizer.WithPasses(optimizer.FunctionCoalescing)))
	assert.Equal(t, "Concat(T0.Name, T0.Name, T0.Id)", plan.Key(out.Columns[0].Expr))
}

func TestExistsSimplification(t *testing.T) {
	sub := &plan.Select{
		Alias:   "T3",
		Columns: []plan.ColumnDeclaration{{Name: "Id", Expr: col("T2", "Id")}, {Name: "City", Expr: col("T2", "City")}},
		From:    table("Address", "T2"),
		Where:   &plan.Binary{Op: plan.OpEqual, Left: col("T2", "OwnerId"), Right: col("T0", "Id")},
		OrderBy: []*plan.OrderBy{{Direction: plan.Descending, Expr: col("T2", "City")}},
	}
	exists := &plan.FunctionCall{Function: plan.FuncExists, Args: []plan.Node{&plan.Subquery{Select: sub}}}
	out := rootSelect(t, optimize(t, whereSelect(exists), optimizer.WithPasses(optimizer.ExistsSimplification)))

	got := out.Where.(*plan.FunctionCall).Args[0].(*plan.Subquery).Select
	assert.Len(t, got.Columns, 1)
	assert.Empty(t, got.OrderBy)
	assert.NotNil(t, got.Where)
}

func TestCrossJoinRewriting(t *testing.T) {
	related := &plan.Binary{Op: plan.OpEqual, Left: col("T0", "Id"), Right: col("T1", "OwnerId")}
	local := &plan.Binary{Op: plan.OpGreater, Left: col("T0", "Age"), Right: &plan.Constant{Value: int64(1)}}
	s := &plan.Select{
		Alias:   "T2",
		Columns: []plan.ColumnDeclaration{{Name: "City", Expr: col("T1", "City")}},
		From:    &plan.Join{Type: plan.JoinCross, Left: table("Person", "T0"), Right: table("Address", "T1")},
		Where:   plan.And(related, local),
	}
	out := rootSelect(t, optimize(t, s, optimizer.WithPasses(optimizer.CrossJoinRewriting)))

	j := out.From.(*plan.Join)
	assert.Equal(t, plan.JoinInner, j.Type)
	assert.Equal(t, plan.Key(related), plan.Key(j.Condition))
	assert.Equal(t, plan.Key(local), plan.Key(out.Where))
}

func TestUnusedColumnRemoval(t *testing.T) {
	inner := func(distinct bool) *plan.Select {
		return &plan.Select{
			Alias: "T1",
			Columns: []plan.ColumnDeclaration{
				{Name: "Id", Expr: col("T0", "Id")},
				{Name: "Name", Expr: col("T0", "Name")},
				{Name: "Age", Expr: col("T0", "Age")},
			},
			From:     table("Person", "T0"),
			Distinct: distinct,
		}
	}
	outer := func(in *plan.Select) *plan.Select {
		return &plan.Select{Alias: "T2", Columns: []plan.ColumnDeclaration{{Name: "Name", Expr: col("T1", "Name")}}, From: in}
	}

	out := rootSelect(t, optimize(t, outer(inner(false)), optimizer.WithPasses(optimizer.UnusedColumnRemoval)))
	assert.Len(t, out.From.(*plan.Select).Columns, 1)

	out = rootSelect(t, optimize(t, outer(inner(true)), optimizer.WithPasses(optimizer.UnusedColumnRemoval)))
	assert.Len(t, out.From.(*plan.Select).Columns, 3)
}

func TestRedundantColumnRemoval(t *testing.T) {
	in := &plan.Select{
		Alias: "T1",
		Columns: []plan.ColumnDeclaration{
			{Name: "A", Expr: col("T0", "Age")},
			{Name: "B", Expr: col("T0", "Age")},
		},
		From: table("Person", "T0"),
	}
	s := &plan.Select{Alias: "T2", Columns: []plan.ColumnDeclaration{{Name: "V", Expr: col("T1", "B")}}, From: in}
	out := rootSelect(t, optimize(t, s, optimizer.WithPasses(optimizer.RedundantColumnRemoval)))

	assert.Equal(t, "T1.A", plan.Key(out.Columns[0].Expr))
	assert.Len(t, out.From.(*plan.Select).Columns, 1)
}

func TestRedundantSubqueryRemovalKeepsLimitedSource(t *testing.T) {
	in := &plan.Select{
		Alias:   "T1",
		Columns: []plan.ColumnDeclaration{{Name: "Age", Expr: col("T0", "Age")}},
		From:    table("Person", "T0"),
		Take:    &plan.Constant{Value: int64(5)},
	}
	filtered := &plan.Select{
		Alias:   "T2",
		Columns: []plan.ColumnDeclaration{{Name: "Age", Expr: col("T1", "Age")}},
		From:    in,
		Where:   &plan.Binary{Op: plan.OpGreater, Left: col("T1", "Age"), Right: &plan.Constant{Value: int64(1)}},
	}
	out := rootSelect(t, optimize(t, filtered, optimizer.WithPasses(optimizer.RedundantSubqueryRemoval)))
	assert.IsType(t, &plan.Select{}, out.From)

	paged := &plan.Select{
		Alias:   "T2",
		Columns: []plan.ColumnDeclaration{{Name: "Age", Expr: col("T1", "Age")}},
		From:    &plan.Select{Alias: "T1", Columns: in.Columns, From: in.From, Skip: &plan.Constant{Value: int64(5)}},
		Take:    &plan.Constant{Value: int64(3)},
	}
	out = rootSelect(t, optimize(t, paged, optimizer.WithPasses(optimizer.RedundantSubqueryRemoval)))
	assert.IsType(t, &plan.Table{}, out.From)
	assert.Equal(t, "Const(int64:5)", plan.Key(out.Skip))
	assert.Equal(t, "Const(int64:3)", plan.Key(out.Take))
}

func TestOrderByNormalizationLiftsOrderings(t *testing.T) {
	in := &plan.Select{
		Alias:    "T1",
		Columns:  []plan.ColumnDeclaration{{Name: "Age", Expr: col("T0", "Age")}, {Name: "Name", Expr: col("T0", "Name")}},
		From:     table("Person", "T0"),
		Distinct: true,
		OrderBy:  []*plan.OrderBy{{Direction: plan.Ascending, Expr: col("T0", "Name")}},
	}
	s := &plan.Select{
		Alias:   "T2",
		Columns: []plan.ColumnDeclaration{{Name: "V", Expr: &plan.Binary{Op: plan.OpAdd, Left: col("T1", "Age"), Right: &plan.Constant{Value: int64(1)}}}},
		From:    in,
	}
	out := rootSelect(t, optimize(t, s))

	require.Len(t, out.OrderBy, 1)
	assert.Equal(t, "T1.Name ASC", plan.Key(out.OrderBy[0]))
	assert.Empty(t, out.From.(*plan.Select).OrderBy)
}

func TestDataModificationNormalization(t *testing.T) {
	del := &plan.Delete{
		Table: "Person",
		Alias: "T0",
		Where: &plan.Binary{Op: plan.OpLess, Left: col("T0", "Age"), Right: &plan.Constant{Value: int64(5)}},
	}
	out := optimize(t, del)
	assert.Equal(t, "Delete Person AS  WHERE (.Age < Const(int64:5))", plan.Key(out))

	out = optimize(t, bound(t, "Person.Where(p => p.Id == 1).Update(p => {Age: p.Age + 1})"))
	upd := out.(*plan.Update)
	assert.Empty(t, upd.Alias)
	assert.Equal(t, "(.Age + Const(int64:1))", plan.Key(upd.Assignments[0].Value))
	assert.Equal(t, "(.Id = Const(int64:1))", plan.Key(upd.Where))
}

func TestOptimizeReportsInvariantViolations(t *testing.T) {
	bad := whereSelect(&plan.FunctionCall{Function: plan.FuncContainsElement, Args: []plan.Node{col("T0", "Id")}})
	_, err := optimizer.Optimize(bad)
	var violation *optimizer.OptimizationInvariantViolation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, "collection-expansion", violation.Pass)

	dangling := whereSelect(&plan.Binary{Op: plan.OpEqual, Left: col("T9", "Id"), Right: col("T0", "Id")})
	_, err = optimizer.Optimize(dangling, optimizer.WithValidation())
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, "group-by-collation", violation.Pass)
}
