package binder_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microtan/shaolinq/query/ast"
	"github.com/microtan/shaolinq/query/binder"
	"github.com/microtan/shaolinq/query/model"
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
  - name: Employee
    properties:
      - {name: Id, type: int, primaryKey: true}
      - {name: Name, type: string}
      - {name: Address, type: Address, nullable: true}
`

func testingModel(t *testing.T) *model.Model {
	t.Helper()
	m, err := model.Parse([]byte(testModel), "yaml")
	require.NoError(t, err)
	return m
}

func bind(t *testing.T, text string, opts ...binder.Option) *binder.Result {
	t.Helper()
	chain, err := ast.Parse(text)
	require.NoError(t, err)
	res, err := binder.Bind(testingModel(t), chain, opts...)
	require.NoError(t, err)
	require.NoError(t, plan.Validate(res.Plan))
	return res
}

func bindErr(t *testing.T, text string) error {
	t.Helper()
	chain, err := ast.Parse(text)
	require.NoError(t, err)
	_, err = binder.Bind(testingModel(t), chain)
	require.Error(t, err)
	return err
}

func TestTableProjection(t *testing.T) {
	proj := bind(t, "Person").Projection()
	require.NotNil(t, proj)

	assert.Equal(t, "T1", proj.Select.Alias)
	table, ok := proj.Select.From.(*plan.Table)
	require.True(t, ok)
	assert.Equal(t, "Person", table.Name)
	assert.Equal(t, "T0", table.Alias)

	ref, ok := proj.Projector.(*plan.ObjectReference)
	require.True(t, ok)
	assert.Len(t, ref.Bindings, 3)
	var names []string
	for _, c := range proj.Select.Columns {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"Id", "Name", "Age"}, names)
}

func TestWhereWrapsSource(t *testing.T) {
	proj := bind(t, "Person.Where(p => p.Age > 18)").Projection()

	assert.Equal(t, "T2", proj.Select.Alias)
	assert.Equal(t, "(T1.Age > Const(int64:18))", plan.Key(proj.Select.Where))
	inner, ok := proj.Select.From.(*plan.Select)
	require.True(t, ok)
	assert.Equal(t, "T1", inner.Alias)
}

func TestBindIsDeterministic(t *testing.T) {
	text := "Person.Where(p => p.Age > 18).OrderBy(p => p.Name).Select(p => {N: p.Name, A: p.Age + 1}).Take(10)"
	a := bind(t, text)
	b := bind(t, text)
	assert.Equal(t, plan.Key(a.Plan), plan.Key(b.Plan))
}

func TestOrderByReplaysThenByInOrder(t *testing.T) {
	proj := bind(t, "Person.OrderBy(p => p.Name).ThenByDescending(p => p.Age).ThenBy(p => p.Id)").Projection()

	var keys []string
	for _, o := range proj.Select.OrderBy {
		keys = append(keys, plan.Key(o))
	}
	assert.Equal(t, []string{"T1.Name ASC", "T1.Age DESC", "T1.Id ASC"}, keys)
}

func TestThenByWithoutOrderBy(t *testing.T) {
	err := bindErr(t, "Person.ThenBy(p => p.Name)")
	assert.ErrorIs(t, err, binder.ErrUnsupportedOperator)
}

func TestExpressionRules(t *testing.T) {
	tests := []struct {
		name  string
		chain string
		where string
	}{
		{
			name:  "null comparison",
			chain: "Employee.Where(e => e.Address == null)",
			where: "IsNull(T1.AddressId)",
		},
		{
			name:  "not null comparison",
			chain: "Employee.Where(e => null != e.Name)",
			where: "IsNotNull(T1.Name)",
		},
		{
			name:  "compare to",
			chain: "Person.Where(p => p.Name.CompareTo('m') > 0)",
			where: "(T1.Name > Const(string:m))",
		},
		{
			name:  "reversed compare to",
			chain: "Person.Where(p => 0 < p.Name.CompareTo('m'))",
			where: "(T1.Name > Const(string:m))",
		},
		{
			name:  "coalesce",
			chain: "Address.Where(a => (a.City ?? 'none') == 'Oslo')",
			where: "(Coalesce(T1.City, Const(string:none)) = Const(string:Oslo))",
		},
		{
			name:  "string concatenation",
			chain: "Person.Where(p => p.Name + '!' == 'a!')",
			where: "(Concat(T1.Name, Const(string:!)) = Const(string:a!))",
		},
		{
			name:  "string methods",
			chain: "Person.Where(p => p.Name.ToUpper().StartsWith('A'))",
			where: "StartsWith(Upper(T1.Name), Const(string:A))",
		},
		{
			name:  "entity equality compares keys",
			chain: "Employee.Where(e => e.Address == e.Address)",
			where: "(T1.AddressId = T1.AddressId)",
		},
		{
			name:  "key navigation needs no join",
			chain: "Employee.Where(e => e.Address.Id == 3)",
			where: "(T1.AddressId = Const(int64:3))",
		},
		{
			name:  "arithmetic",
			chain: "Person.Where(p => p.Age % 2 == 0)",
			where: "((T1.Age % Const(int64:2)) = Const(int64:0))",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proj := bind(t, tt.chain).Projection()
			assert.Equal(t, tt.where, plan.Key(proj.Select.Where))
		})
	}
}

func TestImplicitNavigationJoinsRelatedTable(t *testing.T) {
	proj := bind(t, "Employee.Where(e => e.Address.City == 'Paris')").Projection()

	assert.Equal(t, "(T1.Address_City = Const(string:Paris))", plan.Key(proj.Select.Where))
	source := proj.Select.From.(*plan.Select)
	join, ok := source.From.(*plan.Join)
	require.True(t, ok)
	assert.Equal(t, plan.JoinLeft, join.Type)
	assert.Equal(t, "(T0.AddressId = T2.Id)", plan.Key(join.Condition))

	ref := proj.Projector.(*plan.ObjectReference)
	addr, ok := ref.Binding("Address")
	require.True(t, ok)
	assert.Len(t, addr.Expr.(*plan.ObjectReference).Bindings, 3, "included entity is complete")
}

func TestIncludeLoadsRelatedEntity(t *testing.T) {
	proj := bind(t, "Employee.Include(e => e.Address)").Projection()
	source := proj.Select
	_, ok := source.From.(*plan.Join)
	assert.True(t, ok)

	ref := proj.Projector.(*plan.ObjectReference)
	addr, _ := ref.Binding("Address")
	assert.Len(t, addr.Expr.(*plan.ObjectReference).Bindings, 3)
}

func TestUnloadedNavigationFails(t *testing.T) {
	err := bindErr(t, "Employee.Select(e => {A: e}).Select(x => x.A.Address.City)")
	assert.ErrorIs(t, err, binder.ErrUnknownMember)
}

func TestExtraFilter(t *testing.T) {
	filter, err := ast.ParseLambda("p => p.Age >= 0")
	require.NoError(t, err)

	proj := bind(t, "Person", binder.WithExtraFilter("Person", filter)).Projection()
	assert.Equal(t, "(T1.Age >= Const(int64:0))", plan.Key(proj.Select.Where))
}

func TestJoinTypeFromDefaultIfEmpty(t *testing.T) {
	tests := []struct {
		chain string
		want  plan.JoinType
	}{
		{"Person.Join(Address, p => p.Id, a => a.OwnerId, (p, a) => {N: p.Name, C: a.City})", plan.JoinInner},
		{"Person.DefaultIfEmpty().Join(Address, p => p.Id, a => a.OwnerId, (p, a) => {N: p.Name, C: a.City})", plan.JoinLeft},
		{"Person.Join(Address.DefaultIfEmpty(), p => p.Id, a => a.OwnerId, (p, a) => {N: p.Name, C: a.City})", plan.JoinRight},
		{"Person.DefaultIfEmpty().Join(Address.DefaultIfEmpty(), p => p.Id, a => a.OwnerId, (p, a) => {N: p.Name, C: a.City})", plan.JoinFullOuter},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			proj := bind(t, tt.chain).Projection()
			join, ok := proj.Select.From.(*plan.Join)
			require.True(t, ok)
			assert.Equal(t, tt.want, join.Type)
			assert.Equal(t, "(T1.Id = T3.OwnerId)", plan.Key(join.Condition))
		})
	}
}

func TestGroupByCount(t *testing.T) {
	res := bind(t, "Person.GroupBy(p => p.Age).Select(g => {Age: g.Key, Count: g.Count()})")
	proj := res.Projection()

	group, ok := proj.Select.From.(*plan.Select)
	require.True(t, ok)
	require.Len(t, group.GroupBy, 1)
	assert.Equal(t, "T1.Age", plan.Key(group.GroupBy[0]))

	count, ok := proj.Select.Columns[1].Expr.(*plan.AggregateSubquery)
	require.True(t, ok)
	assert.Equal(t, group.Alias, count.GroupByAlias)
	assert.Equal(t, "COUNT(*)", plan.Key(count.InGroup))

	require.Len(t, res.Groups, 1)
	assert.Equal(t, group.Alias, res.Groups[0].Alias)
}

func TestGroupByElementIsCorrelatedNullSafe(t *testing.T) {
	proj := bind(t, "Person.GroupBy(p => p.Age).Select(g => g.Max(p => p.Id))").Projection()
	sub := proj.Select.Columns[0].Expr.(*plan.AggregateSubquery).Subquery
	element := sub.Select.From.(*plan.Select)
	assert.Contains(t, plan.Key(element.Where), "(IsNull(T5.Age) AND IsNull(T3.Age))")
}

func TestGroupByResultSelectorUsesPlainAggregates(t *testing.T) {
	proj := bind(t, "Person.GroupBy(p => p.Age, (k, g) => {Age: k, Total: g.Sum(p => p.Id)})").Projection()
	assert.Equal(t, "SUM(T1.Id)", plan.Key(proj.Select.Columns[1].Expr))
}

func TestAggregates(t *testing.T) {
	t.Run("root sum defaults to zero", func(t *testing.T) {
		proj := bind(t, "Person.Sum(p => p.Age)").Projection()
		assert.Equal(t, plan.AggregatorScalar, proj.Aggregator)
		assert.Equal(t, "Const(int64:0)", plan.Key(proj.Default))
		assert.Equal(t, "SUM(T1.Age)", plan.Key(proj.Select.Columns[0].Expr))
	})
	t.Run("distinct folds into the aggregate", func(t *testing.T) {
		proj := bind(t, "Person.Select(p => p.Age).Distinct().Count()").Projection()
		assert.Equal(t, "COUNT(DISTINCT T2.Age)", plan.Key(proj.Select.Columns[0].Expr))
	})
	t.Run("count predicate filters", func(t *testing.T) {
		proj := bind(t, "Person.Count(p => p.Age > 1)").Projection()
		assert.Equal(t, "COUNT(*)", plan.Key(proj.Select.Columns[0].Expr))
		assert.NotNil(t, proj.Select.From.(*plan.Select).Where)
	})
	t.Run("average has no default", func(t *testing.T) {
		proj := bind(t, "Person.Average(p => p.Age)").Projection()
		assert.Nil(t, proj.Default)
	})
}

func TestFirstAndSingle(t *testing.T) {
	first := bind(t, "Person.First(p => p.Id == 1)").Projection()
	assert.Equal(t, plan.AggregatorFirst, first.Aggregator)
	assert.Equal(t, "Const(int64:1)", plan.Key(first.Select.Take))

	single := bind(t, "Person.SingleOrDefault()").Projection()
	assert.Equal(t, plan.AggregatorSingleOrDefault, single.Aggregator)
	assert.Equal(t, "Const(int64:2)", plan.Key(single.Select.Take))
}

func TestContainsAndAny(t *testing.T) {
	contains := bind(t, "Person.Select(p => p.Id).Contains(3)").Projection()
	assert.Equal(t, plan.AggregatorScalar, contains.Aggregator)
	assert.Nil(t, contains.Select.From)
	fn := contains.Select.Columns[0].Expr.(*plan.FunctionCall)
	assert.Equal(t, plan.FuncContainsElement, fn.Function)

	exists := bind(t, "Person.Any(p => p.Age > 60)").Projection()
	fn = exists.Select.Columns[0].Expr.(*plan.FunctionCall)
	assert.Equal(t, plan.FuncExists, fn.Function)

	inList := bind(t, "Person.Where(p => [1, 2, 3].Contains(p.Id))").Projection()
	fn = inList.Select.Where.(*plan.FunctionCall)
	assert.Equal(t, plan.FuncContainsElement, fn.Function)
}

func TestSelectMany(t *testing.T) {
	cross := bind(t, "Person.SelectMany(p => Address, (p, a) => {N: p.Name, C: a.City})").Projection()
	assert.Equal(t, plan.JoinCross, cross.Select.From.(*plan.Join).Type)

	apply := bind(t, "Person.SelectMany(p => Address.Where(a => a.OwnerId == p.Id), (p, a) => {N: p.Name, C: a.City})").Projection()
	assert.Equal(t, plan.JoinCrossApply, apply.Select.From.(*plan.Join).Type)

	outer := bind(t, "Person.SelectMany(p => Address.Where(a => a.OwnerId == p.Id).DefaultIfEmpty(), (p, a) => {N: p.Name, C: a.City})").Projection()
	assert.Equal(t, plan.JoinOuterApply, outer.Select.From.(*plan.Join).Type)

	err := bindErr(t, "Person.SelectMany(p => Address.Take(1))")
	assert.ErrorIs(t, err, binder.ErrUnsupportedOperator)
}

func TestGroupJoinCount(t *testing.T) {
	proj := bind(t, "Person.GroupJoin(Address, p => p.Id, a => a.OwnerId, (p, g) => {N: p.Name, C: g.Count()})").Projection()
	_, ok := proj.Select.Columns[1].Expr.(*plan.Subquery)
	assert.True(t, ok)
}

func TestDataModification(t *testing.T) {
	del := bind(t, "Person.Where(p => p.Age < 5).DeleteWhere(p => p.Name == 'x')").Plan
	assert.Equal(t, "Delete Person AS T0 WHERE ((T0.Age < Const(int64:5)) AND (T0.Name = Const(string:x)))", plan.Key(del))

	upd := bind(t, "Person.Where(p => p.Id == 1).Update(p => {Age: p.Age + 1})").Plan.(*plan.Update)
	require.Len(t, upd.Assignments, 1)
	assert.Equal(t, "Age", upd.Assignments[0].Column)
	assert.Equal(t, "(T0.Age + Const(int64:1))", plan.Key(upd.Assignments[0].Value))

	ins := bind(t, "Employee.Insert({Id: 1, Name: 'a', Address: null})").Plan.(*plan.Insert)
	var cols []string
	for _, a := range ins.Assignments {
		cols = append(cols, a.Column)
	}
	assert.Equal(t, []string{"Id", "Name", "AddressId"}, cols)
	assert.Equal(t, []string{"Id"}, ins.Returning)
}

func TestBindingErrors(t *testing.T) {
	tests := []struct {
		name  string
		chain string
		want  error
	}{
		{"unknown property", "Person.Where(p => p.Salary > 1)", binder.ErrUnknownMember},
		{"entity ordering comparison", "Employee.Where(e => e.Address > e.Address)", binder.ErrUnsupportedOperator},
		{"nested collection", "Person.Select(p => Address.Where(a => a.OwnerId == p.Id))", binder.ErrUnsupportedOperator},
		{"compare to without zero", "Person.Where(p => p.Name.CompareTo('a') > 1)", binder.ErrUnsupportedMethod},
		{"delete after select", "Person.Select(p => p.Id).DeleteWhere(p => p > 1)", binder.ErrUnsupportedOperator},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := bindErr(t, tt.chain)
			assert.ErrorIs(t, err, tt.want)
			var be *binder.BindingError
			assert.True(t, errors.As(err, &be))
		})
	}
}
