package plan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microtan/shaolinq/query/plan"
)

func personSelect() *plan.Select {
	return &plan.Select{
		Alias: "T1",
		Columns: []plan.ColumnDeclaration{
			{Name: "Id", Expr: &plan.Column{Alias: "T0", Name: "Id"}},
			{Name: "Age", Expr: &plan.Column{Alias: "T0", Name: "Age"}},
		},
		From:  &plan.Table{Name: "Person", Alias: "T0"},
		Where: &plan.Binary{Op: plan.OpGreater, Left: &plan.Column{Alias: "T0", Name: "Age"}, Right: &plan.ConstantPlaceholder{Index: 0, Type: "int64", Len: -1}},
	}
}

func TestMapChildrenSharesUnchangedNodes(t *testing.T) {
	sel := personSelect()

	same := plan.MapChildren(sel, func(n plan.Node) plan.Node { return n })
	assert.Same(t, sel, same)

	renamed := plan.RewriteFunc(sel, func(n plan.Node) plan.Node {
		if c, ok := n.(*plan.Column); ok && c.Name == "Age" {
			return &plan.Column{Alias: c.Alias, Name: "Years"}
		}
		return n
	})
	out := renamed.(*plan.Select)
	assert.NotSame(t, sel, out)
	assert.Same(t, sel.From, out.From)
	assert.Equal(t, "Age", sel.Columns[1].Expr.(*plan.Column).Name, "input must not be mutated")
	assert.Equal(t, "Years", out.Columns[1].Expr.(*plan.Column).Name)
}

func TestKeyIgnoresPlaceholderValues(t *testing.T) {
	a := personSelect()
	b := personSelect()
	assert.True(t, plan.Equal(a, b))

	b.Where = &plan.Binary{Op: plan.OpGreater, Left: &plan.Column{Alias: "T0", Name: "Age"}, Right: &plan.Constant{Value: int64(18)}}
	assert.False(t, plan.Equal(a, b))
}

func TestValidate(t *testing.T) {
	require.NoError(t, plan.Validate(&plan.Projection{
		Select:    personSelect(),
		Projector: &plan.Column{Alias: "T1", Name: "Id"},
	}))

	bad := personSelect()
	bad.Where = &plan.Column{Alias: "T9", Name: "Age"}
	err := plan.Validate(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "T9.Age")

	join := &plan.Select{
		Alias:   "T3",
		Columns: []plan.ColumnDeclaration{{Name: "Id", Expr: &plan.Column{Alias: "T0", Name: "Id"}}},
		From: &plan.Join{
			Type:      plan.JoinInner,
			Left:      &plan.Table{Name: "Person", Alias: "T0"},
			Right:     &plan.Table{Name: "Address", Alias: "T1"},
			Condition: &plan.Binary{Op: plan.OpEqual, Left: &plan.Column{Alias: "T0", Name: "Id"}, Right: &plan.Column{Alias: "T2", Name: "OwnerId"}},
		},
	}
	require.Error(t, plan.Validate(join))
}

func TestConjuncts(t *testing.T) {
	a := &plan.Column{Alias: "T0", Name: "A"}
	b := &plan.Column{Alias: "T0", Name: "B"}
	c := &plan.Column{Alias: "T0", Name: "C"}

	pred := plan.And(a, nil, b, c)
	assert.Equal(t, []plan.Node{a, b, c}, plan.Conjuncts(pred))
	assert.Nil(t, plan.And(nil, nil))
}

func TestFormat(t *testing.T) {
	sel := personSelect()
	sel.OrderBy = []*plan.OrderBy{{Direction: plan.Descending, Expr: &plan.Column{Alias: "T0", Name: "Age"}}}
	sel.Take = &plan.Constant{Value: int64(5)}
	proj := &plan.Projection{Select: sel, Projector: &plan.Column{Alias: "T1", Name: "Id"}, Aggregator: plan.AggregatorFirst}

	want := `Projection First
  projector: T1.Id
  Select T1
    Id = T0.Id
    Age = T0.Age
    from:
      Table Person AS T0
    where: (T0.Age > $0:int64)
    order by: T0.Age DESC
    take: Const(int64:5)`
	assert.Equal(t, want, plan.Format(proj))
}
