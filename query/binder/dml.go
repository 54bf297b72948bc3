package binder

import (
	"github.com/microtan/shaolinq/query/ast"
	"github.com/microtan/shaolinq/query/model"
	"github.com/microtan/shaolinq/query/plan"
)

// dmlTarget binds the table a data modification applies to, ANDing the predicates of any
// Where operators in front of it and the type's filters.
func (b *Binder) dmlTarget(c *ast.Chain, op ast.Operator) (*model.TypeDescriptor, string, *plan.ObjectReference, plan.Node) {
	root, ok := c.Source.(*ast.Entity)
	if !ok {
		b.fail(op.String(), "source must be an entity", ErrUnsupportedOperator)
	}
	t := b.entityType(root.Name)
	alias := b.newAlias()
	ref := tableReference(t, alias)

	var where plan.Node
	for _, prev := range c.Ops[:len(c.Ops)-1] {
		w, isWhere := prev.(*ast.Where)
		if !isWhere {
			b.failf(op.String(), ErrUnsupportedOperator, "%s cannot follow %s", op.Type(), prev.Type())
		}
		where = plan.And(where, b.bindLambda(w.Predicate, ref))
	}
	for _, f := range b.filters[t.Name] {
		where = plan.And(where, b.bindLambda(f, ref))
	}
	return t, alias, ref, where
}

func (b *Binder) bindDelete(c *ast.Chain, op *ast.DeleteWhere) plan.Node {
	t, alias, ref, where := b.dmlTarget(c, op)
	where = plan.And(where, b.bindLambda(op.Predicate, ref))
	return &plan.Delete{Table: t.Table, Alias: alias, Where: where}
}

func (b *Binder) bindUpdate(c *ast.Chain, op *ast.Update) plan.Node {
	t, alias, ref, where := b.dmlTarget(c, op)
	rec, ok := b.bindLambda(op.Set, ref).(*plan.New)
	if !ok {
		b.fail(op.String(), "the assignment lambda must return a record", ErrUnsupportedOperator)
	}
	return &plan.Update{Table: t.Table, Alias: alias, Assignments: b.assignments(op, t, rec), Where: where}
}

func (b *Binder) bindInsert(c *ast.Chain, op *ast.Insert) plan.Node {
	if len(c.Ops) != 1 {
		b.fail(op.String(), "Insert must be applied directly to an entity", ErrUnsupportedOperator)
	}
	root, ok := c.Source.(*ast.Entity)
	if !ok {
		b.fail(op.String(), "source must be an entity", ErrUnsupportedOperator)
	}
	t := b.entityType(root.Name)
	rec := b.expr(op.Values).(*plan.New)

	var returning []string
	for _, k := range model.PrimaryKeyColumns(t) {
		returning = append(returning, k.ColumnName)
	}
	return &plan.Insert{Table: t.Table, Assignments: b.assignments(op, t, rec), Returning: returning}
}

// assignments maps record fields to columns. A related entity assigns its key columns.
func (b *Binder) assignments(op ast.Operator, t *model.TypeDescriptor, rec *plan.New) []plan.Assignment {
	var out []plan.Assignment
	for _, f := range rec.Fields {
		p, ok := t.Property(f.Name)
		if !ok {
			b.failf(op.String(), ErrUnknownMember, "%s has no property %s", t.Name, f.Name)
		}
		columns := model.PropertyColumns(p)
		if !p.IsEntity() {
			out = append(out, plan.Assignment{Column: columns[0].ColumnName, Value: f.Expr})
			continue
		}
		var values []plan.Node
		switch v := f.Expr.(type) {
		case *plan.Constant:
			if v.Value != nil {
				b.failf(op.String(), ErrUnsupportedOperator, "%s.%s must be assigned an entity or null", t.Name, f.Name)
			}
			for range columns {
				values = append(values, v)
			}
		default:
			values = b.comparable(f.Expr)
		}
		if len(values) != len(columns) {
			b.failf(op.String(), ErrMissingPrimaryKey, "%s.%s expects %d key values, got %d", t.Name, f.Name, len(columns), len(values))
		}
		for i, ci := range columns {
			out = append(out, plan.Assignment{Column: ci.ColumnName, Value: values[i]})
		}
	}
	return out
}
