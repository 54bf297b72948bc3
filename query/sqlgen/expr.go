package sqlgen

import (
	"strconv"
	"strings"

	"github.com/microtan/shaolinq/query/plan"
)

// predicate renders n where SQL expects a condition. Boolean constants become comparisons
// every dialect accepts there.
func (f *formatter) predicate(n plan.Node) string {
	if c, ok := n.(*plan.Constant); ok {
		if b, ok := c.Value.(bool); ok {
			if b {
				return "(1 = 1)"
			}
			return "(1 = 0)"
		}
	}
	return f.expr(n)
}

func (f *formatter) expr(n plan.Node) string {
	switch v := n.(type) {
	case *plan.Column:
		if v.Alias == "" {
			return f.d.Quote(v.Name)
		}
		return v.Alias + "." + f.d.Quote(v.Name)

	case *plan.Constant:
		return f.constant(v.Value)

	case *plan.ConstantPlaceholder:
		if f.opts.evaluate {
			if v.Index < len(f.opts.values) {
				return f.constant(f.opts.values[v.Index])
			}
			return f.unsupported("placeholder without a value")
		}
		return f.param(Param{Placeholder: v.Index, Element: -1})

	case *plan.Binary:
		return f.binary(v)

	case *plan.Unary:
		if v.Op == plan.OpNot {
			return "NOT " + f.predicate(v.Operand)
		}
		return "(-" + f.expr(v.Operand) + ")"

	case *plan.Conditional:
		return "CASE WHEN " + f.predicate(v.Test) + " THEN " + f.expr(v.IfTrue) + " ELSE " + f.expr(v.IfFalse) + " END"

	case *plan.FunctionCall:
		return f.function(v)

	case *plan.Aggregate:
		arg := "*"
		if v.Argument != nil {
			arg = f.expr(v.Argument)
		}
		if v.Distinct {
			arg = "DISTINCT " + arg
		}
		return string(v.Type) + "(" + arg + ")"

	case *plan.AggregateSubquery:
		return f.expr(v.Subquery)

	case *plan.Subquery:
		return "(" + f.selectSQL(v.Select) + ")"

	case *plan.Tuple:
		return "(" + f.list(v.Items) + ")"
	}
	return f.unsupported(string(n.Kind()) + " expression")
}

func (f *formatter) list(items []plan.Node) string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = f.expr(item)
	}
	return strings.Join(out, ", ")
}

func (f *formatter) constant(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if f.opts.inlineBooleans {
			return f.d.BoolLiteral(x)
		}
	}
	return f.param(Param{Value: v, Placeholder: -1, Element: -1})
}

// isNull reports a constant null, including an evaluated placeholder holding nil.
func (f *formatter) isNull(n plan.Node) bool {
	switch v := n.(type) {
	case *plan.Constant:
		return v.Value == nil
	case *plan.ConstantPlaceholder:
		return f.opts.evaluate && v.Index < len(f.opts.values) && f.opts.values[v.Index] == nil
	}
	return false
}

func (f *formatter) binary(b *plan.Binary) string {
	switch b.Op {
	case plan.OpAnd, plan.OpOr:
		return "(" + f.predicate(b.Left) + " " + string(b.Op) + " " + f.predicate(b.Right) + ")"
	case plan.OpEqual, plan.OpNotEqual:
		if f.opts.constantNulls {
			test := " IS NULL)"
			if b.Op == plan.OpNotEqual {
				test = " IS NOT NULL)"
			}
			switch {
			case f.isNull(b.Right):
				return "(" + f.expr(b.Left) + test
			case f.isNull(b.Left):
				return "(" + f.expr(b.Right) + test
			}
		}
	}
	return "(" + f.expr(b.Left) + " " + string(b.Op) + " " + f.expr(b.Right) + ")"
}

func (f *formatter) function(c *plan.FunctionCall) string {
	switch c.Function {
	case plan.FuncIsNull:
		return "(" + f.expr(c.Args[0]) + " IS NULL)"
	case plan.FuncIsNotNull:
		return "(" + f.expr(c.Args[0]) + " IS NOT NULL)"
	case plan.FuncExists:
		return "EXISTS " + f.expr(c.Args[0])
	case plan.FuncIn:
		return "(" + f.expr(c.Args[0]) + " IN " + f.inList(c.Args[1]) + ")"
	}

	rule, ok := f.d.functions[c.Function]
	if !ok {
		return f.unsupported("function " + string(c.Function))
	}
	if len(c.Args) < rule.MinArgs || (rule.MaxArgs >= 0 && len(c.Args) > rule.MaxArgs) {
		return f.unsupported("function " + string(c.Function) + " with " + strconv.Itoa(len(c.Args)) + " arguments")
	}
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = f.expr(a)
	}
	return rule.Render(f.d, args)
}

// inList renders the right side of IN. An array placeholder expands to one parameter per
// element; its length is part of the query shape.
func (f *formatter) inList(n plan.Node) string {
	switch v := n.(type) {
	case *plan.ConstantPlaceholder:
		if v.Len < 0 {
			break
		}
		if f.opts.evaluate {
			if v.Index >= len(f.opts.values) {
				return f.unsupported("placeholder without a value")
			}
			items := toList(f.opts.values[v.Index])
			nodes := make([]plan.Node, len(items))
			for i, item := range items {
				nodes[i] = &plan.Constant{Value: item}
			}
			return "(" + f.list(nodes) + ")"
		}
		markers := make([]string, v.Len)
		for i := range markers {
			markers[i] = f.param(Param{Placeholder: v.Index, Element: i})
		}
		return "(" + strings.Join(markers, ", ") + ")"
	case *plan.Tuple:
		return "(" + f.list(v.Items) + ")"
	case *plan.Subquery:
		return f.expr(v)
	}
	return f.unsupported("IN over " + string(n.Kind()))
}
