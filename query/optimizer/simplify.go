package optimizer

import "github.com/microtan/shaolinq/query/plan"

// coalesceFunctions flattens nested calls of associative functions: Concat(Concat(a, b), c)
// becomes Concat(a, b, c).
func coalesceFunctions(n plan.Node) plan.Node {
	return plan.RewriteFunc(n, func(x plan.Node) plan.Node {
		f, ok := x.(*plan.FunctionCall)
		if !ok || !f.Function.Associative() {
			return x
		}
		nested := false
		for _, a := range f.Args {
			if inner, ok := a.(*plan.FunctionCall); ok && inner.Function == f.Function {
				nested = true
				break
			}
		}
		if !nested {
			return x
		}
		var args []plan.Node
		for _, a := range f.Args {
			if inner, ok := a.(*plan.FunctionCall); ok && inner.Function == f.Function {
				args = append(args, inner.Args...)
				continue
			}
			args = append(args, a)
		}
		return &plan.FunctionCall{Function: f.Function, Args: args}
	})
}

// simplifyExists strips what an EXISTS cannot observe: orderings of an unlimited subquery and
// all columns but one.
func simplifyExists(n plan.Node) plan.Node {
	return plan.RewriteFunc(n, func(x plan.Node) plan.Node {
		f, ok := x.(*plan.FunctionCall)
		if !ok || f.Function != plan.FuncExists || len(f.Args) != 1 {
			return x
		}
		sub, ok := f.Args[0].(*plan.Subquery)
		if !ok {
			return x
		}
		s := sub.Select
		if s.Distinct || len(s.GroupBy) > 0 || selectHasAggregate(s) {
			return x
		}
		trimOrder := len(s.OrderBy) > 0 && s.Skip == nil && s.Take == nil
		if !trimOrder && len(s.Columns) <= 1 {
			return x
		}
		out := s.Clone()
		if trimOrder {
			out.OrderBy = nil
		}
		if len(out.Columns) > 1 {
			out.Columns = out.Columns[:1]
		}
		return &plan.FunctionCall{Function: plan.FuncExists, Args: []plan.Node{&plan.Subquery{Select: out}}}
	})
}

// removeRedundantBooleans folds constant truth values out of AND, OR and NOT and drops
// trivially true filters.
func removeRedundantBooleans(n plan.Node) plan.Node {
	return plan.RewriteFunc(n, func(x plan.Node) plan.Node {
		switch v := x.(type) {
		case *plan.Binary:
			switch v.Op {
			case plan.OpAnd:
				switch {
				case isBool(v.Left, false) || isBool(v.Right, false):
					return &plan.Constant{Value: false}
				case isBool(v.Left, true):
					return v.Right
				case isBool(v.Right, true):
					return v.Left
				case plan.Equal(v.Left, v.Right):
					return v.Left
				}
			case plan.OpOr:
				switch {
				case isBool(v.Left, true) || isBool(v.Right, true):
					return &plan.Constant{Value: true}
				case isBool(v.Left, false):
					return v.Right
				case isBool(v.Right, false):
					return v.Left
				case plan.Equal(v.Left, v.Right):
					return v.Left
				}
			}
		case *plan.Unary:
			if v.Op != plan.OpNot {
				return x
			}
			if b, ok := boolConst(v.Operand); ok {
				return &plan.Constant{Value: !b}
			}
			if inner, ok := v.Operand.(*plan.Unary); ok && inner.Op == plan.OpNot {
				return inner.Operand
			}
		case *plan.Select:
			if isBool(v.Where, true) {
				out := v.Clone()
				out.Where = nil
				return out
			}
		case *plan.Join:
			if v.Type == plan.JoinInner && isBool(v.Condition, true) {
				return &plan.Join{Type: plan.JoinCross, Left: v.Left, Right: v.Right}
			}
		}
		return x
	})
}

// eliminateConditionals resolves CASE expressions with a constant test or identical branches.
func eliminateConditionals(n plan.Node) plan.Node {
	return plan.RewriteFunc(n, func(x plan.Node) plan.Node {
		c, ok := x.(*plan.Conditional)
		if !ok {
			return x
		}
		if b, ok := boolConst(c.Test); ok {
			if b {
				return c.IfTrue
			}
			return c.IfFalse
		}
		if plan.Equal(c.IfTrue, c.IfFalse) {
			return c.IfTrue
		}
		if isBool(c.IfTrue, true) && isBool(c.IfFalse, false) && isPredicate(c.Test) {
			return c.Test
		}
		return x
	})
}

// isPredicate reports an expression that is already a SQL boolean.
func isPredicate(n plan.Node) bool {
	switch v := n.(type) {
	case *plan.Binary:
		switch v.Op {
		case plan.OpEqual, plan.OpNotEqual, plan.OpLess, plan.OpLessEqual, plan.OpGreater, plan.OpGreaterEqual, plan.OpAnd, plan.OpOr:
			return true
		}
	case *plan.Unary:
		return v.Op == plan.OpNot
	case *plan.FunctionCall:
		return v.Function.IsPredicate()
	}
	return false
}
