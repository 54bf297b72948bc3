package binder

import (
	"github.com/microtan/shaolinq/query/ast"
	"github.com/microtan/shaolinq/query/model"
	"github.com/microtan/shaolinq/query/plan"
)

var binaryOps = map[ast.BinaryOp]plan.BinaryOp{
	ast.OpEqual:        plan.OpEqual,
	ast.OpNotEqual:     plan.OpNotEqual,
	ast.OpLess:         plan.OpLess,
	ast.OpLessEqual:    plan.OpLessEqual,
	ast.OpGreater:      plan.OpGreater,
	ast.OpGreaterEqual: plan.OpGreaterEqual,
	ast.OpAnd:          plan.OpAnd,
	ast.OpOr:           plan.OpOr,
	ast.OpAdd:          plan.OpAdd,
	ast.OpSubtract:     plan.OpSubtract,
	ast.OpMultiply:     plan.OpMultiply,
	ast.OpDivide:       plan.OpDivide,
	ast.OpModulo:       plan.OpModulo,
}

var stringMethods = map[string]plan.Function{
	"StartsWith": plan.FuncStartsWith,
	"EndsWith":   plan.FuncEndsWith,
	"ToUpper":    plan.FuncUpper,
	"ToLower":    plan.FuncLower,
	"Trim":       plan.FuncTrim,
	"TrimStart":  plan.FuncTrimLeft,
	"TrimEnd":    plan.FuncTrimRight,
	"IsLike":     plan.FuncLike,
}

var scalarMembers = map[string]plan.Function{
	"Year":      plan.FuncYear,
	"Month":     plan.FuncMonth,
	"Day":       plan.FuncDay,
	"Hour":      plan.FuncHour,
	"Minute":    plan.FuncMinute,
	"Second":    plan.FuncSecond,
	"DayOfWeek": plan.FuncDayOfWeek,
	"DayOfYear": plan.FuncDayOfYear,
	"Date":      plan.FuncDate,
	"Length":    plan.FuncLength,
}

func (b *Binder) expr(e ast.Expr) plan.Node {
	switch x := e.(type) {
	case *ast.Param:
		return b.lookup(x.Name)
	case *ast.Const:
		return &plan.Constant{Value: x.Value}
	case *ast.Placeholder:
		return &plan.ConstantPlaceholder{Index: x.Index, Type: x.Kind, Len: x.Len}
	case *ast.Member:
		return b.member(b.expr(x.Target), x)
	case *ast.Binary:
		return b.binary(x)
	case *ast.Unary:
		operand := b.expr(x.Operand)
		if x.Op == ast.OpNot {
			return &plan.Unary{Op: plan.OpNot, Operand: operand}
		}
		return &plan.Unary{Op: plan.OpNegate, Operand: operand}
	case *ast.Call:
		return b.call(x)
	case *ast.New:
		rec := &plan.New{}
		for _, f := range x.Fields {
			rec.Fields = append(rec.Fields, plan.Field{Name: f.Name, Expr: b.expr(f.Value)})
		}
		return rec
	case *ast.Conditional:
		return &plan.Conditional{Test: b.expr(x.Test), IfTrue: b.expr(x.IfTrue), IfFalse: b.expr(x.IfFalse)}
	case *ast.Array:
		t := &plan.Tuple{}
		for _, it := range x.Items {
			t.Items = append(t.Items, b.expr(it))
		}
		return t
	case *ast.Entity:
		return b.tableProjection(x)
	case *ast.Chain:
		b.collectIncludes(x)
		return b.bindOps(x, len(x.Ops), false)
	case *ast.Lambda:
		b.fail(x.String(), "lambda in value position", ErrUnsupportedOperator)
	}
	b.failf(e.String(), ErrUnsupportedOperator, "unsupported expression %T", e)
	return nil
}

func (b *Binder) member(target plan.Node, m *ast.Member) plan.Node {
	switch t := target.(type) {
	case *plan.ObjectReference:
		if binding, ok := t.Binding(m.Name); ok {
			if !binding.Property.IsEntity() {
				b.kinds[binding.Expr] = binding.Property.Kind
			}
			return binding.Expr
		}
		if _, ok := t.Type.Property(m.Name); ok {
			b.failf(m.String(), ErrUnknownMember, "%s.%s is not loaded; add an Include", t.Type.Name, m.Name)
		}
		b.failf(m.String(), ErrUnknownMember, "%s has no property %s", t.Type.Name, m.Name)
	case *plan.New:
		if f, ok := t.Field(m.Name); ok {
			return f
		}
	case *plan.Grouping:
		if m.Name == "Key" {
			return t.Key
		}
	default:
		switch m.Name {
		case "HasValue":
			return &plan.FunctionCall{Function: plan.FuncIsNotNull, Args: []plan.Node{target}}
		case "Value":
			return target
		}
		if fn, ok := scalarMembers[m.Name]; ok {
			out := &plan.FunctionCall{Function: fn, Args: []plan.Node{target}}
			b.kinds[out] = model.KindInt
			if fn == plan.FuncDate {
				b.kinds[out] = model.KindTime
			}
			return out
		}
	}
	b.failf(m.String(), ErrUnknownMember, "cannot resolve member %s", m.Name)
	return nil
}

func (b *Binder) binary(x *ast.Binary) plan.Node {
	if x.Op == ast.OpCoalesce {
		return &plan.FunctionCall{Function: plan.FuncCoalesce, Args: []plan.Node{b.expr(x.Left), b.expr(x.Right)}}
	}
	if x.Op.IsComparison() {
		if n := b.compareTo(x); n != nil {
			return n
		}
		if isNullConst(x.Right) {
			return b.nullTest(x.Op, b.expr(x.Left))
		}
		if isNullConst(x.Left) {
			return b.nullTest(x.Op, b.expr(x.Right))
		}
	}

	l, r := b.expr(x.Left), b.expr(x.Right)
	if x.Op.IsComparison() && (isComposite(l) || isComposite(r)) {
		return b.compareComposite(x, l, r)
	}
	if x.Op == ast.OpAdd && (b.isString(l) || b.isString(r)) {
		out := &plan.FunctionCall{Function: plan.FuncConcat, Args: []plan.Node{l, r}}
		b.kinds[out] = model.KindString
		return out
	}
	op, ok := binaryOps[x.Op]
	if !ok {
		b.failf(x.String(), ErrUnsupportedOperator, "operator %s", x.Op)
	}
	return &plan.Binary{Op: op, Left: l, Right: r}
}

// compareTo rewrites a.CompareTo(b) op 0 (or 0 op a.CompareTo(b)) to a op b.
func (b *Binder) compareTo(x *ast.Binary) plan.Node {
	op := binaryOps[x.Op]
	call, ok := x.Left.(*ast.Call)
	zero := x.Right
	if !ok || call.Method != "CompareTo" {
		call, ok = x.Right.(*ast.Call)
		zero = x.Left
		if !ok || call.Method != "CompareTo" {
			return nil
		}
		op = flip(op)
	}
	if !isZeroConst(zero) {
		b.fail(x.String(), "CompareTo must be compared with 0", ErrUnsupportedMethod)
	}
	if len(call.Args) != 1 {
		b.fail(call.String(), "CompareTo takes one argument", ErrUnsupportedMethod)
	}
	return &plan.Binary{Op: op, Left: b.expr(call.Target), Right: b.expr(call.Args[0])}
}

func flip(op plan.BinaryOp) plan.BinaryOp {
	switch op {
	case plan.OpLess:
		return plan.OpGreater
	case plan.OpLessEqual:
		return plan.OpGreaterEqual
	case plan.OpGreater:
		return plan.OpLess
	case plan.OpGreaterEqual:
		return plan.OpLessEqual
	}
	return op
}

func isNullConst(e ast.Expr) bool {
	c, ok := e.(*ast.Const)
	return ok && c.Value == nil
}

func isZeroConst(e ast.Expr) bool {
	c, ok := e.(*ast.Const)
	if !ok {
		return false
	}
	switch v := c.Value.(type) {
	case int64:
		return v == 0
	case float64:
		return v == 0
	}
	return false
}

// nullTest turns x == null into IsNull(x). An entity is null when all its key columns are.
func (b *Binder) nullTest(op ast.BinaryOp, operand plan.Node) plan.Node {
	fn, join := plan.FuncIsNull, plan.OpAnd
	switch op {
	case ast.OpEqual:
	case ast.OpNotEqual:
		fn, join = plan.FuncIsNotNull, plan.OpOr
	default:
		b.failf(string(op), ErrUnsupportedOperator, "null can only be compared with == or !=")
	}
	if ref, ok := operand.(*plan.ObjectReference); ok {
		var out plan.Node
		for _, k := range b.keyScalars(ref) {
			test := &plan.FunctionCall{Function: fn, Args: []plan.Node{k}}
			if out == nil {
				out = test
			} else {
				out = &plan.Binary{Op: join, Left: out, Right: test}
			}
		}
		return out
	}
	return &plan.FunctionCall{Function: fn, Args: []plan.Node{operand}}
}

func isComposite(n plan.Node) bool {
	switch n.(type) {
	case *plan.ObjectReference, *plan.New, *plan.Tuple:
		return true
	}
	return false
}

// compareComposite compares entities by key and records field by field.
func (b *Binder) compareComposite(x *ast.Binary, l, r plan.Node) plan.Node {
	if x.Op != ast.OpEqual && x.Op != ast.OpNotEqual {
		b.failf(x.String(), ErrUnsupportedOperator, "%s is not defined for entities and records", x.Op)
	}
	ls, rs := b.comparable(l), b.comparable(r)
	if len(ls) == 0 || len(ls) != len(rs) {
		b.failf(x.String(), ErrMissingPrimaryKey, "operands have %d and %d key columns", len(ls), len(rs))
	}
	var out plan.Node
	for i := range ls {
		var term plan.Node
		if x.Op == ast.OpEqual {
			term = &plan.Binary{Op: plan.OpEqual, Left: ls[i], Right: rs[i]}
			out = plan.And(out, term)
		} else {
			term = &plan.Binary{Op: plan.OpNotEqual, Left: ls[i], Right: rs[i]}
			if out == nil {
				out = term
			} else {
				out = &plan.Binary{Op: plan.OpOr, Left: out, Right: term}
			}
		}
	}
	return out
}

// comparable returns the scalars identifying n: the key columns of an entity, the fields of a
// record, or n itself.
func (b *Binder) comparable(n plan.Node) []plan.Node {
	if ref, ok := n.(*plan.ObjectReference); ok {
		return b.keyScalars(ref)
	}
	return scalars(n)
}

func (b *Binder) keyScalars(ref *plan.ObjectReference) []plan.Node {
	var out []plan.Node
	for _, k := range ref.KeyBindings() {
		out = append(out, b.comparable(k.Expr)...)
	}
	if len(out) == 0 {
		b.failf(ref.Type.Name, ErrMissingPrimaryKey, "%s has no key bindings", ref.Type.Name)
	}
	return out
}

// scalars flattens entity references, records and tuples into their scalar leaves.
func scalars(n plan.Node) []plan.Node {
	switch x := n.(type) {
	case *plan.ObjectReference:
		var out []plan.Node
		for _, bd := range x.Bindings {
			out = append(out, scalars(bd.Expr)...)
		}
		return out
	case *plan.New:
		var out []plan.Node
		for _, f := range x.Fields {
			out = append(out, scalars(f.Expr)...)
		}
		return out
	case *plan.Tuple:
		var out []plan.Node
		for _, it := range x.Items {
			out = append(out, scalars(it)...)
		}
		return out
	}
	return []plan.Node{n}
}

// equality builds the join predicate a == b for keys that may be entities or records.
func (b *Binder) equality(what string, l, r plan.Node) plan.Node {
	ls, rs := b.comparable(l), b.comparable(r)
	if len(ls) == 0 || len(ls) != len(rs) {
		b.failf(what, ErrMissingCorrelation, "keys have %d and %d columns", len(ls), len(rs))
	}
	var out plan.Node
	for i := range ls {
		out = plan.And(out, &plan.Binary{Op: plan.OpEqual, Left: ls[i], Right: rs[i]})
	}
	return out
}

func (b *Binder) isString(n plan.Node) bool {
	if k, ok := b.kinds[n]; ok {
		return k == model.KindString
	}
	switch x := n.(type) {
	case *plan.Constant:
		_, ok := x.Value.(string)
		return ok
	case *plan.ConstantPlaceholder:
		return x.Type == "string" && x.Len < 0
	case *plan.FunctionCall:
		switch x.Function {
		case plan.FuncConcat, plan.FuncUpper, plan.FuncLower, plan.FuncTrim, plan.FuncTrimLeft, plan.FuncTrimRight, plan.FuncSubstring:
			return true
		case plan.FuncCoalesce:
			for _, a := range x.Args {
				if b.isString(a) {
					return true
				}
			}
		}
	}
	return false
}

func (b *Binder) call(x *ast.Call) plan.Node {
	target := b.expr(x.Target)
	args := make([]plan.Node, len(x.Args))
	for i, a := range x.Args {
		args[i] = b.expr(a)
	}
	arity := func(n ...int) {
		for _, want := range n {
			if len(args) == want {
				return
			}
		}
		b.failf(x.String(), ErrUnsupportedMethod, "%s: wrong number of arguments", x.Method)
	}

	switch x.Method {
	case "Contains":
		arity(1)
		switch t := target.(type) {
		case *plan.Projection, *plan.Tuple:
			return &plan.FunctionCall{Function: plan.FuncContainsElement, Args: []plan.Node{t, args[0]}}
		case *plan.Grouping:
			return &plan.FunctionCall{Function: plan.FuncContainsElement, Args: []plan.Node{t.Group, args[0]}}
		case *plan.ConstantPlaceholder:
			if t.Len >= 0 {
				return &plan.FunctionCall{Function: plan.FuncContainsElement, Args: []plan.Node{t, args[0]}}
			}
		case *plan.Constant:
			if _, ok := t.Value.([]any); ok {
				return &plan.FunctionCall{Function: plan.FuncContainsElement, Args: []plan.Node{t, args[0]}}
			}
		}
		return &plan.FunctionCall{Function: plan.FuncContainsString, Args: []plan.Node{target, args[0]}}
	case "Substring":
		arity(1, 2)
		// zero-based start becomes one-based
		start := &plan.Binary{Op: plan.OpAdd, Left: args[0], Right: &plan.Constant{Value: int64(1)}}
		fnArgs := []plan.Node{target, start}
		if len(args) == 2 {
			fnArgs = append(fnArgs, args[1])
		}
		return &plan.FunctionCall{Function: plan.FuncSubstring, Args: fnArgs}
	case "CompareTo":
		b.fail(x.String(), "CompareTo is only supported in a comparison with 0", ErrUnsupportedMethod)
	}
	if fn, ok := stringMethods[x.Method]; ok {
		switch fn {
		case plan.FuncUpper, plan.FuncLower, plan.FuncTrim, plan.FuncTrimLeft, plan.FuncTrimRight:
			arity(0)
		default:
			arity(1)
		}
		return &plan.FunctionCall{Function: fn, Args: append([]plan.Node{target}, args...)}
	}
	b.failf(x.String(), ErrUnsupportedMethod, "method %s", x.Method)
	return nil
}
