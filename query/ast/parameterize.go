package ast

import "fmt"

// Parameterize lifts literal constants out of the chain. It returns a chain in which every
// liftable constant is replaced by a Placeholder, plus the lifted values indexed by placeholder.
// null, Skip/Take counts and the zero of a CompareTo idiom stay in place: they change the
// generated SQL, so they are part of the shape.
func Parameterize(c *Chain) (*Chain, []any) {
	p := &parameterizer{}
	out := p.chain(c)
	return out, p.values
}

// ShapeKey returns the canonical text of a parameterized chain. Lambda parameters are renamed
// by binding position, so chains that differ only in parameter names share a key.
func ShapeKey(c *Chain) string {
	p := &parameterizer{rename: true}
	return p.chain(c).String()
}

type parameterizer struct {
	values []any

	// rename replaces lambda parameters with positional names; scope holds the bindings
	// visible at the current point of the walk, innermost last.
	rename bool
	scope  []binding
}

type binding struct {
	from, to string
}

func (p *parameterizer) lift(v any) Expr {
	idx := len(p.values)
	p.values = append(p.values, v)
	if items, ok := v.([]any); ok {
		kind := "any"
		if len(items) > 0 {
			kind = fmt.Sprintf("%T", items[0])
		}
		return &Placeholder{Index: idx, Kind: kind, Len: len(items)}
	}
	return &Placeholder{Index: idx, Kind: fmt.Sprintf("%T", v), Len: -1}
}

func (p *parameterizer) chain(c *Chain) *Chain {
	out := &Chain{Source: p.expr(c.Source), Ops: make([]Operator, len(c.Ops))}
	for i, op := range c.Ops {
		out.Ops[i] = p.operator(op)
	}
	return out
}

func (p *parameterizer) lambda(l *Lambda) *Lambda {
	if l == nil {
		return nil
	}
	if !p.rename {
		return &Lambda{Params: l.Params, Body: p.expr(l.Body)}
	}
	mark := len(p.scope)
	params := make([]string, len(l.Params))
	for i, name := range l.Params {
		params[i] = fmt.Sprintf("$p%d", len(p.scope))
		p.scope = append(p.scope, binding{from: name, to: params[i]})
	}
	body := p.expr(l.Body)
	p.scope = p.scope[:mark]
	return &Lambda{Params: params, Body: body}
}

func (p *parameterizer) param(x *Param) Expr {
	for i := len(p.scope) - 1; i >= 0; i-- {
		if p.scope[i].from == x.Name {
			return &Param{Name: p.scope[i].to}
		}
	}
	return x
}

func (p *parameterizer) operator(op Operator) Operator {
	switch o := op.(type) {
	case *Where:
		return &Where{Predicate: p.lambda(o.Predicate), ForUpdate: o.ForUpdate}
	case *Select:
		return &Select{Selector: p.lambda(o.Selector), ForUpdate: o.ForUpdate}
	case *OrderBy:
		return &OrderBy{Key: p.lambda(o.Key), Descending: o.Descending}
	case *ThenBy:
		return &ThenBy{Key: p.lambda(o.Key), Descending: o.Descending}
	case *Join:
		return &Join{Inner: p.expr(o.Inner), OuterKey: p.lambda(o.OuterKey), InnerKey: p.lambda(o.InnerKey), Result: p.lambda(o.Result)}
	case *GroupJoin:
		return &GroupJoin{Inner: p.expr(o.Inner), OuterKey: p.lambda(o.OuterKey), InnerKey: p.lambda(o.InnerKey), Result: p.lambda(o.Result)}
	case *GroupBy:
		return &GroupBy{Key: p.lambda(o.Key), Element: p.lambda(o.Element), Result: p.lambda(o.Result)}
	case *SelectMany:
		return &SelectMany{Collection: p.lambda(o.Collection), Result: p.lambda(o.Result)}
	case *Aggregate:
		return &Aggregate{Kind: o.Kind, Selector: p.lambda(o.Selector)}
	case *First:
		return &First{Kind: o.Kind, Predicate: p.lambda(o.Predicate)}
	case *Contains:
		return &Contains{Item: p.expr(o.Item)}
	case *Any:
		return &Any{Predicate: p.lambda(o.Predicate)}
	case *Include:
		if p.rename {
			return &Include{Path: p.lambda(o.Path)}
		}
		return o
	case *DeleteWhere:
		return &DeleteWhere{Predicate: p.lambda(o.Predicate)}
	case *Update:
		return &Update{Set: p.lambda(o.Set)}
	case *Insert:
		return &Insert{Values: p.expr(o.Values).(*New)}
	}
	// Skip, Take, Distinct and DefaultIfEmpty carry no liftable constants.
	return op
}

func (p *parameterizer) exprs(in []Expr) []Expr {
	out := make([]Expr, len(in))
	for i, e := range in {
		out[i] = p.expr(e)
	}
	return out
}

func (p *parameterizer) expr(e Expr) Expr {
	switch x := e.(type) {
	case *Param:
		if p.rename {
			return p.param(x)
		}
		return x
	case *Const:
		if x.Value == nil {
			return x
		}
		return p.lift(x.Value)
	case *Member:
		return &Member{Target: p.expr(x.Target), Name: x.Name}
	case *Binary:
		// CompareTo(...) op 0 is matched structurally by the binder.
		if x.Op.IsComparison() {
			if call, ok := x.Left.(*Call); ok && call.Method == "CompareTo" && isZero(x.Right) {
				return &Binary{Op: x.Op, Left: p.expr(x.Left), Right: x.Right}
			}
		}
		return &Binary{Op: x.Op, Left: p.expr(x.Left), Right: p.expr(x.Right)}
	case *Unary:
		return &Unary{Op: x.Op, Operand: p.expr(x.Operand)}
	case *Call:
		return &Call{Target: p.expr(x.Target), Method: x.Method, Args: p.exprs(x.Args)}
	case *New:
		out := &New{Fields: make([]Field, len(x.Fields))}
		for i, f := range x.Fields {
			out.Fields[i] = Field{Name: f.Name, Value: p.expr(f.Value)}
		}
		return out
	case *Conditional:
		return &Conditional{Test: p.expr(x.Test), IfTrue: p.expr(x.IfTrue), IfFalse: p.expr(x.IfFalse)}
	case *Lambda:
		return p.lambda(x)
	case *Array:
		return &Array{Items: p.exprs(x.Items)}
	case *Chain:
		return p.chain(x)
	}
	// Param, Entity and existing placeholders are already shape-only.
	return e
}

func isZero(e Expr) bool {
	c, ok := e.(*Const)
	if !ok {
		return false
	}
	switch v := c.Value.(type) {
	case int64:
		return v == 0
	case int:
		return v == 0
	case float64:
		return v == 0
	}
	return false
}
