package binder

import (
	"fmt"

	"github.com/microtan/shaolinq/query/plan"
)

type nomination int

const (
	neutral nomination = iota
	candidate
	blocked
)

// columnProjector splits an expression into the columns a new Select must declare and the
// projector that reads them back. Sub-expressions computed entirely from columns of the
// existing aliases become columns; everything else stays in the projector.
type columnProjector struct {
	b          *Binder
	newAlias   string
	existing   map[string]bool
	candidates map[plan.Node]bool

	columns []plan.ColumnDeclaration
	byKey   map[string]string
	names   map[string]bool
	next    int
}

// projectColumns returns expr rewritten against newAlias and the columns it declares.
func (b *Binder) projectColumns(expr plan.Node, newAlias string, existing ...string) (plan.Node, []plan.ColumnDeclaration) {
	p := &columnProjector{
		b:          b,
		newAlias:   newAlias,
		existing:   map[string]bool{},
		candidates: map[plan.Node]bool{},
		byKey:      map[string]string{},
		names:      map[string]bool{},
	}
	for _, a := range existing {
		p.existing[a] = true
	}
	p.nominate(expr, false)
	out := p.rewrite(expr)
	if len(p.columns) == 0 {
		// a Select needs at least one column even when the projector is constant
		p.declare(&plan.Constant{Value: int64(1)})
	}
	return out, p.columns
}

// nominate marks candidate nodes. Inside a nested projection only bare columns qualify: the
// nested Select still runs per outer row and only needs the correlated values.
func (p *columnProjector) nominate(n plan.Node, inProjection bool) nomination {
	switch x := n.(type) {
	case *plan.Column:
		if p.existing[x.Alias] {
			p.candidates[n] = true
			return candidate
		}
		return blocked
	case *plan.Constant, *plan.ConstantPlaceholder:
		return neutral
	case *plan.Aggregate, *plan.AggregateSubquery, *plan.Subquery:
		if inProjection {
			p.visitChildren(n, true)
			return blocked
		}
		p.candidates[n] = true
		return candidate
	case *plan.FunctionCall, *plan.Binary, *plan.Unary, *plan.Conditional:
		if inProjection {
			p.visitChildren(n, true)
			return blocked
		}
		result := neutral
		plan.ForEachChild(n, func(c plan.Node) {
			switch p.nominate(c, false) {
			case blocked:
				result = blocked
			case candidate:
				if result != blocked {
					result = candidate
				}
			}
		})
		if result == candidate {
			p.candidates[n] = true
		}
		return result
	case *plan.Projection:
		p.visitChildren(n, true)
		return blocked
	}
	p.visitChildren(n, inProjection)
	return blocked
}

func (p *columnProjector) visitChildren(n plan.Node, inProjection bool) {
	plan.ForEachChild(n, func(c plan.Node) { p.nominate(c, inProjection) })
}

// rewrite replaces the outermost candidates top-down.
func (p *columnProjector) rewrite(n plan.Node) plan.Node {
	if p.candidates[n] {
		return p.declare(n)
	}
	out := plan.MapChildren(n, p.rewrite)
	if proj, ok := n.(*plan.Projection); ok && out != n {
		// a group element rebased onto the new alias is still the same group
		if info, grouped := p.b.groupByMap[proj]; grouped {
			p.b.groupByMap[out.(*plan.Projection)] = info
		}
	}
	return out
}

func (p *columnProjector) declare(n plan.Node) plan.Node {
	key := plan.Key(n)
	name, ok := p.byKey[key]
	if !ok {
		base := ""
		if c, isCol := n.(*plan.Column); isCol {
			base = c.Name
		}
		name = p.uniqueName(base)
		p.byKey[key] = name
		p.names[name] = true
		p.columns = append(p.columns, plan.ColumnDeclaration{Name: name, Expr: n})
	}
	col := &plan.Column{Alias: p.newAlias, Name: name}
	if k, known := p.b.kinds[n]; known {
		p.b.kinds[col] = k
	}
	return col
}

func (p *columnProjector) uniqueName(base string) string {
	if base != "" && !p.names[base] {
		return base
	}
	if base == "" {
		for {
			name := fmt.Sprintf("COL%d", p.next)
			p.next++
			if !p.names[name] {
				return name
			}
		}
	}
	for i := 1; ; i++ {
		name := fmt.Sprintf("%s%d", base, i)
		if !p.names[name] {
			return name
		}
	}
}
