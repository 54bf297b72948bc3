// Package binder translates an operator chain into a relational plan tree.
//
// Every sequence operator produces a *plan.Projection whose Select wraps the Select of its
// source; the optimizer later flattens the redundant layers. Binding is deterministic: aliases
// are numbered T0, T1, ... in the order they are allocated.
package binder

import (
	"errors"
	"fmt"

	"github.com/microtan/shaolinq/query/ast"
	"github.com/microtan/shaolinq/query/model"
	"github.com/microtan/shaolinq/query/plan"
)

var (
	// ErrUnsupportedOperator is returned for operators that have no relational translation
	ErrUnsupportedOperator = errors.New("unsupported operator")
	// ErrUnsupportedMethod is returned for scalar methods without a logical function
	ErrUnsupportedMethod = errors.New("unsupported method")
	// ErrMissingPrimaryKey is returned when entity comparison finds no key bindings
	ErrMissingPrimaryKey = errors.New("missing primary key mapping")
	// ErrMissingCorrelation is returned when a join or group cannot be correlated
	ErrMissingCorrelation = errors.New("missing correlation")
	// ErrUnknownMember is returned when a member access cannot be resolved
	ErrUnknownMember = errors.New("unknown member")
)

// BindingError reports an unsupported or invalid construct in the chain.
type BindingError struct {
	Op     string
	Reason string
	Err    error
}

func (e *BindingError) Error() string {
	if e.Op == "" {
		return "binding: " + e.Reason
	}
	return fmt.Sprintf("binding %s: %s", e.Op, e.Reason)
}

func (e *BindingError) Unwrap() error { return e.Err }

// GroupInfo links a group's element subquery to the Select that performs the grouping.
type GroupInfo struct {
	// Alias is the alias of the grouping Select.
	Alias string
	// Element is the element expression over the grouped source.
	Element plan.Node
}

// Result is the outcome of binding a chain.
type Result struct {
	// Plan is a *plan.Projection, *plan.Delete, *plan.Update or *plan.Insert.
	Plan   plan.Node
	Groups []*GroupInfo
}

// Projection returns the plan as a projection, or nil for data modification plans.
func (r *Result) Projection() *plan.Projection {
	p, _ := r.Plan.(*plan.Projection)
	return p
}

// Option configures a bind call.
type Option func(*Binder)

// WithExtraFilter adds a predicate applied to every query of the named entity type, in
// addition to the type's DefaultFilter.
func WithExtraFilter(entity string, predicate *ast.Lambda) Option {
	return func(b *Binder) {
		b.filters[entity] = append(b.filters[entity], predicate)
	}
}

// Binder holds the state of one bind call. It is not safe for concurrent use; Bind creates a
// fresh one per call.
type Binder struct {
	model   *model.Model
	filters map[string][]*ast.Lambda

	aliasCount int
	scopes     []map[string]plan.Node
	thenBys    []ordering

	groupByMap          map[*plan.Projection]*GroupInfo
	currentGroupElement *plan.Projection

	// includes maps a chain's source entity to the related paths it loads eagerly.
	includes map[*ast.Entity][][]string
	// kinds records the property kind of bound member expressions.
	kinds map[plan.Node]model.Kind
}

type ordering struct {
	key        *ast.Lambda
	descending bool
}

// Bind translates chain against m.
func Bind(m *model.Model, chain *ast.Chain, opts ...Option) (res *Result, err error) {
	b := &Binder{
		model:      m,
		filters:    map[string][]*ast.Lambda{},
		groupByMap: map[*plan.Projection]*GroupInfo{},
		includes:   map[*ast.Entity][][]string{},
		kinds:      map[plan.Node]model.Kind{},
	}
	for _, t := range m.Types() {
		if t.DefaultFilter == "" {
			continue
		}
		l, err := ast.ParseLambda(t.DefaultFilter)
		if err != nil {
			return nil, fmt.Errorf("default filter of %s: %w", t.Name, err)
		}
		b.filters[t.Name] = append(b.filters[t.Name], l)
	}
	for _, opt := range opts {
		opt(b)
	}

	defer func() {
		if r := recover(); r != nil {
			be, ok := r.(*BindingError)
			if !ok {
				panic(r)
			}
			res, err = nil, be
		}
	}()

	node := b.bindRoot(chain)
	if p, ok := node.(*plan.Projection); ok {
		b.checkProjector(p.Projector)
	}
	res = &Result{Plan: node}
	for _, info := range b.groupByMap {
		res.Groups = appendGroup(res.Groups, info)
	}
	return res, nil
}

func appendGroup(groups []*GroupInfo, info *GroupInfo) []*GroupInfo {
	for _, g := range groups {
		if g == info {
			return groups
		}
	}
	// keep alias order stable regardless of map iteration
	i := len(groups)
	for i > 0 && groups[i-1].Alias > info.Alias {
		i--
	}
	groups = append(groups, nil)
	copy(groups[i+1:], groups[i:])
	groups[i] = info
	return groups
}

// fail aborts the bind call; Bind converts the panic back into an error.
func (b *Binder) fail(op, reason string, sentinel error) {
	panic(&BindingError{Op: op, Reason: reason, Err: sentinel})
}

func (b *Binder) failf(op string, sentinel error, format string, args ...any) {
	b.fail(op, fmt.Sprintf(format, args...), sentinel)
}

func (b *Binder) newAlias() string {
	a := fmt.Sprintf("T%d", b.aliasCount)
	b.aliasCount++
	return a
}

func (b *Binder) entityType(name string) *model.TypeDescriptor {
	t, err := b.model.Type(name)
	if err != nil {
		b.fail(name, err.Error(), err)
	}
	return t
}

// checkProjector rejects nested collections in the final result shape.
func (b *Binder) checkProjector(n plan.Node) {
	plan.Inspect(n, func(x plan.Node) bool {
		switch x.(type) {
		case *plan.Projection, *plan.Grouping:
			b.fail("Select", "nested collections cannot be materialized", ErrUnsupportedOperator)
		case *plan.Subquery, *plan.AggregateSubquery:
			return false
		}
		return true
	})
}

func (b *Binder) bindRoot(c *ast.Chain) plan.Node {
	b.collectIncludes(c)
	n := len(c.Ops)
	if n > 0 {
		switch op := c.Ops[n-1].(type) {
		case *ast.DeleteWhere:
			return b.bindDelete(c, op)
		case *ast.Update:
			return b.bindUpdate(c, op)
		case *ast.Insert:
			return b.bindInsert(c, op)
		}
	}
	node := b.bindOps(c, n, true)
	p, ok := node.(*plan.Projection)
	if !ok {
		b.fail("", "chain does not produce a sequence", ErrUnsupportedOperator)
	}
	return p
}

// bindOps binds the source of c followed by its first n operators. isRoot is true when the
// n-th operator is the last one of the outermost chain.
func (b *Binder) bindOps(c *ast.Chain, n int, isRoot bool) plan.Node {
	if n == 0 {
		return b.bindSource(c.Source)
	}
	i := n - 1
	switch op := c.Ops[i].(type) {
	case *ast.Where:
		return b.bindWhere(b.sequence(c, i), op.Predicate, op.ForUpdate)
	case *ast.Select:
		return b.bindSelect(b.sequence(c, i), op)
	case *ast.OrderBy:
		return b.bindOrderBy(c, i, op)
	case *ast.ThenBy:
		j := i - 1
		for j >= 0 && c.Ops[j].Type() == ast.OperatorThenBy {
			j--
		}
		if j < 0 || c.Ops[j].Type() != ast.OperatorOrderBy {
			b.fail("ThenBy", "must follow OrderBy", ErrUnsupportedOperator)
		}
		b.thenBys = append(b.thenBys, ordering{key: op.Key, descending: op.Descending})
		return b.bindOps(c, i, false)
	case *ast.Skip:
		return b.bindLimit(b.sequence(c, i), op.Count, nil)
	case *ast.Take:
		return b.bindLimit(b.sequence(c, i), nil, op.Count)
	case *ast.Distinct:
		return b.bindDistinct(b.sequence(c, i))
	case *ast.DefaultIfEmpty:
		src := b.sequence(c, i)
		out := *src
		out.DefaultIfEmpty = true
		return &out
	case *ast.Include:
		return b.sequence(c, i)
	case *ast.GroupBy:
		return b.bindGroupBy(c, i, op)
	case *ast.Join:
		return b.bindJoin(b.sequence(c, i), op)
	case *ast.GroupJoin:
		return b.bindGroupJoin(b.sequence(c, i), op)
	case *ast.SelectMany:
		return b.bindSelectMany(b.sequence(c, i), op)
	case *ast.Aggregate:
		return b.bindAggregate(c, i, op, isRoot)
	case *ast.First:
		return b.bindFirst(b.sequence(c, i), op, isRoot)
	case *ast.Contains:
		return b.bindContains(b.sequence(c, i), op, isRoot)
	case *ast.Any:
		return b.bindAny(b.sequence(c, i), op, isRoot)
	}
	b.failf(c.Ops[i].String(), ErrUnsupportedOperator, "operator %s is not supported here", c.Ops[i].Type())
	return nil
}

// sequence binds the first n operators of c and requires the result to be a sequence.
func (b *Binder) sequence(c *ast.Chain, n int) *plan.Projection {
	return b.asSequence(b.bindOps(c, n, false), c.String())
}

func (b *Binder) asSequence(n plan.Node, what string) *plan.Projection {
	switch x := n.(type) {
	case *plan.Projection:
		return x
	case *plan.Grouping:
		return x.Group
	}
	b.failf(what, ErrUnsupportedOperator, "expression is not a sequence")
	return nil
}

func (b *Binder) bindSource(e ast.Expr) plan.Node {
	if ent, ok := e.(*ast.Entity); ok {
		return b.tableProjection(ent)
	}
	return b.expr(e)
}

// bindLambda binds l's body with its parameters bound to args.
func (b *Binder) bindLambda(l *ast.Lambda, args ...plan.Node) plan.Node {
	if len(l.Params) != len(args) {
		b.failf(l.String(), ErrUnsupportedOperator, "expected %d parameters, got %d", len(args), len(l.Params))
	}
	scope := make(map[string]plan.Node, len(args))
	for i, p := range l.Params {
		scope[p] = args[i]
	}
	b.scopes = append(b.scopes, scope)
	defer func() { b.scopes = b.scopes[:len(b.scopes)-1] }()
	return b.expr(l.Body)
}

func (b *Binder) lookup(name string) plan.Node {
	for i := len(b.scopes) - 1; i >= 0; i-- {
		if n, ok := b.scopes[i][name]; ok {
			return n
		}
	}
	b.failf(name, ErrUnknownMember, "parameter %s is not in scope", name)
	return nil
}
