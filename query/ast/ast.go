// Package ast defines the query AST: an operator chain anchored at an entity source,
// plus the lambda expression language its operators carry.
package ast

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Expr is a node of the lambda expression language.
type Expr interface {
	String() string
	isExpr()
}

// BinaryOp is an infix operator.
type BinaryOp string

const (
	OpEqual        BinaryOp = "=="
	OpNotEqual     BinaryOp = "!="
	OpLess         BinaryOp = "<"
	OpLessEqual    BinaryOp = "<="
	OpGreater      BinaryOp = ">"
	OpGreaterEqual BinaryOp = ">="
	OpAnd          BinaryOp = "&&"
	OpOr           BinaryOp = "||"
	OpAdd          BinaryOp = "+"
	OpSubtract     BinaryOp = "-"
	OpMultiply     BinaryOp = "*"
	OpDivide       BinaryOp = "/"
	OpModulo       BinaryOp = "%"
	OpCoalesce     BinaryOp = "??"
)

// IsComparison reports whether op is a relational or equality operator.
func (op BinaryOp) IsComparison() bool {
	switch op {
	case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		return true
	}
	return false
}

// UnaryOp is a prefix operator.
type UnaryOp string

const (
	OpNot    UnaryOp = "!"
	OpNegate UnaryOp = "-"
)

// Param references a lambda parameter.
type Param struct {
	Name string
}

// Member accesses a named member of Target.
type Member struct {
	Target Expr
	Name   string
}

// Const is a literal value.
type Const struct {
	Value any
}

// Placeholder stands in for a literal that was lifted out of the chain by Parameterize.
type Placeholder struct {
	Index int
	// Kind is the Go type of the value, part of the shape.
	Kind string
	// Len is the element count of an array value, or -1 for a scalar.
	Len int
}

// Binary applies an infix operator.
type Binary struct {
	Op          BinaryOp
	Left, Right Expr
}

// Unary applies a prefix operator.
type Unary struct {
	Op      UnaryOp
	Operand Expr
}

// Call invokes a scalar method (string functions, CompareTo, collection Contains).
type Call struct {
	Target Expr
	Method string
	Args   []Expr
}

// Field is one named member of a New record.
type Field struct {
	Name  string
	Value Expr
}

// New builds an anonymous record.
type New struct {
	Fields []Field
}

// Conditional is a ternary expression.
type Conditional struct {
	Test, IfTrue, IfFalse Expr
}

// Lambda is a function literal.
type Lambda struct {
	Params []string
	Body   Expr
}

// Array is a literal list whose items are not all constants.
type Array struct {
	Items []Expr
}

// Entity is a table-backed sequence source.
type Entity struct {
	Name string
}

// Chain is a sequence source followed by operators. A chain is itself an expression,
// which is how nested queries and group sequences appear inside lambdas.
type Chain struct {
	Source Expr
	Ops    []Operator
}

func (*Param) isExpr()       {}
func (*Member) isExpr()      {}
func (*Const) isExpr()       {}
func (*Placeholder) isExpr() {}
func (*Binary) isExpr()      {}
func (*Unary) isExpr()       {}
func (*Call) isExpr()        {}
func (*New) isExpr()         {}
func (*Conditional) isExpr() {}
func (*Lambda) isExpr()      {}
func (*Array) isExpr()       {}
func (*Entity) isExpr()      {}
func (*Chain) isExpr()       {}

// From starts a chain over an entity source.
func From(entity string) *Chain {
	return &Chain{Source: &Entity{Name: entity}}
}

// Then returns a copy of c with op appended.
func (c *Chain) Then(op Operator) *Chain {
	ops := make([]Operator, len(c.Ops), len(c.Ops)+1)
	copy(ops, c.Ops)
	return &Chain{Source: c.Source, Ops: append(ops, op)}
}

// Root returns the entity the chain is anchored at, or nil for group or parameter sources.
func (c *Chain) Root() *Entity {
	switch src := c.Source.(type) {
	case *Entity:
		return src
	case *Chain:
		return src.Root()
	}
	return nil
}

// Last returns the final operator, or nil.
func (c *Chain) Last() Operator {
	if len(c.Ops) == 0 {
		return nil
	}
	return c.Ops[len(c.Ops)-1]
}

// Prefix returns the chain truncated to its first n operators.
func (c *Chain) Prefix(n int) *Chain {
	return &Chain{Source: c.Source, Ops: c.Ops[:n:n]}
}

func (e *Param) String() string  { return e.Name }
func (e *Member) String() string { return e.Target.String() + "." + e.Name }
func (e *Const) String() string  { return FormatLiteral(e.Value) }

func (e *Placeholder) String() string {
	if e.Len >= 0 {
		return fmt.Sprintf("$%d:%s[%d]", e.Index, e.Kind, e.Len)
	}
	return fmt.Sprintf("$%d:%s", e.Index, e.Kind)
}

func (e *Binary) String() string {
	return "(" + e.Left.String() + " " + string(e.Op) + " " + e.Right.String() + ")"
}

func (e *Unary) String() string { return string(e.Op) + e.Operand.String() }

func (e *Call) String() string {
	return e.Target.String() + "." + e.Method + "(" + joinExprs(e.Args) + ")"
}

func (e *New) String() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Name + ": " + f.Value.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (e *Conditional) String() string {
	return "(" + e.Test.String() + " ? " + e.IfTrue.String() + " : " + e.IfFalse.String() + ")"
}

func (e *Lambda) String() string {
	if len(e.Params) == 1 {
		return e.Params[0] + " => " + e.Body.String()
	}
	return "(" + strings.Join(e.Params, ", ") + ") => " + e.Body.String()
}

func (e *Array) String() string  { return "[" + joinExprs(e.Items) + "]" }
func (e *Entity) String() string { return e.Name }

func (c *Chain) String() string {
	var sb strings.Builder
	sb.WriteString(c.Source.String())
	for _, op := range c.Ops {
		sb.WriteByte('.')
		sb.WriteString(op.String())
	}
	return sb.String()
}

func joinExprs(exprs []Expr) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		if e == nil {
			parts[i] = "null"
			continue
		}
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}

// FormatLiteral renders a constant in chain syntax.
func FormatLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return "'" + strings.ReplaceAll(x, "'", `\'`) + "'"
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return "'" + x.Format(time.RFC3339Nano) + "'"
	case []any:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = FormatLiteral(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprint(x)
	}
}
