// Package plan defines the relational plan tree the binder produces and the optimizer and
// formatter consume. Nodes are immutable once built: passes construct new parents instead of
// mutating existing ones, so subtrees may be shared freely.
package plan

import "github.com/microtan/shaolinq/query/model"

// Kind identifies a node variant.
type Kind string

const (
	KindTable               Kind = "Table"
	KindSelect              Kind = "Select"
	KindJoin                Kind = "Join"
	KindProjection          Kind = "Projection"
	KindAggregate           Kind = "Aggregate"
	KindAggregateSubquery   Kind = "AggregateSubquery"
	KindSubquery            Kind = "Subquery"
	KindColumn              Kind = "Column"
	KindObjectReference     Kind = "ObjectReference"
	KindNew                 Kind = "New"
	KindGrouping            Kind = "Grouping"
	KindFunctionCall        Kind = "FunctionCall"
	KindConstant            Kind = "Constant"
	KindConstantPlaceholder Kind = "ConstantPlaceholder"
	KindTuple               Kind = "Tuple"
	KindOrderBy             Kind = "OrderBy"
	KindBinary              Kind = "Binary"
	KindUnary               Kind = "Unary"
	KindConditional         Kind = "Conditional"
	KindDelete              Kind = "Delete"
	KindUpdate              Kind = "Update"
	KindInsert              Kind = "Insert"
)

// Node is a plan tree node. The set of implementations is closed.
type Node interface {
	Kind() Kind
	isNode()
}

// Table is a base table source.
type Table struct {
	Name  string
	Alias string
}

// ColumnDeclaration is one output column of a Select.
type ColumnDeclaration struct {
	Name string
	Expr Node
}

// Select is a query block.
type Select struct {
	Alias     string
	Columns   []ColumnDeclaration
	From      Node
	Where     Node
	OrderBy   []*OrderBy
	GroupBy   []Node
	Distinct  bool
	Skip      Node
	Take      Node
	ForUpdate bool
}

// JoinType is the join flavour.
type JoinType string

const (
	JoinInner     JoinType = "INNER"
	JoinLeft      JoinType = "LEFT"
	JoinRight     JoinType = "RIGHT"
	JoinFullOuter JoinType = "FULL OUTER"
	JoinCross     JoinType = "CROSS"
	// JoinCrossApply and JoinOuterApply have a right side correlated to the left.
	JoinCrossApply JoinType = "CROSS APPLY"
	JoinOuterApply JoinType = "OUTER APPLY"
)

// Join combines two sources.
type Join struct {
	Type      JoinType
	Left      Node
	Right     Node
	Condition Node
}

// Aggregator reduces the rows of a projection.
type Aggregator string

const (
	AggregatorNone            Aggregator = ""
	AggregatorScalar          Aggregator = "Scalar"
	AggregatorFirst           Aggregator = "First"
	AggregatorFirstOrDefault  Aggregator = "FirstOrDefault"
	AggregatorSingle          Aggregator = "Single"
	AggregatorSingleOrDefault Aggregator = "SingleOrDefault"
)

// Projection pairs a Select with the projector that rebuilds results from its columns.
// DefaultIfEmpty marks the outer side of an outer join; Default is the scalar result of an
// aggregator over an empty set (0 for SUM and COUNT).
type Projection struct {
	Select         *Select
	Projector      Node
	Aggregator     Aggregator
	DefaultIfEmpty bool
	Default        Node
}

// AggregateType is the aggregate function.
type AggregateType string

const (
	AggregateCount   AggregateType = "COUNT"
	AggregateMin     AggregateType = "MIN"
	AggregateMax     AggregateType = "MAX"
	AggregateSum     AggregateType = "SUM"
	AggregateAverage AggregateType = "AVG"
)

// Aggregate is an aggregate function call. A nil Argument means COUNT(*).
type Aggregate struct {
	Type     AggregateType
	Argument Node
	Distinct bool
}

// AggregateSubquery is an aggregate over a group's element subquery. InGroup is the same
// aggregate expressed over the grouped source, usable as a column of the Select named by
// GroupByAlias.
type AggregateSubquery struct {
	GroupByAlias string
	InGroup      Node
	Subquery     *Subquery
}

// Subquery is a scalar-valued nested Select.
type Subquery struct {
	Select *Select
}

// Column references a column of an aliased source. An empty Alias is an unqualified column.
type Column struct {
	Alias string
	Name  string
}

// Binding assigns an expression to an entity property.
type Binding struct {
	Property *model.PropertyDescriptor
	Expr     Node
}

// ObjectReference materializes an entity. A reference holding only key bindings stands for a
// related entity that was not loaded.
type ObjectReference struct {
	Type     *model.TypeDescriptor
	Bindings []Binding
}

// Field is a named member of a New record.
type Field struct {
	Name string
	Expr Node
}

// New materializes an anonymous record.
type New struct {
	Fields []Field
}

// Grouping is the result of a GroupBy without a result selector.
type Grouping struct {
	Key   Node
	Group *Projection
}

// FunctionCall applies a logical function.
type FunctionCall struct {
	Function Function
	Args     []Node
}

// Constant is a literal that is part of the query shape.
type Constant struct {
	Value any
}

// ConstantPlaceholder refers to an externally supplied value.
type ConstantPlaceholder struct {
	Index int
	// Type names the Go type of the supplied value.
	Type string
	// Len is the element count of an array value, or -1.
	Len int
}

// Tuple is a row value.
type Tuple struct {
	Items []Node
}

// Direction is a sort direction.
type Direction string

const (
	Ascending  Direction = "ASC"
	Descending Direction = "DESC"
)

// OrderBy is one sort key.
type OrderBy struct {
	Direction Direction
	Expr      Node
}

// BinaryOp is a scalar infix operator.
type BinaryOp string

const (
	OpEqual        BinaryOp = "="
	OpNotEqual     BinaryOp = "<>"
	OpLess         BinaryOp = "<"
	OpLessEqual    BinaryOp = "<="
	OpGreater      BinaryOp = ">"
	OpGreaterEqual BinaryOp = ">="
	OpAnd          BinaryOp = "AND"
	OpOr           BinaryOp = "OR"
	OpAdd          BinaryOp = "+"
	OpSubtract     BinaryOp = "-"
	OpMultiply     BinaryOp = "*"
	OpDivide       BinaryOp = "/"
	OpModulo       BinaryOp = "%"
)

// Binary is a scalar infix expression.
type Binary struct {
	Op    BinaryOp
	Left  Node
	Right Node
}

// UnaryOp is a scalar prefix operator.
type UnaryOp string

const (
	OpNot    UnaryOp = "NOT"
	OpNegate UnaryOp = "-"
)

// Unary is a scalar prefix expression.
type Unary struct {
	Op      UnaryOp
	Operand Node
}

// Conditional is a CASE WHEN expression.
type Conditional struct {
	Test    Node
	IfTrue  Node
	IfFalse Node
}

// Assignment sets one column in an UPDATE or INSERT.
type Assignment struct {
	Column string
	Value  Node
}

// Delete removes the rows of Table matching Where.
type Delete struct {
	Table string
	Alias string
	Where Node
}

// Update assigns columns of the rows of Table matching Where.
type Update struct {
	Table       string
	Alias       string
	Assignments []Assignment
	Where       Node
}

// Insert adds one row. Returning lists columns to read back where the dialect allows it.
type Insert struct {
	Table       string
	Assignments []Assignment
	Returning   []string
}

func (*Table) Kind() Kind               { return KindTable }
func (*Select) Kind() Kind              { return KindSelect }
func (*Join) Kind() Kind                { return KindJoin }
func (*Projection) Kind() Kind          { return KindProjection }
func (*Aggregate) Kind() Kind           { return KindAggregate }
func (*AggregateSubquery) Kind() Kind   { return KindAggregateSubquery }
func (*Subquery) Kind() Kind            { return KindSubquery }
func (*Column) Kind() Kind              { return KindColumn }
func (*ObjectReference) Kind() Kind     { return KindObjectReference }
func (*New) Kind() Kind                 { return KindNew }
func (*Grouping) Kind() Kind            { return KindGrouping }
func (*FunctionCall) Kind() Kind        { return KindFunctionCall }
func (*Constant) Kind() Kind            { return KindConstant }
func (*ConstantPlaceholder) Kind() Kind { return KindConstantPlaceholder }
func (*Tuple) Kind() Kind               { return KindTuple }
func (*OrderBy) Kind() Kind             { return KindOrderBy }
func (*Binary) Kind() Kind              { return KindBinary }
func (*Unary) Kind() Kind               { return KindUnary }
func (*Conditional) Kind() Kind         { return KindConditional }
func (*Delete) Kind() Kind              { return KindDelete }
func (*Update) Kind() Kind              { return KindUpdate }
func (*Insert) Kind() Kind              { return KindInsert }

func (*Table) isNode()               {}
func (*Select) isNode()              {}
func (*Join) isNode()                {}
func (*Projection) isNode()          {}
func (*Aggregate) isNode()           {}
func (*AggregateSubquery) isNode()   {}
func (*Subquery) isNode()            {}
func (*Column) isNode()              {}
func (*ObjectReference) isNode()     {}
func (*New) isNode()                 {}
func (*Grouping) isNode()            {}
func (*FunctionCall) isNode()        {}
func (*Constant) isNode()            {}
func (*ConstantPlaceholder) isNode() {}
func (*Tuple) isNode()               {}
func (*OrderBy) isNode()             {}
func (*Binary) isNode()              {}
func (*Unary) isNode()               {}
func (*Conditional) isNode()         {}
func (*Delete) isNode()              {}
func (*Update) isNode()              {}
func (*Insert) isNode()              {}

// Column returns the declaration named name, if any.
func (s *Select) Column(name string) (ColumnDeclaration, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDeclaration{}, false
}

// Clone returns a shallow copy whose slices may be replaced without affecting s.
func (s *Select) Clone() *Select {
	c := *s
	c.Columns = append([]ColumnDeclaration(nil), s.Columns...)
	c.OrderBy = append([]*OrderBy(nil), s.OrderBy...)
	c.GroupBy = append([]Node(nil), s.GroupBy...)
	return &c
}

// Binding returns the binding of the named property.
func (o *ObjectReference) Binding(name string) (Binding, bool) {
	for _, b := range o.Bindings {
		if b.Property.Name == name {
			return b, true
		}
	}
	return Binding{}, false
}

// KeyBindings returns the primary key bindings in declaration order.
func (o *ObjectReference) KeyBindings() []Binding {
	var keys []Binding
	for _, b := range o.Bindings {
		if b.Property.PrimaryKey {
			keys = append(keys, b)
		}
	}
	return keys
}

// Field returns the named record field.
func (n *New) Field(name string) (Node, bool) {
	for _, f := range n.Fields {
		if f.Name == name {
			return f.Expr, true
		}
	}
	return nil, false
}

// And joins predicates with AND, skipping nils.
func And(preds ...Node) Node {
	var out Node
	for _, p := range preds {
		if p == nil {
			continue
		}
		if out == nil {
			out = p
			continue
		}
		out = &Binary{Op: OpAnd, Left: out, Right: p}
	}
	return out
}

// Conjuncts splits a predicate on AND.
func Conjuncts(pred Node) []Node {
	if pred == nil {
		return nil
	}
	if b, ok := pred.(*Binary); ok && b.Op == OpAnd {
		return append(Conjuncts(b.Left), Conjuncts(b.Right)...)
	}
	return []Node{pred}
}
