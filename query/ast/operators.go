package ast

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownOperator is returned when a chain names an operator outside the supported set.
var ErrUnknownOperator = errors.New("unsupported operator")

// OperatorType identifies an operator variant.
type OperatorType string

const (
	OperatorWhere          OperatorType = "Where"
	OperatorSelect         OperatorType = "Select"
	OperatorOrderBy        OperatorType = "OrderBy"
	OperatorThenBy         OperatorType = "ThenBy"
	OperatorJoin           OperatorType = "Join"
	OperatorGroupJoin      OperatorType = "GroupJoin"
	OperatorGroupBy        OperatorType = "GroupBy"
	OperatorSelectMany     OperatorType = "SelectMany"
	OperatorSkip           OperatorType = "Skip"
	OperatorTake           OperatorType = "Take"
	OperatorDistinct       OperatorType = "Distinct"
	OperatorDefaultIfEmpty OperatorType = "DefaultIfEmpty"
	OperatorAggregate      OperatorType = "Aggregate"
	OperatorFirst          OperatorType = "First"
	OperatorContains       OperatorType = "Contains"
	OperatorAny            OperatorType = "Any"
	OperatorInclude        OperatorType = "Include"
	OperatorDeleteWhere    OperatorType = "DeleteWhere"
	OperatorUpdate         OperatorType = "Update"
	OperatorInsert         OperatorType = "Insert"
)

// Operator is one step of a chain.
type Operator interface {
	Type() OperatorType
	String() string
}

// AggregateKind selects the aggregate function.
type AggregateKind string

const (
	AggregateCount   AggregateKind = "Count"
	AggregateMin     AggregateKind = "Min"
	AggregateMax     AggregateKind = "Max"
	AggregateSum     AggregateKind = "Sum"
	AggregateAverage AggregateKind = "Average"
)

// FirstKind selects the single-element operator variant.
type FirstKind string

const (
	FirstKindFirst           FirstKind = "First"
	FirstKindFirstOrDefault  FirstKind = "FirstOrDefault"
	FirstKindSingle          FirstKind = "Single"
	FirstKindSingleOrDefault FirstKind = "SingleOrDefault"
)

// Where filters the sequence.
type Where struct {
	Predicate *Lambda
	ForUpdate bool
}

// Select projects each element.
type Select struct {
	Selector  *Lambda
	ForUpdate bool
}

// OrderBy starts an ordering.
type OrderBy struct {
	Key        *Lambda
	Descending bool
}

// ThenBy adds a subordinate ordering.
type ThenBy struct {
	Key        *Lambda
	Descending bool
}

// Join correlates two sequences by key equality.
type Join struct {
	Inner    Expr
	OuterKey *Lambda
	InnerKey *Lambda
	Result   *Lambda
}

// GroupJoin correlates each outer element with the group of matching inner elements.
type GroupJoin struct {
	Inner    Expr
	OuterKey *Lambda
	InnerKey *Lambda
	Result   *Lambda
}

// GroupBy groups elements by key. Element and Result are optional.
type GroupBy struct {
	Key     *Lambda
	Element *Lambda
	Result  *Lambda
}

// SelectMany flattens a per-element collection. Result is optional.
type SelectMany struct {
	Collection *Lambda
	Result     *Lambda
}

// Skip bypasses Count elements.
type Skip struct {
	Count Expr
}

// Take limits the sequence to Count elements.
type Take struct {
	Count Expr
}

// Distinct removes duplicates.
type Distinct struct{}

// DefaultIfEmpty marks the sequence as yielding a default element when empty (outer joins).
type DefaultIfEmpty struct{}

// Aggregate reduces the sequence. Selector is the aggregated value, or for Count an optional predicate.
type Aggregate struct {
	Kind     AggregateKind
	Selector *Lambda
}

// First takes a single element. Predicate is optional.
type First struct {
	Kind      FirstKind
	Predicate *Lambda
}

// Contains tests membership of Item.
type Contains struct {
	Item Expr
}

// Any tests for at least one (matching) element.
type Any struct {
	Predicate *Lambda
}

// Include eagerly loads a related entity.
type Include struct {
	Path *Lambda
}

// DeleteWhere deletes matching rows.
type DeleteWhere struct {
	Predicate *Lambda
}

// Update assigns new values to the rows of the sequence. Set returns a record of property values.
type Update struct {
	Set *Lambda
}

// Insert adds one row to the source entity.
type Insert struct {
	Values *New
}

func (*Where) Type() OperatorType          { return OperatorWhere }
func (*Select) Type() OperatorType         { return OperatorSelect }
func (*OrderBy) Type() OperatorType        { return OperatorOrderBy }
func (*ThenBy) Type() OperatorType         { return OperatorThenBy }
func (*Join) Type() OperatorType           { return OperatorJoin }
func (*GroupJoin) Type() OperatorType      { return OperatorGroupJoin }
func (*GroupBy) Type() OperatorType        { return OperatorGroupBy }
func (*SelectMany) Type() OperatorType     { return OperatorSelectMany }
func (*Skip) Type() OperatorType           { return OperatorSkip }
func (*Take) Type() OperatorType           { return OperatorTake }
func (*Distinct) Type() OperatorType       { return OperatorDistinct }
func (*DefaultIfEmpty) Type() OperatorType { return OperatorDefaultIfEmpty }
func (*Aggregate) Type() OperatorType      { return OperatorAggregate }
func (*First) Type() OperatorType          { return OperatorFirst }
func (*Contains) Type() OperatorType       { return OperatorContains }
func (*Any) Type() OperatorType            { return OperatorAny }
func (*Include) Type() OperatorType        { return OperatorInclude }
func (*DeleteWhere) Type() OperatorType    { return OperatorDeleteWhere }
func (*Update) Type() OperatorType         { return OperatorUpdate }
func (*Insert) Type() OperatorType         { return OperatorInsert }

func (o *Where) String() string {
	if o.ForUpdate {
		return call("WhereForUpdate", o.Predicate)
	}
	return call("Where", o.Predicate)
}

func (o *Select) String() string {
	if o.ForUpdate {
		return call("SelectForUpdate", o.Selector)
	}
	return call("Select", o.Selector)
}

func (o *OrderBy) String() string {
	if o.Descending {
		return call("OrderByDescending", o.Key)
	}
	return call("OrderBy", o.Key)
}

func (o *ThenBy) String() string {
	if o.Descending {
		return call("ThenByDescending", o.Key)
	}
	return call("ThenBy", o.Key)
}

func (o *Join) String() string {
	return call("Join", o.Inner, o.OuterKey, o.InnerKey, o.Result)
}

func (o *GroupJoin) String() string {
	return call("GroupJoin", o.Inner, o.OuterKey, o.InnerKey, o.Result)
}

func (o *GroupBy) String() string {
	args := []Expr{o.Key}
	if o.Element != nil {
		args = append(args, o.Element)
	}
	if o.Result != nil {
		args = append(args, o.Result)
	}
	return call("GroupBy", args...)
}

func (o *SelectMany) String() string {
	if o.Result != nil {
		return call("SelectMany", o.Collection, o.Result)
	}
	return call("SelectMany", o.Collection)
}

func (o *Skip) String() string           { return call("Skip", o.Count) }
func (o *Take) String() string           { return call("Take", o.Count) }
func (o *Distinct) String() string       { return "Distinct()" }
func (o *DefaultIfEmpty) String() string { return "DefaultIfEmpty()" }

func (o *Aggregate) String() string {
	if o.Selector != nil {
		return call(string(o.Kind), o.Selector)
	}
	return call(string(o.Kind))
}

func (o *First) String() string {
	if o.Predicate != nil {
		return call(string(o.Kind), o.Predicate)
	}
	return call(string(o.Kind))
}

func (o *Contains) String() string    { return call("Contains", o.Item) }
func (o *Include) String() string     { return call("Include", o.Path) }
func (o *DeleteWhere) String() string { return call("DeleteWhere", o.Predicate) }
func (o *Update) String() string      { return call("Update", o.Set) }
func (o *Insert) String() string      { return call("Insert", o.Values) }

func (o *Any) String() string {
	if o.Predicate != nil {
		return call("Any", o.Predicate)
	}
	return call("Any")
}

func call(name string, args ...Expr) string {
	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteByte('(')
	for i, a := range args {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(a.String())
	}
	sb.WriteByte(')')
	return sb.String()
}

// IsOperatorName reports whether name is a chain operator method.
func IsOperatorName(name string) bool {
	_, ok := operatorArity[name]
	return ok
}

// operatorArity lists each method name with its accepted argument counts.
var operatorArity = map[string][]int{
	"Where":             {1},
	"WhereForUpdate":    {1},
	"Select":            {1},
	"SelectForUpdate":   {1},
	"OrderBy":           {1},
	"OrderByDescending": {1},
	"ThenBy":            {1},
	"ThenByDescending":  {1},
	"Join":              {4},
	"GroupJoin":         {4},
	"GroupBy":           {1, 2, 3},
	"SelectMany":        {1, 2},
	"Skip":              {1},
	"Take":              {1},
	"Distinct":          {0},
	"DefaultIfEmpty":    {0},
	"Count":             {0, 1},
	"Min":               {0, 1},
	"Max":               {0, 1},
	"Sum":               {0, 1},
	"Average":           {0, 1},
	"First":             {0, 1},
	"FirstOrDefault":    {0, 1},
	"Single":            {0, 1},
	"SingleOrDefault":   {0, 1},
	"Contains":          {1},
	"Any":               {0, 1},
	"Include":           {1},
	"DeleteWhere":       {1},
	"Update":            {1},
	"Insert":            {1},
}

// NewOperator builds the operator named by a method call, validating its arguments.
func NewOperator(name string, args []Expr) (Operator, error) {
	arities, ok := operatorArity[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownOperator, name)
	}
	valid := false
	for _, n := range arities {
		if n == len(args) {
			valid = true
			break
		}
	}
	if !valid {
		return nil, fmt.Errorf("%s: unexpected argument count %d", name, len(args))
	}

	lambdas := make([]*Lambda, len(args))
	lambda := func(i, params int) (*Lambda, error) {
		l, ok := args[i].(*Lambda)
		if !ok {
			return nil, fmt.Errorf("%s: argument %d must be a lambda", name, i+1)
		}
		if len(l.Params) != params {
			return nil, fmt.Errorf("%s: argument %d must take %d parameter(s)", name, i+1, params)
		}
		lambdas[i] = l
		return l, nil
	}
	optional := func(params int) (*Lambda, error) {
		if len(args) == 0 {
			return nil, nil
		}
		return lambda(0, params)
	}

	switch name {
	case "Where", "WhereForUpdate":
		l, err := lambda(0, 1)
		if err != nil {
			return nil, err
		}
		return &Where{Predicate: l, ForUpdate: name == "WhereForUpdate"}, nil
	case "Select", "SelectForUpdate":
		l, err := lambda(0, 1)
		if err != nil {
			return nil, err
		}
		return &Select{Selector: l, ForUpdate: name == "SelectForUpdate"}, nil
	case "OrderBy", "OrderByDescending":
		l, err := lambda(0, 1)
		if err != nil {
			return nil, err
		}
		return &OrderBy{Key: l, Descending: name == "OrderByDescending"}, nil
	case "ThenBy", "ThenByDescending":
		l, err := lambda(0, 1)
		if err != nil {
			return nil, err
		}
		return &ThenBy{Key: l, Descending: name == "ThenByDescending"}, nil
	case "Join", "GroupJoin":
		for i, params := range []int{1, 1, 2} {
			if _, err := lambda(i+1, params); err != nil {
				return nil, err
			}
		}
		if name == "Join" {
			return &Join{Inner: args[0], OuterKey: lambdas[1], InnerKey: lambdas[2], Result: lambdas[3]}, nil
		}
		return &GroupJoin{Inner: args[0], OuterKey: lambdas[1], InnerKey: lambdas[2], Result: lambdas[3]}, nil
	case "GroupBy":
		op := &GroupBy{}
		var err error
		if op.Key, err = lambda(0, 1); err != nil {
			return nil, err
		}
		switch len(args) {
		case 2:
			// A two-argument lambda in second position is a result selector.
			if l, ok := args[1].(*Lambda); ok && len(l.Params) == 2 {
				op.Result = l
			} else if op.Element, err = lambda(1, 1); err != nil {
				return nil, err
			}
		case 3:
			if op.Element, err = lambda(1, 1); err != nil {
				return nil, err
			}
			if op.Result, err = lambda(2, 2); err != nil {
				return nil, err
			}
		}
		return op, nil
	case "SelectMany":
		op := &SelectMany{}
		var err error
		if op.Collection, err = lambda(0, 1); err != nil {
			return nil, err
		}
		if len(args) == 2 {
			if op.Result, err = lambda(1, 2); err != nil {
				return nil, err
			}
		}
		return op, nil
	case "Skip":
		return &Skip{Count: args[0]}, nil
	case "Take":
		return &Take{Count: args[0]}, nil
	case "Distinct":
		return &Distinct{}, nil
	case "DefaultIfEmpty":
		return &DefaultIfEmpty{}, nil
	case "Count", "Min", "Max", "Sum", "Average":
		l, err := optional(1)
		if err != nil {
			return nil, err
		}
		return &Aggregate{Kind: AggregateKind(name), Selector: l}, nil
	case "First", "FirstOrDefault", "Single", "SingleOrDefault":
		l, err := optional(1)
		if err != nil {
			return nil, err
		}
		return &First{Kind: FirstKind(name), Predicate: l}, nil
	case "Contains":
		return &Contains{Item: args[0]}, nil
	case "Any":
		l, err := optional(1)
		if err != nil {
			return nil, err
		}
		return &Any{Predicate: l}, nil
	case "Include":
		l, err := lambda(0, 1)
		if err != nil {
			return nil, err
		}
		return &Include{Path: l}, nil
	case "DeleteWhere":
		l, err := lambda(0, 1)
		if err != nil {
			return nil, err
		}
		return &DeleteWhere{Predicate: l}, nil
	case "Update":
		l, err := lambda(0, 1)
		if err != nil {
			return nil, err
		}
		if _, ok := l.Body.(*New); !ok {
			return nil, fmt.Errorf("Update: selector must return a record")
		}
		return &Update{Set: l}, nil
	case "Insert":
		rec, ok := args[0].(*New)
		if !ok {
			return nil, fmt.Errorf("Insert: argument must be a record")
		}
		return &Insert{Values: rec}, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownOperator, name)
}
