package ast

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// ErrUnknownMethod is returned for method calls that are neither operators nor scalar methods.
var ErrUnknownMethod = errors.New("unsupported method")

// ScalarMethods lists the methods callable on scalar values.
var ScalarMethods = map[string]bool{
	"Contains":   true,
	"StartsWith": true,
	"EndsWith":   true,
	"ToUpper":    true,
	"ToLower":    true,
	"Trim":       true,
	"TrimStart":  true,
	"TrimEnd":    true,
	"Substring":  true,
	"IsLike":     true,
	"CompareTo":  true,
}

// ChainLexer tokenizes chain text.
var ChainLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `[ \t\r\n]+`},
	{Name: "Arrow", Pattern: `=>`},
	{Name: "Operator", Pattern: `==|!=|<=|>=|&&|\|\||\?\?|[-+*/%<>!?:]`},
	{Name: "Punct", Pattern: `[(){}\[\],.]`},
	{Name: "Number", Pattern: `\d+(?:\.\d+)?`},
	{Name: "String", Pattern: `'(?:\\.|[^'\\])*'|"(?:\\.|[^"\\])*"`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
})

type rawExpr struct {
	Pos  lexer.Position
	Cond *rawConditional `@@`
}

type rawConditional struct {
	Test    *rawCoalesce `@@`
	IfTrue  *rawExpr     `( "?" @@`
	IfFalse *rawExpr     `  ":" @@ )?`
}

type rawCoalesce struct {
	Left  *rawBinary   `@@`
	Right *rawCoalesce `( "??" @@ )?`
}

// rawBinary parses a left-associative run of equal-precedence operators.
// Precedence is applied after parsing by climbing the flat operator list.
type rawBinary struct {
	First *rawUnary   `@@`
	Rest  []*rawInfix `@@*`
}

type rawInfix struct {
	Op    string    `@( "||" | "&&" | "==" | "!=" | "<=" | ">=" | "<" | ">" | "+" | "-" | "*" | "/" | "%" )`
	Right *rawUnary `@@`
}

type rawUnary struct {
	Op      string      `( @( "!" | "-" )`
	Operand *rawUnary   `  @@ )`
	Postfix *rawPostfix `| @@`
}

type rawPostfix struct {
	Primary  *rawPrimary  `@@`
	Suffixes []*rawSuffix `@@*`
}

type rawSuffix struct {
	Name string   `"." @Ident`
	Call *rawCall `@@?`
}

type rawCall struct {
	Open bool      `@"("`
	Args []*rawArg `( @@ ( "," @@ )* )? ")"`
}

type rawArg struct {
	Lambda *rawLambda `  @@`
	Expr   *rawExpr   `| @@`
}

type rawLambda struct {
	Params []string `( @Ident | "(" ( @Ident ( "," @Ident )* )? ")" ) "=>"`
	Body   *rawExpr `@@`
}

type rawPrimary struct {
	Number *string      `  @Number`
	String *string      `| @String`
	Bool   *string      `| @( "true" | "false" )`
	Null   bool         `| @"null"`
	Array  *rawArray    `| @@`
	Record *rawRecord   `| @@`
	Sub    *rawExpr     `| "(" @@ ")"`
	Ident  *string      `| @Ident`
}

type rawArray struct {
	Items []*rawExpr `"[" ( @@ ( "," @@ )* )? "]"`
}

type rawRecord struct {
	Fields []*rawField `"{" ( @@ ( "," @@ )* )? "}"`
}

type rawField struct {
	Name  string   `@Ident ":"`
	Value *rawExpr `@@`
}

var chainParser = participle.MustBuild[rawExpr](
	participle.Lexer(ChainLexer),
	participle.Elide("Whitespace"),
	participle.UseLookahead(16),
)

// Parse parses chain text such as `Person.Where(p => p.Age > 18).Take(10)`.
func Parse(text string) (*Chain, error) {
	raw, err := chainParser.ParseString("", text)
	if err != nil {
		return nil, err
	}
	expr, err := (&converter{}).expr(raw)
	if err != nil {
		return nil, err
	}
	switch e := expr.(type) {
	case *Chain:
		return e, nil
	case *Entity:
		return &Chain{Source: e}, nil
	}
	return nil, fmt.Errorf("expected a query chain, got %s", expr)
}

// MustParse is like Parse but panics on error.
func MustParse(text string) *Chain {
	c, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return c
}

// ParseLambda parses a standalone lambda such as `p => !p.Deleted`.
func ParseLambda(text string) (*Lambda, error) {
	c, err := Parse("_.Where(" + text + ")")
	if err != nil {
		return nil, err
	}
	return c.Ops[0].(*Where).Predicate, nil
}

type converter struct {
	scopes [][]string
}

func (c *converter) inScope(name string) bool {
	for i := len(c.scopes) - 1; i >= 0; i-- {
		for _, p := range c.scopes[i] {
			if p == name {
				return true
			}
		}
	}
	return false
}

func (c *converter) expr(r *rawExpr) (Expr, error) {
	return c.conditional(r.Cond)
}

func (c *converter) conditional(r *rawConditional) (Expr, error) {
	test, err := c.coalesce(r.Test)
	if err != nil || r.IfTrue == nil {
		return test, err
	}
	ifTrue, err := c.expr(r.IfTrue)
	if err != nil {
		return nil, err
	}
	ifFalse, err := c.expr(r.IfFalse)
	if err != nil {
		return nil, err
	}
	return &Conditional{Test: test, IfTrue: ifTrue, IfFalse: ifFalse}, nil
}

func (c *converter) coalesce(r *rawCoalesce) (Expr, error) {
	left, err := c.binary(r.Left)
	if err != nil || r.Right == nil {
		return left, err
	}
	right, err := c.coalesce(r.Right)
	if err != nil {
		return nil, err
	}
	return &Binary{Op: OpCoalesce, Left: left, Right: right}, nil
}

var precedence = map[BinaryOp]int{
	OpOr:           1,
	OpAnd:          2,
	OpEqual:        3,
	OpNotEqual:     3,
	OpLess:         4,
	OpLessEqual:    4,
	OpGreater:      4,
	OpGreaterEqual: 4,
	OpAdd:          5,
	OpSubtract:     5,
	OpMultiply:     6,
	OpDivide:       6,
	OpModulo:       6,
}

func (c *converter) binary(r *rawBinary) (Expr, error) {
	operands := make([]Expr, 0, len(r.Rest)+1)
	ops := make([]BinaryOp, 0, len(r.Rest))
	first, err := c.unary(r.First)
	if err != nil {
		return nil, err
	}
	operands = append(operands, first)
	for _, in := range r.Rest {
		right, err := c.unary(in.Right)
		if err != nil {
			return nil, err
		}
		ops = append(ops, BinaryOp(in.Op))
		operands = append(operands, right)
	}
	pos := 0
	return climb(operands, ops, &pos, 0), nil
}

// climb folds operands[*pos:] honouring operator precedence, left associative.
func climb(operands []Expr, ops []BinaryOp, pos *int, minPrec int) Expr {
	left := operands[*pos]
	for *pos < len(ops) && precedence[ops[*pos]] > minPrec {
		op := ops[*pos]
		*pos++
		right := climb(operands, ops, pos, precedence[op])
		left = &Binary{Op: op, Left: left, Right: right}
	}
	return left
}

func (c *converter) unary(r *rawUnary) (Expr, error) {
	if r.Postfix != nil {
		return c.postfix(r.Postfix)
	}
	operand, err := c.unary(r.Operand)
	if err != nil {
		return nil, err
	}
	if k, ok := operand.(*Const); ok && r.Op == "-" {
		switch v := k.Value.(type) {
		case int64:
			return &Const{Value: -v}, nil
		case float64:
			return &Const{Value: -v}, nil
		}
	}
	return &Unary{Op: UnaryOp(r.Op), Operand: operand}, nil
}

func (c *converter) postfix(r *rawPostfix) (Expr, error) {
	target, err := c.primary(r.Primary)
	if err != nil {
		return nil, err
	}
	for _, s := range r.Suffixes {
		if s.Call == nil {
			target = &Member{Target: target, Name: s.Name}
			continue
		}
		args := make([]Expr, 0, len(s.Call.Args))
		for _, a := range s.Call.Args {
			arg, err := c.arg(a)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
		}
		if target, err = c.method(target, s.Name, args); err != nil {
			return nil, err
		}
	}
	return target, nil
}

// method turns a call into a chain operator or a scalar Call. Contains is a chain operator
// only on known sequences; elsewhere its meaning depends on the bound target.
func (c *converter) method(target Expr, name string, args []Expr) (Expr, error) {
	_, isChain := target.(*Chain)
	_, isEntity := target.(*Entity)
	sequence := isChain || isEntity

	if IsOperatorName(name) && (sequence || name != "Contains") {
		op, err := NewOperator(name, args)
		if err != nil {
			return nil, err
		}
		if ch, ok := target.(*Chain); ok {
			return ch.Then(op), nil
		}
		return &Chain{Source: target, Ops: []Operator{op}}, nil
	}
	if ScalarMethods[name] {
		return &Call{Target: target, Method: name, Args: args}, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownMethod, name)
}

func (c *converter) arg(r *rawArg) (Expr, error) {
	if r.Expr != nil {
		return c.expr(r.Expr)
	}
	c.scopes = append(c.scopes, r.Lambda.Params)
	defer func() { c.scopes = c.scopes[:len(c.scopes)-1] }()
	body, err := c.expr(r.Lambda.Body)
	if err != nil {
		return nil, err
	}
	return &Lambda{Params: r.Lambda.Params, Body: body}, nil
}

func (c *converter) primary(r *rawPrimary) (Expr, error) {
	switch {
	case r.Number != nil:
		if strings.Contains(*r.Number, ".") {
			f, err := strconv.ParseFloat(*r.Number, 64)
			if err != nil {
				return nil, err
			}
			return &Const{Value: f}, nil
		}
		n, err := strconv.ParseInt(*r.Number, 10, 64)
		if err != nil {
			return nil, err
		}
		return &Const{Value: n}, nil
	case r.String != nil:
		return &Const{Value: unquote(*r.String)}, nil
	case r.Bool != nil:
		return &Const{Value: *r.Bool == "true"}, nil
	case r.Null:
		return &Const{Value: nil}, nil
	case r.Array != nil:
		items := make([]Expr, 0, len(r.Array.Items))
		allConst := true
		for _, it := range r.Array.Items {
			e, err := c.expr(it)
			if err != nil {
				return nil, err
			}
			if _, ok := e.(*Const); !ok {
				allConst = false
			}
			items = append(items, e)
		}
		if allConst {
			values := make([]any, len(items))
			for i, it := range items {
				values[i] = it.(*Const).Value
			}
			return &Const{Value: values}, nil
		}
		return &Array{Items: items}, nil
	case r.Record != nil:
		rec := &New{}
		for _, f := range r.Record.Fields {
			v, err := c.expr(f.Value)
			if err != nil {
				return nil, err
			}
			rec.Fields = append(rec.Fields, Field{Name: f.Name, Value: v})
		}
		return rec, nil
	case r.Sub != nil:
		return c.expr(r.Sub)
	case r.Ident != nil:
		if c.inScope(*r.Ident) {
			return &Param{Name: *r.Ident}, nil
		}
		return &Entity{Name: *r.Ident}, nil
	}
	return nil, fmt.Errorf("empty expression")
}

func unquote(s string) string {
	body := s[1 : len(s)-1]
	var sb strings.Builder
	for i := 0; i < len(body); i++ {
		ch := body[i]
		if ch == '\\' && i+1 < len(body) {
			i++
			switch body[i] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			default:
				sb.WriteByte(body[i])
			}
			continue
		}
		sb.WriteByte(ch)
	}
	return sb.String()
}
