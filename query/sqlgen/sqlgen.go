// Package sqlgen renders optimized plans as dialect-specific parameterized SQL.
package sqlgen

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/microtan/shaolinq/query/plan"
)

// FormattingError reports a plan construct the dialect cannot express.
type FormattingError struct {
	Construct string
	Dialect   string
}

func (e *FormattingError) Error() string {
	return fmt.Sprintf("sqlgen: %s is not supported by the %s dialect", e.Construct, e.Dialect)
}

// Param is one statement parameter in placeholder order. Placeholder is the index of the
// externally supplied value it reads, or -1 when Value is fixed by the query shape. Element
// indexes into an array value expanded into an IN list, or is -1.
type Param struct {
	Value       any
	Placeholder int
	Element     int
}

// Result is a formatted statement.
type Result struct {
	SQL     string
	Params  []Param
	Dialect string
	// Returning lists the columns an INSERT reads back, when the dialect emitted RETURNING.
	Returning []string

	segments []string
}

// Args resolves the statement arguments from the placeholder values of one invocation.
func (r *Result) Args(values []any) ([]any, error) {
	args := make([]any, len(r.Params))
	for i, p := range r.Params {
		v, err := p.resolve(values)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

func (p Param) resolve(values []any) (any, error) {
	if p.Placeholder < 0 {
		return p.Value, nil
	}
	if p.Placeholder >= len(values) {
		return nil, fmt.Errorf("parameter %d: only %d values supplied", p.Placeholder, len(values))
	}
	v := values[p.Placeholder]
	if p.Element < 0 {
		return v, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("parameter %d: expected a list, got %T", p.Placeholder, v)
	}
	if p.Element >= rv.Len() {
		return nil, fmt.Errorf("parameter %d: list has %d elements, the statement needs %d", p.Placeholder, rv.Len(), p.Element+1)
	}
	return rv.Index(p.Element).Interface(), nil
}

type options struct {
	constantNulls  bool
	inlineBooleans bool
	evaluate       bool
	values         []any
}

// Option configures Format.
type Option func(*options)

// OptimiseOutConstantNulls renders comparisons against a constant null as IS [NOT] NULL.
func OptimiseOutConstantNulls() Option {
	return func(o *options) { o.constantNulls = true }
}

// InlineBooleans renders boolean constants as dialect literals instead of parameters.
func InlineBooleans() Option {
	return func(o *options) { o.inlineBooleans = true }
}

// EvaluateConstantPlaceholders substitutes placeholder values as fixed parameters. The
// resulting SQL is specific to those values and must not be cached by shape.
func EvaluateConstantPlaceholders(values []any) Option {
	return func(o *options) {
		o.evaluate = true
		o.values = values
	}
}

// Cacheable reports whether SQL formatted with opts depends only on the plan's shape.
func Cacheable(opts ...Option) bool {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return !o.evaluate
}

// marker delimits a parameter in the SQL under construction; it is replaced by the dialect's
// placeholder once rendering is complete.
const marker = "\x00"

type formatter struct {
	d         *Dialect
	opts      options
	params    []Param
	returning []string
	err       error
}

// Format renders n, which must be a Projection, Select, Delete, Update or Insert.
func Format(n plan.Node, d *Dialect, opts ...Option) (*Result, error) {
	f := &formatter{d: d}
	for _, opt := range opts {
		opt(&f.opts)
	}

	var sql string
	switch v := n.(type) {
	case *plan.Projection:
		sql = f.selectSQL(v.Select)
	case *plan.Select:
		sql = f.selectSQL(v)
	case *plan.Delete:
		sql = f.deleteSQL(v)
	case *plan.Update:
		sql = f.updateSQL(v)
	case *plan.Insert:
		sql = f.insertSQL(v)
	default:
		f.unsupported(string(n.Kind()) + " statement")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.finish(sql), nil
}

// finish swaps parameter markers for placeholders, numbering them in text order.
func (f *formatter) finish(sql string) *Result {
	pieces := strings.Split(sql, marker)
	res := &Result{Dialect: f.d.Name, Returning: f.returning}
	var sb strings.Builder
	for i, piece := range pieces {
		if i%2 == 0 {
			sb.WriteString(piece)
			res.segments = append(res.segments, piece)
			continue
		}
		id, _ := strconv.Atoi(piece)
		res.Params = append(res.Params, f.params[id])
		sb.WriteString(f.d.Placeholder(len(res.Params)))
	}
	res.SQL = sb.String()
	return res
}

func (f *formatter) unsupported(construct string) string {
	if f.err == nil {
		f.err = &FormattingError{Construct: construct, Dialect: f.d.Name}
	}
	return ""
}

func (f *formatter) param(p Param) string {
	f.params = append(f.params, p)
	return marker + strconv.Itoa(len(f.params)-1) + marker
}

func (f *formatter) selectSQL(s *plan.Select) string {
	var parts []string

	head := "SELECT"
	if s.Distinct {
		head += " DISTINCT"
	}
	columns := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		e := f.expr(c.Expr)
		if col, ok := c.Expr.(*plan.Column); !ok || col.Name != c.Name {
			e += " AS " + f.d.Quote(c.Name)
		}
		columns[i] = e
	}
	parts = append(parts, head+" "+strings.Join(columns, ", "))

	if s.From != nil {
		parts = append(parts, "FROM "+f.source(s.From))
	}
	if s.Where != nil {
		parts = append(parts, "WHERE "+f.predicate(s.Where))
	}
	if len(s.GroupBy) > 0 {
		keys := make([]string, len(s.GroupBy))
		for i, g := range s.GroupBy {
			keys[i] = f.expr(g)
		}
		parts = append(parts, "GROUP BY "+strings.Join(keys, ", "))
	}
	if len(s.OrderBy) > 0 {
		keys := make([]string, len(s.OrderBy))
		for i, o := range s.OrderBy {
			keys[i] = f.expr(o.Expr)
			if o.Direction == plan.Descending {
				keys[i] += " DESC"
			}
		}
		parts = append(parts, "ORDER BY "+strings.Join(keys, ", "))
	}
	if limit := f.d.limit(f.count(s.Skip), f.count(s.Take)); limit != "" {
		parts = append(parts, limit)
	}
	if s.ForUpdate && f.d.Supports(FeatureRowLocking) {
		parts = append(parts, "FOR UPDATE")
	}
	return strings.Join(parts, " ")
}

// count renders a row count as a literal.
func (f *formatter) count(n plan.Node) string {
	switch v := n.(type) {
	case nil:
		return ""
	case *plan.Constant:
		return fmt.Sprint(v.Value)
	case *plan.ConstantPlaceholder:
		if f.opts.evaluate && v.Index < len(f.opts.values) {
			return fmt.Sprint(f.opts.values[v.Index])
		}
	}
	return f.unsupported("non-literal row limit")
}

func (f *formatter) source(n plan.Node) string {
	switch v := n.(type) {
	case *plan.Table:
		return f.d.Quote(v.Name) + " AS " + v.Alias
	case *plan.Select:
		return "(" + f.selectSQL(v) + ") AS " + v.Alias
	case *plan.Join:
		return f.join(v)
	}
	return f.unsupported(string(n.Kind()) + " source")
}

func (f *formatter) join(j *plan.Join) string {
	left := f.source(j.Left)
	right := f.source(j.Right)
	if _, nested := j.Right.(*plan.Join); nested {
		right = "(" + right + ")"
	}
	on := func() string {
		if j.Condition == nil {
			return " ON " + f.predicate(&plan.Constant{Value: true})
		}
		return " ON " + f.predicate(j.Condition)
	}

	switch j.Type {
	case plan.JoinCross:
		return left + " CROSS JOIN " + right
	case plan.JoinInner:
		return left + " INNER JOIN " + right + on()
	case plan.JoinLeft:
		return left + " LEFT JOIN " + right + on()
	case plan.JoinRight:
		if !f.d.Supports(FeatureRightJoins) {
			return f.unsupported("RIGHT JOIN")
		}
		return left + " RIGHT JOIN " + right + on()
	case plan.JoinFullOuter:
		if !f.d.Supports(FeatureFullOuterJoins) {
			return f.unsupported("FULL OUTER JOIN")
		}
		return left + " FULL OUTER JOIN " + right + on()
	case plan.JoinCrossApply:
		if !f.d.Supports(FeatureLateralJoins) {
			return f.unsupported("CROSS APPLY")
		}
		return left + " CROSS JOIN LATERAL " + right
	case plan.JoinOuterApply:
		if !f.d.Supports(FeatureLateralJoins) {
			return f.unsupported("OUTER APPLY")
		}
		return left + " LEFT JOIN LATERAL " + right + on()
	}
	return f.unsupported(string(j.Type) + " JOIN")
}

func (f *formatter) deleteSQL(d *plan.Delete) string {
	parts := []string{"DELETE FROM " + f.target(d.Table, d.Alias)}
	if d.Where != nil {
		parts = append(parts, "WHERE "+f.predicate(d.Where))
	}
	return strings.Join(parts, " ")
}

func (f *formatter) updateSQL(u *plan.Update) string {
	set := make([]string, len(u.Assignments))
	for i, a := range u.Assignments {
		set[i] = f.d.Quote(a.Column) + " = " + f.expr(a.Value)
	}
	parts := []string{"UPDATE " + f.target(u.Table, u.Alias), "SET " + strings.Join(set, ", ")}
	if u.Where != nil {
		parts = append(parts, "WHERE "+f.predicate(u.Where))
	}
	return strings.Join(parts, " ")
}

func (f *formatter) target(table, alias string) string {
	if alias == "" {
		return f.d.Quote(table)
	}
	return f.d.Quote(table) + " AS " + alias
}

func (f *formatter) insertSQL(ins *plan.Insert) string {
	parts := []string{"INSERT INTO " + f.d.Quote(ins.Table)}
	switch {
	case len(ins.Assignments) > 0:
		columns := make([]string, len(ins.Assignments))
		values := make([]string, len(ins.Assignments))
		for i, a := range ins.Assignments {
			columns[i] = f.d.Quote(a.Column)
			values[i] = f.expr(a.Value)
		}
		parts = append(parts, "("+strings.Join(columns, ", ")+")", "VALUES ("+strings.Join(values, ", ")+")")
	case f.d.Name == MySQL:
		parts = append(parts, "() VALUES ()")
	default:
		parts = append(parts, "DEFAULT VALUES")
	}
	if len(ins.Returning) > 0 && f.d.Supports(FeatureInsertReturning) {
		quoted := make([]string, len(ins.Returning))
		for i, c := range ins.Returning {
			quoted[i] = f.d.Quote(c)
		}
		parts = append(parts, "RETURNING "+strings.Join(quoted, ", "))
		f.returning = ins.Returning
	}
	return strings.Join(parts, " ")
}
