package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/microtan/shaolinq/query/model"
	"github.com/microtan/shaolinq/query/plan"
)

var (
	// ErrNoElements is returned by First and Single when the query yields no rows
	ErrNoElements = errors.New("sequence contains no elements")
	// ErrMoreThanOneElement is returned by Single variants when the query yields several rows
	ErrMoreThanOneElement = errors.New("sequence contains more than one element")
	// ErrUnsupportedProjector is returned when a projector cannot be evaluated from a row
	ErrUnsupportedProjector = errors.New("projector cannot be materialized")
)

// RowCursor is the row source a materializer reads. *sql.Rows satisfies it.
type RowCursor interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Result is the outcome of an asynchronous materialization.
type Result struct {
	Value any
	Err   error
}

// Materializer turns the rows of one query shape into its output value. Sync and Async are
// compiled together; values are the placeholder values of the invocation.
type Materializer struct {
	Sync  func(rows RowCursor, values []any) (any, error)
	Async func(ctx context.Context, rows RowCursor, values []any) <-chan Result
}

// reader builds one output value from a scanned row.
type reader func(row []any, values []any) (any, error)

// Compile builds the materializer of a projection. The projector may only reference columns
// of the projection's own select.
func Compile(p *plan.Projection) (*Materializer, error) {
	index := make(map[string]int, len(p.Select.Columns))
	boolean := make(map[int]bool)
	for i, c := range p.Select.Columns {
		index[c.Name] = i
		if isPredicate(c.Expr) {
			boolean[i] = true
		}
	}
	c := &compiler{alias: p.Select.Alias, index: index, boolean: boolean}
	read, err := c.compile(p.Projector)
	if err != nil {
		return nil, err
	}
	var def reader
	if p.Default != nil {
		if def, err = c.compile(p.Default); err != nil {
			return nil, err
		}
	}
	width := len(p.Select.Columns)
	agg := aggregate(p, def)

	run := func(ctx context.Context, rows RowCursor, values []any) (any, error) {
		defer rows.Close()
		var out []any
		for rows.Next() {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			row := make([]any, width)
			ptrs := make([]any, width)
			for i := range row {
				ptrs[i] = &row[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return nil, fmt.Errorf("scan failed: %w", err)
			}
			v, err := read(row, values)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
			if agg.stopAfter > 0 && len(out) >= agg.stopAfter {
				break
			}
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return agg.reduce(out, values)
	}

	return &Materializer{
		Sync: func(rows RowCursor, values []any) (any, error) {
			return run(context.Background(), rows, values)
		},
		Async: func(ctx context.Context, rows RowCursor, values []any) <-chan Result {
			ch := make(chan Result, 1)
			go func() {
				defer close(ch)
				v, err := run(ctx, rows, values)
				ch <- Result{Value: v, Err: err}
			}()
			return ch
		},
	}, nil
}

type aggregation struct {
	// stopAfter ends the scan early once enough rows decide the result; 0 reads everything.
	stopAfter int
	reduce    func(items []any, values []any) (any, error)
}

func aggregate(p *plan.Projection, def reader) aggregation {
	fallback := func(values []any) (any, error) {
		if def == nil {
			return nil, nil
		}
		return def(nil, values)
	}

	switch p.Aggregator {
	case plan.AggregatorScalar:
		return aggregation{stopAfter: 1, reduce: func(items []any, values []any) (any, error) {
			if len(items) == 0 || items[0] == nil {
				return fallback(values)
			}
			return items[0], nil
		}}
	case plan.AggregatorFirst, plan.AggregatorFirstOrDefault:
		orDefault := p.Aggregator == plan.AggregatorFirstOrDefault
		return aggregation{stopAfter: 1, reduce: func(items []any, values []any) (any, error) {
			if len(items) == 0 {
				if orDefault {
					return fallback(values)
				}
				return nil, ErrNoElements
			}
			return items[0], nil
		}}
	case plan.AggregatorSingle, plan.AggregatorSingleOrDefault:
		orDefault := p.Aggregator == plan.AggregatorSingleOrDefault
		return aggregation{stopAfter: 2, reduce: func(items []any, values []any) (any, error) {
			switch {
			case len(items) > 1:
				return nil, ErrMoreThanOneElement
			case len(items) == 0 && orDefault:
				return fallback(values)
			case len(items) == 0:
				return nil, ErrNoElements
			}
			return items[0], nil
		}}
	}

	defaultIfEmpty := p.DefaultIfEmpty
	return aggregation{reduce: func(items []any, values []any) (any, error) {
		if len(items) == 0 {
			if defaultIfEmpty {
				v, err := fallback(values)
				return []any{v}, err
			}
			return []any{}, nil
		}
		return items, nil
	}}
}

type compiler struct {
	alias   string
	index   map[string]int
	// boolean marks columns computed by a predicate; drivers without a boolean type return
	// them as integers.
	boolean map[int]bool
}

func (c *compiler) compile(n plan.Node) (reader, error) {
	switch v := n.(type) {
	case *plan.Column:
		i, err := c.column(v)
		if err != nil {
			return nil, err
		}
		if c.boolean[i] {
			return func(row []any, _ []any) (any, error) { return convert(row[i], model.KindBool) }, nil
		}
		return func(row []any, _ []any) (any, error) { return normalize(row[i]), nil }, nil

	case *plan.Constant:
		value := v.Value
		return func([]any, []any) (any, error) { return value, nil }, nil

	case *plan.ConstantPlaceholder:
		idx := v.Index
		return func(_ []any, values []any) (any, error) {
			if idx >= len(values) {
				return nil, fmt.Errorf("placeholder %d has no value", idx)
			}
			return values[idx], nil
		}, nil

	case *plan.ObjectReference:
		return c.entity(v)

	case *plan.New:
		names := make([]string, len(v.Fields))
		readers := make([]reader, len(v.Fields))
		for i, f := range v.Fields {
			r, err := c.compile(f.Expr)
			if err != nil {
				return nil, err
			}
			names[i], readers[i] = f.Name, r
		}
		return func(row []any, values []any) (any, error) {
			rec := make(Record, len(names))
			for i, r := range readers {
				val, err := r(row, values)
				if err != nil {
					return nil, err
				}
				rec[names[i]] = val
			}
			return rec, nil
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedProjector, plan.Key(n))
}

func (c *compiler) column(col *plan.Column) (int, error) {
	if col.Alias != c.alias {
		return 0, fmt.Errorf("%w: column %s.%s is not selected", ErrUnsupportedProjector, col.Alias, col.Name)
	}
	i, ok := c.index[col.Name]
	if !ok {
		return 0, fmt.Errorf("%w: column %s is not selected", ErrUnsupportedProjector, col.Name)
	}
	return i, nil
}

type field struct {
	name string
	key  bool
	read reader
}

// entity reads an entity and its nested references. An entity whose key columns are all NULL
// is absent, which is how the unmatched side of an outer join arrives.
func (c *compiler) entity(ref *plan.ObjectReference) (reader, error) {
	if len(ref.Bindings) == 0 {
		return nil, fmt.Errorf("%w: %s has no bindings", ErrUnsupportedProjector, ref.Type.Name)
	}
	fields := make([]field, len(ref.Bindings))
	hasKey := false
	for i, b := range ref.Bindings {
		f := field{name: b.Property.Name, key: b.Property.PrimaryKey}
		hasKey = hasKey || f.key
		if nested, ok := b.Expr.(*plan.ObjectReference); ok {
			r, err := c.entity(nested)
			if err != nil {
				return nil, err
			}
			f.read = r
		} else {
			r, err := c.compile(b.Expr)
			if err != nil {
				return nil, err
			}
			kind := b.Property.Kind
			f.read = func(row []any, values []any) (any, error) {
				v, err := r(row, values)
				if err != nil {
					return nil, err
				}
				return convert(v, kind)
			}
		}
		fields[i] = f
	}
	name := ref.Type.Name

	return func(row []any, values []any) (any, error) {
		e := &Entity{Type: name, Fields: make(map[string]any, len(fields))}
		present := !hasKey
		for _, f := range fields {
			v, err := f.read(row, values)
			if err != nil {
				return nil, err
			}
			if f.key && v != nil {
				present = true
			}
			e.Fields[f.name] = v
		}
		if !present {
			return nil, nil
		}
		return e, nil
	}, nil
}

func isPredicate(n plan.Node) bool {
	switch v := n.(type) {
	case *plan.FunctionCall:
		return v.Function.IsPredicate()
	case *plan.Unary:
		return v.Op == plan.OpNot
	case *plan.Binary:
		switch v.Op {
		case plan.OpEqual, plan.OpNotEqual, plan.OpLess, plan.OpLessEqual, plan.OpGreater,
			plan.OpGreaterEqual, plan.OpAnd, plan.OpOr:
			return true
		}
	}
	return false
}
