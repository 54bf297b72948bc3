// Package compiler runs the bind, optimize and format pipeline once per query shape and
// caches the results.
package compiler

import (
	"fmt"
	"strings"

	"github.com/microtan/shaolinq/internal/debug"
	"github.com/microtan/shaolinq/query/ast"
	"github.com/microtan/shaolinq/query/binder"
	"github.com/microtan/shaolinq/query/cache"
	"github.com/microtan/shaolinq/query/executor"
	"github.com/microtan/shaolinq/query/model"
	"github.com/microtan/shaolinq/query/optimizer"
	"github.com/microtan/shaolinq/query/plan"
	"github.com/microtan/shaolinq/query/sqlgen"
)

// shapeEntry is the tier-1 cache entry of one query shape.
type shapeEntry struct {
	Plan   plan.Node
	Result *sqlgen.Result
	// materializerKey is the tier-2 key, empty for statements that return no rows.
	materializerKey string
	projection      *plan.Projection
}

// Compiled is an execution-ready query.
type Compiled struct {
	SQL          string
	Args         []any
	Values       []any
	Plan         plan.Node
	Materializer *executor.Materializer
	Aggregator   plan.Aggregator
	// Returning lists the columns read back by an INSERT ... RETURNING.
	Returning []string
}

// Statement returns the executor form of c.
func (c *Compiled) Statement() *executor.Statement {
	return &executor.Statement{SQL: c.SQL, Args: c.Args, Values: c.Values, Materializer: c.Materializer}
}

type options struct {
	shapeEntries        int
	materializerEntries int
	format              []sqlgen.Option
	bind                []binder.Option
	optimize            []optimizer.Option
}

// Option configures a Compiler.
type Option func(*options)

// WithCacheSizes bounds the shape and materializer caches.
func WithCacheSizes(shapes, materializers int) Option {
	return func(o *options) {
		o.shapeEntries = shapes
		o.materializerEntries = materializers
	}
}

// WithFormatOptions passes formatter options. EvaluateConstantPlaceholders is rejected:
// value-specific SQL cannot be cached by shape.
func WithFormatOptions(opts ...sqlgen.Option) Option {
	return func(o *options) { o.format = append(o.format, opts...) }
}

// WithBindOptions passes binder options, such as extra per-type filters.
func WithBindOptions(opts ...binder.Option) Option {
	return func(o *options) { o.bind = append(o.bind, opts...) }
}

// WithOptimizerOptions passes optimizer options.
func WithOptimizerOptions(opts ...optimizer.Option) Option {
	return func(o *options) { o.optimize = append(o.optimize, opts...) }
}

// Compiler compiles operator chains into SQL and materializers for one model and dialect.
// It is safe for concurrent use.
type Compiler struct {
	model   *model.Model
	dialect *sqlgen.Dialect
	opts    options

	shapes        *cache.Generational[*shapeEntry]
	materializers *cache.Generational[*executor.Materializer]
}

// NewCompiler creates a new query compiler
func NewCompiler(m *model.Model, d *sqlgen.Dialect, opts ...Option) *Compiler {
	c := &Compiler{model: m, dialect: d}
	for _, opt := range opts {
		opt(&c.opts)
	}
	c.shapes = cache.New[*shapeEntry](c.opts.shapeEntries)
	c.materializers = cache.New[*executor.Materializer](c.opts.materializerEntries)
	return c
}

// Dialect returns the target dialect.
func (c *Compiler) Dialect() *sqlgen.Dialect { return c.dialect }

// Prepare returns the execution-ready form of chain. Literals in the chain become statement
// arguments; a chain of the same shape is compiled once.
func (c *Compiler) Prepare(chain *ast.Chain) (*Compiled, error) {
	shaped, values := ast.Parameterize(chain)
	entry, err := c.shape(shaped)
	if err != nil {
		return nil, err
	}
	args, err := entry.Result.Args(values)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	out := &Compiled{
		SQL:       entry.Result.SQL,
		Args:      args,
		Values:    values,
		Plan:      entry.Plan,
		Returning: entry.Result.Returning,
	}
	if entry.projection != nil {
		out.Aggregator = entry.projection.Aggregator
		out.Materializer, err = c.materializers.GetOrAdd(entry.materializerKey, func() (*executor.Materializer, error) {
			debug.Debug("materializer cache miss", "shape", entry.materializerKey)
			return executor.Compile(entry.projection)
		})
		if err != nil {
			return nil, &StageError{Stage: "materialize", Err: err}
		}
	}
	return out, nil
}

// Text returns the SQL of chain with its literal values inlined, for inspection and logging.
func (c *Compiler) Text(chain *ast.Chain) (string, error) {
	shaped, values := ast.Parameterize(chain)
	entry, err := c.shape(shaped)
	if err != nil {
		return "", err
	}
	return sqlgen.Inline(entry.Result, values, c.dialect)
}

// Explanation shows each stage of a compilation.
type Explanation struct {
	Shape     string
	Bound     string
	Optimized string
	SQL       string
	Params    []sqlgen.Param
	Inline    string
}

// Explain compiles chain without the cache and reports every stage.
func (c *Compiler) Explain(chain *ast.Chain) (*Explanation, error) {
	shaped, values := ast.Parameterize(chain)
	bound, err := binder.Bind(c.model, shaped, c.opts.bind...)
	if err != nil {
		return nil, &StageError{Stage: "bind", Err: err}
	}
	optimized, err := c.optimize(bound.Plan)
	if err != nil {
		return nil, err
	}
	res, err := c.format(optimized)
	if err != nil {
		return nil, err
	}
	inline, err := sqlgen.Inline(res, values, c.dialect)
	if err != nil {
		return nil, err
	}
	return &Explanation{
		Shape:     ast.ShapeKey(shaped),
		Bound:     plan.Format(bound.Plan),
		Optimized: plan.Format(optimized),
		SQL:       res.SQL,
		Params:    res.Params,
		Inline:    inline,
	}, nil
}

// Stats reports the shape and materializer cache statistics.
func (c *Compiler) Stats() (shapes, materializers cache.Stats) {
	return c.shapes.Stats(), c.materializers.Stats()
}

// Reset drops every cached compilation, for example after the model changed.
func (c *Compiler) Reset() {
	c.shapes.Clear()
	c.materializers.Clear()
}

func (c *Compiler) shape(shaped *ast.Chain) (*shapeEntry, error) {
	key := cache.Key(c.dialect.Key(), ast.ShapeKey(shaped))
	return c.shapes.GetOrAdd(key, func() (*shapeEntry, error) {
		debug.Debug("shape cache miss", "dialect", c.dialect.Name, "shape", ast.ShapeKey(shaped))
		return c.compile(shaped)
	})
}

func (c *Compiler) compile(shaped *ast.Chain) (*shapeEntry, error) {
	bound, err := binder.Bind(c.model, shaped, c.opts.bind...)
	if err != nil {
		return nil, &StageError{Stage: "bind", Err: err}
	}
	optimized, err := c.optimize(bound.Plan)
	if err != nil {
		return nil, err
	}
	res, err := c.format(optimized)
	if err != nil {
		return nil, err
	}
	debug.Debug("compiled query", "dialect", c.dialect.Name, "sql", res.SQL)

	entry := &shapeEntry{Plan: optimized, Result: res}
	switch v := optimized.(type) {
	case *plan.Projection:
		entry.projection = v
	case *plan.Insert:
		if len(res.Returning) > 0 {
			entry.projection = returningProjection(res.Returning)
		}
	}
	if entry.projection != nil {
		entry.materializerKey = MaterializerKey(entry.projection)
	}
	return entry, nil
}

func (c *Compiler) optimize(n plan.Node) (plan.Node, error) {
	opts := append([]optimizer.Option{optimizer.WithLateralJoins(c.dialect.Supports(sqlgen.FeatureLateralJoins))}, c.opts.optimize...)
	out, err := optimizer.Optimize(n, opts...)
	if err != nil {
		return nil, &StageError{Stage: "optimize", Err: err}
	}
	return out, nil
}

func (c *Compiler) format(n plan.Node) (*sqlgen.Result, error) {
	if !sqlgen.Cacheable(c.opts.format...) {
		return nil, &StageError{Stage: "format", Err: fmt.Errorf("%w: placeholder values cannot be evaluated into a shared statement", ErrInvalidQuery)}
	}
	res, err := sqlgen.Format(n, c.dialect, c.opts.format...)
	if err != nil {
		return nil, &StageError{Stage: "format", Err: err}
	}
	return res, nil
}

// returningProjection reads the single row an INSERT ... RETURNING yields as a record.
func returningProjection(columns []string) *plan.Projection {
	const alias = "R"
	sel := &plan.Select{Alias: alias}
	rec := &plan.New{}
	for _, name := range columns {
		sel.Columns = append(sel.Columns, plan.ColumnDeclaration{Name: name, Expr: &plan.Column{Alias: alias, Name: name}})
		rec.Fields = append(rec.Fields, plan.Field{Name: name, Expr: &plan.Column{Alias: alias, Name: name}})
	}
	return &plan.Projection{Select: sel, Projector: rec, Aggregator: plan.AggregatorSingle}
}

// MaterializerKey is the tier-2 cache key of a projection: everything the compiled
// materializer depends on, and nothing else.
func MaterializerKey(p *plan.Projection) string {
	var sb strings.Builder
	sb.WriteString(p.Select.Alias)
	sb.WriteString("[")
	for i, c := range p.Select.Columns {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(c.Name)
		// computed columns may be read back as booleans
		if _, ok := c.Expr.(*plan.Column); !ok && c.Expr != nil {
			sb.WriteString("=")
			sb.WriteString(plan.Key(c.Expr))
		}
	}
	fmt.Fprintf(&sb, "] %s %t ", p.Aggregator, p.DefaultIfEmpty)
	sb.WriteString(plan.Key(p.Default))
	sb.WriteString(" => ")
	sb.WriteString(plan.Key(p.Projector))
	return cache.Key(sb.String())
}
