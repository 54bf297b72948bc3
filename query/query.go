// Package query compiles operator chains over an entity model into SQL and runs them.
package query

import (
	"context"
	"database/sql"
	"sync"

	"github.com/microtan/shaolinq/query/ast"
	"github.com/microtan/shaolinq/query/cache"
	"github.com/microtan/shaolinq/query/compiler"
	"github.com/microtan/shaolinq/query/executor"
	"github.com/microtan/shaolinq/query/model"
	"github.com/microtan/shaolinq/query/sqlgen"
)

// Chain is a parsed operator chain.
type Chain = ast.Chain

type options struct {
	dialect        string
	serverVersion  string
	statementCache int
	compiler       []compiler.Option
	middleware     []executor.Middleware
}

// Option configures an Engine.
type Option func(*options)

// WithDialect selects the SQL dialect and, optionally, the server version its feature gates
// are checked against.
func WithDialect(name, serverVersion string) Option {
	return func(o *options) {
		o.dialect = name
		o.serverVersion = serverVersion
	}
}

// WithStatementCacheSize bounds the prepared statements kept per database.
func WithStatementCacheSize(n int) Option {
	return func(o *options) { o.statementCache = n }
}

// WithCompilerOptions passes options to the query compiler.
func WithCompilerOptions(opts ...compiler.Option) Option {
	return func(o *options) { o.compiler = append(o.compiler, opts...) }
}

// WithMiddleware installs statement middleware on every executor the engine creates.
func WithMiddleware(mw ...executor.Middleware) Option {
	return func(o *options) { o.middleware = append(o.middleware, mw...) }
}

// Engine is the entry point for compiling and running queries against one model and dialect.
// It is safe for concurrent use.
type Engine struct {
	model    *model.Model
	compiler *compiler.Compiler
	stmts    int
	mw       []executor.Middleware

	mu        sync.Mutex
	executors map[*sql.DB]*executor.Executor
}

// New creates an Engine for m. The dialect defaults to generic-92.
func New(m *model.Model, opts ...Option) (*Engine, error) {
	o := options{dialect: sqlgen.Generic}
	for _, opt := range opts {
		opt(&o)
	}
	d, err := sqlgen.Lookup(o.dialect)
	if err != nil {
		return nil, err
	}
	if d, err = d.WithVersion(o.serverVersion); err != nil {
		return nil, err
	}
	return &Engine{
		model:     m,
		compiler:  compiler.NewCompiler(m, d, o.compiler...),
		stmts:     o.statementCache,
		mw:        o.middleware,
		executors: make(map[*sql.DB]*executor.Executor),
	}, nil
}

// Model returns the engine's entity model.
func (e *Engine) Model() *model.Model { return e.model }

// Dialect returns the engine's SQL dialect.
func (e *Engine) Dialect() *sqlgen.Dialect { return e.compiler.Dialect() }

// ParseChain parses the textual form of an operator chain.
func ParseChain(text string) (*ast.Chain, error) {
	return ast.Parse(text)
}

// Text returns the SQL of chain with its literals inlined.
func (e *Engine) Text(chain *ast.Chain) (string, error) {
	return e.compiler.Text(chain)
}

// Prepare returns the execution-ready form of chain.
func (e *Engine) Prepare(chain *ast.Chain) (*compiler.Compiled, error) {
	return e.compiler.Prepare(chain)
}

// Explain reports every compilation stage of chain.
func (e *Engine) Explain(chain *ast.Chain) (*compiler.Explanation, error) {
	return e.compiler.Explain(chain)
}

// Query compiles chain and runs it on db. Queries yield their materialized value; data
// modification without RETURNING yields the affected row count.
func (e *Engine) Query(ctx context.Context, db *sql.DB, chain *ast.Chain) (any, error) {
	c, err := e.compiler.Prepare(chain)
	if err != nil {
		return nil, err
	}
	ex, err := e.executor(db)
	if err != nil {
		return nil, err
	}
	return ex.Execute(ctx, c.Statement())
}

// QueryInto runs chain on db and decodes the result into dst.
func (e *Engine) QueryInto(ctx context.Context, db *sql.DB, chain *ast.Chain, dst any) error {
	v, err := e.Query(ctx, db, chain)
	if err != nil {
		return err
	}
	return executor.Decode(dst, v)
}

// InTx runs fn in a transaction on db; each query fn issues through the returned function
// shares the transaction.
func (e *Engine) InTx(ctx context.Context, db *sql.DB, fn func(run func(*ast.Chain) (any, error)) error) error {
	ex, err := e.executor(db)
	if err != nil {
		return err
	}
	return ex.InTx(ctx, db, func(tx *executor.TxExecutor) error {
		return fn(func(chain *ast.Chain) (any, error) {
			c, err := e.compiler.Prepare(chain)
			if err != nil {
				return nil, err
			}
			return tx.Execute(ctx, c.Statement())
		})
	})
}

// Stats reports the shape and materializer cache statistics.
func (e *Engine) Stats() (shapes, materializers cache.Stats) {
	return e.compiler.Stats()
}

func (e *Engine) executor(db *sql.DB) (*executor.Executor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ex, ok := e.executors[db]; ok {
		return ex, nil
	}
	ex, err := executor.NewExecutor(db, e.stmts)
	if err != nil {
		return nil, err
	}
	ex.Use(e.mw...)
	e.executors[db] = ex
	return ex, nil
}
