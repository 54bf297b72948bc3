// Package executor runs compiled statements over database/sql and materializes their rows.
package executor

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/microtan/shaolinq/internal/debug"
)

// DefaultStatementCacheSize bounds the prepared statements kept per Executor.
const DefaultStatementCacheSize = 128

// Statement is an execution-ready query. Materializer is nil for data modification without
// RETURNING, which reports the affected row count instead.
type Statement struct {
	SQL          string
	Args         []any
	Values       []any
	Materializer *Materializer
}

// ExecutionError wraps a driver error with the statement that caused it. The driver error is
// available unchanged through errors.Is and errors.As.
type ExecutionError struct {
	SQL string
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("executing %q: %v", e.SQL, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// preparer is satisfied by *sql.DB and *sql.Conn.
type preparer interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Executor executes statements with a bounded prepared statement cache
type Executor struct {
	db          preparer
	stmtCache   *lru.Cache[string, *cachedStmt]
	middlewares []Middleware
}

// cachedStmt is a prepared statement shared by concurrent executions. Eviction only marks it;
// the statement is closed once the last execution holding it releases it.
type cachedStmt struct {
	stmt *sql.Stmt

	mu      sync.Mutex
	refs    int
	evicted bool
}

// acquire takes a reference, failing when the statement was already evicted.
func (c *cachedStmt) acquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.evicted {
		return false
	}
	c.refs++
	return true
}

func (c *cachedStmt) release() {
	c.mu.Lock()
	c.refs--
	closeNow := c.evicted && c.refs == 0
	c.mu.Unlock()
	if closeNow {
		c.stmt.Close()
	}
}

func (c *cachedStmt) evict() {
	c.mu.Lock()
	c.evicted = true
	closeNow := c.refs == 0
	c.mu.Unlock()
	if closeNow {
		c.stmt.Close()
	}
}

// NewExecutor creates a new executor over db. size <= 0 uses DefaultStatementCacheSize.
func NewExecutor(db preparer, size int) (*Executor, error) {
	if size <= 0 {
		size = DefaultStatementCacheSize
	}
	cache, err := lru.NewWithEvict[string, *cachedStmt](size, func(_ string, c *cachedStmt) {
		c.evict()
	})
	if err != nil {
		return nil, err
	}
	return &Executor{db: db, stmtCache: cache}, nil
}

// getCachedStmt returns a held reference to the prepared statement for query, preparing and
// caching it on a miss. The caller must release it. When two executions miss on the same
// query, the one that publishes first wins and the other closes its own statement.
func (e *Executor) getCachedStmt(ctx context.Context, query string) (*cachedStmt, error) {
	for {
		if c, ok := e.stmtCache.Get(query); ok {
			if c.acquire() {
				return c, nil
			}
			continue
		}
		stmt, err := e.db.PrepareContext(ctx, query)
		if err != nil {
			return nil, &ExecutionError{SQL: query, Err: err}
		}
		c := &cachedStmt{stmt: stmt, refs: 1}
		if found, _ := e.stmtCache.ContainsOrAdd(query, c); found {
			stmt.Close()
			continue
		}
		return c, nil
	}
}

// ClearStmtCache forgets every prepared statement. Statements still executing are closed when
// they finish.
func (e *Executor) ClearStmtCache() {
	e.stmtCache.Purge()
}

// Execute runs st and returns its materialized value, or the number of affected rows when
// st has no materializer.
func (e *Executor) Execute(ctx context.Context, st *Statement) (any, error) {
	return e.intercept(ctx, st, func() (any, error) {
		c, err := e.getCachedStmt(ctx, st.SQL)
		if err != nil {
			return nil, err
		}
		defer c.release()
		return run(ctx, c.stmt, st)
	})
}

// ExecuteAsync runs st and delivers its value on the returned channel. Cancelling ctx stops
// materialization between rows. Middleware does not see asynchronous executions.
func (e *Executor) ExecuteAsync(ctx context.Context, st *Statement) <-chan Result {
	c, err := e.getCachedStmt(ctx, st.SQL)
	if err != nil {
		return failed(err)
	}
	in := runAsync(ctx, c.stmt, st)
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		r, ok := <-in
		c.release()
		if ok {
			out <- r
		}
	}()
	return out
}

func run(ctx context.Context, stmt *sql.Stmt, st *Statement) (any, error) {
	debug.DebugContext(ctx, "executing statement", "sql", st.SQL, "args", len(st.Args))
	if st.Materializer == nil {
		res, err := stmt.ExecContext(ctx, st.Args...)
		if err != nil {
			return nil, &ExecutionError{SQL: st.SQL, Err: err}
		}
		return res.RowsAffected()
	}
	rows, err := stmt.QueryContext(ctx, st.Args...)
	if err != nil {
		return nil, &ExecutionError{SQL: st.SQL, Err: err}
	}
	return st.Materializer.Sync(rows, st.Values)
}

func runAsync(ctx context.Context, stmt *sql.Stmt, st *Statement) <-chan Result {
	if st.Materializer == nil {
		ch := make(chan Result, 1)
		go func() {
			defer close(ch)
			v, err := run(ctx, stmt, st)
			ch <- Result{Value: v, Err: err}
		}()
		return ch
	}
	debug.DebugContext(ctx, "executing statement", "sql", st.SQL, "args", len(st.Args))
	rows, err := stmt.QueryContext(ctx, st.Args...)
	if err != nil {
		return failed(&ExecutionError{SQL: st.SQL, Err: err})
	}
	return st.Materializer.Async(ctx, rows, st.Values)
}

func failed(err error) <-chan Result {
	ch := make(chan Result, 1)
	ch <- Result{Err: err}
	close(ch)
	return ch
}
