package executor_test

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/microtan/shaolinq/query/executor"
	"github.com/microtan/shaolinq/query/plan"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE "Person" ("Id" INTEGER PRIMARY KEY, "Name" TEXT NOT NULL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO "Person" ("Id", "Name") VALUES (1, 'ann'), (2, 'bob')`)
	require.NoError(t, err)
	return db
}

func names(t *testing.T) *executor.Materializer {
	t.Helper()
	m, err := executor.Compile(&plan.Projection{
		Select: &plan.Select{Alias: "T0", Columns: []plan.ColumnDeclaration{
			{Name: "Id", Expr: &plan.Column{Alias: "P", Name: "Id"}},
			{Name: "Name", Expr: &plan.Column{Alias: "P", Name: "Name"}},
		}},
		Projector: &plan.New{Fields: []plan.Field{
			{Name: "Id", Expr: &plan.Column{Alias: "T0", Name: "Id"}},
			{Name: "Name", Expr: &plan.Column{Alias: "T0", Name: "Name"}},
		}},
	})
	require.NoError(t, err)
	return m
}

func TestExecuteQuery(t *testing.T) {
	e, err := executor.NewExecutor(openDB(t), 0)
	require.NoError(t, err)

	st := &executor.Statement{
		SQL:          `SELECT "Id", "Name" FROM "Person" WHERE "Id" >= ? ORDER BY "Id"`,
		Args:         []any{1},
		Materializer: names(t),
	}
	got, err := e.Execute(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, []any{
		executor.Record{"Id": int64(1), "Name": "ann"},
		executor.Record{"Id": int64(2), "Name": "bob"},
	}, got)

	// the prepared statement is reused
	st.Args = []any{2}
	got, err = e.Execute(context.Background(), st)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	res := <-e.ExecuteAsync(context.Background(), st)
	require.NoError(t, res.Err)
	assert.Len(t, res.Value, 1)
}

func TestExecuteModification(t *testing.T) {
	e, err := executor.NewExecutor(openDB(t), 4)
	require.NoError(t, err)

	n, err := e.Execute(context.Background(), &executor.Statement{
		SQL:  `UPDATE "Person" SET "Name" = ? WHERE "Id" = ?`,
		Args: []any{"cat", 2},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestExecuteReportsDriverErrors(t *testing.T) {
	e, err := executor.NewExecutor(openDB(t), 0)
	require.NoError(t, err)

	_, err = e.Execute(context.Background(), &executor.Statement{SQL: `SELECT * FROM "Missing"`})
	var execErr *executor.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, `SELECT * FROM "Missing"`, execErr.SQL)
	assert.NotNil(t, errors.Unwrap(err))

	res := <-e.ExecuteAsync(context.Background(), &executor.Statement{SQL: `SELECT * FROM "Missing"`})
	assert.Error(t, res.Err)
}

func TestInTx(t *testing.T) {
	db := openDB(t)
	e, err := executor.NewExecutor(db, 0)
	require.NoError(t, err)
	ctx := context.Background()
	rename := &executor.Statement{SQL: `UPDATE "Person" SET "Name" = ? WHERE "Id" = 1`, Args: []any{"zed"}}
	count := &executor.Statement{
		SQL:          `SELECT "Id", "Name" FROM "Person" WHERE "Name" = 'zed'`,
		Materializer: names(t),
	}

	boom := errors.New("boom")
	err = e.InTx(ctx, db, func(tx *executor.TxExecutor) error {
		_, err := tx.Execute(ctx, rename)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	got, err := e.Execute(ctx, count)
	require.NoError(t, err)
	assert.Empty(t, got, "rolled back")

	require.NoError(t, e.InTx(ctx, db, func(tx *executor.TxExecutor) error {
		_, err := tx.Execute(ctx, rename)
		return err
	}))
	got, err = e.Execute(ctx, count)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	e.ClearStmtCache()
}

func TestMiddleware(t *testing.T) {
	e, err := executor.NewExecutor(openDB(t), 0)
	require.NoError(t, err)

	var order []string
	timed := time.Duration(-1)
	var failedSQL string
	e.Use(
		func(ctx context.Context, ev *executor.QueryEvent, next func() error) error {
			order = append(order, "outer")
			return next()
		},
		func(ctx context.Context, ev *executor.QueryEvent, next func() error) error {
			order = append(order, "inner")
			return next()
		},
		executor.TimingMiddleware(func(_ string, d time.Duration) { timed = d }),
		executor.ErrorMiddleware(func(sql string, _ error) { failedSQL = sql }),
		executor.LoggingMiddleware(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	got, err := e.Execute(context.Background(), &executor.Statement{
		SQL:          `SELECT "Id", "Name" FROM "Person" ORDER BY "Id"`,
		Materializer: names(t),
	})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, []string{"outer", "inner"}, order)
	assert.GreaterOrEqual(t, int64(timed), int64(0))
	assert.Empty(t, failedSQL)

	_, err = e.Execute(context.Background(), &executor.Statement{SQL: `SELECT * FROM "Missing"`})
	assert.Error(t, err)
	assert.Equal(t, `SELECT * FROM "Missing"`, failedSQL)
}

func TestStatementCacheUnderConcurrentEviction(t *testing.T) {
	e, err := executor.NewExecutor(openDB(t), 1)
	require.NoError(t, err)

	queries := []string{
		`UPDATE "Person" SET "Name" = "Name" WHERE "Id" = 1`,
		`UPDATE "Person" SET "Name" = "Name" WHERE "Id" = 2`,
		`UPDATE "Person" SET "Name" = "Name" WHERE "Id" = 3`,
	}
	errs := make(chan error, 8)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 300; i++ {
				st := &executor.Statement{SQL: queries[(g+i)%len(queries)]}
				if _, err := e.Execute(context.Background(), st); err != nil {
					errs <- err
					return
				}
				if i%50 == 0 {
					e.ClearStmtCache()
				}
			}
		}(g)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("execute: %v", err)
	}

	res := <-e.ExecuteAsync(context.Background(), &executor.Statement{SQL: queries[0]})
	require.NoError(t, res.Err)
	assert.Equal(t, int64(1), res.Value)
}
