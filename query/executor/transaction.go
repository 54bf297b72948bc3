package executor

import (
	"context"
	"database/sql"
	"fmt"
)

// TxExecutor runs statements inside a transaction, reusing the parent's prepared statements
type TxExecutor struct {
	*Executor
	tx *sql.Tx
}

// NewTxExecutor creates a new transaction-aware executor
func NewTxExecutor(e *Executor, tx *sql.Tx) *TxExecutor {
	return &TxExecutor{Executor: e, tx: tx}
}

// Execute runs st within the transaction. A statement the parent already prepared is rebound
// to the transaction; others are prepared on the transaction's connection and not cached.
func (e *TxExecutor) Execute(ctx context.Context, st *Statement) (any, error) {
	return e.intercept(ctx, st, func() (any, error) {
		var txStmt *sql.Stmt
		if cached, ok := e.stmtCache.Get(st.SQL); ok && cached.acquire() {
			defer cached.release()
			txStmt = e.tx.StmtContext(ctx, cached.stmt)
		} else {
			var err error
			if txStmt, err = e.tx.PrepareContext(ctx, st.SQL); err != nil {
				return nil, &ExecutionError{SQL: st.SQL, Err: err}
			}
		}
		defer txStmt.Close()
		return run(ctx, txStmt, st)
	})
}

// InTx runs fn in a transaction on db, committing when fn succeeds and rolling back otherwise.
func (e *Executor) InTx(ctx context.Context, db *sql.DB, fn func(*TxExecutor) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(NewTxExecutor(e, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
