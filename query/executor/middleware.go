package executor

import (
	"context"
	"log/slog"
	"time"
)

// QueryEvent describes one statement execution as seen by middleware.
type QueryEvent struct {
	SQL      string
	Args     []any
	Start    time.Time
	End      time.Time
	Duration time.Duration
	Err      error
}

// Middleware intercepts statement execution. It must call next exactly once to run the
// statement, and may inspect event afterwards.
type Middleware func(ctx context.Context, event *QueryEvent, next func() error) error

// Use appends middleware to the chain. The first middleware added runs outermost. Use is not
// safe to call concurrently with Execute.
func (e *Executor) Use(mw ...Middleware) {
	e.middlewares = append(e.middlewares, mw...)
}

// intercept runs exec inside the middleware chain.
func (e *Executor) intercept(ctx context.Context, st *Statement, exec func() (any, error)) (any, error) {
	if len(e.middlewares) == 0 {
		return exec()
	}

	event := &QueryEvent{SQL: st.SQL, Args: st.Args, Start: time.Now()}
	var out any
	var next func() error
	index := 0
	next = func() error {
		if index >= len(e.middlewares) {
			var err error
			out, err = exec()
			event.End = time.Now()
			event.Duration = event.End.Sub(event.Start)
			event.Err = err
			return err
		}
		mw := e.middlewares[index]
		index++
		return mw(ctx, event, next)
	}
	if err := next(); err != nil {
		return nil, err
	}
	return out, nil
}

// LoggingMiddleware logs each statement and its outcome.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(ctx context.Context, event *QueryEvent, next func() error) error {
		err := next()
		if err != nil {
			logger.ErrorContext(ctx, "query failed", "sql", event.SQL, "duration", event.Duration, "error", err)
		} else {
			logger.DebugContext(ctx, "query completed", "sql", event.SQL, "args", len(event.Args), "duration", event.Duration)
		}
		return err
	}
}

// TimingMiddleware reports the duration of each statement.
func TimingMiddleware(onTiming func(sql string, duration time.Duration)) Middleware {
	return func(ctx context.Context, event *QueryEvent, next func() error) error {
		err := next()
		if onTiming != nil {
			onTiming(event.SQL, event.Duration)
		}
		return err
	}
}

// ErrorMiddleware reports failed statements.
func ErrorMiddleware(onError func(sql string, err error)) Middleware {
	return func(ctx context.Context, event *QueryEvent, next func() error) error {
		err := next()
		if err != nil && onError != nil {
			onError(event.SQL, err)
		}
		return err
	}
}
