package compiler

import "errors"

var (
	ErrUnsupportedQuery  = errors.New("unsupported query type")
	ErrInvalidQuery      = errors.New("invalid query")
	ErrCompilationFailed = errors.New("query compilation failed")
)

// StageError reports the pipeline stage that rejected a query. It wraps the stage's own error
// (a binder, optimizer or formatter error) and ErrCompilationFailed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return ErrCompilationFailed.Error() + " during " + e.Stage + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() []error { return []error{e.Err, ErrCompilationFailed} }
