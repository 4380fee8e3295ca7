package errors

import (
	"errors"
	"fmt"
)

var (
	ErrCorrupt      = errors.New("corrupt index state")
	ErrOutOfRange   = errors.New("value out of encodable range")
	ErrInvalidInput = errors.New("invalid input")
	ErrOutOfOrder   = errors.New("document ids out of order")
	ErrCommit       = errors.New("commit failed")
	ErrClosed       = errors.New("engine closed")
)

type IndexError struct {
	Err     error
	Op      string
	Message string
}

func (e *IndexError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Err.Error(), e.Message)
}

func (e *IndexError) Unwrap() error {
	return e.Err
}

func New(sentinel error, op string, message string) *IndexError {
	return &IndexError{
		Err:     sentinel,
		Op:      op,
		Message: message,
	}
}

func Newf(sentinel error, op string, format string, args ...any) *IndexError {
	return &IndexError{
		Err:     sentinel,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// Corruptf is shorthand for a corrupt-state error on the named path.
func Corruptf(path string, format string, args ...any) *IndexError {
	return Newf(ErrCorrupt, path, format, args...)
}

// ExitCode maps an error to the process exit status used by the CLI.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch {
	case errors.Is(err, ErrInvalidInput):
		return 2
	case errors.Is(err, ErrCorrupt):
		return 3
	case errors.Is(err, ErrOutOfRange), errors.Is(err, ErrOutOfOrder):
		return 4
	case errors.Is(err, ErrCommit):
		return 5
	default:
		return 1
	}
}
