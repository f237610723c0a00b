package runtime

import (
	"errors"
	"fmt"
)

// Sentinel errors for typed error checking.
var (
	ErrUnavailable     = errors.New("runtime unavailable")
	ErrUnsupportedKind = errors.New("unsupported runtime")
	ErrExecution       = errors.New("execution error")
	ErrExited          = errors.New("interpreter exited")
	ErrClosed          = errors.New("session closed")
)

// Error wraps runtime failures with the runtime kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s runtime: %s: %s", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ExecError is raised by user code inside a runtime: a Python exception
// or a SQL engine error. Message is what the user should see.
type ExecError struct {
	Message string
}

func (e *ExecError) Error() string { return e.Message }

// Is lets ExecError match ErrExecution.
func (e *ExecError) Is(target error) bool {
	return target == ErrExecution
}

// IsUnavailable returns true if the runtime could not be loaded at all.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// Message returns the user-facing text for err. Exceptions raised by user
// code are reported without the runtime/op prefix.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var execErr *ExecError
	if errors.As(err, &execErr) {
		return execErr.Message
	}
	return err.Error()
}
