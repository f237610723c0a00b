// Package sandbox builds the container launcher that isolates the Python
// interpreter.
package sandbox

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidLimits = errors.New("invalid container limits")
	ErrNoImage       = errors.New("container image is required")
	ErrNoEngine      = errors.New("container engine not found")
)

// LauncherError wraps errors with the step that failed.
type LauncherError struct {
	Op  string
	Err error
}

func (e *LauncherError) Error() string {
	return fmt.Sprintf("sandbox %s: %s", e.Op, e.Err)
}

func (e *LauncherError) Unwrap() error {
	return e.Err
}
