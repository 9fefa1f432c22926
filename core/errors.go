package core

import (
	"errors"
	"fmt"
)

// Common errors used across the package
var (
	// ErrSkipped is raised (possibly wrapped) by a test body to request a
	// skip. A skip is terminal: it never triggers a retry.
	ErrSkipped = errors.New("test skipped")

	// ErrDebuggerQuit is the control-flow error raised when an interactive
	// debugger session is abandoned. It is never presented interactively.
	ErrDebuggerQuit = errors.New("debugger quit")
)

// Skip returns an ErrSkipped carrying the given reason.
func Skip(reason string) error {
	return fmt.Errorf("%w: %s", ErrSkipped, reason)
}
