package venvbuild

import (
	"errors"
	"fmt"
)

var (
	ErrMissingVariable  = errors.New("missing template variable")
	ErrTemplateSyntax   = errors.New("invalid template syntax")
	ErrExecution        = errors.New("script execution failed")
	ErrFilesystem       = errors.New("file system operation failed")
	ErrChecksumMismatch = errors.New("archive checksum mismatch")
	ErrUnknownStep      = errors.New("unknown build step")
	ErrCatalog          = errors.New("invalid recipe catalog")
)

// MissingVariableError names the placeholder that had no value.
type MissingVariableError struct {
	Name string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("%s: %q", ErrMissingVariable, e.Name)
}

func (e *MissingVariableError) Is(target error) bool {
	return target == ErrMissingVariable
}

// ExecutionError carries the exit status and everything the script wrote
// before it failed.
type ExecutionError struct {
	ExitCode int
	Output   string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: exit code %d", ErrExecution, e.ExitCode)
}

func (e *ExecutionError) Is(target error) bool {
	return target == ErrExecution
}

// fsError wraps a file system failure so callers can match ErrFilesystem.
func fsError(op, path string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrFilesystem, op, path, err)
}
