package query

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrSessionClosed is returned for requests made after Close.
	ErrSessionClosed = errors.New("query session is closed")

	// ErrSessionNotFound is returned by Manager lookups for unknown ids.
	ErrSessionNotFound = errors.New("query session not found")
)

// SetupScriptError reports a setup script that could not be read or run.
// Setup errors are logged and the script skipped.
type SetupScriptError struct {
	Path string
	Err  error
}

func (e *SetupScriptError) Error() string {
	return fmt.Sprintf("setup script %s: %v", e.Path, e.Err)
}

func (e *SetupScriptError) Unwrap() error { return e.Err }

// IntrospectionError reports a statement whose schema could not be described.
type IntrospectionError struct {
	SQL string
	Err error
}

func (e *IntrospectionError) Error() string { return e.Err.Error() }

func (e *IntrospectionError) Unwrap() error { return e.Err }

// ExecutionError reports a statement that failed to execute.
type ExecutionError struct {
	SQL string
	Err error
}

func (e *ExecutionError) Error() string { return e.Err.Error() }

func (e *ExecutionError) Unwrap() error { return e.Err }
