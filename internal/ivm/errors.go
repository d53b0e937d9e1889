package ivm

import (
	"errors"
	"fmt"
)

// ErrStreamConsumed is returned when a one-shot node stream is iterated a
// second time.
var ErrStreamConsumed = errors.New("ivm: stream already consumed")

// ConfigError reports a query that references unknown tables or columns, or
// requests an operator combination the engine does not support. Raised at
// pipeline-build time or on first push; the pipeline is aborted.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "ivm: configuration error: " + e.Reason
}

// NewConfigError creates a ConfigError with a formatted reason.
func NewConfigError(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// SchemaError reports a row that violates its table schema, e.g. a missing
// or null primary-key column.
type SchemaError struct {
	Table  string
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("ivm: schema error on %s.%s: %s", e.Table, e.Column, e.Reason)
	}
	return fmt.Sprintf("ivm: schema error on %s: %s", e.Table, e.Reason)
}

// InvariantError indicates an upstream bug: a double add for a primary key,
// a child change whose parent is absent, or a Join wired to itself. These
// are fatal for the pipeline and must never be swallowed.
type InvariantError struct {
	Op     string
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("ivm: invariant violation in %s: %s", e.Op, e.Reason)
}

// IsInvariantError reports whether err is (or wraps) an InvariantError.
func IsInvariantError(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}
