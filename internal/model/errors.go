package model

import (
	"fmt"
	"sort"
	"strings"

	"hydrocycle/internal/domain"
)

// InvalidStateError reports an operation called in a lifecycle state that
// does not permit it. It is always caller misuse, never retried.
type InvalidStateError struct {
	Op    string
	State domain.RunStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s in state %s", e.Op, e.State)
}

// UnknownParameterError reports configuration overrides outside the model's
// declared schema.
type UnknownParameterError struct {
	Model      string
	Parameters []string
}

func (e *UnknownParameterError) Error() string {
	params := append([]string(nil), e.Parameters...)
	sort.Strings(params)
	return fmt.Sprintf("unknown parameters for model %s: %s", e.Model, strings.Join(params, ", "))
}

// ConfigurationError reports a failure to assemble a run configuration:
// a bad override value or a template that cannot be rendered.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
	}
	return "configuration error: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// InitializationError wraps a fault reported by the model process during
// initialize.
type InitializationError struct {
	Err error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("model initialization failed: %v", e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// UpdateError reports a refused or failed time step. When the precondition
// time < end time is violated the model time is left unchanged.
type UpdateError struct {
	Reason string
	Err    error
}

func (e *UpdateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model update failed: %s: %v", e.Reason, e.Err)
	}
	return "model update failed: " + e.Reason
}

func (e *UpdateError) Unwrap() error { return e.Err }
