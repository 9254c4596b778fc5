package dispatch

import (
	"fmt"

	"github.com/toolhost-dev/toolhost/wireformat"
)

// NotFoundError means the component, or the function within it, does
// not exist.
type NotFoundError struct {
	Component string
	Function  string
}

func (e *NotFoundError) Error() string {
	if e.Function == "" {
		return fmt.Sprintf("component %s is not loaded", e.Component)
	}
	return fmt.Sprintf("component %s has no tool %q", e.Component, e.Function)
}

// TypeMismatchError means a supplied argument, or the component's own
// result, diverged from the declared type tree. Path names the first
// divergent field.
type TypeMismatchError struct {
	Function string
	Path     string
	Detail   string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("tool %s: type mismatch at %s: %s", e.Function, e.Path, e.Detail)
}

// ComponentFaultError is a fault internal to the component: a trap, a
// malformed result payload, or a structured error it returned.
type ComponentFaultError struct {
	Component string
	Detail    *wireformat.ErrorDetail
	Cause     error
}

func (e *ComponentFaultError) Error() string {
	if e.Detail != nil {
		return fmt.Sprintf("component %s fault: %v", e.Component, e.Detail)
	}
	return fmt.Sprintf("component %s fault: %v", e.Component, e.Cause)
}

func (e *ComponentFaultError) Unwrap() error { return e.Cause }

// TimeoutError means the call did not finish before its deadline and
// was cancelled at the next cooperative checkpoint.
type TimeoutError struct {
	Component string
	Function  string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("tool %s.%s: deadline exceeded", e.Component, e.Function)
}

// CapabilityDeniedError means a capability check inside the call denied
// an effectful operation and the component surfaced the denial.
type CapabilityDeniedError struct {
	Component string
	Kind      string
	Detail    string
}

func (e *CapabilityDeniedError) Error() string {
	return fmt.Sprintf("component %s: %s capability denied: %s", e.Component, e.Kind, e.Detail)
}
