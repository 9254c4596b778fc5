package wasm

import "fmt"

// CompileError means the binary could not be parsed or compiled as a
// WebAssembly module.
type CompileError struct {
	Cause error
}

func (e *CompileError) Error() string { return fmt.Sprintf("compiling component: %v", e.Cause) }
func (e *CompileError) Unwrap() error { return e.Cause }

// MissingExportError means the module compiled but does not follow the
// component export conventions.
type MissingExportError struct {
	Export string
}

func (e *MissingExportError) Error() string {
	return fmt.Sprintf("component does not export required function %q", e.Export)
}

// InstantiationError means the sandbox environment itself could not be
// constructed around the component.
type InstantiationError struct {
	Cause error
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("instantiating sandbox: %v", e.Cause)
}
func (e *InstantiationError) Unwrap() error { return e.Cause }

// TrapError is a component-internal fault raised during a call. The
// component stays loaded; the faulted instance is discarded.
type TrapError struct {
	Cause error
}

func (e *TrapError) Error() string { return fmt.Sprintf("component trapped: %v", e.Cause) }
func (e *TrapError) Unwrap() error { return e.Cause }
