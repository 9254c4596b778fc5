package registry

import "fmt"

// MalformedError means the binary could not be parsed as a component at
// all.
type MalformedError struct {
	ID    string
	Cause error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("component %s: malformed binary: %v", e.ID, e.Cause)
}
func (e *MalformedError) Unwrap() error { return e.Cause }

// UnsupportedInterfaceError means the binary is valid WebAssembly but
// does not follow the component interface conventions, or its declared
// interface could not be understood.
type UnsupportedInterfaceError struct {
	ID    string
	Cause error
}

func (e *UnsupportedInterfaceError) Error() string {
	return fmt.Sprintf("component %s: unsupported interface: %v", e.ID, e.Cause)
}
func (e *UnsupportedInterfaceError) Unwrap() error { return e.Cause }

// InstantiationFailedError means the sandbox around the component could
// not be constructed.
type InstantiationFailedError struct {
	ID    string
	Cause error
}

func (e *InstantiationFailedError) Error() string {
	return fmt.Sprintf("component %s: instantiation failed: %v", e.ID, e.Cause)
}
func (e *InstantiationFailedError) Unwrap() error { return e.Cause }

// NotFoundError means no loaded component has the given id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("component %s is not loaded", e.ID) }

// AlreadyLoadedError means a load was attempted for an id that already
// has a record. Use Reload to replace a loaded component.
type AlreadyLoadedError struct {
	ID string
}

func (e *AlreadyLoadedError) Error() string {
	return fmt.Sprintf("component %s is already loaded", e.ID)
}
