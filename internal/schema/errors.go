package schema

import "fmt"

// RecursiveTypeError indicates a named type definition that refers to
// itself, directly or through other named types. Tool arguments must be
// finite, so such interfaces are rejected at load time.
type RecursiveTypeError struct {
	TypeName string
}

func (e *RecursiveTypeError) Error() string {
	return fmt.Sprintf("recursive type definition %q is not supported", e.TypeName)
}

// DuplicateToolError indicates two exported functions whose names
// collide after normalization.
type DuplicateToolError struct {
	Tool string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("duplicate tool name %q after normalization", e.Tool)
}

// MismatchError reports the first structural divergence between a value
// and its declared type, naming the offending field path.
type MismatchError struct {
	Path     string
	Expected string
	Got      string
}

func (e *MismatchError) Error() string {
	path := e.Path
	if path == "" {
		path = "$"
	}
	return fmt.Sprintf("type mismatch at %s: expected %s, got %s", path, e.Expected, e.Got)
}

// IncompatibleChangeError names the first previously advertised tool a
// new schema no longer serves identically. Used to reject reloads.
type IncompatibleChangeError struct {
	Tool   string
	Reason string
}

func (e *IncompatibleChangeError) Error() string {
	return fmt.Sprintf("incompatible schema change for tool %q: %s", e.Tool, e.Reason)
}
