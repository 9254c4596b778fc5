// Package hostfuncs implements the host-side import surface of
// components. Every effectful function consults the capability policy
// at call time, so a revoke is visible to the very next host call even
// inside an in-flight invocation.
package hostfuncs

import "context"

// Checker is the capability checkpoint consulted before every effectful
// operation. Implemented by the policy store; nil error means allow.
type Checker interface {
	Check(componentID, kind, requested string) error
}

type contextKey struct{ name string }

var componentIDKey = &contextKey{name: "component_id"}

// WithComponentID tags a context with the calling component's identity
// so host functions can attribute capability checks and log lines.
func WithComponentID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, componentIDKey, id)
}

// ComponentIDFromContext retrieves the component identity from the
// context.
func ComponentIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(componentIDKey).(string)
	return id, ok
}
