// Package policy implements the capability policy store: per-component
// grant sets consulted by every effectful host operation before it acts.
// The posture is deny-by-default; a component with no grants can perform
// no I/O.
package policy

import (
	"strings"
	"time"
)

// Capability kinds understood by the store.
const (
	KindNetwork = "network" // outbound host, exact or suffix wildcard ("*.example.com")
	KindFS      = "fs"      // "read:<prefix>" or "write:<prefix>"
	KindEnv     = "env"     // variable name, exact or prefix wildcard ("AWS_*")
)

// Capability represents a single granted permission.
// This is a pure value object.
type Capability struct {
	Kind    string `json:"kind" yaml:"kind"`
	Pattern string `json:"pattern" yaml:"pattern"`
}

// Equals checks value equality of two capabilities.
func (c Capability) Equals(other Capability) bool {
	return c.Kind == other.Kind && c.Pattern == other.Pattern
}

// String returns the canonical "kind:pattern" form.
func (c Capability) String() string {
	return c.Kind + ":" + c.Pattern
}

// IsBroad reports whether the pattern is overly permissive. Used by the
// CLI to warn before applying a policy file, never for enforcement.
func (c Capability) IsBroad() bool {
	switch c.Kind {
	case KindNetwork:
		return c.Pattern == "*"
	case KindFS:
		_, prefix, ok := splitFSPattern(c.Pattern)
		return ok && (prefix == "/" || prefix == "")
	case KindEnv:
		return c.Pattern == "*"
	default:
		return false
	}
}

// Limits are the per-component resource ceilings. They are applied to the
// sandbox at instantiation and re-applied on reload.
type Limits struct {
	// MemoryBytes caps the component's linear memory. Zero means the
	// host default.
	MemoryBytes int64 `json:"memory_bytes" yaml:"memory_bytes"`
	// CPUTime caps the wall-clock budget of a single call. Zero means
	// the dispatcher default deadline applies unmodified.
	CPUTime time.Duration `json:"cpu_time" yaml:"cpu_time"`
}

// Grant is an ordered set of capabilities held by one component.
type Grant []Capability

// Add appends a capability if it is not already present.
func (g *Grant) Add(c Capability) {
	for _, existing := range *g {
		if existing.Equals(c) {
			return
		}
	}
	*g = append(*g, c)
}

// Contains checks membership by value equality.
func (g Grant) Contains(c Capability) bool {
	for _, existing := range g {
		if existing.Equals(c) {
			return true
		}
	}
	return false
}

// Remove deletes a capability by value equality.
func (g *Grant) Remove(c Capability) {
	for i, existing := range *g {
		if existing.Equals(c) {
			*g = append((*g)[:i], (*g)[i+1:]...)
			return
		}
	}
}

// splitFSPattern splits "read:/etc/" into ("read", "/etc/", true).
func splitFSPattern(pattern string) (access, prefix string, ok bool) {
	access, prefix, found := strings.Cut(pattern, ":")
	if !found {
		return "", "", false
	}
	if access != "read" && access != "write" {
		return "", "", false
	}
	return access, prefix, true
}
