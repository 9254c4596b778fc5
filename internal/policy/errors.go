package policy

import "fmt"

// InvalidGrantPatternError indicates a grant pattern that cannot be
// compiled into a matching rule. Rejected at grant time so Check never
// sees a malformed grant.
type InvalidGrantPatternError struct {
	Kind    string
	Pattern string
	Reason  string
}

func (e *InvalidGrantPatternError) Error() string {
	return fmt.Sprintf("invalid grant pattern %s:%s: %s", e.Kind, e.Pattern, e.Reason)
}

// DenialError is the typed result of a failed capability check. It is
// surfaced to the calling component as a structured error result, never
// as a sandbox-fatal trap.
type DenialError struct {
	ComponentID string
	Kind        string
	Requested   string
	Reason      string
}

func (e *DenialError) Error() string {
	return fmt.Sprintf("capability denied for %s: %s:%s (%s)", e.ComponentID, e.Kind, e.Requested, e.Reason)
}
