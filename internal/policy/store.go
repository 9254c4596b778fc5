package policy

import (
	"log/slog"
	"sync"
)

// Store is the single owner of all capability grants. Many sandbox
// instances read it concurrently through Check; writes go through the
// serialized Grant/Revoke API. A write completed before a Check begins
// is always visible to that Check, so a revoke takes effect on the very
// next capability checkpoint of any in-flight call.
type Store struct {
	mu     sync.RWMutex
	grants map[string]Grant
	limits map[string]Limits
}

// NewStore creates an empty store. Every component starts with zero
// grants.
func NewStore() *Store {
	return &Store{
		grants: make(map[string]Grant),
		limits: make(map[string]Limits),
	}
}

// Grant adds a capability to a component's grant set. The pattern is
// validated up front; malformed patterns are rejected with
// InvalidGrantPatternError and the grant set is left untouched.
func (s *Store) Grant(componentID string, c Capability) error {
	if err := validatePattern(c.Kind, c.Pattern); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.grants[componentID]
	g.Add(c)
	s.grants[componentID] = g

	slog.Debug("capability granted", "component", componentID, "capability", c.String())
	return nil
}

// Revoke removes a capability from a component's grant set. Revoking a
// capability that was never granted is a no-op.
func (s *Store) Revoke(componentID string, c Capability) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.grants[componentID]
	g.Remove(c)
	if len(g) == 0 {
		delete(s.grants, componentID)
	} else {
		s.grants[componentID] = g
	}

	slog.Debug("capability revoked", "component", componentID, "capability", c.String())
}

// Check verifies a requested operation against the component's current
// grant set. It returns nil on allow and a *DenialError otherwise.
// Ambiguous or malformed requests deny; a check is never allowed on
// error.
func (s *Store) Check(componentID, kind, requested string) error {
	// The read lock covers the whole match loop: Grant and Revoke
	// mutate the backing array in place, so the slice must not be
	// walked after the lock is released.
	s.mu.RLock()
	for _, grant := range s.grants[componentID] {
		if grant.Kind != kind {
			continue
		}
		if matchCapability(kind, requested, grant.Pattern) {
			s.mu.RUnlock()
			return nil
		}
	}
	s.mu.RUnlock()

	return &DenialError{
		ComponentID: componentID,
		Kind:        kind,
		Requested:   requested,
		Reason:      "no matching grant",
	}
}

// Grants returns a copy of the component's current grant set.
func (s *Store) Grants(componentID string) Grant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g := s.grants[componentID]
	out := make(Grant, len(g))
	copy(out, g)
	return out
}

// SetLimits replaces the resource ceilings for a component. Limits take
// effect at the next sandbox instantiation; the registry re-applies them
// on reload.
func (s *Store) SetLimits(componentID string, l Limits) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits[componentID] = l
}

// LimitsFor returns the component's resource ceilings, or the zero value
// when none were set.
func (s *Store) LimitsFor(componentID string) Limits {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limits[componentID]
}

// Drop removes all policy state for a component. Called by the registry
// on unload.
func (s *Store) Drop(componentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants, componentID)
	delete(s.limits, componentID)
}
