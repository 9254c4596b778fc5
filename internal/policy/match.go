package policy

import (
	"path"
	"strings"
)

// matchCapability reports whether a request matches a granted pattern of
// the same kind. Unknown kinds and malformed requests never match.
func matchCapability(kind, requested, granted string) bool {
	switch kind {
	case KindNetwork:
		return matchNetworkHost(requested, granted)
	case KindFS:
		return matchFilesystemPath(requested, granted)
	case KindEnv:
		return matchEnvironmentVar(requested, granted)
	default:
		return false
	}
}

// matchNetworkHost matches an outbound host against a grant.
// Supports:
//   - example.com (exact host)
//   - *.example.com (any subdomain, not the apex)
//   - * (any host)
func matchNetworkHost(requested, granted string) bool {
	requested = strings.ToLower(strings.TrimSuffix(requested, "."))
	granted = strings.ToLower(granted)

	if requested == "" {
		return false
	}
	if granted == "*" {
		return true
	}
	if suffix, ok := strings.CutPrefix(granted, "*."); ok {
		return strings.HasSuffix(requested, "."+suffix)
	}
	return requested == granted
}

// matchFilesystemPath matches a filesystem request against a grant.
// Both sides have the form "read:<path>" or "write:<path>"; the grant
// side is a path prefix. A read grant does not satisfy a write request.
func matchFilesystemPath(requested, granted string) bool {
	reqAccess, reqPath, ok := splitFSPattern(requested)
	if !ok {
		return false
	}
	grantAccess, grantPrefix, ok := splitFSPattern(granted)
	if !ok {
		return false
	}
	if reqAccess != grantAccess {
		return false
	}

	// Normalize before prefix containment so "/etc/../root/x" cannot
	// slip past a "/etc/" grant.
	reqPath = path.Clean(reqPath)
	grantPrefix = path.Clean(grantPrefix)
	if !path.IsAbs(reqPath) || !path.IsAbs(grantPrefix) {
		return false
	}
	if reqPath == grantPrefix {
		return true
	}
	if grantPrefix == "/" {
		return true
	}
	return strings.HasPrefix(reqPath, grantPrefix+"/")
}

// matchEnvironmentVar matches an environment variable name.
// Supports exact names and trailing-wildcard prefixes ("AWS_*").
func matchEnvironmentVar(requested, granted string) bool {
	if requested == "" {
		return false
	}
	if granted == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(granted, "*"); ok {
		return strings.HasPrefix(requested, prefix)
	}
	return requested == granted
}

// validatePattern rejects patterns that cannot be compiled into a
// matching rule. Called at grant time.
func validatePattern(kind, pattern string) error {
	fail := func(reason string) error {
		return &InvalidGrantPatternError{Kind: kind, Pattern: pattern, Reason: reason}
	}
	if pattern == "" {
		return fail("empty pattern")
	}

	switch kind {
	case KindNetwork:
		if pattern == "*" {
			return nil
		}
		host := pattern
		if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
			host = suffix
		}
		if host == "" || strings.ContainsAny(host, "*/ ") {
			return fail("wildcard only allowed as leading \"*.\" label")
		}
	case KindFS:
		_, prefix, ok := splitFSPattern(pattern)
		if !ok {
			return fail(`must be "read:<path>" or "write:<path>"`)
		}
		if !path.IsAbs(prefix) {
			return fail("path prefix must be absolute")
		}
	case KindEnv:
		if pattern != "*" && strings.Contains(strings.TrimSuffix(pattern, "*"), "*") {
			return fail("wildcard only allowed as trailing character")
		}
	default:
		return fail("unknown capability kind")
	}
	return nil
}
