package model

import (
	"fmt"
	"regexp"
	"strings"
)

// ScopePrimary is the display name of the empty scope.
const ScopePrimary = "primary"

const (
	projectScopePrefix = "project:"
	maxScopeLength     = 255
)

var scopeSegmentPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Scope is a parsed credential scope. Opaque scopes that do not use the
// project: form keep Project and Environment empty.
type Scope struct {
	Raw         string
	Project     string
	Environment string
}

// IsPrimary reports whether the scope addresses the provider's primary credential.
func (s Scope) IsPrimary() bool {
	return s.Raw == ""
}

// ProjectScope formats a project scope, optionally narrowed to an environment.
func ProjectScope(project, environment string) string {
	if environment == "" {
		return projectScopePrefix + project
	}
	return projectScopePrefix + project + ":" + environment
}

// ParseScope validates raw and splits structured project scopes into their
// parts. The literal "primary" is normalized to the empty scope.
func ParseScope(raw string) (Scope, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == ScopePrimary {
		return Scope{}, nil
	}
	if len(raw) > maxScopeLength {
		return Scope{}, &ValidationError{Reason: fmt.Sprintf("scope exceeds %d characters", maxScopeLength)}
	}
	for _, r := range raw {
		if r < 0x20 || r == 0x7f {
			return Scope{}, &ValidationError{Reason: "scope contains control characters"}
		}
	}

	if !strings.HasPrefix(raw, projectScopePrefix) {
		return Scope{Raw: raw}, nil
	}

	parts := strings.Split(strings.TrimPrefix(raw, projectScopePrefix), ":")
	if len(parts) > 2 {
		return Scope{}, &ValidationError{
			Reason: "project scope must be project:<name> or project:<name>:<environment>",
		}
	}
	for _, p := range parts {
		if !scopeSegmentPattern.MatchString(p) {
			return Scope{}, &ValidationError{
				Reason: fmt.Sprintf("invalid project scope segment %q", p),
				Hint:   "Use letters, digits, '.', '_' or '-', starting with a letter or digit.",
			}
		}
	}

	s := Scope{Raw: raw, Project: parts[0]}
	if len(parts) == 2 {
		s.Environment = parts[1]
	}
	return s, nil
}
