// Package provider holds the static registry of credential providers and
// their offline format rules.
package provider

import (
	"fmt"
	"regexp"
	"strings"
)

// Validation is the outcome of an offline format check. Reason is empty
// when Valid is true and never contains the credential itself.
type Validation struct {
	Valid  bool
	Reason string
}

// Provider is the capability set every provider variant implements.
type Provider interface {
	// ID is the stable lower-case identifier, e.g. "github".
	ID() string
	DisplayName() string
	// ValidateCredential checks value against the provider's format
	// contract without any network access.
	ValidateCredential(value string) Validation
	// AuthHeaders returns the HTTP headers that authenticate a request
	// to the provider's API with value.
	AuthHeaders(value string) map[string]string
	// RemediationHint is markdown telling the caller how to obtain a
	// well-formed credential.
	RemediationHint() string
	// SupportsLiveValidation reports whether the vault can confirm the
	// credential against the provider's API.
	SupportsLiveValidation() bool
}

// MetadataProvider is implemented by providers that can derive non-secret
// metadata from a credential offline.
type MetadataProvider interface {
	Metadata(value string) map[string]string
}

var (
	alphanumeric       = regexp.MustCompile(`^[A-Za-z0-9]+$`)
	alphanumericDash   = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	alphanumericSymbol = regexp.MustCompile(`^[A-Za-z0-9_=-]+$`)
)

// tokenFormat is the prefix/length/charset contract shared by all variants.
type tokenFormat struct {
	label    string
	prefixes []string
	minLen   int
	maxLen   int
	body     *regexp.Regexp
	bodyDesc string
}

func (f tokenFormat) validate(value string) Validation {
	if value == "" {
		return invalid("%s is empty", f.label)
	}
	if strings.TrimSpace(value) != value {
		return invalid("%s has leading or trailing whitespace", f.label)
	}
	if len(value) < f.minLen {
		return invalid("%s is shorter than the minimum length of %d characters", f.label, f.minLen)
	}
	if f.maxLen > 0 && len(value) > f.maxLen {
		return invalid("%s is longer than the maximum length of %d characters", f.label, f.maxLen)
	}

	prefix, ok := f.matchPrefix(value)
	if !ok {
		return invalid("%s must start with one of: %s", f.label, strings.Join(f.prefixes, ", "))
	}

	if f.body != nil && !f.body.MatchString(value[len(prefix):]) {
		if prefix == "" {
			return invalid("%s must contain only %s", f.label, f.bodyDesc)
		}
		return invalid("%s must contain only %s after the %q prefix", f.label, f.bodyDesc, prefix)
	}

	return Validation{Valid: true}
}

// matchPrefix returns the longest configured prefix of value. A format
// without prefixes matches everything with an empty prefix.
func (f tokenFormat) matchPrefix(value string) (string, bool) {
	if len(f.prefixes) == 0 {
		return "", true
	}
	best, found := "", false
	for _, p := range f.prefixes {
		if strings.HasPrefix(value, p) && len(p) >= len(best) {
			best, found = p, true
		}
	}
	return best, found
}

func invalid(format string, args ...any) Validation {
	return Validation{Reason: fmt.Sprintf(format, args...)}
}

func bearer(value string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + value}
}
