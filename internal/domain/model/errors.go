package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is matched by NotFoundError via errors.Is.
var ErrNotFound = errors.New("credential not found")

// ValidationError reports a caller-correctable problem with a credential
// value or request parameter. Reason never echoes the secret.
type ValidationError struct {
	ProviderID string
	Reason     string
	Hint       string
}

func (e *ValidationError) Error() string {
	if e.ProviderID == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("invalid %s credential: %s", e.ProviderID, e.Reason)
}

// RateLimitError is returned when a user exceeds the attempt budget for an
// operation class.
type RateLimitError struct {
	Operation         string
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many %s attempts, retry after %ds", e.Operation, e.RetryAfterSeconds)
}

// ProviderUnknownError is returned for a provider id that is not registered.
type ProviderUnknownError struct {
	ProviderID string
	Known      []string
}

func (e *ProviderUnknownError) Error() string {
	return fmt.Sprintf("unknown provider %q (supported: %s)", e.ProviderID, strings.Join(e.Known, ", "))
}

// StorageError wraps a failure of the persistence backend.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// DecryptionError means a stored record failed authentication: tampered
// ciphertext, wrong master key, or corruption. It is fatal for that read only.
type DecryptionError struct {
	Key CredentialKey
	Err error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("decrypt credential %s: %v", e.Key, e.Err)
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// NotFoundError reports that no credential exists at Key.
type NotFoundError struct {
	Key CredentialKey
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("credential %s not found", e.Key)
}

// Is lets errors.Is(err, ErrNotFound) match.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
