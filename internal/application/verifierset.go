package application

import (
	"sort"
	"sync"

	"github.com/ericfisherdev/credvault/internal/domain/port/driven"
)

// VerifierSet holds the live validator for each provider and allows them to
// be swapped at runtime, for example when an enterprise API URL changes,
// without rebuilding the vault.
type VerifierSet struct {
	mu        sync.RWMutex
	verifiers map[string]driven.IdentityVerifier
}

// NewVerifierSet creates a set from the initial provider-to-verifier map.
// The map is copied and nil verifiers are skipped.
func NewVerifierSet(initial map[string]driven.IdentityVerifier) *VerifierSet {
	s := &VerifierSet{verifiers: make(map[string]driven.IdentityVerifier, len(initial))}
	for id, v := range initial {
		if v != nil {
			s.verifiers[id] = v
		}
	}
	return s
}

// Get returns the verifier registered for providerID, or nil.
func (s *VerifierSet) Get(providerID string) driven.IdentityVerifier {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.verifiers[providerID]
}

// Replace installs v for providerID. A nil v removes the verifier, after
// which writes for that provider are stored unverified.
func (s *VerifierSet) Replace(providerID string, v driven.IdentityVerifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v == nil {
		delete(s.verifiers, providerID)
		return
	}
	s.verifiers[providerID] = v
}

// Providers returns the ids that currently have a verifier, sorted.
func (s *VerifierSet) Providers() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.verifiers))
	for id := range s.verifiers {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	return ids
}
