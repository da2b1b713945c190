package model

import (
	"sort"
	"time"
)

// Metadata keys written by the vault alongside each credential. Values are
// always non-secret.
const (
	MetaValidated     = "validated"
	MetaProviderUser  = "provider_user"
	MetaTokenPrefix   = "token_prefix"
	MetaTokenKind     = "token_kind"
	MetaClonedFrom    = "cloned_from"
	MetaGrantedScopes = "granted_scopes" // comma-separated OAuth scopes reported by the provider
)

// CredentialKey is the unique identity of a stored credential. An empty Scope
// addresses the provider's primary credential for the user.
type CredentialKey struct {
	UserID     string
	ProviderID string
	Scope      string
}

// String renders the key for log lines and error messages. It never
// contains secret material.
func (k CredentialKey) String() string {
	scope := k.Scope
	if scope == "" {
		scope = ScopePrimary
	}
	return k.UserID + "/" + k.ProviderID + "/" + scope
}

// EncryptedCredential is the persisted form of a credential. The plaintext
// secret is reconstructed from Ciphertext, IV and AuthTag only by the
// encrypted store.
type EncryptedCredential struct {
	Key        CredentialKey
	Ciphertext []byte
	IV         []byte
	AuthTag    []byte
	Metadata   map[string]string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Credential is the non-secret view of a stored credential returned by
// listing operations.
type Credential struct {
	Key       CredentialKey
	Metadata  map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Age returns how long ago the credential was last written.
func (c Credential) Age(now time.Time) time.Duration {
	return now.Sub(c.UpdatedAt)
}

// ProviderStatus aggregates the credentials a user holds for one provider.
type ProviderStatus struct {
	Count       int
	Scopes      []string
	LastUpdated time.Time
}

// VaultStatus is the aggregate view of a user's credentials.
type VaultStatus struct {
	TotalCredentials int
	Providers        []string
	ByProvider       map[string]ProviderStatus
}

// NewVaultStatus builds the aggregate status from a credential listing.
// Providers are sorted; scopes keep listing order.
func NewVaultStatus(creds []Credential) VaultStatus {
	status := VaultStatus{
		TotalCredentials: len(creds),
		Providers:        []string{},
		ByProvider:       make(map[string]ProviderStatus),
	}

	for _, c := range creds {
		ps, seen := status.ByProvider[c.Key.ProviderID]
		if !seen {
			status.Providers = append(status.Providers, c.Key.ProviderID)
			ps.Scopes = []string{}
		}
		ps.Count++
		scope := c.Key.Scope
		if scope == "" {
			scope = ScopePrimary
		}
		ps.Scopes = append(ps.Scopes, scope)
		if c.UpdatedAt.After(ps.LastUpdated) {
			ps.LastUpdated = c.UpdatedAt
		}
		status.ByProvider[c.Key.ProviderID] = ps
	}

	sort.Strings(status.Providers)
	return status
}
