package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/credvault/internal/domain/model"
)

// CredentialBackend defines the driven port for encrypted credential
// persistence. Implementations only ever see ciphertext; encryption happens
// in the application layer. The backend must enforce uniqueness of
// (UserID, ProviderID, Scope).
type CredentialBackend interface {
	// Upsert inserts rec or, when a row with the same key exists, replaces
	// its payload and metadata and bumps UpdatedAt while keeping CreatedAt.
	Upsert(ctx context.Context, rec model.EncryptedCredential) error

	// SelectByKey returns the row for key. Returns (nil, nil) if none exists.
	SelectByKey(ctx context.Context, key model.CredentialKey) (*model.EncryptedCredential, error)

	// SelectAllByUser returns every row owned by userID, ordered by provider
	// then scope.
	SelectAllByUser(ctx context.Context, userID string) ([]model.EncryptedCredential, error)

	// DeleteByKey removes the row for key and reports whether one existed.
	DeleteByKey(ctx context.Context, key model.CredentialKey) (bool, error)
}

// StaleCredentialLister is an optional backend capability used for rotation
// reminders. Backends that cannot support it simply don't implement it.
type StaleCredentialLister interface {
	// SelectUpdatedBefore returns the non-secret view of every credential
	// last written before cutoff, across all users.
	SelectUpdatedBefore(ctx context.Context, cutoff time.Time) ([]model.Credential, error)
}
