package application

import (
	"context"
	"maps"
	"time"

	"github.com/ericfisherdev/credvault/internal/domain/model"
	"github.com/ericfisherdev/credvault/internal/domain/port/driven"
)

// EncryptedStore is the only component that handles plaintext secrets on
// their way to and from the backend. Backend failures surface as
// *model.StorageError and authentication failures as *model.DecryptionError.
type EncryptedStore struct {
	backend driven.CredentialBackend
	cipher  *Cipher
	now     func() time.Time
}

// NewEncryptedStore creates an EncryptedStore over backend.
func NewEncryptedStore(backend driven.CredentialBackend, c *Cipher) *EncryptedStore {
	return &EncryptedStore{
		backend: backend,
		cipher:  c,
		now:     time.Now,
	}
}

// Store encrypts plaintext and upserts it at key, replacing any previous
// payload and metadata. It returns the non-secret view of the stored row.
func (s *EncryptedStore) Store(ctx context.Context, key model.CredentialKey, plaintext string, metadata map[string]string) (model.Credential, error) {
	ciphertext, iv, tag, err := s.cipher.Seal(key, plaintext)
	if err != nil {
		return model.Credential{}, err
	}

	now := s.now().UTC()
	meta := maps.Clone(metadata)
	if meta == nil {
		meta = map[string]string{}
	}

	rec := model.EncryptedCredential{
		Key:        key,
		Ciphertext: ciphertext,
		IV:         iv,
		AuthTag:    tag,
		Metadata:   meta,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.backend.Upsert(ctx, rec); err != nil {
		return model.Credential{}, &model.StorageError{Op: "upsert", Err: err}
	}

	stored, err := s.backend.SelectByKey(ctx, key)
	if err != nil {
		return model.Credential{}, &model.StorageError{Op: "select", Err: err}
	}
	if stored == nil {
		return toCredential(rec), nil
	}
	return toCredential(*stored), nil
}

// Get returns the plaintext at key. found is false when no row exists.
func (s *EncryptedStore) Get(ctx context.Context, key model.CredentialKey) (plaintext string, found bool, err error) {
	plaintext, cred, err := s.GetWithMetadata(ctx, key)
	if err != nil || cred == nil {
		return "", false, err
	}
	return plaintext, true, nil
}

// GetWithMetadata returns the plaintext and the non-secret view of the row
// at key. The credential is nil when no row exists.
func (s *EncryptedStore) GetWithMetadata(ctx context.Context, key model.CredentialKey) (string, *model.Credential, error) {
	rec, err := s.backend.SelectByKey(ctx, key)
	if err != nil {
		return "", nil, &model.StorageError{Op: "select", Err: err}
	}
	if rec == nil {
		return "", nil, nil
	}

	plaintext, err := s.cipher.Open(rec.Key, rec.Ciphertext, rec.IV, rec.AuthTag)
	if err != nil {
		return "", nil, err
	}
	cred := toCredential(*rec)
	return plaintext, &cred, nil
}

// Delete removes the row at key and reports whether one existed.
func (s *EncryptedStore) Delete(ctx context.Context, key model.CredentialKey) (bool, error) {
	removed, err := s.backend.DeleteByKey(ctx, key)
	if err != nil {
		return false, &model.StorageError{Op: "delete", Err: err}
	}
	return removed, nil
}

// List returns the non-secret view of every credential owned by userID.
// Nothing is decrypted.
func (s *EncryptedStore) List(ctx context.Context, userID string) ([]model.Credential, error) {
	recs, err := s.backend.SelectAllByUser(ctx, userID)
	if err != nil {
		return nil, &model.StorageError{Op: "select all", Err: err}
	}

	creds := make([]model.Credential, 0, len(recs))
	for _, rec := range recs {
		creds = append(creds, toCredential(rec))
	}
	return creds, nil
}

// Status aggregates List into per-provider counts.
func (s *EncryptedStore) Status(ctx context.Context, userID string) (model.VaultStatus, error) {
	creds, err := s.List(ctx, userID)
	if err != nil {
		return model.VaultStatus{}, err
	}
	return model.NewVaultStatus(creds), nil
}

func toCredential(rec model.EncryptedCredential) model.Credential {
	meta := maps.Clone(rec.Metadata)
	if meta == nil {
		meta = map[string]string{}
	}
	return model.Credential{
		Key:       rec.Key,
		Metadata:  meta,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}
