package application

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/credvault/internal/domain/model"
	"github.com/ericfisherdev/credvault/internal/domain/port/driven"
	"github.com/ericfisherdev/credvault/internal/domain/provider"
)

// --- in-memory CredentialBackend ---

type memBackend struct {
	mu   sync.Mutex
	rows map[model.CredentialKey]model.EncryptedCredential
	err  error // returned by every call when set
}

func newMemBackend() *memBackend {
	return &memBackend{rows: make(map[model.CredentialKey]model.EncryptedCredential)}
}

func (m *memBackend) Upsert(_ context.Context, rec model.EncryptedCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if existing, ok := m.rows[rec.Key]; ok {
		rec.CreatedAt = existing.CreatedAt
	}
	rec.Metadata = maps.Clone(rec.Metadata)
	m.rows[rec.Key] = rec
	return nil
}

func (m *memBackend) SelectByKey(_ context.Context, key model.CredentialKey) (*model.EncryptedCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	rec, ok := m.rows[key]
	if !ok {
		return nil, nil
	}
	rec.Metadata = maps.Clone(rec.Metadata)
	return &rec, nil
}

func (m *memBackend) SelectAllByUser(_ context.Context, userID string) ([]model.EncryptedCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := []model.EncryptedCredential{}
	for k, rec := range m.rows {
		if k.UserID == userID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.ProviderID != out[j].Key.ProviderID {
			return out[i].Key.ProviderID < out[j].Key.ProviderID
		}
		return out[i].Key.Scope < out[j].Key.Scope
	})
	return out, nil
}

func (m *memBackend) DeleteByKey(_ context.Context, key model.CredentialKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	_, ok := m.rows[key]
	delete(m.rows, key)
	return ok, nil
}

func (m *memBackend) SelectUpdatedBefore(_ context.Context, cutoff time.Time) ([]model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := []model.Credential{}
	for _, rec := range m.rows {
		if rec.UpdatedAt.Before(cutoff) {
			out = append(out, toCredential(rec))
		}
	}
	return out, nil
}

func (m *memBackend) raw(key model.CredentialKey) (model.EncryptedCredential, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[key]
	return rec, ok
}

func (m *memBackend) put(rec model.EncryptedCredential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[rec.Key] = rec
}

func (m *memBackend) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// --- IdentityVerifier stub ---

type stubVerifier struct {
	calls  atomic.Int32
	verify func(ctx context.Context, token string) (*driven.ProviderIdentity, error)
}

func (s *stubVerifier) VerifyToken(ctx context.Context, token string) (*driven.ProviderIdentity, error) {
	s.calls.Add(1)
	if s.verify == nil {
		return &driven.ProviderIdentity{Login: "octocat"}, nil
	}
	return s.verify(ctx, token)
}

var errUpstream = errors.New("upstream unavailable")

// --- fixtures ---

const testUser = "user-1"

func testGitHubToken(fill string) string {
	return "ghp_" + string(bytes.Repeat([]byte(fill), 36))
}

func testOpenAIKey() string {
	return "sk-" + string(bytes.Repeat([]byte("k"), 40))
}

func testCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := NewCipherFromKey(bytes.Repeat([]byte{0x42}, keyLength))
	require.NoError(t, err)
	return c
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testVault struct {
	svc     *VaultService
	backend *memBackend
	limiter *RateLimiter
	cache   *ValidationCache
}

func newTestVault(t *testing.T, verifiers map[string]driven.IdentityVerifier) testVault {
	t.Helper()

	backend := newMemBackend()
	limiter := NewRateLimiter(DefaultRateLimitAttempts, DefaultRateLimitWindow)
	cache := NewValidationCache(DefaultValidationCacheTTL)
	svc := NewVaultService(VaultDeps{
		Registry:  provider.NewDefaultRegistry(),
		Store:     NewEncryptedStore(backend, testCipher(t)),
		Limiter:   limiter,
		Cache:     cache,
		Verifiers: NewVerifierSet(verifiers),
		Usage:     NewUsageTracker(),
		Logger:    discardLogger(),
	})
	return testVault{svc: svc, backend: backend, limiter: limiter, cache: cache}
}
