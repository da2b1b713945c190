package httphandler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/credvault/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/credvault/internal/adapter/driving/http"
	"github.com/ericfisherdev/credvault/internal/application"
	"github.com/ericfisherdev/credvault/internal/domain/port/driven"
	"github.com/ericfisherdev/credvault/internal/domain/provider"
)

// --- Test doubles ---

type stubVerifier struct {
	err error
}

func (s *stubVerifier) VerifyToken(_ context.Context, _ string) (*driven.ProviderIdentity, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &driven.ProviderIdentity{Login: "octocat"}, nil
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("database is closed") }

// --- Fixtures ---

var (
	githubToken = "ghp_" + strings.Repeat("a", 36)
	openAIKey   = "sk-" + strings.Repeat("k", 40)
)

type testEnv struct {
	server *httptest.Server
	db     *sqlite.DB
}

func newTestEnv(t *testing.T, verifier driven.IdentityVerifier) testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.NewDB(ctx, filepath.Join(t.TempDir(), "credvault.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = sqlite.RunMigrations(db.Writer)
	require.NoError(t, err)

	cipher, err := application.NewCipherFromKey(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)

	repo := sqlite.NewCredentialRepo(db)
	store := application.NewEncryptedStore(repo, cipher)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	verifiers := map[string]driven.IdentityVerifier{}
	if verifier != nil {
		verifiers["github"] = verifier
	}

	vault := application.NewVaultService(application.VaultDeps{
		Registry:  provider.NewDefaultRegistry(),
		Store:     store,
		Verifiers: application.NewVerifierSet(verifiers),
		Usage:     application.NewUsageTracker(),
		Logger:    logger,
	})
	rotation := application.NewRotationService(store, repo, 0, logger)

	h, err := httphandler.NewHandler(vault, rotation, db, logger)
	require.NoError(t, err)

	server := httptest.NewServer(httphandler.NewServeMux(h, logger))
	t.Cleanup(server.Close)

	return testEnv{server: server, db: db}
}

func (e testEnv) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp, decoded
}

func (e testEnv) doList(t *testing.T, path string) []map[string]any {
	t.Helper()

	resp, err := e.server.Client().Get(e.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// --- Tests ---

func TestSetAndGetCredential(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodPut, "/api/v1/users/alice/credentials/openai", map[string]any{"value": openAIKey})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "sk-k...kkkk", body["masked_value"])
	assert.Equal(t, "primary", body["scope"])

	resp, body = env.do(t, http.MethodGet, "/api/v1/users/alice/credentials/openai", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "sk-k...kkkk", body["masked_value"])
	assert.NotContains(t, body, "value")
}

func TestSetCredential_NeverEchoesSecret(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{
		"/api/v1/users/alice/credentials/openai",
		"/api/v1/users/alice/credentials/github",
	} {
		req, err := http.NewRequest(http.MethodPut, env.server.URL+path, strings.NewReader(`{"value":"`+openAIKey+`"}`))
		require.NoError(t, err)
		resp, err := env.server.Client().Do(req)
		require.NoError(t, err)
		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		assert.NotContains(t, string(raw), openAIKey)
	}
}

func TestSetCredential_ValidationError(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodPut, "/api/v1/users/alice/credentials/github", map[string]any{"value": "ghp_short"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body["error"], "minimum length")
	assert.NotEmpty(t, body["hint"])
	assert.NotEmpty(t, body["request_id"])
}

func TestSetCredential_SchemaViolations(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		body any
	}{
		{"missing value", map[string]any{"scope": "project:web"}},
		{"wrong type", map[string]any{"value": 42}},
		{"unknown field", map[string]any{"value": openAIKey, "admin": true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPut, "/api/v1/users/alice/credentials/openai", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "request body does not match schema", body["error"])
			assert.NotEmpty(t, body["violations"])
		})
	}

	resp, body := env.do(t, http.MethodPut, "/api/v1/users/alice/credentials/openai", "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid request body", body["error"])
}

func TestSetCredential_UnknownProvider(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodPut, "/api/v1/users/alice/credentials/dropbox", map[string]any{"value": "whatever-token-value"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body["known_providers"], "github")
}

func TestSetCredential_RateLimited(t *testing.T) {
	env := newTestEnv(t, nil)
	bad := map[string]any{"value": "ghp_short"}

	for range application.DefaultRateLimitAttempts {
		resp, _ := env.do(t, http.MethodPut, "/api/v1/users/alice/credentials/github", bad)
		require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	}

	resp, body := env.do(t, http.MethodPut, "/api/v1/users/alice/credentials/github", bad)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))
	assert.Equal(t, float64(60), body["retry_after_seconds"])
}

func TestSetCredential_LiveValidation(t *testing.T) {
	env := newTestEnv(t, &stubVerifier{})

	resp, body := env.do(t, http.MethodPut, "/api/v1/users/alice/credentials/github", map[string]any{"value": githubToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["validated"])
	assert.Equal(t, "octocat", body["provider_user"])
}

func TestSetCredential_LiveRejection(t *testing.T) {
	env := newTestEnv(t, &stubVerifier{err: driven.ErrCredentialRejected})

	resp, body := env.do(t, http.MethodPut, "/api/v1/users/alice/credentials/github", map[string]any{"value": githubToken})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body["error"], "rejected")
}

func TestGetCredential_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodGet, "/api/v1/users/alice/credentials/github?scope=project:web", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, application.ReasonNotFound, body["reason"])
	assert.Equal(t, "project:web", body["scope"])
}

func TestDeleteCredential_RequiresConfirm(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPut, "/api/v1/users/alice/credentials/openai", map[string]any{"value": openAIKey})

	resp, body := env.do(t, http.MethodDelete, "/api/v1/users/alice/credentials/openai", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, true, body["needs_confirmation"])
	assert.Equal(t, false, body["success"])

	resp, _ = env.do(t, http.MethodGet, "/api/v1/users/alice/credentials/openai", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = env.do(t, http.MethodDelete, "/api/v1/users/alice/credentials/openai?confirm=true", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["removed"])

	resp, body = env.do(t, http.MethodGet, "/api/v1/users/alice/credentials/openai", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["reason"])

	resp, _ = env.do(t, http.MethodDelete, "/api/v1/users/alice/credentials/openai?confirm=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListAndStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPut, "/api/v1/users/alice/credentials/openai", map[string]any{"value": openAIKey})
	env.do(t, http.MethodPut, "/api/v1/users/alice/credentials/openai", map[string]any{"value": openAIKey, "scope": "project:web:prod"})

	resp, body := env.do(t, http.MethodGet, "/api/v1/users/alice/credentials", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["total"])
	creds := body["credentials"].([]any)
	require.Len(t, creds, 2)
	second := creds[1].(map[string]any)
	assert.Equal(t, "project:web:prod", second["scope"])
	assert.NotContains(t, second, "masked_value")

	resp, body = env.do(t, http.MethodGet, "/api/v1/users/alice/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["total_credentials"])
	assert.Equal(t, []any{"openai"}, body["configured_providers"])

	resp, body = env.do(t, http.MethodGet, "/api/v1/users/bob/credentials", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["total"])
	assert.Equal(t, []any{}, body["credentials"])
}

func TestValidateCredential(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodPost, "/api/v1/credentials/validate", map[string]any{"provider": "openai", "value": openAIKey})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["valid"])

	resp, body = env.do(t, http.MethodPost, "/api/v1/credentials/validate", map[string]any{"provider": "github", "value": "nope"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["valid"])
	assert.NotEmpty(t, body["reason"])

	resp, _ = env.do(t, http.MethodGet, "/api/v1/users/alice/credentials", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCloneCredential(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPut, "/api/v1/users/alice/credentials/openai", map[string]any{"value": openAIKey})

	resp, body := env.do(t, http.MethodPost, "/api/v1/users/alice/credentials/openai/clone", map[string]any{"to_scope": "project:web"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "project:web", body["scope"])

	resp, _ = env.do(t, http.MethodGet, "/api/v1/users/alice/credentials/openai?scope=project:web", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/users/alice/credentials/github/clone", map[string]any{"to_scope": "project:web"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListProviders(t *testing.T) {
	env := newTestEnv(t, &stubVerifier{})

	providers := env.doList(t, "/api/v1/providers")
	require.Len(t, providers, len(provider.NewDefaultRegistry().IDs()))

	byID := map[string]map[string]any{}
	for _, p := range providers {
		byID[p["id"].(string)] = p
	}
	gh := byID["github"]
	require.NotNil(t, gh)
	assert.Equal(t, true, gh["supports_live_validation"])
	assert.Equal(t, true, gh["live_validation_enabled"])
	assert.NotEmpty(t, gh["hint_html"])
	assert.NotContains(t, gh["hint_html"], "<script")
	assert.Equal(t, false, byID["openai"]["live_validation_enabled"])
}

func TestUsageAndRotation(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPut, "/api/v1/users/alice/credentials/openai", map[string]any{"value": openAIKey})
	env.do(t, http.MethodGet, "/api/v1/users/alice/credentials/openai", nil)

	usage := env.doList(t, "/api/v1/users/alice/usage")
	require.Len(t, usage, 1)
	assert.Equal(t, "openai", usage[0]["provider"])
	assert.Equal(t, "primary", usage[0]["scope"])

	notices := env.doList(t, "/api/v1/users/alice/rotation")
	assert.Empty(t, notices)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestHealth_StorageDown(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h, err := httphandler.NewHandler(nil, nil, failingPinger{}, logger)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	httphandler.NewServeMux(h, logger).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, _ := env.do(t, http.MethodGet, "/api/v1/health", nil)
	_, err := uuid.Parse(resp.Header.Get(httphandler.RequestIDHeader))
	assert.NoError(t, err)

	id := uuid.NewString()
	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/api/v1/health", nil)
	require.NoError(t, err)
	req.Header.Set(httphandler.RequestIDHeader, id)
	resp, err = env.server.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, id, resp.Header.Get(httphandler.RequestIDHeader))

	req.Header.Set(httphandler.RequestIDHeader, "<script>")
	resp, err = env.server.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEqual(t, "<script>", resp.Header.Get(httphandler.RequestIDHeader))
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h, err := httphandler.NewHandler(nil, nil, nil, logger)
	require.NoError(t, err)

	// A nil vault panics inside the handler.
	rec := httptest.NewRecorder()
	httphandler.NewServeMux(h, logger).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/providers", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}
