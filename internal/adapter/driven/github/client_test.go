package github_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ghAdapter "github.com/ericfisherdev/credvault/internal/adapter/driven/github"
	"github.com/ericfisherdev/credvault/internal/domain/port/driven"
)

// newTestVerifier creates a Verifier backed by the given httptest handler.
func newTestVerifier(t *testing.T, handler http.Handler) *ghAdapter.Verifier {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	v, err := ghAdapter.NewVerifierWithHTTPClient(server.Client(), server.URL)
	require.NoError(t, err)

	return v
}

func TestVerifyToken_Success(t *testing.T) {
	var gotAuth string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-OAuth-Scopes", "repo, read:org")
		json.NewEncoder(w).Encode(map[string]any{"login": "octocat", "id": 1})
	})

	v := newTestVerifier(t, handler)
	identity, err := v.VerifyToken(context.Background(), "ghp_testtoken")

	require.NoError(t, err)
	require.NotNil(t, identity)
	assert.Equal(t, "octocat", identity.Login)
	assert.Equal(t, []string{"repo", "read:org"}, identity.Scopes)
	assert.Equal(t, "Bearer ghp_testtoken", gotAuth)
}

func TestVerifyToken_FineGrainedHasNoScopes(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"login": "octocat"})
	})

	v := newTestVerifier(t, handler)
	identity, err := v.VerifyToken(context.Background(), "github_pat_testtoken")

	require.NoError(t, err)
	assert.Empty(t, identity.Scopes)
}

func TestVerifyToken_Rejected(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"unauthorized", http.StatusUnauthorized},
		{"forbidden", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]string{"message": "Bad credentials"})
			})

			v := newTestVerifier(t, handler)
			_, err := v.VerifyToken(context.Background(), "ghp_revoked")

			require.Error(t, err)
			assert.True(t, errors.Is(err, driven.ErrCredentialRejected))
			assert.NotContains(t, err.Error(), "ghp_revoked")
		})
	}
}

func TestVerifyToken_RateLimitedIsNotRejection(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-RateLimit-Limit", "5000")
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", "4102444800")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"message": "API rate limit exceeded"})
	})

	v := newTestVerifier(t, handler)
	_, err := v.VerifyToken(context.Background(), "ghp_testtoken")

	require.Error(t, err)
	assert.False(t, errors.Is(err, driven.ErrCredentialRejected))
}

func TestVerifyToken_ServerErrorIsNotRejection(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	v := newTestVerifier(t, handler)
	_, err := v.VerifyToken(context.Background(), "ghp_testtoken")

	require.Error(t, err)
	assert.False(t, errors.Is(err, driven.ErrCredentialRejected))
}

func TestVerifyToken_ContextCanceled(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"login": "octocat"})
	})

	v := newTestVerifier(t, handler)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := v.VerifyToken(ctx, "ghp_testtoken")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewVerifierWithHTTPClient_InvalidBaseURL(t *testing.T) {
	_, err := ghAdapter.NewVerifierWithHTTPClient(http.DefaultClient, "not a url")
	assert.Error(t, err)
}

func TestNewVerifier_EnterpriseURL(t *testing.T) {
	v, err := ghAdapter.NewVerifier("https://ghe.example.com/api/v3")
	require.NoError(t, err)
	assert.NotNil(t, v)
}
