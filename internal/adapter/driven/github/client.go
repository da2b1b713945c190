// Package github implements the IdentityVerifier port using the go-github library.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v82/github"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"

	"github.com/ericfisherdev/credvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.IdentityVerifier = (*Verifier)(nil)

// Verifier confirms GitHub tokens by asking the API who they belong to.
// One Verifier serves every token; the token is attached per call.
type Verifier struct {
	httpClient *http.Client
	baseURL    *url.URL // nil targets api.github.com.
}

// NewVerifier creates a Verifier with the following transport stack:
//  1. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  2. go-github (GitHub REST API client, token attached per call)
//
// baseURL is optional and selects a GitHub Enterprise API root.
func NewVerifier(baseURL string) (*Verifier, error) {
	rateLimitClient := github_ratelimit.NewClient(http.DefaultTransport)
	return NewVerifierWithHTTPClient(rateLimitClient, baseURL)
}

// NewVerifierWithHTTPClient creates a Verifier with a custom http.Client and base URL.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewVerifierWithHTTPClient(httpClient *http.Client, baseURL string) (*Verifier, error) {
	v := &Verifier{httpClient: httpClient}
	if baseURL == "" {
		return v, nil
	}

	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("parsing base URL: %q is not absolute", baseURL)
	}
	v.baseURL = u
	return v, nil
}

// VerifyToken resolves the account that token authenticates as. A 401 or a
// plain 403 yields driven.ErrCredentialRejected. Rate limiting and transport
// failures are returned as ordinary errors.
func (v *Verifier) VerifyToken(ctx context.Context, token string) (*driven.ProviderIdentity, error) {
	client := gh.NewClient(v.httpClient).WithAuthToken(token)
	if v.baseURL != nil {
		client.BaseURL = v.baseURL
	}

	user, resp, err := client.Users.Get(ctx, "")
	if err != nil {
		return nil, classifyError(err)
	}

	logRateLimit(resp)

	return &driven.ProviderIdentity{
		Login:  user.GetLogin(),
		Scopes: parseScopes(resp),
	}, nil
}

// classifyError separates rejected credentials from conditions that only
// mean the token could not be checked right now.
func classifyError(err error) error {
	var rateErr *gh.RateLimitError
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return fmt.Errorf("github rate limited: %w", err)
	}

	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch respErr.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("github %d: %w", respErr.Response.StatusCode, driven.ErrCredentialRejected)
		}
	}

	return fmt.Errorf("fetching authenticated github user: %w", err)
}

// parseScopes reads the classic token scopes header. Fine-grained tokens
// do not send it and yield an empty slice.
func parseScopes(resp *gh.Response) []string {
	scopes := []string{}
	if resp == nil {
		return scopes
	}
	for _, s := range strings.Split(resp.Header.Get("X-OAuth-Scopes"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	return scopes
}

func logRateLimit(resp *gh.Response) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", "user",
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Limit > 0 && resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}
