package provider

import (
	"regexp"
	"strings"

	"github.com/ericfisherdev/credvault/internal/domain/model"
)

const githubFineGrainedPrefix = "github_pat_"

var githubTokenKinds = map[string]string{
	"ghp_":                  "personal_access_token",
	"gho_":                  "oauth_access_token",
	"ghu_":                  "user_to_server_token",
	"ghs_":                  "server_to_server_token",
	"ghr_":                  "refresh_token",
	"ghb_":                  "token",
	"ghc_":                  "token",
	githubFineGrainedPrefix: "fine_grained_personal_access_token",
}

// GitHub validates classic and fine-grained GitHub tokens. It is the only
// built-in provider with live validation.
type GitHub struct {
	classic     tokenFormat
	fineGrained tokenFormat
}

// NewGitHub returns the GitHub provider.
func NewGitHub() *GitHub {
	return &GitHub{
		classic: tokenFormat{
			label:    "token",
			prefixes: []string{"ghp_", "gho_", "ghu_", "ghs_", "ghr_", "ghb_", "ghc_"},
			minLen:   36,
			maxLen:   255,
			body:     alphanumeric,
			bodyDesc: "letters and digits",
		},
		fineGrained: tokenFormat{
			label:    "token",
			prefixes: []string{githubFineGrainedPrefix},
			minLen:   36,
			maxLen:   255,
			body:     regexp.MustCompile(`^[A-Za-z0-9_]+$`),
			bodyDesc: "letters, digits and underscores",
		},
	}
}

func (g *GitHub) ID() string          { return "github" }
func (g *GitHub) DisplayName() string { return "GitHub" }

func (g *GitHub) ValidateCredential(value string) Validation {
	if strings.HasPrefix(value, githubFineGrainedPrefix) {
		return g.fineGrained.validate(value)
	}
	return g.classic.validate(value)
}

func (g *GitHub) AuthHeaders(value string) map[string]string {
	h := bearer(value)
	h["Accept"] = "application/vnd.github+json"
	h["X-GitHub-Api-Version"] = "2022-11-28"
	return h
}

func (g *GitHub) RemediationHint() string {
	return "Create a token under **Settings → Developer settings → Personal access tokens** " +
		"at [github.com/settings/tokens](https://github.com/settings/tokens). " +
		"Classic tokens start with `ghp_`; fine-grained tokens start with `github_pat_`."
}

func (g *GitHub) SupportsLiveValidation() bool { return true }

// Metadata reports the token prefix and the kind of token it denotes.
func (g *GitHub) Metadata(value string) map[string]string {
	prefix, ok := g.fineGrained.matchPrefix(value)
	if !ok {
		prefix, ok = g.classic.matchPrefix(value)
	}
	if !ok {
		return map[string]string{}
	}
	return map[string]string{
		model.MetaTokenPrefix: prefix,
		model.MetaTokenKind:   githubTokenKinds[prefix],
	}
}
