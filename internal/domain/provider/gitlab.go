package provider

// GitLab validates GitLab personal, project and group access tokens.
type GitLab struct {
	format tokenFormat
}

// NewGitLab returns the GitLab provider.
func NewGitLab() *GitLab {
	return &GitLab{format: tokenFormat{
		label:    "token",
		prefixes: []string{"glpat-"},
		minLen:   20,
		maxLen:   255,
		body:     alphanumericDash,
		bodyDesc: "letters, digits, '_' and '-'",
	}}
}

func (g *GitLab) ID() string          { return "gitlab" }
func (g *GitLab) DisplayName() string { return "GitLab" }

func (g *GitLab) ValidateCredential(value string) Validation {
	return g.format.validate(value)
}

func (g *GitLab) AuthHeaders(value string) map[string]string {
	return map[string]string{"PRIVATE-TOKEN": value}
}

func (g *GitLab) RemediationHint() string {
	return "Create a personal access token under **Preferences → Access tokens** in GitLab. " +
		"Tokens start with `glpat-`."
}

func (g *GitLab) SupportsLiveValidation() bool { return false }
