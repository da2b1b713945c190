package provider

// Bitbucket validates Bitbucket access tokens and app passwords. App
// passwords carry no fixed prefix, so only length and charset are checked.
type Bitbucket struct {
	format tokenFormat
}

// NewBitbucket returns the Bitbucket provider.
func NewBitbucket() *Bitbucket {
	return &Bitbucket{format: tokenFormat{
		label:    "token",
		minLen:   20,
		maxLen:   255,
		body:     alphanumericSymbol,
		bodyDesc: "letters, digits, '_', '=' and '-'",
	}}
}

func (b *Bitbucket) ID() string          { return "bitbucket" }
func (b *Bitbucket) DisplayName() string { return "Bitbucket" }

func (b *Bitbucket) ValidateCredential(value string) Validation {
	return b.format.validate(value)
}

func (b *Bitbucket) AuthHeaders(value string) map[string]string {
	return bearer(value)
}

func (b *Bitbucket) RemediationHint() string {
	return "Create a repository, project or workspace **access token** in Bitbucket settings, " +
		"or an app password under *Personal settings → App passwords*."
}

func (b *Bitbucket) SupportsLiveValidation() bool { return false }
