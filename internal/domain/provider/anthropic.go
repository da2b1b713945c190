package provider

const anthropicAPIVersion = "2023-06-01"

// Anthropic validates Anthropic API keys.
type Anthropic struct {
	format tokenFormat
}

// NewAnthropic returns the Anthropic provider.
func NewAnthropic() *Anthropic {
	return &Anthropic{format: tokenFormat{
		label:    "API key",
		prefixes: []string{"sk-ant-"},
		minLen:   40,
		maxLen:   255,
		body:     alphanumericDash,
		bodyDesc: "letters, digits, '_' and '-'",
	}}
}

func (a *Anthropic) ID() string          { return "anthropic" }
func (a *Anthropic) DisplayName() string { return "Anthropic" }

func (a *Anthropic) ValidateCredential(value string) Validation {
	return a.format.validate(value)
}

func (a *Anthropic) AuthHeaders(value string) map[string]string {
	return map[string]string{
		"x-api-key":         value,
		"anthropic-version": anthropicAPIVersion,
	}
}

func (a *Anthropic) RemediationHint() string {
	return "Create an API key in the [Anthropic Console](https://console.anthropic.com/settings/keys). " +
		"Keys start with `sk-ant-`."
}

func (a *Anthropic) SupportsLiveValidation() bool { return false }
