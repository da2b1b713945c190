package provider

// OpenAI validates OpenAI API keys, including project-scoped sk-proj- keys.
type OpenAI struct {
	format tokenFormat
}

// NewOpenAI returns the OpenAI provider.
func NewOpenAI() *OpenAI {
	return &OpenAI{format: tokenFormat{
		label:    "API key",
		prefixes: []string{"sk-"},
		minLen:   20,
		maxLen:   255,
		body:     alphanumericDash,
		bodyDesc: "letters, digits, '_' and '-'",
	}}
}

func (o *OpenAI) ID() string          { return "openai" }
func (o *OpenAI) DisplayName() string { return "OpenAI" }

func (o *OpenAI) ValidateCredential(value string) Validation {
	return o.format.validate(value)
}

func (o *OpenAI) AuthHeaders(value string) map[string]string {
	return bearer(value)
}

func (o *OpenAI) RemediationHint() string {
	return "Create an API key at [platform.openai.com/api-keys](https://platform.openai.com/api-keys). " +
		"Keys start with `sk-`."
}

func (o *OpenAI) SupportsLiveValidation() bool { return false }
