package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/credvault/internal/application"
	"github.com/ericfisherdev/credvault/internal/domain/model"
	"github.com/ericfisherdev/credvault/internal/domain/provider"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error             string   `json:"error"`
	Hint              string   `json:"hint,omitempty"`
	KnownProviders    []string `json:"known_providers,omitempty"`
	RetryAfterSeconds int      `json:"retry_after_seconds,omitempty"`
	Violations        []string `json:"violations,omitempty"`
	RequestID         string   `json:"request_id,omitempty"`
}

// SetCredentialRequest is the body of PUT /users/{user}/credentials/{provider}.
type SetCredentialRequest struct {
	Value              string `json:"value"`
	Scope              string `json:"scope"`
	SkipLiveValidation bool   `json:"skip_live_validation"`
}

// ValidateCredentialRequest is the body of POST /credentials/validate.
type ValidateCredentialRequest struct {
	Provider           string `json:"provider"`
	Value              string `json:"value"`
	UserID             string `json:"user_id"`
	SkipLiveValidation bool   `json:"skip_live_validation"`
}

// CloneCredentialRequest is the body of POST /users/{user}/credentials/{provider}/clone.
type CloneCredentialRequest struct {
	FromScope string `json:"from_scope"`
	ToScope   string `json:"to_scope"`
}

// SetCredentialResponse is returned by set and clone.
type SetCredentialResponse struct {
	Success      bool   `json:"success"`
	Provider     string `json:"provider"`
	Scope        string `json:"scope"`
	MaskedValue  string `json:"masked_value"`
	Validated    bool   `json:"validated"`
	ProviderUser string `json:"provider_user,omitempty"`
	Warning      string `json:"warning,omitempty"`
	UpdatedAt    string `json:"updated_at"`
}

// GetCredentialResponse is the masked view of a stored credential.
type GetCredentialResponse struct {
	Success     bool   `json:"success"`
	Provider    string `json:"provider"`
	Scope       string `json:"scope"`
	MaskedValue string `json:"masked_value,omitempty"`
	Reason      string `json:"reason,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

// DeleteCredentialResponse reports the outcome of a delete.
type DeleteCredentialResponse struct {
	Success           bool   `json:"success"`
	Removed           bool   `json:"removed"`
	NeedsConfirmation bool   `json:"needs_confirmation,omitempty"`
	Message           string `json:"message,omitempty"`
}

// CredentialListingResponse describes one credential without secret material.
type CredentialListingResponse struct {
	Provider  string            `json:"provider"`
	Scope     string            `json:"scope"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt string            `json:"created_at"`
	UpdatedAt string            `json:"updated_at"`
}

// ListCredentialsResponse is the body of the list endpoint.
type ListCredentialsResponse struct {
	Credentials []CredentialListingResponse `json:"credentials"`
	Total       int                         `json:"total"`
}

// ProviderStatusResponse aggregates one provider's credentials.
type ProviderStatusResponse struct {
	Count       int      `json:"count"`
	Scopes      []string `json:"scopes"`
	LastUpdated string   `json:"last_updated"`
}

// StatusResponse is the body of the status endpoint.
type StatusResponse struct {
	ConfiguredProviders []string                          `json:"configured_providers"`
	TotalCredentials    int                               `json:"total_credentials"`
	ByProvider          map[string]ProviderStatusResponse `json:"by_provider"`
}

// ValidateCredentialResponse is the body of the validate endpoint.
type ValidateCredentialResponse struct {
	Valid         bool     `json:"valid"`
	Reason        string   `json:"reason,omitempty"`
	Hint          string   `json:"hint,omitempty"`
	LiveChecked   bool     `json:"live_checked"`
	ProviderUser  string   `json:"provider_user,omitempty"`
	GrantedScopes []string `json:"granted_scopes,omitempty"`
	Warning       string   `json:"warning,omitempty"`
}

// ProviderResponse describes a supported provider.
type ProviderResponse struct {
	ID                     string `json:"id"`
	DisplayName            string `json:"display_name"`
	SupportsLiveValidation bool   `json:"supports_live_validation"`
	LiveValidationEnabled  bool   `json:"live_validation_enabled"`
	Hint                   string `json:"hint"`
	HintHTML               string `json:"hint_html"`
}

// UsageResponse is one credential's operation counters.
type UsageResponse struct {
	Provider   string         `json:"provider"`
	Scope      string         `json:"scope"`
	Operations map[string]int `json:"operations"`
	LastUsed   string         `json:"last_used"`
}

// RotationNoticeResponse flags a credential due for rotation.
type RotationNoticeResponse struct {
	Provider  string `json:"provider"`
	Scope     string `json:"scope"`
	UpdatedAt string `json:"updated_at"`
	AgeDays   int    `json:"age_days"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toSetCredentialResponse(res application.SetResult) SetCredentialResponse {
	return SetCredentialResponse{
		Success:      res.Success,
		Provider:     res.ProviderID,
		Scope:        res.Scope,
		MaskedValue:  res.MaskedValue,
		Validated:    res.Validated,
		ProviderUser: res.ProviderUser,
		Warning:      res.Warning,
		UpdatedAt:    formatTime(res.UpdatedAt),
	}
}

func toGetCredentialResponse(res application.GetResult) GetCredentialResponse {
	return GetCredentialResponse{
		Success:     res.Success,
		Provider:    res.ProviderID,
		Scope:       res.Scope,
		MaskedValue: res.MaskedValue,
		Reason:      res.Reason,
		UpdatedAt:   formatTime(res.UpdatedAt),
	}
}

func toListCredentialsResponse(res application.ListResult) ListCredentialsResponse {
	out := ListCredentialsResponse{
		Credentials: make([]CredentialListingResponse, 0, len(res.Credentials)),
		Total:       res.Total,
	}
	for _, c := range res.Credentials {
		meta := c.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		out.Credentials = append(out.Credentials, CredentialListingResponse{
			Provider:  c.ProviderID,
			Scope:     c.Scope,
			Metadata:  meta,
			CreatedAt: formatTime(c.CreatedAt),
			UpdatedAt: formatTime(c.UpdatedAt),
		})
	}
	return out
}

func toStatusResponse(res application.StatusResult) StatusResponse {
	out := StatusResponse{
		ConfiguredProviders: res.ConfiguredProviders,
		TotalCredentials:    res.TotalCredentials,
		ByProvider:          make(map[string]ProviderStatusResponse, len(res.ByProvider)),
	}
	if out.ConfiguredProviders == nil {
		out.ConfiguredProviders = []string{}
	}
	for id, ps := range res.ByProvider {
		out.ByProvider[id] = toProviderStatusResponse(ps)
	}
	return out
}

func toProviderStatusResponse(ps model.ProviderStatus) ProviderStatusResponse {
	scopes := ps.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	return ProviderStatusResponse{
		Count:       ps.Count,
		Scopes:      scopes,
		LastUpdated: formatTime(ps.LastUpdated),
	}
}

func toValidateCredentialResponse(res application.ValidateResult) ValidateCredentialResponse {
	return ValidateCredentialResponse{
		Valid:         res.Valid,
		Reason:        res.Reason,
		Hint:          res.Hint,
		LiveChecked:   res.LiveChecked,
		ProviderUser:  res.ProviderUser,
		GrantedScopes: res.GrantedScopes,
		Warning:       res.Warning,
	}
}

func toProviderResponse(p provider.Provider, liveEnabled bool) ProviderResponse {
	hint := p.RemediationHint()
	return ProviderResponse{
		ID:                     p.ID(),
		DisplayName:            p.DisplayName(),
		SupportsLiveValidation: p.SupportsLiveValidation(),
		LiveValidationEnabled:  p.SupportsLiveValidation() && liveEnabled,
		Hint:                   hint,
		HintHTML:               RenderMarkdown(hint),
	}
}

func toUsageResponse(e application.UsageEntry) UsageResponse {
	scope := e.Scope
	if scope == "" {
		scope = model.ScopePrimary
	}
	return UsageResponse{
		Provider:   e.ProviderID,
		Scope:      scope,
		Operations: e.Operations,
		LastUsed:   formatTime(e.LastUsed),
	}
}

func toRotationNoticeResponse(n application.RotationNotice) RotationNoticeResponse {
	return RotationNoticeResponse{
		Provider:  n.ProviderID,
		Scope:     n.Scope,
		UpdatedAt: formatTime(n.UpdatedAt),
		AgeDays:   int(n.Age.Hours() / 24),
	}
}
