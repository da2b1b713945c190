package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ericfisherdev/credvault/internal/application"
	"github.com/ericfisherdev/credvault/internal/domain/model"
)

// --- Result types ---

type setResult struct {
	Success      bool   `json:"success"`
	Provider     string `json:"provider"`
	Scope        string `json:"scope"`
	MaskedValue  string `json:"masked_value"`
	Validated    bool   `json:"validated"`
	ProviderUser string `json:"provider_user,omitempty"`
	Warning      string `json:"warning,omitempty"`
	UpdatedAt    string `json:"updated_at"`
}

type getResult struct {
	Success     bool   `json:"success"`
	Provider    string `json:"provider"`
	Scope       string `json:"scope"`
	MaskedValue string `json:"masked_value,omitempty"`
	Reason      string `json:"reason,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

type deleteResult struct {
	Success           bool   `json:"success"`
	Removed           bool   `json:"removed"`
	NeedsConfirmation bool   `json:"needs_confirmation,omitempty"`
	Message           string `json:"message,omitempty"`
}

type listEntry struct {
	Provider  string            `json:"provider"`
	Scope     string            `json:"scope"`
	Metadata  map[string]string `json:"metadata"`
	UpdatedAt string            `json:"updated_at"`
}

type listResult struct {
	Credentials []listEntry `json:"credentials"`
	Total       int         `json:"total"`
}

type providerStatus struct {
	Count       int      `json:"count"`
	Scopes      []string `json:"scopes"`
	LastUpdated string   `json:"last_updated"`
}

type statusResult struct {
	ConfiguredProviders []string                  `json:"configured_providers"`
	TotalCredentials    int                       `json:"total_credentials"`
	ByProvider          map[string]providerStatus `json:"by_provider"`
}

type validateResult struct {
	Valid         bool     `json:"valid"`
	Reason        string   `json:"reason,omitempty"`
	Hint          string   `json:"hint,omitempty"`
	LiveChecked   bool     `json:"live_checked"`
	ProviderUser  string   `json:"provider_user,omitempty"`
	GrantedScopes []string `json:"granted_scopes,omitempty"`
	Warning       string   `json:"warning,omitempty"`
}

// --- Handlers ---

func (s *VaultServer) handleSet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	providerID, err := req.RequireString("provider")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	value, err := req.RequireString("value")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	userID, errResult := s.userID(req)
	if errResult != nil {
		return errResult, nil
	}

	res, err := s.vault.SetCredential(ctx, application.SetRequest{
		ProviderID:         providerID,
		Value:              value,
		UserID:             userID,
		Scope:              req.GetString("scope", ""),
		SkipLiveValidation: req.GetBool("skip_live_validation", false),
	})
	if err != nil {
		return s.toolError(ToolSet, err), nil
	}
	return marshalResult(toSetResult(res))
}

func (s *VaultServer) handleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	providerID, err := req.RequireString("provider")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	userID, errResult := s.userID(req)
	if errResult != nil {
		return errResult, nil
	}

	res, err := s.vault.GetCredential(ctx, providerID, userID, req.GetString("scope", ""))
	if err != nil {
		return s.toolError(ToolGet, err), nil
	}
	return marshalResult(getResult{
		Success:     res.Success,
		Provider:    res.ProviderID,
		Scope:       res.Scope,
		MaskedValue: res.MaskedValue,
		Reason:      res.Reason,
		UpdatedAt:   formatTime(res.UpdatedAt),
	})
}

func (s *VaultServer) handleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	providerID, err := req.RequireString("provider")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	userID, errResult := s.userID(req)
	if errResult != nil {
		return errResult, nil
	}

	res, err := s.vault.DeleteCredential(ctx, providerID, userID, req.GetString("scope", ""), req.GetBool("confirm", false))
	if err != nil {
		return s.toolError(ToolDelete, err), nil
	}
	return marshalResult(deleteResult(res))
}

func (s *VaultServer) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, errResult := s.userID(req)
	if errResult != nil {
		return errResult, nil
	}

	res, err := s.vault.ListCredentials(ctx, userID)
	if err != nil {
		return s.toolError(ToolList, err), nil
	}

	out := listResult{Credentials: make([]listEntry, 0, len(res.Credentials)), Total: res.Total}
	for _, c := range res.Credentials {
		meta := c.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		out.Credentials = append(out.Credentials, listEntry{
			Provider:  c.ProviderID,
			Scope:     c.Scope,
			Metadata:  meta,
			UpdatedAt: formatTime(c.UpdatedAt),
		})
	}
	return marshalResult(out)
}

func (s *VaultServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, errResult := s.userID(req)
	if errResult != nil {
		return errResult, nil
	}

	res, err := s.vault.GetStatus(ctx, userID)
	if err != nil {
		return s.toolError(ToolStatus, err), nil
	}

	out := statusResult{
		ConfiguredProviders: res.ConfiguredProviders,
		TotalCredentials:    res.TotalCredentials,
		ByProvider:          make(map[string]providerStatus, len(res.ByProvider)),
	}
	if out.ConfiguredProviders == nil {
		out.ConfiguredProviders = []string{}
	}
	for id, ps := range res.ByProvider {
		out.ByProvider[id] = providerStatus{
			Count:       ps.Count,
			Scopes:      ps.Scopes,
			LastUpdated: formatTime(ps.LastUpdated),
		}
	}
	return marshalResult(out)
}

func (s *VaultServer) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	providerID, err := req.RequireString("provider")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	value, err := req.RequireString("value")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.vault.ValidateCredential(ctx, application.ValidateRequest{
		ProviderID:         providerID,
		Value:              value,
		UserID:             req.GetString("user_id", s.defaultUser),
		SkipLiveValidation: req.GetBool("skip_live_validation", false),
	})
	if err != nil {
		return s.toolError(ToolValidate, err), nil
	}
	return marshalResult(validateResult(res))
}

func (s *VaultServer) handleClone(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	providerID, err := req.RequireString("provider")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	toScope, err := req.RequireString("to_scope")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	userID, errResult := s.userID(req)
	if errResult != nil {
		return errResult, nil
	}

	res, err := s.vault.CloneCredential(ctx, application.CloneRequest{
		ProviderID: providerID,
		UserID:     userID,
		FromScope:  req.GetString("from_scope", ""),
		ToScope:    toScope,
	})
	if err != nil {
		return s.toolError(ToolClone, err), nil
	}
	return marshalResult(toSetResult(res))
}

// --- Helpers ---

// userID resolves the caller's user id, falling back to the configured
// default user.
func (s *VaultServer) userID(req mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	id := req.GetString("user_id", "")
	if id == "" {
		id = s.defaultUser
	}
	if id == "" {
		return "", mcp.NewToolResultError("user_id is required (no default user configured)")
	}
	return id, nil
}

// toolError converts a vault error into a tool error result. Storage and
// decryption details are logged but not returned to the client.
func (s *VaultServer) toolError(tool string, err error) *mcp.CallToolResult {
	var (
		verr    *model.ValidationError
		rlErr   *model.RateLimitError
		unknown *model.ProviderUnknownError
		decErr  *model.DecryptionError
		stErr   *model.StorageError
	)

	switch {
	case errors.As(err, &verr):
		msg := verr.Error()
		if verr.Hint != "" {
			msg += "\nhint: " + verr.Hint
		}
		return mcp.NewToolResultError(msg)
	case errors.As(err, &rlErr):
		return mcp.NewToolResultError(fmt.Sprintf("rate limited: %s (retry_after_seconds=%d)", rlErr.Error(), rlErr.RetryAfterSeconds))
	case errors.As(err, &unknown):
		return mcp.NewToolResultError(unknown.Error())
	case errors.Is(err, model.ErrNotFound):
		return mcp.NewToolResultError(err.Error())
	case errors.As(err, &decErr):
		s.logger.Error("stored credential unreadable", "tool", tool, "error", err)
		return mcp.NewToolResultError("stored credential is unreadable; set it again")
	case errors.As(err, &stErr):
		s.logger.Error("storage failure", "tool", tool, "error", err)
		return mcp.NewToolResultError("credential storage is unavailable")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return mcp.NewToolResultError("request canceled")
	default:
		s.logger.Error("tool failed", "tool", tool, "error", err)
		return mcp.NewToolResultError("internal error")
	}
}

// marshalResult serializes v as a JSON tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}

func toSetResult(res application.SetResult) setResult {
	return setResult{
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

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
