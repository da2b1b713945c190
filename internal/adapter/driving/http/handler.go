// Package httphandler is the REST driving adapter for the credential vault.
package httphandler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ericfisherdev/credvault/internal/application"
	"github.com/ericfisherdev/credvault/internal/domain/model"
)

// Pinger reports whether the storage backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler is the HTTP driving adapter that serves the REST API. Plaintext
// secrets are accepted on writes but never returned.
type Handler struct {
	vault     *application.VaultService
	rotation  *application.RotationService
	db        Pinger
	validator *requestValidator
	logger    *slog.Logger
}

// NewHandler creates a Handler with all required dependencies. rotation and
// db may be nil, in which case the rotation endpoint returns 404 and the
// health check skips the storage probe.
func NewHandler(
	vault *application.VaultService,
	rotation *application.RotationService,
	db Pinger,
	logger *slog.Logger,
) (*Handler, error) {
	validator, err := newRequestValidator()
	if err != nil {
		return nil, fmt.Errorf("compile request schemas: %w", err)
	}
	return &Handler{
		vault:     vault,
		rotation:  rotation,
		db:        db,
		validator: validator,
		logger:    logger,
	}, nil
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with request id, logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("GET /api/v1/providers", h.ListProviders)
	mux.HandleFunc("POST /api/v1/credentials/validate", h.ValidateCredential)

	mux.HandleFunc("GET /api/v1/users/{user}/credentials", h.ListCredentials)
	mux.HandleFunc("GET /api/v1/users/{user}/status", h.GetStatus)
	mux.HandleFunc("GET /api/v1/users/{user}/usage", h.GetUsage)
	mux.HandleFunc("GET /api/v1/users/{user}/rotation", h.GetRotationReport)
	mux.HandleFunc("PUT /api/v1/users/{user}/credentials/{provider}", h.SetCredential)
	mux.HandleFunc("GET /api/v1/users/{user}/credentials/{provider}", h.GetCredential)
	mux.HandleFunc("DELETE /api/v1/users/{user}/credentials/{provider}", h.DeleteCredential)
	mux.HandleFunc("POST /api/v1/users/{user}/credentials/{provider}/clone", h.CloneCredential)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)
	wrapped = requestIDMiddleware(wrapped)

	return wrapped
}

// SetCredential validates and stores a credential for the user.
func (h *Handler) SetCredential(w http.ResponseWriter, r *http.Request) {
	var req SetCredentialRequest
	if !h.decode(w, r, "set-credential.json", &req) {
		return
	}

	res, err := h.vault.SetCredential(r.Context(), application.SetRequest{
		ProviderID:         r.PathValue("provider"),
		Value:              req.Value,
		UserID:             r.PathValue("user"),
		Scope:              req.Scope,
		SkipLiveValidation: req.SkipLiveValidation,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toSetCredentialResponse(res))
}

// GetCredential returns the masked credential. A missing credential is a
// 404 carrying the not_found reason.
func (h *Handler) GetCredential(w http.ResponseWriter, r *http.Request) {
	res, err := h.vault.GetCredential(r.Context(), r.PathValue("provider"), r.PathValue("user"), r.URL.Query().Get("scope"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if !res.Success {
		status = http.StatusNotFound
	}
	writeJSON(w, status, toGetCredentialResponse(res))
}

// DeleteCredential removes a credential. The confirm=true query parameter
// is required; without it the response asks for confirmation.
func (h *Handler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	confirm := false
	if v := r.URL.Query().Get("confirm"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "confirm must be true or false")
			return
		}
		confirm = parsed
	}

	res, err := h.vault.DeleteCredential(r.Context(), r.PathValue("provider"), r.PathValue("user"), r.URL.Query().Get("scope"), confirm)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if res.NeedsConfirmation {
		status = http.StatusConflict
	}
	writeJSON(w, status, DeleteCredentialResponse{
		Success:           res.Success,
		Removed:           res.Removed,
		NeedsConfirmation: res.NeedsConfirmation,
		Message:           res.Message,
	})
}

// ListCredentials returns metadata for every credential the user holds.
func (h *Handler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	res, err := h.vault.ListCredentials(r.Context(), r.PathValue("user"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toListCredentialsResponse(res))
}

// GetStatus returns the aggregate view of the user's credentials.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	res, err := h.vault.GetStatus(r.Context(), r.PathValue("user"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toStatusResponse(res))
}

// ValidateCredential checks a credential without storing it.
func (h *Handler) ValidateCredential(w http.ResponseWriter, r *http.Request) {
	var req ValidateCredentialRequest
	if !h.decode(w, r, "validate-credential.json", &req) {
		return
	}

	res, err := h.vault.ValidateCredential(r.Context(), application.ValidateRequest{
		ProviderID:         req.Provider,
		Value:              req.Value,
		UserID:             req.UserID,
		SkipLiveValidation: req.SkipLiveValidation,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toValidateCredentialResponse(res))
}

// CloneCredential copies a credential to another scope.
func (h *Handler) CloneCredential(w http.ResponseWriter, r *http.Request) {
	var req CloneCredentialRequest
	if !h.decode(w, r, "clone-credential.json", &req) {
		return
	}

	res, err := h.vault.CloneCredential(r.Context(), application.CloneRequest{
		ProviderID: r.PathValue("provider"),
		UserID:     r.PathValue("user"),
		FromScope:  req.FromScope,
		ToScope:    req.ToScope,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSetCredentialResponse(res))
}

// ListProviders returns the supported providers with rendered setup hints.
func (h *Handler) ListProviders(w http.ResponseWriter, _ *http.Request) {
	providers := h.vault.Providers()
	resp := make([]ProviderResponse, 0, len(providers))
	for _, p := range providers {
		resp = append(resp, toProviderResponse(p, h.vault.LiveValidationConfigured(p.ID())))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetUsage returns the user's best-effort operation counters.
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	entries := h.vault.Usage(r.PathValue("user"))
	resp := make([]UsageResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, toUsageResponse(e))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetRotationReport lists the user's credentials that are due for rotation.
func (h *Handler) GetRotationReport(w http.ResponseWriter, r *http.Request) {
	if h.rotation == nil {
		writeError(w, http.StatusNotFound, "rotation reminders are not enabled")
		return
	}

	notices, err := h.rotation.Report(r.Context(), r.PathValue("user"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := make([]RotationNoticeResponse, 0, len(notices))
	for _, n := range notices {
		resp = append(resp, toRotationNoticeResponse(n))
	}

	writeJSON(w, http.StatusOK, resp)
}

// Health reports liveness and, when configured, storage reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Error("health check: storage unreachable", "error", err)
			resp.Status = "degraded"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// decode validates and unmarshals the request body, writing the error
// response itself on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, schemaName string, dst any) bool {
	err := h.validator.decode(w, r, schemaName, dst)
	if err == nil {
		return true
	}

	var be *bodyError
	if errors.As(err, &be) {
		writeJSON(w, be.status, errorResponse{
			Error:      be.message,
			Violations: be.violations,
			RequestID:  requestIDFrom(r.Context()),
		})
		return false
	}

	h.logger.Error("request decoding failed", "error", err, "request_id", requestIDFrom(r.Context()))
	writeError(w, http.StatusInternalServerError, "internal server error")
	return false
}

// writeServiceError maps the vault's error taxonomy to HTTP responses.
// Storage and decryption details are logged, never returned.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	reqID := requestIDFrom(r.Context())

	var (
		validationErr *model.ValidationError
		rateErr       *model.RateLimitError
		unknownErr    *model.ProviderUnknownError
		storageErr    *model.StorageError
		decryptErr    *model.DecryptionError
	)

	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:     validationErr.Error(),
			Hint:      validationErr.Hint,
			RequestID: reqID,
		})
	case errors.As(err, &rateErr):
		w.Header().Set("Retry-After", strconv.Itoa(rateErr.RetryAfterSeconds))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{
			Error:             rateErr.Error(),
			RetryAfterSeconds: rateErr.RetryAfterSeconds,
			RequestID:         reqID,
		})
	case errors.As(err, &unknownErr):
		writeJSON(w, http.StatusNotFound, errorResponse{
			Error:          unknownErr.Error(),
			KnownProviders: unknownErr.Known,
			RequestID:      reqID,
		})
	case errors.Is(err, model.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), RequestID: reqID})
	case errors.As(err, &decryptErr):
		h.logger.Error("credential failed authentication", "key", decryptErr.Key.String(), "request_id", reqID)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "stored credential is unreadable", RequestID: reqID})
	case errors.As(err, &storageErr):
		h.logger.Error("storage failure", "op", storageErr.Op, "error", storageErr.Err, "request_id", reqID)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error", RequestID: reqID})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.logger.Warn("request abandoned", "error", err, "request_id", reqID)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "request canceled", RequestID: reqID})
	default:
		h.logger.Error("unexpected vault error", "error", err, "request_id", reqID)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error", RequestID: reqID})
	}
}
