// Package application contains use-case orchestration services.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ericfisherdev/credvault/internal/domain/model"
	"github.com/ericfisherdev/credvault/internal/domain/provider"
)

// Operation classes used as rate-limit and usage keys.
const (
	OpSet      = "set"
	OpGet      = "get"
	OpDelete   = "delete"
	OpList     = "list"
	OpStatus   = "status"
	OpValidate = "validate"
	OpClone    = "clone"
)

// DefaultLiveValidationTimeout bounds a single liveness call to a provider.
const DefaultLiveValidationTimeout = 10 * time.Second

// ReasonNotFound is reported by GetCredential when nothing is stored.
const ReasonNotFound = "not_found"

// AnonymousRateUser is the rate-limit identity shared by all validations
// made without a user id. The angle brackets keep it apart from real ids.
const AnonymousRateUser = "<anonymous>"

// VaultDeps holds the collaborators of a VaultService.
type VaultDeps struct {
	Registry *provider.Registry
	Store    *EncryptedStore
	Limiter  AttemptLimiter
	Cache    *ValidationCache
	// Verifiers holds each provider's live validator. Providers that
	// support live validation but have no verifier are stored unverified.
	Verifiers *VerifierSet
	Usage     *UsageTracker
	Logger    *slog.Logger

	MaskVisible           int
	LiveValidationTimeout time.Duration
}

// VaultService orchestrates the credential pipelines:
// rate check, format validation, optional live validation, encrypted
// storage, masked response and rate-limit reset.
type VaultService struct {
	registry    *provider.Registry
	store       *EncryptedStore
	limiter     AttemptLimiter
	cache       *ValidationCache
	verifiers   *VerifierSet
	usage       *UsageTracker
	logger      *slog.Logger
	maskVisible int
	liveTimeout time.Duration

	inflight singleflight.Group
}

// NewVaultService creates a VaultService. Registry and Store are required;
// the remaining dependencies get in-memory defaults.
func NewVaultService(deps VaultDeps) *VaultService {
	s := &VaultService{
		registry:    deps.Registry,
		store:       deps.Store,
		limiter:     deps.Limiter,
		cache:       deps.Cache,
		verifiers:   deps.Verifiers,
		usage:       deps.Usage,
		logger:      deps.Logger,
		maskVisible: deps.MaskVisible,
		liveTimeout: deps.LiveValidationTimeout,
	}
	if s.limiter == nil {
		s.limiter = NewRateLimiter(DefaultRateLimitAttempts, DefaultRateLimitWindow)
	}
	if s.cache == nil {
		s.cache = NewValidationCache(DefaultValidationCacheTTL)
	}
	if s.verifiers == nil {
		s.verifiers = NewVerifierSet(nil)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.maskVisible <= 0 {
		s.maskVisible = model.DefaultMaskVisible
	}
	if s.liveTimeout <= 0 {
		s.liveTimeout = DefaultLiveValidationTimeout
	}
	return s
}

// SetRequest is the input of SetCredential.
type SetRequest struct {
	ProviderID         string
	Value              string
	UserID             string
	Scope              string
	SkipLiveValidation bool
}

// SetResult is returned by SetCredential and CloneCredential.
type SetResult struct {
	Success      bool
	ProviderID   string
	Scope        string
	MaskedValue  string
	Validated    bool
	ProviderUser string
	Warning      string
	UpdatedAt    time.Time
}

// GetResult is returned by GetCredential. Reason is ReasonNotFound when
// Success is false.
type GetResult struct {
	Success     bool
	ProviderID  string
	Scope       string
	MaskedValue string
	Reason      string
	UpdatedAt   time.Time
}

// DeleteResult is returned by DeleteCredential.
type DeleteResult struct {
	Success           bool
	Removed           bool
	NeedsConfirmation bool
	Message           string
}

// CredentialListing is the listing view of one credential. It never
// carries secret material.
type CredentialListing struct {
	ProviderID string
	Scope      string
	Metadata   map[string]string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ListResult is returned by ListCredentials.
type ListResult struct {
	Credentials []CredentialListing
	Total       int
}

// StatusResult is returned by GetStatus.
type StatusResult struct {
	ConfiguredProviders []string
	TotalCredentials    int
	ByProvider          map[string]model.ProviderStatus
}

// ValidateRequest is the input of ValidateCredential. UserID is optional
// and only used for rate limiting; requests without one share the
// AnonymousRateUser budget.
type ValidateRequest struct {
	ProviderID         string
	Value              string
	UserID             string
	SkipLiveValidation bool
}

// ValidateResult is returned by ValidateCredential.
type ValidateResult struct {
	Valid         bool
	Reason        string
	Hint          string
	LiveChecked   bool
	ProviderUser  string
	GrantedScopes []string
	Warning       string
}

// CloneRequest is the input of CloneCredential.
type CloneRequest struct {
	ProviderID string
	UserID     string
	FromScope  string
	ToScope    string
}

// SetCredential validates and stores a credential, replacing any existing
// credential at the same (user, provider, scope).
func (s *VaultService) SetCredential(ctx context.Context, req SetRequest) (SetResult, error) {
	rateKey := RateKey(req.UserID, OpSet)
	if err := s.checkRate(rateKey, OpSet); err != nil {
		return SetResult{}, err
	}

	p, scope, err := s.resolve(req.UserID, req.ProviderID, req.Scope)
	if err != nil {
		return SetResult{}, err
	}

	if v := p.ValidateCredential(req.Value); !v.Valid {
		return SetResult{}, &model.ValidationError{ProviderID: p.ID(), Reason: v.Reason, Hint: p.RemediationHint()}
	}

	live, err := s.liveValidate(ctx, p, req.Value, req.SkipLiveValidation)
	if err != nil {
		return SetResult{}, err
	}

	key := model.CredentialKey{UserID: req.UserID, ProviderID: p.ID(), Scope: scope.Raw}
	cred, err := s.store.Store(ctx, key, req.Value, s.metadataFor(p, req.Value, live))
	if err != nil {
		return SetResult{}, err
	}

	result := SetResult{
		Success:      true,
		ProviderID:   key.ProviderID,
		Scope:        scopeLabel(key.Scope),
		MaskedValue:  model.MaskSecret(req.Value, s.maskVisible),
		Validated:    live.validated,
		ProviderUser: live.login,
		Warning:      live.warning,
		UpdatedAt:    cred.UpdatedAt,
	}

	s.limiter.Reset(rateKey)
	s.usage.Record(key.UserID, key.ProviderID, key.Scope, OpSet)
	s.logger.Info("credential stored",
		"provider", key.ProviderID,
		"user", key.UserID,
		"scope", scopeLabel(key.Scope),
		"validated", live.validated,
	)
	return result, nil
}

// GetCredential looks up a credential and returns it masked. A missing
// credential is reported in the result, not as an error.
func (s *VaultService) GetCredential(ctx context.Context, providerID, userID, scope string) (GetResult, error) {
	rateKey := RateKey(userID, OpGet)
	if err := s.checkRate(rateKey, OpGet); err != nil {
		return GetResult{}, err
	}

	p, sc, err := s.resolve(userID, providerID, scope)
	if err != nil {
		return GetResult{}, err
	}

	key := model.CredentialKey{UserID: userID, ProviderID: p.ID(), Scope: sc.Raw}
	plaintext, cred, err := s.store.GetWithMetadata(ctx, key)
	if err != nil {
		return GetResult{}, err
	}
	if cred == nil {
		return GetResult{
			ProviderID: key.ProviderID,
			Scope:      scopeLabel(key.Scope),
			Reason:     ReasonNotFound,
		}, nil
	}

	s.limiter.Reset(rateKey)
	s.usage.Record(key.UserID, key.ProviderID, key.Scope, OpGet)
	return GetResult{
		Success:     true,
		ProviderID:  key.ProviderID,
		Scope:       scopeLabel(key.Scope),
		MaskedValue: model.MaskSecret(plaintext, s.maskVisible),
		UpdatedAt:   cred.UpdatedAt,
	}, nil
}

// DeleteCredential removes a credential. Without confirm it only reports
// that confirmation is needed and leaves the credential intact.
func (s *VaultService) DeleteCredential(ctx context.Context, providerID, userID, scope string, confirm bool) (DeleteResult, error) {
	rateKey := RateKey(userID, OpDelete)
	if err := s.checkRate(rateKey, OpDelete); err != nil {
		return DeleteResult{}, err
	}

	p, sc, err := s.resolve(userID, providerID, scope)
	if err != nil {
		return DeleteResult{}, err
	}

	if !confirm {
		return DeleteResult{
			NeedsConfirmation: true,
			Message: fmt.Sprintf("deleting the %s credential (scope %s) is irreversible; repeat with confirm=true",
				p.ID(), scopeLabel(sc.Raw)),
		}, nil
	}

	key := model.CredentialKey{UserID: userID, ProviderID: p.ID(), Scope: sc.Raw}
	removed, err := s.store.Delete(ctx, key)
	if err != nil {
		return DeleteResult{}, err
	}

	s.limiter.Reset(rateKey)
	if removed {
		s.usage.Forget(key.UserID, key.ProviderID, key.Scope)
		s.logger.Info("credential deleted",
			"provider", key.ProviderID,
			"user", key.UserID,
			"scope", scopeLabel(key.Scope),
		)
	}
	return DeleteResult{Success: true, Removed: removed}, nil
}

// ListCredentials returns metadata for every credential the user holds.
func (s *VaultService) ListCredentials(ctx context.Context, userID string) (ListResult, error) {
	rateKey := RateKey(userID, OpList)
	if err := s.checkRate(rateKey, OpList); err != nil {
		return ListResult{}, err
	}
	if err := requireUser(userID); err != nil {
		return ListResult{}, err
	}

	creds, err := s.store.List(ctx, userID)
	if err != nil {
		return ListResult{}, err
	}

	listing := make([]CredentialListing, 0, len(creds))
	for _, c := range creds {
		listing = append(listing, CredentialListing{
			ProviderID: c.Key.ProviderID,
			Scope:      scopeLabel(c.Key.Scope),
			Metadata:   c.Metadata,
			CreatedAt:  c.CreatedAt,
			UpdatedAt:  c.UpdatedAt,
		})
	}

	s.limiter.Reset(rateKey)
	return ListResult{Credentials: listing, Total: len(listing)}, nil
}

// GetStatus returns the aggregate view of the user's credentials.
func (s *VaultService) GetStatus(ctx context.Context, userID string) (StatusResult, error) {
	rateKey := RateKey(userID, OpStatus)
	if err := s.checkRate(rateKey, OpStatus); err != nil {
		return StatusResult{}, err
	}
	if err := requireUser(userID); err != nil {
		return StatusResult{}, err
	}

	status, err := s.store.Status(ctx, userID)
	if err != nil {
		return StatusResult{}, err
	}

	s.limiter.Reset(rateKey)
	return StatusResult{
		ConfiguredProviders: status.Providers,
		TotalCredentials:    status.TotalCredentials,
		ByProvider:          status.ByProvider,
	}, nil
}

// ValidateCredential checks a credential's format and, when supported,
// its liveness, without storing anything. Format problems are reported in
// the result; only unknown providers and rate limiting are errors.
func (s *VaultService) ValidateCredential(ctx context.Context, req ValidateRequest) (ValidateResult, error) {
	rateUser := req.UserID
	if rateUser == "" {
		rateUser = AnonymousRateUser
	}
	rateKey := RateKey(rateUser, OpValidate)
	if err := s.checkRate(rateKey, OpValidate); err != nil {
		return ValidateResult{}, err
	}

	p, err := s.registry.Get(req.ProviderID)
	if err != nil {
		return ValidateResult{}, err
	}

	if v := p.ValidateCredential(req.Value); !v.Valid {
		return ValidateResult{Reason: v.Reason, Hint: p.RemediationHint()}, nil
	}

	live, err := s.liveValidate(ctx, p, req.Value, req.SkipLiveValidation)
	if err != nil {
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			return ValidateResult{Reason: verr.Reason, Hint: verr.Hint, LiveChecked: true}, nil
		}
		return ValidateResult{}, err
	}

	s.limiter.Reset(rateKey)
	return ValidateResult{
		Valid:         true,
		LiveChecked:   live.validated,
		ProviderUser:  live.login,
		GrantedScopes: live.scopes,
		Warning:       live.warning,
	}, nil
}

// CloneCredential copies the credential stored under FromScope to ToScope
// as an independent record. Later changes to either copy don't affect the
// other.
func (s *VaultService) CloneCredential(ctx context.Context, req CloneRequest) (SetResult, error) {
	rateKey := RateKey(req.UserID, OpClone)
	if err := s.checkRate(rateKey, OpClone); err != nil {
		return SetResult{}, err
	}

	p, from, err := s.resolve(req.UserID, req.ProviderID, req.FromScope)
	if err != nil {
		return SetResult{}, err
	}
	to, err := model.ParseScope(req.ToScope)
	if err != nil {
		return SetResult{}, err
	}
	if from.Raw == to.Raw {
		return SetResult{}, &model.ValidationError{Reason: "source and destination scopes are the same"}
	}

	srcKey := model.CredentialKey{UserID: req.UserID, ProviderID: p.ID(), Scope: from.Raw}
	plaintext, src, err := s.store.GetWithMetadata(ctx, srcKey)
	if err != nil {
		return SetResult{}, err
	}
	if src == nil {
		return SetResult{}, &model.NotFoundError{Key: srcKey}
	}

	meta := maps.Clone(src.Metadata)
	if meta == nil {
		meta = map[string]string{}
	}
	meta[model.MetaClonedFrom] = scopeLabel(from.Raw)

	dstKey := model.CredentialKey{UserID: req.UserID, ProviderID: p.ID(), Scope: to.Raw}
	cred, err := s.store.Store(ctx, dstKey, plaintext, meta)
	if err != nil {
		return SetResult{}, err
	}

	s.limiter.Reset(rateKey)
	s.usage.Record(dstKey.UserID, dstKey.ProviderID, dstKey.Scope, OpClone)
	s.logger.Info("credential cloned",
		"provider", dstKey.ProviderID,
		"user", dstKey.UserID,
		"from_scope", scopeLabel(from.Raw),
		"scope", scopeLabel(to.Raw),
	)

	validated, _ := strconv.ParseBool(meta[model.MetaValidated])
	return SetResult{
		Success:      true,
		ProviderID:   dstKey.ProviderID,
		Scope:        scopeLabel(dstKey.Scope),
		MaskedValue:  model.MaskSecret(plaintext, s.maskVisible),
		Validated:    validated,
		ProviderUser: meta[model.MetaProviderUser],
		UpdatedAt:    cred.UpdatedAt,
	}, nil
}

// RawCredential returns the plaintext secret for in-process collaborators
// that must act on it, such as building an authenticated outbound request.
// It is never exposed through a transport. A missing credential is a
// *model.NotFoundError.
func (s *VaultService) RawCredential(ctx context.Context, providerID, userID, scope string) (string, error) {
	p, sc, err := s.resolve(userID, providerID, scope)
	if err != nil {
		return "", err
	}

	key := model.CredentialKey{UserID: userID, ProviderID: p.ID(), Scope: sc.Raw}
	plaintext, found, err := s.store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !found {
		return "", &model.NotFoundError{Key: key}
	}

	s.logger.Debug("raw credential accessed", "provider", key.ProviderID, "user", key.UserID, "scope", scopeLabel(key.Scope))
	return plaintext, nil
}

// AuthHeaders returns the provider's authentication headers for the stored
// credential.
func (s *VaultService) AuthHeaders(ctx context.Context, providerID, userID, scope string) (map[string]string, error) {
	p, err := s.registry.Get(providerID)
	if err != nil {
		return nil, err
	}
	plaintext, err := s.RawCredential(ctx, providerID, userID, scope)
	if err != nil {
		return nil, err
	}
	return p.AuthHeaders(plaintext), nil
}

// Providers returns the registered providers ordered by id.
func (s *VaultService) Providers() []provider.Provider {
	return s.registry.All()
}

// LiveValidationConfigured reports whether a live validator is installed
// for providerID.
func (s *VaultService) LiveValidationConfigured(providerID string) bool {
	return s.verifiers.Get(providerID) != nil
}

// Usage returns the best-effort operation counters for the user.
func (s *VaultService) Usage(userID string) []UsageEntry {
	return s.usage.ForUser(userID)
}

func (s *VaultService) checkRate(key, operation string) error {
	d := s.limiter.Check(key)
	if d.Allowed {
		return nil
	}
	s.logger.Warn("rate limit exceeded", "operation", operation, "key", key, "retry_after_s", d.RetryAfterSeconds)
	return &model.RateLimitError{Operation: operation, RetryAfterSeconds: d.RetryAfterSeconds}
}

// resolve performs the request checks shared by all keyed operations.
func (s *VaultService) resolve(userID, providerID, rawScope string) (provider.Provider, model.Scope, error) {
	if err := requireUser(userID); err != nil {
		return nil, model.Scope{}, err
	}
	p, err := s.registry.Get(providerID)
	if err != nil {
		return nil, model.Scope{}, err
	}
	scope, err := model.ParseScope(rawScope)
	if err != nil {
		return nil, model.Scope{}, err
	}
	return p, scope, nil
}

func (s *VaultService) metadataFor(p provider.Provider, value string, live liveCheck) map[string]string {
	meta := map[string]string{}
	if mp, ok := p.(provider.MetadataProvider); ok {
		maps.Copy(meta, mp.Metadata(value))
	}
	meta[model.MetaValidated] = strconv.FormatBool(live.validated)
	if live.login != "" {
		meta[model.MetaProviderUser] = live.login
	}
	if len(live.scopes) > 0 {
		meta[model.MetaGrantedScopes] = strings.Join(live.scopes, ",")
	}
	return meta
}

func requireUser(userID string) error {
	if userID == "" {
		return &model.ValidationError{Reason: "user id is required"}
	}
	return nil
}

func scopeLabel(scope string) string {
	if scope == "" {
		return model.ScopePrimary
	}
	return scope
}
