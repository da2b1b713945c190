package driven

import (
	"context"
	"errors"
)

// ErrCredentialRejected is returned by IdentityVerifier when the provider
// answers 401 or 403 for the presented credential.
var ErrCredentialRejected = errors.New("credential rejected by provider")

// ProviderIdentity describes the account a credential authenticates as.
type ProviderIdentity struct {
	Login  string
	Scopes []string
}

// IdentityVerifier defines the driven port for live credential checks
// against a provider's API. Any error other than ErrCredentialRejected is
// treated by callers as "could not verify".
type IdentityVerifier interface {
	VerifyToken(ctx context.Context, token string) (*ProviderIdentity, error)
}
