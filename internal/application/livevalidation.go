package application

import (
	"context"
	"errors"
	"slices"

	"golang.org/x/sync/singleflight"

	"github.com/ericfisherdev/credvault/internal/domain/model"
	"github.com/ericfisherdev/credvault/internal/domain/port/driven"
	"github.com/ericfisherdev/credvault/internal/domain/provider"
)

// Warnings attached to credentials stored without live confirmation.
const (
	warnVerifierMissing = "live validation is not configured for this provider; credential stored unverified"
	warnLiveUnavailable = "provider could not be reached to confirm the credential; stored unverified"
)

type liveCheck struct {
	validated bool
	login     string
	scopes    []string
	warning   string
}

// liveValidate confirms value against the provider's API when supported.
// A 401/403 is a hard *model.ValidationError. Any other failure is
// swallowed into a warning so the write can proceed unverified. If the
// caller's own context ends first, its error is returned and nothing is
// cached. The shared upstream call is detached from any single caller, so
// one caller giving up does not fail the others waiting on it.
func (s *VaultService) liveValidate(ctx context.Context, p provider.Provider, value string, skip bool) (liveCheck, error) {
	if skip || !p.SupportsLiveValidation() {
		return liveCheck{}, nil
	}

	verifier := s.verifiers.Get(p.ID())
	if verifier == nil {
		return liveCheck{warning: warnVerifierMissing}, nil
	}

	if cached, ok := s.cache.Get(p.ID(), value); ok {
		return liveCheck{validated: true, login: cached.Login, scopes: cached.Scopes}, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.liveTimeout)
	defer cancel()

	// Concurrent writes of the same credential share one upstream call.
	flightKey := validationCacheKey(p.ID(), value)
	ch := s.inflight.DoChan(flightKey, func() (any, error) {
		flightCtx, cancelFlight := context.WithTimeout(context.WithoutCancel(ctx), s.liveTimeout)
		defer cancelFlight()
		return verifier.VerifyToken(flightCtx, value)
	})

	var res singleflight.Result
	select {
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return liveCheck{}, ctx.Err()
		}
		s.logger.Warn("live validation timed out", "provider", p.ID(), "timeout", s.liveTimeout)
		return liveCheck{warning: warnLiveUnavailable}, nil
	case res = <-ch:
	}

	if res.Err != nil {
		if errors.Is(res.Err, driven.ErrCredentialRejected) {
			return liveCheck{}, &model.ValidationError{
				ProviderID: p.ID(),
				Reason:     "credential was rejected by the provider (revoked, expired or lacking access)",
				Hint:       p.RemediationHint(),
			}
		}
		if ctx.Err() != nil {
			return liveCheck{}, ctx.Err()
		}
		s.logger.Warn("live validation failed, storing unverified", "provider", p.ID(), "error", res.Err)
		return liveCheck{warning: warnLiveUnavailable}, nil
	}

	identity, _ := res.Val.(*driven.ProviderIdentity)
	check := liveCheck{validated: true}
	if identity != nil {
		check.login = identity.Login
		check.scopes = slices.Clone(identity.Scopes)
	}
	s.cache.Put(p.ID(), value, LiveResult{Login: check.login, Scopes: check.scopes})
	return check, nil
}
