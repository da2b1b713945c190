package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ericfisherdev/credvault/internal/domain/model"
	"github.com/ericfisherdev/credvault/internal/domain/port/driven"
)

// DefaultRotationAge is how old a credential may get before a rotation
// reminder is raised.
const DefaultRotationAge = 90 * 24 * time.Hour

// ErrStaleListingUnsupported is returned by ScanAll when the backend cannot
// list credentials across users.
var ErrStaleListingUnsupported = errors.New("backend does not support stale credential listing")

// RotationNotice flags one credential due for rotation.
type RotationNotice struct {
	UserID     string
	ProviderID string
	Scope      string
	UpdatedAt  time.Time
	Age        time.Duration
}

// RotationService reports credentials that have not been rewritten within
// the rotation age. Reminders are advisory and only logged.
type RotationService struct {
	store  *EncryptedStore
	stale  driven.StaleCredentialLister
	maxAge time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewRotationService creates a RotationService. stale may be nil, in which
// case only per-user reports are available.
func NewRotationService(store *EncryptedStore, stale driven.StaleCredentialLister, maxAge time.Duration, logger *slog.Logger) *RotationService {
	if maxAge <= 0 {
		maxAge = DefaultRotationAge
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RotationService{
		store:  store,
		stale:  stale,
		maxAge: maxAge,
		logger: logger,
		now:    time.Now,
	}
}

// Report returns the user's credentials that are due for rotation, oldest
// first.
func (r *RotationService) Report(ctx context.Context, userID string) ([]RotationNotice, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}

	creds, err := r.store.List(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := r.now()
	notices := []RotationNotice{}
	for _, c := range creds {
		if c.Age(now) < r.maxAge {
			continue
		}
		notices = append(notices, r.notice(c, now))
	}
	sortNotices(notices)
	return notices, nil
}

// ScanAll logs a reminder for every credential across all users that is due
// for rotation and returns the notices.
func (r *RotationService) ScanAll(ctx context.Context) ([]RotationNotice, error) {
	if r.stale == nil {
		return nil, ErrStaleListingUnsupported
	}

	now := r.now()
	creds, err := r.stale.SelectUpdatedBefore(ctx, now.Add(-r.maxAge))
	if err != nil {
		return nil, &model.StorageError{Op: "select stale", Err: err}
	}

	notices := make([]RotationNotice, 0, len(creds))
	for _, c := range creds {
		n := r.notice(c, now)
		notices = append(notices, n)
		r.logger.Info("credential due for rotation",
			"provider", n.ProviderID,
			"user", n.UserID,
			"scope", n.Scope,
			"age_days", int(n.Age.Hours()/24),
		)
	}
	sortNotices(notices)
	return notices, nil
}

// Start schedules ScanAll with the given cron spec (standard five fields or
// descriptors such as "@daily"). The scheduler stops when ctx is canceled.
func (r *RotationService) Start(ctx context.Context, spec string) error {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		notices, err := r.ScanAll(ctx)
		if err != nil {
			r.logger.Error("rotation scan failed", "error", err)
			return
		}
		r.logger.Info("rotation scan complete", "due", len(notices))
	})
	if err != nil {
		return fmt.Errorf("schedule rotation scan %q: %w", spec, err)
	}

	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		r.logger.Info("rotation scheduler stopped")
	}()
	return nil
}

func (r *RotationService) notice(c model.Credential, now time.Time) RotationNotice {
	return RotationNotice{
		UserID:     c.Key.UserID,
		ProviderID: c.Key.ProviderID,
		Scope:      scopeLabel(c.Key.Scope),
		UpdatedAt:  c.UpdatedAt,
		Age:        c.Age(now),
	}
}

func sortNotices(notices []RotationNotice) {
	sort.SliceStable(notices, func(i, j int) bool {
		return notices[i].UpdatedAt.Before(notices[j].UpdatedAt)
	})
}
