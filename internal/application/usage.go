package application

import (
	"maps"
	"sort"
	"sync"
	"time"
)

// UsageEntry counts successful operations against one credential.
type UsageEntry struct {
	ProviderID string
	Scope      string
	Operations map[string]int
	LastUsed   time.Time
}

type usageKey struct {
	userID     string
	providerID string
	scope      string
}

// UsageTracker keeps best-effort, in-memory operation counts per
// credential. It is lost on restart and never affects vault correctness.
type UsageTracker struct {
	mu      sync.Mutex
	entries map[usageKey]*UsageEntry
	now     func() time.Time
}

// NewUsageTracker returns an empty tracker.
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{
		entries: make(map[usageKey]*UsageEntry),
		now:     time.Now,
	}
}

// Record counts one successful operation.
func (u *UsageTracker) Record(userID, providerID, scope, operation string) {
	if u == nil {
		return
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	k := usageKey{userID: userID, providerID: providerID, scope: scope}
	e, ok := u.entries[k]
	if !ok {
		e = &UsageEntry{ProviderID: providerID, Scope: scope, Operations: map[string]int{}}
		u.entries[k] = e
	}
	e.Operations[operation]++
	e.LastUsed = u.now().UTC()
}

// Forget drops the counters for a deleted credential.
func (u *UsageTracker) Forget(userID, providerID, scope string) {
	if u == nil {
		return
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.entries, usageKey{userID: userID, providerID: providerID, scope: scope})
}

// ForUser returns copies of userID's entries ordered by provider and scope.
func (u *UsageTracker) ForUser(userID string) []UsageEntry {
	out := []UsageEntry{}
	if u == nil {
		return out
	}

	u.mu.Lock()
	for k, e := range u.entries {
		if k.userID != userID {
			continue
		}
		cp := *e
		cp.Operations = maps.Clone(e.Operations)
		out = append(out, cp)
	}
	u.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ProviderID != out[j].ProviderID {
			return out[i].ProviderID < out[j].ProviderID
		}
		return out[i].Scope < out[j].Scope
	})
	return out
}
