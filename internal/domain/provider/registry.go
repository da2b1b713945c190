package provider

import (
	"sort"
	"strings"

	"github.com/ericfisherdev/credvault/internal/domain/model"
)

// Registry maps provider ids to their definitions. It is built once at
// startup and never mutated, so it is safe for concurrent use.
type Registry struct {
	providers map[string]Provider
	ids       []string
}

// NewRegistry builds a registry from the given providers. It panics on a
// duplicate id since registration is a programming-time decision.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if _, dup := r.providers[p.ID()]; dup {
			panic("provider: duplicate registration for " + p.ID())
		}
		r.providers[p.ID()] = p
		r.ids = append(r.ids, p.ID())
	}
	sort.Strings(r.ids)
	return r
}

// NewDefaultRegistry returns a registry with every built-in provider.
func NewDefaultRegistry() *Registry {
	return NewRegistry(
		NewGitHub(),
		NewGitLab(),
		NewOpenAI(),
		NewAnthropic(),
		NewBitbucket(),
	)
}

// Get returns the provider for id. Lookup is case-insensitive. Unknown ids
// yield a *model.ProviderUnknownError listing the known ids.
func (r *Registry) Get(id string) (Provider, error) {
	p, ok := r.providers[normalizeID(id)]
	if !ok {
		return nil, &model.ProviderUnknownError{ProviderID: id, Known: r.IDs()}
	}
	return p, nil
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.providers[normalizeID(id)]
	return ok
}

// All returns every provider ordered by id.
func (r *Registry) All() []Provider {
	out := make([]Provider, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.providers[id])
	}
	return out
}

// IDs returns the sorted provider ids.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
