// Package adapters resolves webhook adapters by provider name.
package adapters

import (
	"sort"
	"strings"

	"github.com/smallbiznis/lanes/internal/payment/domain"
)

type Registry struct {
	byName map[string]domain.AdapterFactory
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

// NewRegistry skips nil factories and factories without a provider name.
// A later factory for the same provider replaces an earlier one.
func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	byName := make(map[string]domain.AdapterFactory, len(factories))
	for _, f := range factories {
		if f == nil {
			continue
		}
		if name := normalize(f.Provider()); name != "" {
			byName[name] = f
		}
	}
	return &Registry{byName: byName}
}

func (r *Registry) lookup(provider string) (domain.AdapterFactory, bool) {
	if r == nil {
		return nil, false
	}
	f, ok := r.byName[normalize(provider)]
	return f, ok
}

func (r *Registry) ProviderExists(provider string) bool {
	_, ok := r.lookup(provider)
	return ok
}

func (r *Registry) NewAdapter(provider string, cfg domain.AdapterConfig) (domain.PaymentAdapter, error) {
	f, ok := r.lookup(provider)
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return f.NewAdapter(cfg)
}

// Providers lists registered provider names in sorted order.
func (r *Registry) Providers() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
