package query

import (
	"github.com/stratumhq/stratum/pkg/models"
	"github.com/stratumhq/stratum/pkg/registry"
)

// RegistryResolver adapts the registry for parser target resolution.
type RegistryResolver struct {
	registry *registry.Registry
}

// NewRegistryResolver wraps a registry as a TargetResolver.
func NewRegistryResolver(reg *registry.Registry) *RegistryResolver {
	return &RegistryResolver{registry: reg}
}

// BackendsForDomain returns the ids of backends serving the domain,
// across all tiers, excluding deregistered and failed ones.
func (r *RegistryResolver) BackendsForDomain(domain string) []string {
	var ids []string
	for _, h := range r.registry.All(&registry.Filter{Domain: domain}) {
		meta := h.Snapshot()
		if meta.State == models.StateActive || meta.State == models.StateMigrating {
			ids = append(ids, meta.ID)
		}
	}
	return ids
}
