package ingest

import (
	"github.com/stratumhq/stratum/pkg/models"
	"github.com/stratumhq/stratum/pkg/registry"
)

// RegistrySuggester answers classifier backend suggestions from the live
// registry, preferring the least-loaded healthy backend.
type RegistrySuggester struct {
	registry *registry.Registry
}

// NewRegistrySuggester wraps a registry as a BackendSuggester.
func NewRegistrySuggester(reg *registry.Registry) *RegistrySuggester {
	return &RegistrySuggester{registry: reg}
}

// SuggestBackend returns the id of the least-loaded active healthy backend
// serving the domain and tier, or false when none exists.
func (s *RegistrySuggester) SuggestBackend(domain string, tier models.Tier) (string, bool) {
	var bestID string
	var bestLoad int64 = -1
	for _, h := range s.registry.All(&registry.Filter{Domain: domain, Tier: tier}) {
		meta := h.Snapshot()
		if meta.State != models.StateActive || meta.HealthStatus != models.HealthHealthy {
			continue
		}
		if bestLoad < 0 || meta.Metrics.ActiveConnections < bestLoad {
			bestID = meta.ID
			bestLoad = meta.Metrics.ActiveConnections
		}
	}
	return bestID, bestLoad >= 0
}
