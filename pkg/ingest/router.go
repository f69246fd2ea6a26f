package ingest

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stratumhq/stratum/pkg/errors"
	"github.com/stratumhq/stratum/pkg/learning"
	"github.com/stratumhq/stratum/pkg/models"
	"github.com/stratumhq/stratum/pkg/registry"
)

// RouterConfig tunes backend selection.
type RouterConfig struct {
	// MaxErrorRate excludes backends reporting a higher error rate from
	// routing even when their health probe still passes.
	MaxErrorRate float64 `json:"max_error_rate"`

	// FallbackDomain is the domain callers retry against after a
	// NoEligibleBackend failure.
	FallbackDomain string `json:"fallback_domain"`
}

// DefaultRouterConfig returns sensible router defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		MaxErrorRate:   0.25,
		FallbackDomain: "generic",
	}
}

// RouteOptions carries per-request routing hints.
type RouteOptions struct {
	Priority string
	Batch    bool
}

// Router selects a concrete target backend for a classification using
// least-loaded-first selection with health and error-rate failover.
type Router struct {
	cfg      RouterConfig
	registry *registry.Registry
	learner  *learning.PatternLearner
	logger   zerolog.Logger
}

// NewRouter creates a router over the given registry.
func NewRouter(cfg RouterConfig, reg *registry.Registry, learner *learning.PatternLearner, logger zerolog.Logger) *Router {
	if cfg.MaxErrorRate <= 0 {
		cfg.MaxErrorRate = 0.25
	}
	if cfg.FallbackDomain == "" {
		cfg.FallbackDomain = "generic"
	}
	return &Router{cfg: cfg, registry: reg, learner: learner, logger: logger}
}

// Route selects a backend in the classification's domain and tier. The
// chosen backend's load estimate is bumped optimistically before the real
// operation completes; callers release it with ReleaseLoad.
func (r *Router) Route(c models.ClassificationResult, opts RouteOptions) (*models.RoutingDecision, error) {
	candidates := r.eligible(c.Domain, c.Tier)
	if len(candidates) == 0 {
		return nil, errors.ErrNoEligibleBackend.
			WithDetail("domain", c.Domain).
			WithDetail("tier", string(c.Tier)).
			WithDetail("fallback_domain", r.cfg.FallbackDomain)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return r.loadScore(candidates[i]) < r.loadScore(candidates[j])
	})

	chosen := candidates[0]
	chosen.handle.BumpLoad(1)

	strategy, reason := r.strategy(opts, len(candidates))
	decision := &models.RoutingDecision{
		BackendID: chosen.meta.ID,
		Domain:    c.Domain,
		Tier:      c.Tier,
		Strategy:  strategy,
		Reason:    reason,
		DecidedAt: time.Now().UTC(),
	}
	for _, alt := range candidates[1:] {
		decision.Alternatives = append(decision.Alternatives, alt.meta.ID)
	}

	r.logger.Debug().
		Str("backend_id", decision.BackendID).
		Str("domain", c.Domain).
		Str("tier", string(c.Tier)).
		Str("strategy", string(strategy)).
		Msg("routing decision")
	return decision, nil
}

// ReleaseLoad undoes the optimistic load bump after the routed operation
// completes.
func (r *Router) ReleaseLoad(backendID string) {
	if h, err := r.registry.Resolve(backendID); err == nil {
		h.BumpLoad(-1)
	}
}

type candidate struct {
	handle *registry.Handle
	meta   models.BackendMetadata
}

// eligible returns healthy, active backends in the domain and tier whose
// error rate is under the safety threshold.
func (r *Router) eligible(domain string, tier models.Tier) []candidate {
	handles := r.registry.All(&registry.Filter{Domain: domain, Tier: tier})
	out := make([]candidate, 0, len(handles))
	for _, h := range handles {
		meta := h.Snapshot()
		if meta.State != models.StateActive {
			continue
		}
		if meta.HealthStatus != models.HealthHealthy {
			continue
		}
		if meta.Metrics.ErrorRate > r.cfg.MaxErrorRate {
			continue
		}
		out = append(out, candidate{handle: h, meta: meta})
	}
	return out
}

// loadScore orders candidates least-loaded-first, discounted by the
// learner's routing success factor for the backend.
func (r *Router) loadScore(c candidate) float64 {
	score := float64(c.meta.Metrics.ActiveConnections)
	if c.meta.Metrics.QueryThroughput > 0 {
		score += c.meta.Metrics.QueryThroughput / 100
	}
	if r.learner != nil {
		score /= r.learner.AdjustmentFor(learning.KindRouting, c.meta.ID)
	}
	return score
}

func (r *Router) strategy(opts RouteOptions, candidates int) (models.RoutingStrategy, string) {
	switch {
	case isPriority(opts.Priority):
		return models.RoutePriorityLane, fmt.Sprintf("priority %q routed ahead of normal traffic", opts.Priority)
	case opts.Batch:
		return models.RouteBatch, "batched with sibling items"
	case candidates == 1:
		return models.RouteDirect, "single eligible backend"
	default:
		return models.RouteLoadBalanced, fmt.Sprintf("least loaded of %d eligible backends", candidates)
	}
}

func isPriority(p string) bool {
	switch strings.ToLower(p) {
	case "high", "critical", "realtime":
		return true
	}
	return false
}
