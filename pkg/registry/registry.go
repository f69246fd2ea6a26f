package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/stratumhq/stratum/pkg/backend"
	"github.com/stratumhq/stratum/pkg/errors"
	"github.com/stratumhq/stratum/pkg/models"
)

// Config holds registry tuning parameters. It is supplied explicitly at
// construction; the registry reads no ambient state.
type Config struct {
	// DecayHalfLife is the half-life of the access frequency counter.
	DecayHalfLife time.Duration `json:"decay_half_life"`

	// MigrationRecordsPerSecond throttles migration copies so a tier
	// change cannot saturate a live backend. Zero means unlimited.
	MigrationRecordsPerSecond int `json:"migration_records_per_second"`

	// MigrationBatchSize is the copy chunk size during migration.
	MigrationBatchSize int `json:"migration_batch_size"`

	// TierKinds maps each tier to the backend kind used when a migration
	// creates a backend in that tier.
	TierKinds map[models.Tier]models.BackendKind `json:"tier_kinds"`

	// DataDir is where durable backends place their files.
	DataDir string `json:"data_dir"`
}

// DefaultConfig returns sensible registry defaults.
func DefaultConfig() Config {
	return Config{
		DecayHalfLife:             time.Hour,
		MigrationRecordsPerSecond: 5000,
		MigrationBatchSize:        256,
		TierKinds: map[models.Tier]models.BackendKind{
			models.TierHot:  models.KindMemory,
			models.TierWarm: models.KindDuckDB,
			models.TierCold: models.KindDuckDB,
		},
	}
}

// Direction selects which tier transitions migrationCandidates proposes.
type Direction string

const (
	// Demote proposes hot→warm and warm→cold transitions.
	Demote Direction = "demote"
	// Promote proposes cold→warm and warm→hot transitions.
	Promote Direction = "promote"
)

// Filter narrows All results. Zero values match everything.
type Filter struct {
	Tier   models.Tier
	Domain string
	Status models.HealthStatus
}

// Registry owns the set of backend handles, their metadata, tier
// placement, and migration lifecycle.
type Registry struct {
	cfg     Config
	logger  zerolog.Logger
	factory *backend.Factory
	limiter *rate.Limiter

	mu      sync.RWMutex
	handles map[string]*Handle

	clock func() time.Time
}

// New creates a registry.
func New(cfg Config, factory *backend.Factory, logger zerolog.Logger) *Registry {
	if cfg.DecayHalfLife <= 0 {
		cfg.DecayHalfLife = time.Hour
	}
	if cfg.MigrationBatchSize <= 0 {
		cfg.MigrationBatchSize = 256
	}
	if cfg.TierKinds == nil {
		cfg.TierKinds = DefaultConfig().TierKinds
	}
	var limiter *rate.Limiter
	if cfg.MigrationRecordsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MigrationRecordsPerSecond), cfg.MigrationBatchSize)
	}
	return &Registry{
		cfg:     cfg,
		logger:  logger,
		factory: factory,
		limiter: limiter,
		handles: make(map[string]*Handle),
		clock:   time.Now,
	}
}

// Register validates the spec, constructs the backend and its metadata,
// and returns a fresh unique id.
func (r *Registry) Register(spec models.BackendSpec) (string, error) {
	if err := validateSpec(&spec); err != nil {
		return "", err
	}

	b, err := r.factory.New(spec)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeInvalidSpec, "failed to construct backend")
	}

	now := r.clock().UTC()
	id := uuid.NewString()
	meta := &models.BackendMetadata{
		ID:              id,
		Domain:          spec.Domain,
		Kind:            spec.Kind,
		Tier:            spec.Tier,
		PerformanceTier: spec.PerformanceTier,
		AccessFrequency: 0,
		IndexStrategies: spec.IndexStrategies,
		HealthStatus:    models.HealthHealthy,
		State:           models.StateActive,
		Configuration:   spec.Configuration,
		Tags:            spec.Tags,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	h := &Handle{id: id, halfLife: r.cfg.DecayHalfLife, lastDecay: now}
	h.binding.Store(&binding{backend: b, meta: meta})

	r.mu.Lock()
	r.handles[id] = h
	r.mu.Unlock()

	r.logger.Info().
		Str("backend_id", id).
		Str("domain", spec.Domain).
		Str("tier", string(spec.Tier)).
		Str("kind", string(spec.Kind)).
		Msg("backend registered")
	return id, nil
}

// Resolve returns the live handle for a backend id.
func (r *Registry) Resolve(id string) (*Handle, error) {
	r.mu.RLock()
	h, ok := r.handles[id]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.ErrBackendNotFound.WithDetail("backend_id", id)
	}
	return h, nil
}

// All returns handles, optionally filtered by tier, domain, and health.
func (r *Registry) All(filter *Filter) []*Handle {
	r.mu.RLock()
	all := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		all = append(all, h)
	}
	r.mu.RUnlock()

	if filter == nil {
		return all
	}
	// Filtering happens outside the registry lock so a long-running
	// migration holding a handle lock cannot stall registration.
	out := all[:0]
	for _, h := range all {
		meta := h.Snapshot()
		if filter.Tier != "" && meta.Tier != filter.Tier {
			continue
		}
		if filter.Domain != "" && meta.Domain != filter.Domain {
			continue
		}
		if filter.Status != "" && meta.HealthStatus != filter.Status {
			continue
		}
		out = append(out, h)
	}
	return out
}

// RecordAccess increments the backend's decaying access frequency.
func (r *Registry) RecordAccess(id string) error {
	h, err := r.Resolve(id)
	if err != nil {
		return err
	}
	h.recordAccess(r.clock())
	return nil
}

// AccessFrequency returns the decayed access frequency for a backend.
func (r *Registry) AccessFrequency(id string) (float64, error) {
	h, err := r.Resolve(id)
	if err != nil {
		return 0, err
	}
	return h.accessFrequency(r.clock()), nil
}

// UpdateMetadata applies fn to a backend's metadata under the handle
// lock. Used by operational tooling to adjust health and metrics from
// signals the monitor cannot observe.
func (r *Registry) UpdateMetadata(id string, fn func(*models.BackendMetadata)) error {
	h, err := r.Resolve(id)
	if err != nil {
		return err
	}
	h.updateMeta(fn)
	return nil
}

// MigrationCandidates returns backend ids eligible for a one-tier move in
// the given direction. Demotion proposes hot and warm backends whose
// frequency fell below the threshold; promotion proposes cold and warm
// backends whose frequency rose above it. Pure function over current
// metadata; no side effects.
func (r *Registry) MigrationCandidates(direction Direction, threshold float64) []string {
	now := r.clock()
	var out []string
	for _, h := range r.All(nil) {
		meta := h.Snapshot()
		if meta.State != models.StateActive {
			continue
		}
		freq := h.accessFrequency(now)
		switch direction {
		case Demote:
			if (meta.Tier == models.TierHot || meta.Tier == models.TierWarm) && freq < threshold {
				out = append(out, h.ID())
			}
		case Promote:
			if (meta.Tier == models.TierCold || meta.Tier == models.TierWarm) && freq > threshold {
				out = append(out, h.ID())
			}
		}
	}
	return out
}

// NextTier returns the adjacent tier in the given direction, or "" when
// the backend is already at the boundary.
func NextTier(current models.Tier, direction Direction) models.Tier {
	switch direction {
	case Demote:
		switch current {
		case models.TierHot:
			return models.TierWarm
		case models.TierWarm:
			return models.TierCold
		}
	case Promote:
		switch current {
		case models.TierCold:
			return models.TierWarm
		case models.TierWarm:
			return models.TierHot
		}
	}
	return ""
}

// Deregister removes a backend. Fails with BackendBusy while in-flight
// operations are still bound to it.
func (r *Registry) Deregister(id string) error {
	// Lock order is registry then handle, matching All.
	r.mu.Lock()
	h, ok := r.handles[id]
	if !ok {
		r.mu.Unlock()
		return errors.ErrBackendNotFound.WithDetail("backend_id", id)
	}

	h.mu.Lock()
	b := h.binding.Load()
	if h.refs.Load() > 0 {
		inFlight := h.refs.Load()
		h.mu.Unlock()
		r.mu.Unlock()
		return errors.ErrBackendBusy.WithDetail("in_flight", inFlight)
	}
	if b.meta.State == models.StateMigrating {
		h.mu.Unlock()
		r.mu.Unlock()
		return errors.New(errors.CodeStateConflict, "backend is migrating")
	}
	b.meta.State = models.StateDeregistered
	delete(r.handles, id)
	h.mu.Unlock()
	r.mu.Unlock()

	if err := b.backend.Close(); err != nil {
		r.logger.Warn().Err(err).Str("backend_id", id).Msg("backend close failed during deregistration")
	}
	r.logger.Info().Str("backend_id", id).Msg("backend deregistered")
	return nil
}

// Size returns the number of registered backends.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Close closes every backend.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for id, h := range r.handles {
		if err := h.binding.Load().backend.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, errors.CodeInternal, "failed to close backend %s", id)
		}
		delete(r.handles, id)
	}
	return firstErr
}

func validateSpec(spec *models.BackendSpec) error {
	if spec.Domain == "" {
		return errors.ErrInvalidSpec.WithDetail("domain", "cannot be empty")
	}
	if !spec.Tier.Valid() {
		return errors.ErrInvalidSpec.WithDetail("tier", string(spec.Tier))
	}
	if spec.Kind == "" {
		spec.Kind = models.KindMemory
	}
	cfg := &spec.Configuration
	if cfg.ReplicationFactor == 0 {
		cfg.ReplicationFactor = 1
	}
	if cfg.ReplicationFactor < 1 || cfg.ReplicationFactor > 5 {
		return errors.ErrInvalidSpec.WithDetail("replication_factor", cfg.ReplicationFactor)
	}
	switch cfg.ConsistencyLevel {
	case "":
		cfg.ConsistencyLevel = models.ConsistencyEventual
	case models.ConsistencyStrong, models.ConsistencyEventual, models.ConsistencyWeak:
	default:
		return errors.ErrInvalidSpec.WithDetail("consistency_level", string(cfg.ConsistencyLevel))
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 30 * time.Second
	}
	if spec.PerformanceTier == "" {
		spec.PerformanceTier = models.PerformanceStandard
	}
	return nil
}
