package services

import (
	"context"
	"time"

	"github.com/stratumhq/stratum/pkg/backend"
	"github.com/stratumhq/stratum/pkg/errors"
	"github.com/stratumhq/stratum/pkg/models"
	"github.com/stratumhq/stratum/pkg/registry"
)

// HostSampler provides host-level resource readings. The infrastructure
// package provides the production implementation.
type HostSampler interface {
	Sample(ctx context.Context) (models.SystemMetrics, error)
}

// RebalanceConfig sets the access-frequency thresholds the rebalancer
// uses when proposing tier transitions.
type RebalanceConfig struct {
	DemoteBelow  float64 `json:"demote_below"`
	PromoteAbove float64 `json:"promote_above"`
}

// DefaultRebalanceConfig returns rebalance defaults.
func DefaultRebalanceConfig() RebalanceConfig {
	return RebalanceConfig{DemoteBelow: 0.5, PromoteAbove: 10}
}

// adminService implements AdminService.
type adminService struct {
	registry  *registry.Registry
	sampler   HostSampler
	rebalance RebalanceConfig
	logger    Logger
	metrics   MetricsCollector
}

// NewAdminService creates a new admin service.
func NewAdminService(
	reg *registry.Registry,
	sampler HostSampler,
	rebalance RebalanceConfig,
	logger Logger,
	metrics MetricsCollector,
) AdminService {
	if rebalance.DemoteBelow <= 0 && rebalance.PromoteAbove <= 0 {
		rebalance = DefaultRebalanceConfig()
	}
	return &adminService{
		registry:  reg,
		sampler:   sampler,
		rebalance: rebalance,
		logger:    logger,
		metrics:   metrics,
	}
}

// ListBackends returns metadata snapshots for backends matching the filter.
func (s *adminService) ListBackends(ctx context.Context, filter *BackendFilter) ([]models.BackendMetadata, error) {
	var rf *registry.Filter
	if filter != nil {
		rf = &registry.Filter{Tier: filter.Tier, Domain: filter.Domain, Status: filter.Status}
	}
	handles := s.registry.All(rf)
	out := make([]models.BackendMetadata, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.Snapshot())
	}
	return out, nil
}

// GetBackend returns one backend's metadata snapshot.
func (s *adminService) GetBackend(ctx context.Context, id string) (*models.BackendMetadata, error) {
	h, err := s.registry.Resolve(id)
	if err != nil {
		return nil, err
	}
	meta := h.Snapshot()
	return &meta, nil
}

// RegisterBackend provisions and registers a new backend.
func (s *adminService) RegisterBackend(ctx context.Context, spec models.BackendSpec) (string, error) {
	timer := s.metrics.StartTimer("register_backend")
	defer timer.Stop()

	id, err := s.registry.Register(spec)
	if err != nil {
		s.metrics.IncrementCounter("register_backend_errors")
		return "", err
	}
	s.metrics.IncrementCounter("backends_registered")
	s.logger.Info("Backend registered", "backend_id", id, "domain", spec.Domain, "tier", spec.Tier)
	return id, nil
}

// DeregisterBackend removes a backend once it is idle.
func (s *adminService) DeregisterBackend(ctx context.Context, id string) error {
	if err := s.registry.Deregister(id); err != nil {
		s.metrics.IncrementCounter("deregister_backend_errors")
		return err
	}
	s.metrics.IncrementCounter("backends_deregistered")
	s.logger.Info("Backend deregistered", "backend_id", id)
	return nil
}

// StartMaintenance runs one maintenance operation against a backend.
// Vacuum, reindex, and backup delegate to the backend itself; migrate
// delegates to the registry.
func (s *adminService) StartMaintenance(ctx context.Context, id string, op MaintenanceOp, opts MaintenanceOptions) (*MaintenanceReport, error) {
	timer := s.metrics.StartTimer("maintenance")
	defer timer.Stop()
	start := time.Now()

	s.logger.Info("Starting maintenance", "backend_id", id, "operation", op)

	report := &MaintenanceReport{BackendID: id, Operation: op}

	if op == MaintenanceMigrate {
		if !opts.TargetTier.Valid() {
			return nil, errors.New(errors.CodeInvalidRequest, "migrate requires a valid target tier").
				WithDetail("target_tier", string(opts.TargetTier))
		}
		migration, err := s.registry.Migrate(ctx, id, opts.TargetTier)
		if err != nil {
			s.metrics.IncrementCounter("maintenance_errors")
			return nil, err
		}
		report.Migration = migration
		report.Duration = time.Since(start)
		s.metrics.IncrementCounter("maintenance_completed")
		return report, nil
	}

	h, err := s.registry.Resolve(id)
	if err != nil {
		return nil, err
	}
	h.Acquire()
	defer h.Release()

	m, ok := h.Backend().(backend.Maintainer)
	if !ok {
		return nil, errors.New(errors.CodeUnsupportedOperation, "backend does not support maintenance").
			WithDetail("backend_id", id).
			WithDetail("operation", string(op))
	}

	switch op {
	case MaintenanceVacuum:
		err = m.Vacuum(ctx)
	case MaintenanceReindex:
		strategies := opts.Strategies
		if len(strategies) == 0 {
			strategies = h.Snapshot().IndexStrategies
		}
		err = m.Reindex(ctx, strategies)
	case MaintenanceBackup:
		if opts.BackupPath == "" {
			return nil, errors.New(errors.CodeInvalidRequest, "backup requires a path")
		}
		err = m.Backup(ctx, opts.BackupPath)
	default:
		return nil, errors.New(errors.CodeInvalidRequest, "unknown maintenance operation").
			WithDetail("operation", string(op))
	}
	if err != nil {
		s.metrics.IncrementCounter("maintenance_errors")
		return nil, errors.Wrap(err, errors.CodeMaintenanceFailed, "maintenance operation failed")
	}

	report.Duration = time.Since(start)
	s.metrics.IncrementCounter("maintenance_completed")
	s.logger.Info("Maintenance completed", "backend_id", id, "operation", op, "duration", report.Duration)
	return report, nil
}

// SystemMetrics combines a host sample with a per-backend rollup.
func (s *adminService) SystemMetrics(ctx context.Context) (*models.SystemMetrics, error) {
	var sm models.SystemMetrics
	if s.sampler != nil {
		sampled, err := s.sampler.Sample(ctx)
		if err != nil {
			s.logger.Warn("Host sampling failed", "error", err)
		} else {
			sm = sampled
		}
	}

	sm.BackendsByTier = make(map[models.Tier]int)
	sm.Backends = make(map[string]models.BackendMetrics)
	for _, h := range s.registry.All(nil) {
		meta := h.Snapshot()
		sm.BackendCount++
		sm.BackendsByTier[meta.Tier]++
		sm.Backends[meta.ID] = meta.Metrics
	}
	sm.CollectedAt = time.Now().UTC()

	s.metrics.RecordGauge("backend_count", float64(sm.BackendCount))
	return &sm, nil
}

// Rebalance proposes and executes tier transitions for backends whose
// decayed access frequency crossed the demote or promote thresholds.
// Each pass moves a backend at most one tier.
func (s *adminService) Rebalance(ctx context.Context) ([]models.MigrationReport, error) {
	timer := s.metrics.StartTimer("rebalance")
	defer timer.Stop()

	var reports []models.MigrationReport
	run := func(direction registry.Direction, threshold float64) {
		for _, id := range s.registry.MigrationCandidates(direction, threshold) {
			h, err := s.registry.Resolve(id)
			if err != nil {
				continue
			}
			target := registry.NextTier(h.Snapshot().Tier, direction)
			if target == "" {
				continue
			}
			report, err := s.registry.Migrate(ctx, id, target)
			if err != nil {
				s.metrics.IncrementCounter("rebalance_migration_errors")
				s.logger.Error("Rebalance migration failed", "error", err, "backend_id", id)
				continue
			}
			reports = append(reports, *report)
		}
	}
	run(registry.Demote, s.rebalance.DemoteBelow)
	run(registry.Promote, s.rebalance.PromoteAbove)

	s.metrics.IncrementCounter("rebalance_runs")
	s.logger.Info("Rebalance completed", "migrations", len(reports))
	return reports, nil
}
