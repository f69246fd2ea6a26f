package registry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stratumhq/stratum/pkg/models"
)

// MonitorConfig tunes the health monitor.
type MonitorConfig struct {
	// ProbeInterval is how often every backend is probed.
	ProbeInterval time.Duration `json:"probe_interval"`

	// ProbeTimeout bounds each individual probe.
	ProbeTimeout time.Duration `json:"probe_timeout"`

	// DegradedAfter and OfflineAfter are consecutive-failure thresholds.
	DegradedAfter int `json:"degraded_after"`
	OfflineAfter  int `json:"offline_after"`
}

// DefaultMonitorConfig returns sensible monitor defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		ProbeInterval: 15 * time.Second,
		ProbeTimeout:  5 * time.Second,
		DegradedAfter: 1,
		OfflineAfter:  3,
	}
}

// Monitor periodically probes backend health and refreshes operational
// metrics in the registry's metadata.
type Monitor struct {
	cfg      MonitorConfig
	registry *Registry
	logger   zerolog.Logger

	mu       sync.Mutex
	failures map[string]int
}

// NewMonitor creates a health monitor over the given registry.
func NewMonitor(cfg MonitorConfig, reg *Registry, logger zerolog.Logger) *Monitor {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 15 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.DegradedAfter <= 0 {
		cfg.DegradedAfter = 1
	}
	if cfg.OfflineAfter <= cfg.DegradedAfter {
		cfg.OfflineAfter = cfg.DegradedAfter + 2
	}
	return &Monitor{
		cfg:      cfg,
		registry: reg,
		logger:   logger,
		failures: make(map[string]int),
	}
}

// Run probes all backends until the context is canceled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep probes every backend once.
func (m *Monitor) Sweep(ctx context.Context) {
	for _, h := range m.registry.All(nil) {
		m.probe(ctx, h)
	}
}

func (m *Monitor) probe(ctx context.Context, h *Handle) {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	status := h.Backend().Health(probeCtx)
	cancel()

	m.mu.Lock()
	if status == models.HealthHealthy {
		m.failures[h.ID()] = 0
	} else {
		m.failures[h.ID()]++
	}
	failures := m.failures[h.ID()]
	m.mu.Unlock()

	next := models.HealthHealthy
	switch {
	case failures >= m.cfg.OfflineAfter:
		next = models.HealthOffline
	case failures > m.cfg.DegradedAfter:
		next = models.HealthUnhealthy
	case failures >= m.cfg.DegradedAfter:
		next = models.HealthDegraded
	}

	stats := h.Backend().Stats()
	h.updateMeta(func(meta *models.BackendMetadata) {
		if meta.HealthStatus != next {
			m.logger.Warn().
				Str("backend_id", h.ID()).
				Str("from", string(meta.HealthStatus)).
				Str("to", string(next)).
				Int("consecutive_failures", failures).
				Msg("backend health changed")
		}
		meta.HealthStatus = next
		meta.RecordCount = stats.RecordCount
		meta.TotalSize = stats.TotalSize
		if stats.RecordCount > 0 {
			meta.AverageRecordSize = stats.TotalSize / stats.RecordCount
		}
		meta.Metrics.ActiveConnections = stats.ActiveConnections
		meta.Metrics.SuccessfulOperations = stats.SuccessfulOperations
		meta.Metrics.FailedOperations = stats.FailedOperations
		meta.Metrics.AverageResponseTime = stats.AverageResponseTime
		total := stats.SuccessfulOperations + stats.FailedOperations
		if total > 0 {
			meta.Metrics.ErrorRate = float64(stats.FailedOperations) / float64(total)
		}
	})
}
