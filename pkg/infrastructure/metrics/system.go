package metrics

import (
	"context"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/stratumhq/stratum/pkg/models"
)

// SystemSampler reads host-level resource usage via gopsutil.
type SystemSampler struct {
	// DiskPath is the mount point sampled for disk usage.
	DiskPath string
}

// NewSystemSampler creates a sampler for the given mount point, "/" when
// empty.
func NewSystemSampler(diskPath string) *SystemSampler {
	if diskPath == "" {
		diskPath = "/"
	}
	return &SystemSampler{DiskPath: diskPath}
}

// Sample reads instantaneous CPU, memory, and disk usage. Individual
// probe failures zero the corresponding fields rather than failing the
// whole sample; only a total failure returns an error.
func (s *SystemSampler) Sample(ctx context.Context) (models.SystemMetrics, error) {
	var sm models.SystemMetrics
	var lastErr error

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		lastErr = err
	} else if len(percents) > 0 {
		sm.CPUPercent = percents[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		lastErr = err
	} else {
		sm.MemoryTotal = vm.Total
		sm.MemoryUsed = vm.Used
	}

	if du, err := disk.UsageWithContext(ctx, s.DiskPath); err != nil {
		lastErr = err
	} else {
		sm.DiskTotal = du.Total
		sm.DiskUsed = du.Used
	}

	if sm.MemoryTotal == 0 && sm.DiskTotal == 0 && lastErr != nil {
		return sm, lastErr
	}
	return sm, nil
}
