package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/stratumhq/stratum/pkg/backend"
	"github.com/stratumhq/stratum/pkg/errors"
	"github.com/stratumhq/stratum/pkg/models"
)

// Migrate orchestrates a tier change: it marks the backend migrating,
// copies data into a freshly constructed backend in the target tier, and
// atomically swaps the registry binding. On failure the binding is left
// unchanged; there is no partial cutover.
func (r *Registry) Migrate(ctx context.Context, id string, target models.Tier) (*models.MigrationReport, error) {
	if !target.Valid() {
		return nil, errors.ErrInvalidSpec.WithDetail("tier", string(target))
	}

	h, err := r.Resolve(id)
	if err != nil {
		return nil, err
	}

	// Claim the migration under the handle lock. The Migrating state
	// serializes migrations per backend without holding the lock for the
	// duration of the copy, keeping Resolve and Snapshot responsive.
	h.mu.Lock()
	src := h.binding.Load()
	if src.meta.State != models.StateActive {
		state := src.meta.State
		h.mu.Unlock()
		return nil, errors.Newf(errors.CodeStateConflict, "backend is %s, not active", state)
	}
	if src.meta.Tier == target {
		h.mu.Unlock()
		return nil, errors.Newf(errors.CodeInvalidRequest, "backend already in tier %s", target)
	}
	src.meta.State = models.StateMigrating
	sourceTier := src.meta.Tier
	h.mu.Unlock()

	start := r.clock()
	report := &models.MigrationReport{
		BackendID:  id,
		SourceTier: sourceTier,
		TargetTier: target,
	}

	moved, bytes, newBackend, err := r.copyToTier(ctx, src, target)
	duration := r.clock().Sub(start)
	report.Duration = duration
	report.RecordsMoved = moved
	report.BytesMoved = bytes

	record := models.MigrationRecord{
		From:         sourceTier,
		To:           target,
		StartedAt:    start.UTC(),
		Duration:     duration,
		RecordsMoved: moved,
		BytesMoved:   bytes,
	}

	if err != nil {
		report.Success = false
		report.Error = err.Error()
		record.Success = false
		record.Error = err.Error()
		if newBackend != nil {
			_ = newBackend.Close()
		}
		h.mu.Lock()
		src.meta.State = models.StateActive
		src.meta.MigrationHistory = append(src.meta.MigrationHistory, record)
		src.meta.UpdatedAt = r.clock().UTC()
		h.mu.Unlock()
		r.logger.Error().Err(err).
			Str("backend_id", id).
			Str("target_tier", string(target)).
			Msg("migration failed, binding unchanged")
		return report, errors.Wrap(err, errors.CodeMigrationFailed, "tier migration failed")
	}

	record.Success = true
	report.Success = true

	// Cutover: swap the whole binding so concurrent Resolve sees old or
	// new, never a half-copied backend.
	h.mu.Lock()
	newMeta := *src.meta
	newMeta.Tier = target
	newMeta.Kind = r.cfg.TierKinds[target]
	newMeta.State = models.StateActive
	newMeta.RecordCount = moved
	newMeta.TotalSize = bytes
	if moved > 0 {
		newMeta.AverageRecordSize = bytes / moved
	}
	newMeta.MigrationHistory = append(newMeta.MigrationHistory, record)
	newMeta.UpdatedAt = r.clock().UTC()
	h.binding.Store(&binding{backend: newBackend, meta: &newMeta})
	h.mu.Unlock()

	// The old backend may still be serving calls that resolved before the
	// swap; close it once those drain.
	go r.closeWhenIdle(h, src)

	r.logger.Info().
		Str("backend_id", id).
		Str("from", string(sourceTier)).
		Str("to", string(target)).
		Int64("records", moved).
		Dur("duration", duration).
		Msg("migration complete")
	return report, nil
}

// copyToTier exports the source and imports into a new target-tier
// backend, throttled by the registry's migration rate limit.
func (r *Registry) copyToTier(ctx context.Context, src *binding, target models.Tier) (int64, int64, backend.Backend, error) {
	kind := r.cfg.TierKinds[target]
	spec := models.BackendSpec{
		Domain:        src.meta.Domain,
		Kind:          kind,
		Tier:          target,
		Configuration: src.meta.Configuration,
	}
	if kind == models.KindDuckDB {
		spec.Path = filepath.Join(r.cfg.DataDir,
			fmt.Sprintf("%s-%s-%d.db", src.meta.ID, target, r.clock().UnixNano()))
	}

	dst, err := r.factory.New(spec)
	if err != nil {
		return 0, 0, nil, err
	}

	records, err := src.backend.Export(ctx)
	if err != nil {
		return 0, 0, dst, err
	}

	var moved, bytes int64
	batch := r.cfg.MigrationBatchSize
	for i := 0; i < len(records); i += batch {
		end := i + batch
		if end > len(records) {
			end = len(records)
		}
		chunk := records[i:end]
		if r.limiter != nil {
			if err := r.limiter.WaitN(ctx, len(chunk)); err != nil {
				return moved, bytes, dst, err
			}
		}
		n, err := dst.Import(ctx, chunk)
		moved += int64(n)
		if err != nil {
			return moved, bytes, dst, err
		}
	}
	bytes = dst.Stats().TotalSize
	return moved, bytes, dst, nil
}

// closeWhenIdle closes the retired backend once no in-flight operations
// remain, giving up after a bounded wait.
func (r *Registry) closeWhenIdle(h *Handle, old *binding) {
	deadline := time.Now().Add(30 * time.Second)
	for h.refs.Load() > 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if err := old.backend.Close(); err != nil {
		r.logger.Warn().Err(err).Str("backend_id", h.id).Msg("failed to close retired backend")
	}
}
