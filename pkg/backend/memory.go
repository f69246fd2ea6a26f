package backend

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/stratumhq/stratum/pkg/errors"
	"github.com/stratumhq/stratum/pkg/models"
)

// MemoryBackend is the hot-tier implementation: a mutex-guarded map with
// snapshot export/import for migration.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string]models.Record
	bytes   int64

	maxRecords int64
	maxSize    int64

	active   atomic.Int64
	success  atomic.Int64
	failed   atomic.Int64
	respEWMA atomic.Int64 // nanoseconds
}

// NewMemoryBackend creates an in-memory backend with the given limits.
// Zero limits mean unlimited.
func NewMemoryBackend(cfg models.BackendConfiguration) *MemoryBackend {
	return &MemoryBackend{
		records:    make(map[string]models.Record),
		maxRecords: cfg.MaxRecords,
		maxSize:    cfg.MaxSize,
	}
}

// Insert stores a record, assigning an id when none is set.
func (m *MemoryBackend) Insert(ctx context.Context, rec models.Record) (string, error) {
	done := m.begin()
	defer done()

	if err := ctx.Err(); err != nil {
		m.failed.Add(1)
		return "", errors.Wrap(err, errors.CodeCanceled, "insert canceled")
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	size := recordSize(rec)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxRecords > 0 && int64(len(m.records)) >= m.maxRecords {
		m.failed.Add(1)
		return "", errors.Newf(errors.CodeInvalidRequest, "backend at capacity: %d records", m.maxRecords)
	}
	if m.maxSize > 0 && m.bytes+size > m.maxSize {
		m.failed.Add(1)
		return "", errors.Newf(errors.CodeInvalidRequest, "backend at capacity: %d bytes", m.maxSize)
	}

	if old, ok := m.records[rec.ID]; ok {
		m.bytes -= recordSize(old)
	}
	m.records[rec.ID] = rec
	m.bytes += size
	m.success.Add(1)
	return rec.ID, nil
}

// Query returns records matching the given constraints.
func (m *MemoryBackend) Query(ctx context.Context, params models.QueryParams) ([]models.Record, error) {
	done := m.begin()
	defer done()

	if err := ctx.Err(); err != nil {
		m.failed.Add(1)
		return nil, errors.Wrap(err, errors.CodeCanceled, "query canceled")
	}

	m.mu.RLock()
	out := make([]models.Record, 0, len(m.records))
	for _, rec := range m.records {
		if matches(rec, params) {
			out = append(out, rec)
		}
	}
	m.mu.RUnlock()

	m.success.Add(1)
	return shape(out, params), nil
}

// Count returns the number of matching records.
func (m *MemoryBackend) Count(ctx context.Context, params models.QueryParams) (int64, error) {
	done := m.begin()
	defer done()

	if err := ctx.Err(); err != nil {
		m.failed.Add(1)
		return 0, errors.Wrap(err, errors.CodeCanceled, "count canceled")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, rec := range m.records {
		if matches(rec, params) {
			n++
		}
	}
	m.success.Add(1)
	return n, nil
}

// Update applies field values to matching records.
func (m *MemoryBackend) Update(ctx context.Context, params models.QueryParams, set map[string]interface{}) (int64, error) {
	done := m.begin()
	defer done()

	if err := ctx.Err(); err != nil {
		m.failed.Add(1)
		return 0, errors.Wrap(err, errors.CodeCanceled, "update canceled")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, rec := range m.records {
		if !matches(rec, params) {
			continue
		}
		m.bytes -= recordSize(rec)
		fields := make(map[string]interface{}, len(rec.Fields)+len(set))
		for k, v := range rec.Fields {
			fields[k] = v
		}
		for k, v := range set {
			fields[k] = v
		}
		rec.Fields = fields
		m.records[id] = rec
		m.bytes += recordSize(rec)
		n++
	}
	m.success.Add(1)
	return n, nil
}

// Delete removes matching records.
func (m *MemoryBackend) Delete(ctx context.Context, params models.QueryParams) (int64, error) {
	done := m.begin()
	defer done()

	if err := ctx.Err(); err != nil {
		m.failed.Add(1)
		return 0, errors.Wrap(err, errors.CodeCanceled, "delete canceled")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, rec := range m.records {
		if matches(rec, params) {
			m.bytes -= recordSize(rec)
			delete(m.records, id)
			n++
		}
	}
	m.success.Add(1)
	return n, nil
}

// Export snapshots every record for migration.
func (m *MemoryBackend) Export(ctx context.Context) ([]models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeCanceled, "export canceled")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	return out, nil
}

// Import bulk-loads records for migration.
func (m *MemoryBackend) Import(ctx context.Context, recs []models.Record) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return n, errors.Wrap(err, errors.CodeCanceled, "import canceled")
		}
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		m.records[rec.ID] = rec
		m.bytes += recordSize(rec)
		n++
	}
	return n, nil
}

// Health always reports healthy; the registry's monitor downgrades status
// on probe failures.
func (m *MemoryBackend) Health(ctx context.Context) models.HealthStatus {
	return models.HealthHealthy
}

// Stats returns a snapshot of operational statistics.
func (m *MemoryBackend) Stats() models.BackendStats {
	m.mu.RLock()
	count := int64(len(m.records))
	bytes := m.bytes
	m.mu.RUnlock()
	return models.BackendStats{
		RecordCount:          count,
		TotalSize:            bytes,
		ActiveConnections:    m.active.Load(),
		SuccessfulOperations: m.success.Load(),
		FailedOperations:     m.failed.Load(),
		AverageResponseTime:  time.Duration(m.respEWMA.Load()),
	}
}

// Close releases the record map.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]models.Record)
	m.bytes = 0
	return nil
}

// begin tracks an in-flight operation and returns a completion func that
// folds the elapsed time into the response-time EWMA.
func (m *MemoryBackend) begin() func() {
	m.active.Add(1)
	start := time.Now()
	return func() {
		m.active.Add(-1)
		elapsed := time.Since(start).Nanoseconds()
		prev := m.respEWMA.Load()
		// 1/8 smoothing, same shape as TCP RTT estimation.
		m.respEWMA.Store(prev + (elapsed-prev)/8)
	}
}

func recordSize(rec models.Record) int64 {
	b, err := json.Marshal(rec.Fields)
	if err != nil {
		return 0
	}
	return int64(len(b)) + int64(len(rec.ID)) + int64(len(rec.Domain))
}
