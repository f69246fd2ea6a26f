package backend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumhq/stratum/pkg/errors"
	"github.com/stratumhq/stratum/pkg/models"
)

func seedMemory(t *testing.T, recs ...models.Record) *MemoryBackend {
	t.Helper()
	m := NewMemoryBackend(models.BackendConfiguration{})
	ctx := context.Background()
	for _, rec := range recs {
		_, err := m.Insert(ctx, rec)
		require.NoError(t, err)
	}
	return m
}

func TestMemoryInsertAssignsID(t *testing.T) {
	m := NewMemoryBackend(models.BackendConfiguration{})
	id, err := m.Insert(context.Background(), models.Record{
		Domain: "user",
		Fields: map[string]interface{}{"email": "a@b.com"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	recs, err := m.Query(context.Background(), models.QueryParams{Domain: "user"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, id, recs[0].ID)
}

func TestMemoryQueryFilters(t *testing.T) {
	now := time.Now().UTC()
	m := seedMemory(t,
		models.Record{ID: "1", Domain: "user", Timestamp: now, Fields: map[string]interface{}{"age": 30, "name": "ada"}},
		models.Record{ID: "2", Domain: "user", Timestamp: now, Fields: map[string]interface{}{"age": 17, "name": "bob"}},
		models.Record{ID: "3", Domain: "product", Timestamp: now, Fields: map[string]interface{}{"price": 9.5}},
	)
	ctx := context.Background()

	recs, err := m.Query(ctx, models.QueryParams{
		Domain:  "user",
		Filters: []models.FieldFilter{{Field: "age", Operator: models.OpGt, Value: 18}},
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "1", recs[0].ID)

	recs, err = m.Query(ctx, models.QueryParams{
		Filters: []models.FieldFilter{{Field: "name", Operator: models.OpContains, Value: "AD"}},
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "1", recs[0].ID)

	n, err := m.Count(ctx, models.QueryParams{Domain: "user"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMemoryQueryTimeRangeAndLimit(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := seedMemory(t,
		models.Record{ID: "old", Domain: "log", Timestamp: base},
		models.Record{ID: "mid", Domain: "log", Timestamp: base.Add(time.Hour)},
		models.Record{ID: "new", Domain: "log", Timestamp: base.Add(2 * time.Hour)},
	)

	recs, err := m.Query(context.Background(), models.QueryParams{
		Domain:     "log",
		TimeRange:  &models.TimeRange{From: base.Add(30 * time.Minute), To: base.Add(3 * time.Hour)},
		OrderBy:    "timestamp",
		Descending: true,
		Limit:      1,
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "new", recs[0].ID)
}

func TestMemoryUpdateAndDelete(t *testing.T) {
	m := seedMemory(t,
		models.Record{ID: "1", Domain: "user", Fields: map[string]interface{}{"status": "active"}},
		models.Record{ID: "2", Domain: "user", Fields: map[string]interface{}{"status": "active"}},
	)
	ctx := context.Background()

	n, err := m.Update(ctx, models.QueryParams{
		Filters: []models.FieldFilter{{Field: "id", Operator: models.OpEq, Value: "1"}},
	}, map[string]interface{}{"status": "disabled"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	recs, err := m.Query(ctx, models.QueryParams{
		Filters: []models.FieldFilter{{Field: "status", Operator: models.OpEq, Value: "disabled"}},
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "1", recs[0].ID)

	n, err = m.Delete(ctx, models.QueryParams{Domain: "user"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	total, err := m.Count(ctx, models.QueryParams{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestMemoryCapacity(t *testing.T) {
	m := NewMemoryBackend(models.BackendConfiguration{MaxRecords: 1})
	ctx := context.Background()

	_, err := m.Insert(ctx, models.Record{Domain: "user"})
	require.NoError(t, err)

	_, err = m.Insert(ctx, models.Record{Domain: "user"})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidRequest, errors.GetCode(err))
}

func TestMemoryExportImport(t *testing.T) {
	src := seedMemory(t,
		models.Record{ID: "1", Domain: "user"},
		models.Record{ID: "2", Domain: "user"},
	)
	ctx := context.Background()

	recs, err := src.Export(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	dst := NewMemoryBackend(models.BackendConfiguration{})
	n, err := dst.Import(ctx, recs)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := dst.Count(ctx, models.QueryParams{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestMemoryStats(t *testing.T) {
	m := seedMemory(t, models.Record{ID: "1", Domain: "user"})
	stats := m.Stats()
	assert.Equal(t, int64(1), stats.RecordCount)
	assert.Equal(t, int64(1), stats.SuccessfulOperations)
	assert.Positive(t, stats.TotalSize)
}

func TestMemoryHealth(t *testing.T) {
	m := NewMemoryBackend(models.BackendConfiguration{})
	assert.Equal(t, models.HealthHealthy, m.Health(context.Background()))
	require.NoError(t, m.Close())
}
