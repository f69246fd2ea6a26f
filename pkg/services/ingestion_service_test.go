package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumhq/stratum/pkg/errors"
	"github.com/stratumhq/stratum/pkg/models"
)

func registerStackBackend(t *testing.T, s *testStack, domain string, tier models.Tier) string {
	t.Helper()
	id, err := s.registry.Register(models.BackendSpec{Domain: domain, Kind: models.KindMemory, Tier: tier})
	require.NoError(t, err)
	return id
}

func TestIngestStoresClassifiedItem(t *testing.T) {
	s := newTestStack(t.TempDir())
	backendID := registerStackBackend(t, s, "user", models.TierHot)

	res, err := s.ingestion.Ingest(context.Background(), map[string]interface{}{
		"email":     "ada@example.com",
		"firstName": "Ada",
	}, IngestOptions{})
	require.NoError(t, err)

	assert.NotEmpty(t, res.RecordID)
	assert.Equal(t, backendID, res.BackendID)
	assert.Empty(t, res.Warning)
	require.NotNil(t, res.Classification)
	assert.Equal(t, "user", res.Classification.Domain)
	require.NotNil(t, res.Routing)
	assert.Equal(t, models.TierHot, res.Routing.Tier)

	h, err := s.registry.Resolve(backendID)
	require.NoError(t, err)
	recs, err := h.Backend().Query(context.Background(), models.QueryParams{Domain: "user"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, res.RecordID, recs[0].ID)
	assert.Equal(t, "ada@example.com", recs[0].Fields["email"])

	assert.Equal(t, 1, s.metrics.count("successful_ingests"))
	assert.Zero(t, h.Snapshot().Metrics.ActiveConnections, "optimistic load released after store")
}

func TestIngestNilItem(t *testing.T) {
	s := newTestStack(t.TempDir())

	_, err := s.ingestion.Ingest(context.Background(), nil, IngestOptions{})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidRequest, errors.GetCode(err))
	assert.Equal(t, 1, s.metrics.count("ingest_validation_errors"))
}

func TestIngestLowConfidenceWarning(t *testing.T) {
	s := newTestStack(t.TempDir())
	generic := registerStackBackend(t, s, "generic", models.TierWarm)

	res, err := s.ingestion.Ingest(context.Background(), map[string]interface{}{
		"blob": 42,
	}, IngestOptions{})
	require.NoError(t, err)

	assert.Equal(t, generic, res.BackendID)
	assert.NotEmpty(t, res.Warning)
	assert.Equal(t, 1, s.metrics.count("low_confidence_classifications"))
}

func TestIngestFallbackRouting(t *testing.T) {
	s := newTestStack(t.TempDir())
	// No user backend exists; a generic one in the classified tier does.
	generic := registerStackBackend(t, s, "generic", models.TierHot)

	res, err := s.ingestion.Ingest(context.Background(), map[string]interface{}{
		"email": "ada@example.com",
	}, IngestOptions{})
	require.NoError(t, err)

	assert.Equal(t, generic, res.BackendID)
	assert.Equal(t, "user", res.Classification.Domain)
	assert.Equal(t, "generic", res.Routing.Domain)
	assert.Equal(t, 1, s.metrics.count("fallback_routings"))
}

func TestIngestNoBackendAnywhere(t *testing.T) {
	s := newTestStack(t.TempDir())

	_, err := s.ingestion.Ingest(context.Background(), map[string]interface{}{
		"email": "ada@example.com",
	}, IngestOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNoEligibleBackend)
	assert.Equal(t, 1, s.metrics.count("ingest_routing_errors"))
}

func TestIngestTypeHint(t *testing.T) {
	s := newTestStack(t.TempDir())
	registerStackBackend(t, s, "event", models.TierWarm)

	res, err := s.ingestion.Ingest(context.Background(), map[string]interface{}{
		"payload": "x",
	}, IngestOptions{TypeHint: "event"})
	require.NoError(t, err)
	assert.Equal(t, "event", res.Classification.Domain)
}

func TestIngestBatch(t *testing.T) {
	s := newTestStack(t.TempDir())
	registerStackBackend(t, s, "user", models.TierHot)
	registerStackBackend(t, s, "generic", models.TierHot)
	registerStackBackend(t, s, "generic", models.TierWarm)

	items := []map[string]interface{}{
		{"email": "a@example.com"},
		nil,
		{"email": "b@example.com"},
	}
	res, err := s.ingestion.IngestBatch(context.Background(), items, BatchOptions{Parallel: 2})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Items, 3)
	assert.NotNil(t, res.Items[0].Result)
	assert.NotEmpty(t, res.Items[1].Error)
	assert.Equal(t, 1, res.Items[1].Index)
	assert.NotNil(t, res.Items[2].Result)
}

func TestIngestBatchEmpty(t *testing.T) {
	s := newTestStack(t.TempDir())
	_, err := s.ingestion.IngestBatch(context.Background(), nil, BatchOptions{})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidRequest, errors.GetCode(err))
}

func TestIngestBatchFailFast(t *testing.T) {
	s := newTestStack(t.TempDir())
	// No backends at all, so every item fails to route.
	items := []map[string]interface{}{
		{"email": "a@example.com"},
		{"email": "b@example.com"},
	}
	res, err := s.ingestion.IngestBatch(context.Background(), items, BatchOptions{Parallel: 1, FailFast: true})
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Zero(t, res.Succeeded)
	assert.GreaterOrEqual(t, res.Failed, 1)
}
