package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumhq/stratum/pkg/errors"
	"github.com/stratumhq/stratum/pkg/models"
)

func seedUsers(t *testing.T, s *testStack, backendID string, names ...string) {
	t.Helper()
	h, err := s.registry.Resolve(backendID)
	require.NoError(t, err)
	for _, name := range names {
		_, err := h.Backend().Insert(context.Background(), models.Record{
			Domain: "user",
			Fields: map[string]interface{}{"name": name, "email": name + "@example.com"},
		})
		require.NoError(t, err)
	}
}

func TestQueryRoundTrip(t *testing.T) {
	s := newTestStack(t.TempDir())
	backendID := registerStackBackend(t, s, "user", models.TierHot)
	seedUsers(t, s, backendID, "ada", "bob")

	resp, err := s.query.Query(context.Background(), "show users", QueryOptions{})
	require.NoError(t, err)

	assert.False(t, resp.RequiresConfirmation)
	require.NotNil(t, resp.Results)
	assert.Equal(t, models.StrategyMerge, resp.Results.Strategy)
	assert.Len(t, resp.Results.Records, 2)
	assert.False(t, resp.Results.Partial)
	assert.Equal(t, []string{backendID}, resp.Results.Sources)
	assert.Equal(t, 2, resp.Metadata.TotalResults)
	assert.Contains(t, resp.Metadata.PerBackendTimes, backendID)
	assert.Equal(t, 1, s.metrics.count("successful_queries"))
}

func TestQueryEmptyText(t *testing.T) {
	s := newTestStack(t.TempDir())
	_, err := s.query.Query(context.Background(), "   ", QueryOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrEmptyQuery)
}

func TestQueryAggregateUsesWeightedAverage(t *testing.T) {
	s := newTestStack(t.TempDir())
	b1 := registerStackBackend(t, s, "user", models.TierHot)
	b2 := registerStackBackend(t, s, "user", models.TierWarm)
	seedUsers(t, s, b1, "ada", "bob")
	seedUsers(t, s, b2, "eve")

	resp, err := s.query.Query(context.Background(), "count users", QueryOptions{})
	require.NoError(t, err)

	require.NotNil(t, resp.Results)
	assert.Equal(t, models.StrategyWeightedAverage, resp.Results.Strategy)
	require.NotNil(t, resp.Results.Value)
	assert.Equal(t, 3.0, *resp.Results.Value)
}

func TestQueryDestructiveGating(t *testing.T) {
	s := newTestStack(t.TempDir())
	backendID := registerStackBackend(t, s, "user", models.TierHot)
	seedUsers(t, s, backendID, "ada", "bob")

	resp, err := s.query.Query(context.Background(), "delete users", QueryOptions{})
	require.NoError(t, err)

	assert.True(t, resp.RequiresConfirmation)
	assert.Nil(t, resp.Results, "destructive queries never execute unconfirmed")
	require.NotNil(t, resp.Plan, "the plan is returned for review")

	h, err := s.registry.Resolve(backendID)
	require.NoError(t, err)
	count, err := h.Backend().Count(context.Background(), models.QueryParams{Domain: "user"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	resp, err = s.query.Query(context.Background(), "delete users", QueryOptions{Confirmed: true})
	require.NoError(t, err)
	assert.False(t, resp.RequiresConfirmation)
	require.NotNil(t, resp.Results)
	assert.False(t, resp.Results.Partial)

	count, err = h.Backend().Count(context.Background(), models.QueryParams{Domain: "user"})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestQueryExplainIncludesPlan(t *testing.T) {
	s := newTestStack(t.TempDir())
	backendID := registerStackBackend(t, s, "user", models.TierHot)
	seedUsers(t, s, backendID, "ada")

	resp, err := s.query.Query(context.Background(), "show users", QueryOptions{Explain: true})
	require.NoError(t, err)
	require.NotNil(t, resp.Plan)
	assert.NotEmpty(t, resp.Plan.Steps)

	resp, err = s.query.Query(context.Background(), "show users", QueryOptions{})
	require.NoError(t, err)
	assert.Nil(t, resp.Plan)
}

func TestQueryExplicitStrategy(t *testing.T) {
	s := newTestStack(t.TempDir())
	backendID := registerStackBackend(t, s, "user", models.TierHot)
	seedUsers(t, s, backendID, "ada")

	resp, err := s.query.Query(context.Background(), "show users", QueryOptions{
		Strategy: models.StrategyDeduplicate,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StrategyDeduplicate, resp.Results.Strategy)
	assert.Equal(t, models.StrategyDeduplicate, resp.Metadata.Strategy)
}

func TestQueryNoBackendsForDomain(t *testing.T) {
	s := newTestStack(t.TempDir())

	_, err := s.query.Query(context.Background(), "show users", QueryOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNoEligibleBackend)
	assert.Equal(t, 1, s.metrics.count("query_plan_errors"))
}

func TestPlanDryRun(t *testing.T) {
	s := newTestStack(t.TempDir())
	backendID := registerStackBackend(t, s, "user", models.TierHot)
	seedUsers(t, s, backendID, "ada")

	iq, err := s.query.Plan(context.Background(), "delete users")
	require.NoError(t, err)
	require.NotNil(t, iq.Plan)
	assert.True(t, iq.RequiresConfirmation)

	// Dry runs never touch data.
	h, err := s.registry.Resolve(backendID)
	require.NoError(t, err)
	count, err := h.Backend().Count(context.Background(), models.QueryParams{Domain: "user"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestPlanEmptyText(t *testing.T) {
	s := newTestStack(t.TempDir())
	_, err := s.query.Plan(context.Background(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrEmptyQuery)
}
