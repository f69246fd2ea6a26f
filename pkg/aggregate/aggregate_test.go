package aggregate

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumhq/stratum/pkg/models"
)

func completedStep(stepID, backendID string, tier models.Tier, recs ...models.Record) *models.StepResult {
	return &models.StepResult{
		StepID:      stepID,
		BackendID:   backendID,
		BackendTier: tier,
		Status:      models.StepCompleted,
		Records:     recs,
	}
}

func execResult(steps ...*models.StepResult) *models.ExecutionResult {
	return &models.ExecutionResult{PlanID: "p1", StepResults: steps}
}

func TestAggregateMerge(t *testing.T) {
	a := NewAggregator(zerolog.Nop())
	exec := execResult(
		completedStep("s1", "hot-1", models.TierHot,
			models.Record{ID: "1", Domain: "user"},
			models.Record{ID: "2", Domain: "user"},
		),
		completedStep("s2", "warm-1", models.TierWarm,
			models.Record{ID: "3", Domain: "user"},
		),
	)

	out, err := a.Aggregate(exec, models.StrategyMerge)
	require.NoError(t, err)

	assert.Len(t, out.Records, 3)
	assert.Equal(t, 3, out.TotalResults)
	assert.ElementsMatch(t, []string{"hot-1", "warm-1"}, out.Sources)
	assert.False(t, out.Partial)
	assert.Equal(t, "warm-1", out.Records[2].SourceBackendID)
	assert.Equal(t, models.TierWarm, out.Records[2].SourceTier)
}

func TestAggregateDefaultsToMerge(t *testing.T) {
	a := NewAggregator(zerolog.Nop())
	out, err := a.Aggregate(execResult(completedStep("s1", "b1", models.TierHot, models.Record{ID: "1"})), "")
	require.NoError(t, err)
	assert.Equal(t, models.StrategyMerge, out.Strategy)
	assert.Len(t, out.Records, 1)
}

func TestAggregateUnknownStrategy(t *testing.T) {
	a := NewAggregator(zerolog.Nop())
	_, err := a.Aggregate(execResult(), "majority_vote")
	require.Error(t, err)
}

func TestAggregateDeduplicateKeepsNewest(t *testing.T) {
	a := NewAggregator(zerolog.Nop())
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fresh := old.Add(time.Hour)
	exec := execResult(
		completedStep("s1", "b1", models.TierWarm,
			models.Record{ID: "1", Timestamp: old, Fields: map[string]interface{}{"v": "stale"}},
			models.Record{ID: "2", Timestamp: old},
		),
		completedStep("s2", "b2", models.TierHot,
			models.Record{ID: "1", Timestamp: fresh, Fields: map[string]interface{}{"v": "fresh"}},
		),
	)

	out, err := a.Aggregate(exec, models.StrategyDeduplicate)
	require.NoError(t, err)

	require.Len(t, out.Records, 2)
	byID := make(map[string]models.AttributedRecord)
	for _, rec := range out.Records {
		byID[rec.ID] = rec
	}
	assert.Equal(t, "fresh", byID["1"].Fields["v"])

	// Deduplicating an already deduplicated set changes nothing.
	again, err := a.Aggregate(exec, models.StrategyDeduplicate)
	require.NoError(t, err)
	assert.Equal(t, out.Records, again.Records)
}

func TestAggregatePrioritizeHot(t *testing.T) {
	a := NewAggregator(zerolog.Nop())
	exec := execResult(
		completedStep("s1", "cold-1", models.TierCold,
			models.Record{ID: "1", Fields: map[string]interface{}{"src": "cold"}},
		),
		completedStep("s2", "hot-1", models.TierHot,
			models.Record{ID: "1", Fields: map[string]interface{}{"src": "hot"}},
		),
	)

	out, err := a.Aggregate(exec, models.StrategyPrioritizeHot)
	require.NoError(t, err)
	require.Len(t, out.Records, 1)
	assert.Equal(t, "hot", out.Records[0].Fields["src"])
	assert.Equal(t, models.TierHot, out.Records[0].SourceTier)
}

func TestAggregateTimeOrdered(t *testing.T) {
	a := NewAggregator(zerolog.Nop())
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	exec := execResult(
		completedStep("s1", "b1", models.TierHot,
			models.Record{ID: "old", Timestamp: base},
			models.Record{ID: "newest", Timestamp: base.Add(2 * time.Hour)},
		),
		completedStep("s2", "b2", models.TierWarm,
			models.Record{ID: "mid", Timestamp: base.Add(time.Hour)},
		),
	)

	out, err := a.Aggregate(exec, models.StrategyTimeOrdered)
	require.NoError(t, err)
	require.Len(t, out.Records, 3)
	assert.Equal(t, "newest", out.Records[0].ID)
	assert.Equal(t, "mid", out.Records[1].ID)
	assert.Equal(t, "old", out.Records[2].ID)
}

func TestAggregateWeightedAverage(t *testing.T) {
	a := NewAggregator(zerolog.Nop())
	// One backend holds 10 values summing to 100, the other 30 summing to
	// 600. The naive average of averages would be (10+20)/2 = 15.
	exec := execResult(
		&models.StepResult{
			StepID: "a1", BackendID: "b1", Status: models.StepCompleted,
			Aggregate: &models.AggregateValue{Operation: "avg", Sum: 100, Count: 10, Min: 2, Max: 30},
		},
		&models.StepResult{
			StepID: "a2", BackendID: "b2", Status: models.StepCompleted,
			Aggregate: &models.AggregateValue{Operation: "avg", Sum: 600, Count: 30, Min: 5, Max: 90},
		},
	)

	out, err := a.Aggregate(exec, models.StrategyWeightedAverage)
	require.NoError(t, err)
	require.NotNil(t, out.Value)
	assert.InDelta(t, 17.5, *out.Value, 0.001)
	assert.Equal(t, 1, out.TotalResults)
}

func TestAggregateWeightedAveragePrefersCombinedStep(t *testing.T) {
	a := NewAggregator(zerolog.Nop())
	// A combining step already folded the partials. Using the partials
	// again would double the sum.
	exec := execResult(
		&models.StepResult{
			StepID: "a1", BackendID: "b1", Status: models.StepCompleted,
			Aggregate: &models.AggregateValue{Operation: "sum", Sum: 40, Count: 4},
		},
		&models.StepResult{
			StepID: "a2", BackendID: "b2", Status: models.StepCompleted,
			Aggregate: &models.AggregateValue{Operation: "sum", Sum: 60, Count: 6},
		},
		&models.StepResult{
			StepID: "combine", Status: models.StepCompleted,
			Aggregate: &models.AggregateValue{Operation: "sum", Sum: 100, Count: 10},
		},
	)

	out, err := a.Aggregate(exec, models.StrategyWeightedAverage)
	require.NoError(t, err)
	require.NotNil(t, out.Value)
	assert.Equal(t, 100.0, *out.Value)
}

func TestAggregateWeightedAverageGroups(t *testing.T) {
	a := NewAggregator(zerolog.Nop())
	exec := execResult(
		&models.StepResult{
			StepID: "a1", BackendID: "b1", Status: models.StepCompleted,
			Aggregate: &models.AggregateValue{Operation: "count", Count: 3, Groups: map[string]float64{"ada": 2, "bob": 1}},
		},
		&models.StepResult{
			StepID: "a2", BackendID: "b2", Status: models.StepCompleted,
			Aggregate: &models.AggregateValue{Operation: "count", Count: 2, Groups: map[string]float64{"ada": 1, "eve": 1}},
		},
	)

	out, err := a.Aggregate(exec, models.StrategyWeightedAverage)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"ada": 3, "bob": 1, "eve": 1}, out.Groups)
	assert.Equal(t, 3, out.TotalResults)
}

func TestAggregateStatisticalSummary(t *testing.T) {
	a := NewAggregator(zerolog.Nop())
	var recs []models.Record
	for i := 1; i <= 100; i++ {
		recs = append(recs, models.Record{Fields: map[string]interface{}{"latency": float64(i)}})
	}
	exec := execResult(&models.StepResult{
		StepID: "s1", BackendID: "b1", Status: models.StepCompleted,
		Records:   recs,
		Aggregate: &models.AggregateValue{Field: "latency"},
	})

	out, err := a.Aggregate(exec, models.StrategyStatisticalSummary)
	require.NoError(t, err)
	require.NotNil(t, out.Summary)
	assert.Equal(t, int64(100), out.Summary.Count)
	assert.Equal(t, 1.0, out.Summary.Min)
	assert.Equal(t, 100.0, out.Summary.Max)
	assert.InDelta(t, 50.5, out.Summary.Mean, 0.001)
	assert.Equal(t, 50.0, out.Summary.P50)
	assert.Equal(t, 95.0, out.Summary.P95)
	assert.Equal(t, 99.0, out.Summary.P99)
}

func TestAggregateSummaryFromPartials(t *testing.T) {
	a := NewAggregator(zerolog.Nop())
	exec := execResult(
		&models.StepResult{
			StepID: "a1", BackendID: "b1", Status: models.StepCompleted,
			Aggregate: &models.AggregateValue{Field: "value", Sum: 100, Count: 10, Min: 1, Max: 40},
		},
		&models.StepResult{
			StepID: "a2", BackendID: "b2", Status: models.StepCompleted,
			Aggregate: &models.AggregateValue{Field: "value", Sum: 200, Count: 10, Min: 5, Max: 60},
		},
	)

	out, err := a.Aggregate(exec, models.StrategyStatisticalSummary)
	require.NoError(t, err)
	require.NotNil(t, out.Summary)
	assert.Equal(t, int64(20), out.Summary.Count)
	assert.Equal(t, 1.0, out.Summary.Min)
	assert.Equal(t, 60.0, out.Summary.Max)
	assert.InDelta(t, 15.0, out.Summary.Mean, 0.001)
}

func TestAggregateCrossReference(t *testing.T) {
	a := NewAggregator(zerolog.Nop())
	exec := execResult(
		completedStep("s1", "b1", models.TierHot,
			models.Record{ID: "1", Fields: map[string]interface{}{"left": true}},
			models.Record{ID: "2", Fields: map[string]interface{}{"left": true}},
		),
		completedStep("s2", "b2", models.TierWarm,
			models.Record{ID: "2", Fields: map[string]interface{}{"right": true}},
			models.Record{ID: "3", Fields: map[string]interface{}{"right": true}},
		),
	)

	out, err := a.Aggregate(exec, models.StrategyCrossReference)
	require.NoError(t, err)
	require.Len(t, out.Records, 1)
	rec := out.Records[0]
	assert.Equal(t, "2", rec.ID)
	assert.Equal(t, true, rec.Fields["left"])
	assert.Equal(t, true, rec.Fields["right"])
}

func TestAggregateReportsPartialBranches(t *testing.T) {
	a := NewAggregator(zerolog.Nop())
	exec := &models.ExecutionResult{
		PlanID: "p1",
		StepResults: []*models.StepResult{
			completedStep("ok", "b1", models.TierHot, models.Record{ID: "1"}),
			{StepID: "bad", BackendID: "b2", Status: models.StepFailed, Error: "backend offline"},
			{StepID: "after", Status: models.StepSkipped},
		},
		FailedSteps:  []string{"bad"},
		SkippedSteps: []string{"after"},
		Partial:      true,
	}

	out, err := a.Aggregate(exec, models.StrategyMerge)
	require.NoError(t, err)
	assert.True(t, out.Partial)
	assert.Equal(t, []string{"bad"}, out.FailedSteps)
	assert.Equal(t, []string{"after"}, out.SkippedSteps)
	assert.Len(t, out.Records, 1)
	assert.Equal(t, []string{"b1"}, out.Sources)
}

func TestAggregateQueryTimeIsSlowestStep(t *testing.T) {
	a := NewAggregator(zerolog.Nop())
	exec := execResult(
		&models.StepResult{StepID: "s1", BackendID: "b1", Status: models.StepCompleted, Duration: 20 * time.Millisecond},
		&models.StepResult{StepID: "s2", BackendID: "b2", Status: models.StepCompleted, Duration: 120 * time.Millisecond},
	)

	out, err := a.Aggregate(exec, models.StrategyMerge)
	require.NoError(t, err)
	assert.Equal(t, 120*time.Millisecond, out.QueryTime)
}
