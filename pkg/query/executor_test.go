package query

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumhq/stratum/pkg/models"
	"github.com/stratumhq/stratum/pkg/registry"
)

// seedBackend registers a memory backend and fills it with records.
func seedBackend(t *testing.T, reg *registry.Registry, domain string, recs ...models.Record) string {
	t.Helper()
	id, err := reg.Register(models.BackendSpec{Domain: domain, Kind: models.KindMemory, Tier: models.TierHot})
	require.NoError(t, err)
	h, err := reg.Resolve(id)
	require.NoError(t, err)
	for _, rec := range recs {
		_, err := h.Backend().Insert(context.Background(), rec)
		require.NoError(t, err)
	}
	return id
}

func resultByStep(t *testing.T, res *models.ExecutionResult, stepID string) *models.StepResult {
	t.Helper()
	for _, sr := range res.StepResults {
		if sr.StepID == stepID {
			return sr
		}
	}
	t.Fatalf("no result for step %s", stepID)
	return nil
}

func TestExecuteQueryStep(t *testing.T) {
	reg := newPlannerRegistry(t)
	id := seedBackend(t, reg, "user",
		models.Record{ID: "1", Domain: "user", Fields: map[string]interface{}{"name": "ada"}},
		models.Record{ID: "2", Domain: "user", Fields: map[string]interface{}{"name": "bob"}},
	)
	e := NewExecutor(DefaultExecutorConfig(), reg, zerolog.Nop())

	res, err := e.Execute(context.Background(), &models.ExecutionPlan{
		ID: "p1",
		Steps: []models.Step{{
			ID:        "s1",
			Type:      models.StepQuery,
			BackendID: id,
			Query:     &models.QueryParams{Domain: "user"},
		}},
	}, ExecuteOptions{})
	require.NoError(t, err)

	assert.False(t, res.Partial)
	sr := resultByStep(t, res, "s1")
	assert.Equal(t, models.StepCompleted, sr.Status)
	assert.Equal(t, 1, sr.Attempts)
	assert.Equal(t, models.TierHot, sr.BackendTier)
	assert.Len(t, sr.Records, 2)
}

func TestExecuteCombinesPartialAggregates(t *testing.T) {
	reg := newPlannerRegistry(t)
	b1 := seedBackend(t, reg, "metric",
		models.Record{Domain: "metric", Fields: map[string]interface{}{"value": 10}},
		models.Record{Domain: "metric", Fields: map[string]interface{}{"value": 20}},
	)
	b2 := seedBackend(t, reg, "metric",
		models.Record{Domain: "metric", Fields: map[string]interface{}{"value": 60}},
	)
	e := NewExecutor(DefaultExecutorConfig(), reg, zerolog.Nop())

	agg := &models.AggregateParams{Operation: "avg", Field: "value"}
	res, err := e.Execute(context.Background(), &models.ExecutionPlan{
		ID: "p1",
		Steps: []models.Step{
			{ID: "a1", Type: models.StepAggregate, BackendID: b1, Query: &models.QueryParams{Domain: "metric"}, Aggregate: agg},
			{ID: "a2", Type: models.StepAggregate, BackendID: b2, Query: &models.QueryParams{Domain: "metric"}, Aggregate: agg},
			{ID: "combine", Type: models.StepAggregate, Aggregate: agg, DependsOn: []string{"a1", "a2"}},
		},
	}, ExecuteOptions{})
	require.NoError(t, err)
	assert.False(t, res.Partial)

	combined := resultByStep(t, res, "combine")
	require.Equal(t, models.StepCompleted, combined.Status)
	require.NotNil(t, combined.Aggregate)
	// The exact global average comes from combined sums, not from
	// averaging the two per-backend averages.
	assert.Equal(t, 90.0, combined.Aggregate.Sum)
	assert.Equal(t, int64(3), combined.Aggregate.Count)
	assert.Equal(t, 10.0, combined.Aggregate.Min)
	assert.Equal(t, 60.0, combined.Aggregate.Max)
}

func TestExecuteGroupedCount(t *testing.T) {
	reg := newPlannerRegistry(t)
	id := seedBackend(t, reg, "message",
		models.Record{Domain: "message", Fields: map[string]interface{}{"user": "ada"}},
		models.Record{Domain: "message", Fields: map[string]interface{}{"user": "ada"}},
		models.Record{Domain: "message", Fields: map[string]interface{}{"user": "bob"}},
	)
	e := NewExecutor(DefaultExecutorConfig(), reg, zerolog.Nop())

	res, err := e.Execute(context.Background(), &models.ExecutionPlan{
		ID: "p1",
		Steps: []models.Step{{
			ID:        "s1",
			Type:      models.StepAggregate,
			BackendID: id,
			Query:     &models.QueryParams{Domain: "message"},
			Aggregate: &models.AggregateParams{Operation: "count", GroupBy: "user"},
		}},
	}, ExecuteOptions{})
	require.NoError(t, err)

	sr := resultByStep(t, res, "s1")
	require.NotNil(t, sr.Aggregate)
	assert.Equal(t, map[string]float64{"ada": 2, "bob": 1}, sr.Aggregate.Groups)
	assert.Equal(t, int64(3), sr.Aggregate.Count)
}

func TestExecuteSkipsDependentsOfFailedStep(t *testing.T) {
	reg := newPlannerRegistry(t)
	good := seedBackend(t, reg, "event", models.Record{Domain: "event"})
	e := NewExecutor(DefaultExecutorConfig(), reg, zerolog.Nop())

	agg := &models.AggregateParams{Operation: "count"}
	res, err := e.Execute(context.Background(), &models.ExecutionPlan{
		ID: "p1",
		Steps: []models.Step{
			{ID: "ok", Type: models.StepAggregate, BackendID: good, Query: &models.QueryParams{}, Aggregate: agg},
			{ID: "bad", Type: models.StepAggregate, BackendID: "no-such-backend", Query: &models.QueryParams{}, Aggregate: agg},
			{ID: "combine", Type: models.StepAggregate, Aggregate: agg, DependsOn: []string{"ok", "bad"}},
		},
	}, ExecuteOptions{})
	require.NoError(t, err)

	assert.True(t, res.Partial)
	assert.Equal(t, []string{"bad"}, res.FailedSteps)
	assert.Equal(t, []string{"combine"}, res.SkippedSteps)
	assert.Equal(t, models.StepCompleted, resultByStep(t, res, "ok").Status)
	assert.Equal(t, models.StepFailed, resultByStep(t, res, "bad").Status)
	skipped := resultByStep(t, res, "combine")
	assert.Equal(t, models.StepSkipped, skipped.Status)
	assert.Contains(t, skipped.Error, "bad")
}

func TestExecuteUnconfirmedDestructiveStepFails(t *testing.T) {
	reg := newPlannerRegistry(t)
	id := seedBackend(t, reg, "log",
		models.Record{Domain: "log"},
		models.Record{Domain: "log"},
	)
	e := NewExecutor(DefaultExecutorConfig(), reg, zerolog.Nop())

	plan := &models.ExecutionPlan{
		ID: "p1",
		Steps: []models.Step{{
			ID:          "del",
			Type:        models.StepMutate,
			BackendID:   id,
			Query:       &models.QueryParams{Domain: "log"},
			Mutation:    &models.MutationParams{Operation: "delete"},
			Destructive: true,
		}},
	}

	res, err := e.Execute(context.Background(), plan, ExecuteOptions{})
	require.NoError(t, err)
	assert.True(t, res.Partial)
	sr := resultByStep(t, res, "del")
	assert.Equal(t, models.StepFailed, sr.Status)
	assert.Contains(t, sr.Error, "confirmation")

	h, err := reg.Resolve(id)
	require.NoError(t, err)
	count, err := h.Backend().Count(context.Background(), models.QueryParams{Domain: "log"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count, "unconfirmed mutation must not touch data")

	// Confirmed, the same plan deletes.
	res, err = e.Execute(context.Background(), plan, ExecuteOptions{Confirmed: true})
	require.NoError(t, err)
	assert.False(t, res.Partial)
	assert.Equal(t, int64(2), resultByStep(t, res, "del").Affected)
}

func TestExecuteJoinStep(t *testing.T) {
	reg := newPlannerRegistry(t)
	left := seedBackend(t, reg, "event",
		models.Record{ID: "x", Domain: "event", Fields: map[string]interface{}{"clicks": 3}},
		models.Record{ID: "y", Domain: "event", Fields: map[string]interface{}{"clicks": 1}},
	)
	right := seedBackend(t, reg, "metric",
		models.Record{ID: "x", Domain: "metric", Fields: map[string]interface{}{"latency": 12.5}},
	)
	e := NewExecutor(DefaultExecutorConfig(), reg, zerolog.Nop())

	res, err := e.Execute(context.Background(), &models.ExecutionPlan{
		ID: "p1",
		Steps: []models.Step{
			{ID: "q1", Type: models.StepQuery, BackendID: left, Query: &models.QueryParams{Domain: "event"}},
			{ID: "q2", Type: models.StepQuery, BackendID: right, Query: &models.QueryParams{Domain: "metric"}},
			{ID: "join", Type: models.StepJoin, Join: &models.JoinParams{Key: "id"}, DependsOn: []string{"q1", "q2"}},
		},
	}, ExecuteOptions{})
	require.NoError(t, err)
	assert.False(t, res.Partial)

	joined := resultByStep(t, res, "join")
	require.Len(t, joined.Records, 1)
	rec := joined.Records[0]
	assert.Equal(t, "x", rec.ID)
	assert.Equal(t, 3, rec.Fields["clicks"])
	assert.Equal(t, 12.5, rec.Fields["latency"])
}

func TestExecuteDependencyGatingUnderContention(t *testing.T) {
	reg := newPlannerRegistry(t)
	cfg := DefaultExecutorConfig()
	cfg.MaxConcurrency = 1
	e := NewExecutor(cfg, reg, zerolog.Nop())

	filler := seedBackend(t, reg, "event",
		models.Record{Domain: "event"},
		models.Record{Domain: "event"},
	)

	// A single slot with more runnable steps than slots. The dependent
	// step must never reach its backend before the mutation it depends on
	// has finished, so it always sees all four records updated.
	for i := 0; i < 25; i++ {
		tasks := seedBackend(t, reg, "task",
			models.Record{ID: "t1", Domain: "task", Fields: map[string]interface{}{"status": "pending"}},
			models.Record{ID: "t2", Domain: "task", Fields: map[string]interface{}{"status": "pending"}},
			models.Record{ID: "t3", Domain: "task", Fields: map[string]interface{}{"status": "pending"}},
			models.Record{ID: "t4", Domain: "task", Fields: map[string]interface{}{"status": "pending"}},
		)

		res, err := e.Execute(context.Background(), &models.ExecutionPlan{
			ID: "p1",
			Steps: []models.Step{
				{ID: "f1", Type: models.StepQuery, BackendID: filler, Query: &models.QueryParams{Domain: "event"}},
				{ID: "f2", Type: models.StepQuery, BackendID: filler, Query: &models.QueryParams{Domain: "event"}},
				{ID: "f3", Type: models.StepQuery, BackendID: filler, Query: &models.QueryParams{Domain: "event"}},
				{
					ID:          "mark",
					Type:        models.StepMutate,
					BackendID:   tasks,
					Query:       &models.QueryParams{Domain: "task"},
					Mutation:    &models.MutationParams{Operation: "update", Set: map[string]interface{}{"status": "done"}},
					Destructive: true,
				},
				{
					ID:        "verify",
					Type:      models.StepQuery,
					BackendID: tasks,
					Query: &models.QueryParams{
						Domain:  "task",
						Filters: []models.FieldFilter{{Field: "status", Operator: models.OpEq, Value: "done"}},
					},
					DependsOn: []string{"mark"},
				},
			},
		}, ExecuteOptions{Confirmed: true})
		require.NoError(t, err)
		require.False(t, res.Partial)

		assert.Equal(t, int64(4), resultByStep(t, res, "mark").Affected)
		verify := resultByStep(t, res, "verify")
		require.Equal(t, models.StepCompleted, verify.Status)
		assert.Len(t, verify.Records, 4, "dependent step ran before its dependency finished")

		require.NoError(t, reg.Deregister(tasks))
	}
}

func TestFoldRecordsKeepsSumAndCount(t *testing.T) {
	recs := []models.Record{
		{Fields: map[string]interface{}{"v": 2.0}},
		{Fields: map[string]interface{}{"v": 4.0}},
		{Fields: map[string]interface{}{"v": "not a number"}},
	}
	out := foldRecords(recs, &models.AggregateParams{Operation: "avg", Field: "v"})
	assert.Equal(t, 6.0, out.Sum)
	assert.Equal(t, int64(2), out.Count)
	assert.Equal(t, 2.0, out.Min)
	assert.Equal(t, 4.0, out.Max)
}
