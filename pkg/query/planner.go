package query

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stratumhq/stratum/pkg/errors"
	"github.com/stratumhq/stratum/pkg/models"
	"github.com/stratumhq/stratum/pkg/registry"
)

// Planner turns an interpreted query into a dependency-ordered execution
// plan. One step is emitted per (intent, target backend) pair; aggregate
// and compare intents spanning multiple backends get a combining step
// that depends on every source step.
type Planner struct {
	registry *registry.Registry
	logger   zerolog.Logger
}

// NewPlanner creates a planner over the given registry.
func NewPlanner(reg *registry.Registry, logger zerolog.Logger) *Planner {
	return &Planner{registry: reg, logger: logger}
}

// Plan builds an execution plan for the interpretation. The returned
// plan is validated: the graph is acyclic and every dependency names a
// step that appears earlier in Steps.
func (p *Planner) Plan(iq *models.InterpretedQuery) (*models.ExecutionPlan, error) {
	targets := p.targets(iq)
	if len(targets) == 0 {
		return nil, errors.ErrNoEligibleBackend.
			WithDetail("domains", iq.Entities.Domains)
	}

	plan := &models.ExecutionPlan{ID: uuid.New().String()}
	var optimizations []string

	for i, intent := range iq.Intents {
		switch intent.Type {
		case models.IntentRetrieve:
			for _, t := range targets {
				plan.Steps = append(plan.Steps, p.queryStep(i, t, iq, &optimizations))
			}
		case models.IntentAggregate:
			p.planAggregate(plan, i, intent, targets, iq, &optimizations)
		case models.IntentCompare:
			p.planCompare(plan, i, targets, iq, &optimizations)
		case models.IntentUpdate, models.IntentDelete:
			for _, t := range targets {
				plan.Steps = append(plan.Steps, p.mutateStep(i, intent, t, iq))
			}
		}
	}

	if len(plan.Steps) == 0 {
		return nil, errors.ErrEmptyQuery.WithDetail("reason", "no executable steps")
	}
	if err := validatePlan(plan); err != nil {
		return nil, err
	}

	plan.ParallelGroups = parallelGroups(plan.Steps)
	plan.SyncPoints = syncPoints(plan.Steps)
	plan.EstimatedTime = criticalPath(plan.Steps)

	iq.Plan = plan
	iq.Optimizations = append(iq.Optimizations, dedupeStrings(optimizations)...)

	p.logger.Debug().
		Str("plan_id", plan.ID).
		Int("steps", len(plan.Steps)).
		Int("waves", len(plan.ParallelGroups)).
		Strs("optimizations", iq.Optimizations).
		Msg("built execution plan")
	return plan, nil
}

// targets resolves the interpretation's backend ids to live metadata,
// dropping backends that have gone away since parsing.
func (p *Planner) targets(iq *models.InterpretedQuery) []models.BackendMetadata {
	out := make([]models.BackendMetadata, 0, len(iq.TargetBackendIDs))
	for _, id := range iq.TargetBackendIDs {
		h, err := p.registry.Resolve(id)
		if err != nil {
			continue
		}
		meta := h.Snapshot()
		if meta.State == models.StateActive || meta.State == models.StateMigrating {
			out = append(out, meta)
		}
	}
	return out
}

func (p *Planner) queryStep(intentIdx int, t models.BackendMetadata, iq *models.InterpretedQuery, opts *[]string) models.Step {
	params := &models.QueryParams{
		Domain:    t.Domain,
		Filters:   iq.Entities.Filters,
		TimeRange: iq.Entities.TimeRange,
	}
	if limit := iq.Original.Preferences.MaxResults; limit > 0 {
		params.Limit = limit
		*opts = append(*opts, "limit_pushdown")
	}
	for _, f := range iq.Entities.Filters {
		if containsString(t.IndexStrategies, f.Field) {
			*opts = append(*opts, "index_hint:"+f.Field)
		}
	}
	return models.Step{
		ID:            fmt.Sprintf("s%d-query-%s", intentIdx, shortID(t.ID)),
		Type:          models.StepQuery,
		BackendID:     t.ID,
		Query:         params,
		EstimatedTime: tierEstimate(t.Tier),
		ResourceCost:  tierCost(t.Tier),
	}
}

// planAggregate emits a partial-aggregate step per backend plus, when
// more than one backend is involved, a combining step that depends on
// all of them. Partials carry separate sums and counts so the combiner
// can compute exact global averages.
func (p *Planner) planAggregate(plan *models.ExecutionPlan, intentIdx int, intent models.Intent, targets []models.BackendMetadata, iq *models.InterpretedQuery, opts *[]string) {
	agg := aggregateParams(intent)
	if agg.Field != "" || agg.GroupBy != "" {
		*opts = append(*opts, "projection_pruning")
	}

	var sources []string
	for _, t := range targets {
		step := models.Step{
			ID:        fmt.Sprintf("s%d-agg-%s", intentIdx, shortID(t.ID)),
			Type:      models.StepAggregate,
			BackendID: t.ID,
			Query: &models.QueryParams{
				Domain:    t.Domain,
				Filters:   iq.Entities.Filters,
				TimeRange: iq.Entities.TimeRange,
			},
			Aggregate:     agg,
			EstimatedTime: tierEstimate(t.Tier),
			ResourceCost:  tierCost(t.Tier),
		}
		plan.Steps = append(plan.Steps, step)
		sources = append(sources, step.ID)
	}

	if len(sources) > 1 {
		plan.Steps = append(plan.Steps, models.Step{
			ID:            fmt.Sprintf("s%d-combine", intentIdx),
			Type:          models.StepAggregate,
			Aggregate:     agg,
			DependsOn:     sources,
			EstimatedTime: 5 * time.Millisecond,
		})
	}
}

// planCompare emits a per-backend query step and a join step over all of
// them keyed on id.
func (p *Planner) planCompare(plan *models.ExecutionPlan, intentIdx int, targets []models.BackendMetadata, iq *models.InterpretedQuery, opts *[]string) {
	var sources []string
	for _, t := range targets {
		step := p.queryStep(intentIdx, t, iq, opts)
		plan.Steps = append(plan.Steps, step)
		sources = append(sources, step.ID)
	}
	if len(sources) > 1 {
		plan.Steps = append(plan.Steps, models.Step{
			ID:            fmt.Sprintf("s%d-join", intentIdx),
			Type:          models.StepJoin,
			Join:          &models.JoinParams{Key: "id"},
			DependsOn:     sources,
			EstimatedTime: 10 * time.Millisecond,
		})
	}
}

func (p *Planner) mutateStep(intentIdx int, intent models.Intent, t models.BackendMetadata, iq *models.InterpretedQuery) models.Step {
	op := "delete"
	var set map[string]interface{}
	if intent.Type == models.IntentUpdate {
		op = "update"
		if raw, ok := intent.Parameters["set"].(map[string]interface{}); ok {
			set = raw
		}
	}
	return models.Step{
		ID:        fmt.Sprintf("s%d-%s-%s", intentIdx, op, shortID(t.ID)),
		Type:      models.StepMutate,
		BackendID: t.ID,
		Query: &models.QueryParams{
			Domain:    t.Domain,
			Filters:   iq.Entities.Filters,
			TimeRange: iq.Entities.TimeRange,
		},
		Mutation:      &models.MutationParams{Operation: op, Set: set},
		EstimatedTime: tierEstimate(t.Tier),
		ResourceCost:  tierCost(t.Tier),
		Destructive:   true,
	}
}

func aggregateParams(intent models.Intent) *models.AggregateParams {
	agg := &models.AggregateParams{Operation: "count"}
	if op, ok := intent.Parameters["operation"].(string); ok && op != "" {
		agg.Operation = op
	}
	if f, ok := intent.Parameters["field"].(string); ok {
		agg.Field = f
	}
	if g, ok := intent.Parameters["groupBy"].(string); ok {
		agg.GroupBy = g
	}
	return agg
}

// validatePlan enforces the plan invariant: every dependency names a
// step that appears earlier, which also rules out cycles.
func validatePlan(plan *models.ExecutionPlan) error {
	seen := make(map[string]bool, len(plan.Steps))
	for _, s := range plan.Steps {
		if seen[s.ID] {
			return errors.New(errors.CodeInternal, "duplicate step id").WithDetail("step_id", s.ID)
		}
		for _, dep := range s.DependsOn {
			if !seen[dep] {
				return errors.New(errors.CodeInternal, "dependency does not precede step").
					WithDetail("step_id", s.ID).
					WithDetail("depends_on", dep)
			}
		}
		seen[s.ID] = true
	}
	return nil
}

// parallelGroups buckets steps into waves. A step's wave is one past the
// deepest wave among its dependencies, so every wave can run fully
// concurrently.
func parallelGroups(steps []models.Step) [][]string {
	wave := make(map[string]int, len(steps))
	var groups [][]string
	for _, s := range steps {
		w := 0
		for _, dep := range s.DependsOn {
			if wave[dep]+1 > w {
				w = wave[dep] + 1
			}
		}
		wave[s.ID] = w
		for len(groups) <= w {
			groups = append(groups, nil)
		}
		groups[w] = append(groups[w], s.ID)
	}
	return groups
}

// syncPoints lists steps that must wait on two or more dependencies.
func syncPoints(steps []models.Step) []string {
	var points []string
	for _, s := range steps {
		if len(s.DependsOn) >= 2 {
			points = append(points, s.ID)
		}
	}
	return points
}

// criticalPath estimates wall time as the longest dependency chain, not
// the sum of all steps, since independent steps run concurrently.
func criticalPath(steps []models.Step) time.Duration {
	finish := make(map[string]time.Duration, len(steps))
	var longest time.Duration
	for _, s := range steps {
		var start time.Duration
		for _, dep := range s.DependsOn {
			if finish[dep] > start {
				start = finish[dep]
			}
		}
		finish[s.ID] = start + s.EstimatedTime
		if finish[s.ID] > longest {
			longest = finish[s.ID]
		}
	}
	return longest
}

func tierEstimate(t models.Tier) time.Duration {
	switch t {
	case models.TierHot:
		return 10 * time.Millisecond
	case models.TierWarm:
		return 50 * time.Millisecond
	default:
		return 200 * time.Millisecond
	}
}

func tierCost(t models.Tier) float64 {
	switch t {
	case models.TierHot:
		return 1
	case models.TierWarm:
		return 2
	default:
		return 5
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
