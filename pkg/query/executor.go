package query

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/stratumhq/stratum/pkg/backend"
	"github.com/stratumhq/stratum/pkg/errors"
	"github.com/stratumhq/stratum/pkg/models"
	"github.com/stratumhq/stratum/pkg/registry"
)

// ExecutorConfig tunes plan execution.
type ExecutorConfig struct {
	// MaxConcurrency bounds the number of steps running backend calls at
	// once. Steps waiting on dependencies do not hold a slot.
	MaxConcurrency int64 `json:"max_concurrency"`

	// MaxRetries is the number of retries after the first attempt, applied
	// only to transient failures.
	MaxRetries int `json:"max_retries"`

	// RetryBackoff is the initial backoff, doubled per retry.
	RetryBackoff time.Duration `json:"retry_backoff"`

	// PlanTimeout bounds the whole plan.
	PlanTimeout time.Duration `json:"plan_timeout"`

	// StepTimeout applies to steps whose backend sets no query timeout.
	StepTimeout time.Duration `json:"step_timeout"`
}

// DefaultExecutorConfig returns executor defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrency: 8,
		MaxRetries:     2,
		RetryBackoff:   50 * time.Millisecond,
		PlanTimeout:    60 * time.Second,
		StepTimeout:    30 * time.Second,
	}
}

// ExecuteOptions carries per-execution flags.
type ExecuteOptions struct {
	// Confirmed acknowledges destructive steps. Without it any mutate
	// step fails instead of running.
	Confirmed bool
}

// Executor walks an execution plan in dependency order, dispatching
// independent steps concurrently under a weighted semaphore. Transient
// step failures are retried with backoff; a step that exhausts retries
// fails, its dependents are skipped, and the result is marked partial.
type Executor struct {
	cfg      ExecutorConfig
	registry *registry.Registry
	logger   zerolog.Logger
	sem      *semaphore.Weighted
}

// NewExecutor creates an executor over the given registry.
func NewExecutor(cfg ExecutorConfig, reg *registry.Registry, logger zerolog.Logger) *Executor {
	def := DefaultExecutorConfig()
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.PlanTimeout <= 0 {
		cfg.PlanTimeout = def.PlanTimeout
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = def.StepTimeout
	}
	return &Executor{
		cfg:      cfg,
		registry: reg,
		logger:   logger,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrency),
	}
}

// stepState is the completion record for one step, shared between the
// step's goroutine and its dependents.
type stepState struct {
	done   chan struct{}
	result *models.StepResult
}

// Execute runs the plan. The returned result always lists every step; a
// failed or skipped branch is reported, never silently dropped.
func (e *Executor) Execute(ctx context.Context, plan *models.ExecutionPlan, opts ExecuteOptions) (*models.ExecutionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.PlanTimeout)
	defer cancel()

	start := time.Now()
	states := make(map[string]*stepState, len(plan.Steps))
	for _, s := range plan.Steps {
		states[s.ID] = &stepState{done: make(chan struct{})}
	}

	var wg sync.WaitGroup
	for i := range plan.Steps {
		step := plan.Steps[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.runStep(ctx, step, states, opts)
		}()
	}
	wg.Wait()

	result := &models.ExecutionResult{
		PlanID:   plan.ID,
		Duration: time.Since(start),
	}
	for _, s := range plan.Steps {
		sr := states[s.ID].result
		result.StepResults = append(result.StepResults, sr)
		switch sr.Status {
		case models.StepFailed:
			result.FailedSteps = append(result.FailedSteps, s.ID)
		case models.StepSkipped:
			result.SkippedSteps = append(result.SkippedSteps, s.ID)
		}
	}
	result.Partial = len(result.FailedSteps) > 0 || len(result.SkippedSteps) > 0

	e.logger.Debug().
		Str("plan_id", plan.ID).
		Dur("duration", result.Duration).
		Bool("partial", result.Partial).
		Int("failed", len(result.FailedSteps)).
		Int("skipped", len(result.SkippedSteps)).
		Msg("plan executed")
	return result, nil
}

// runStep waits for the step's dependencies, then claims a concurrency
// slot and executes. The semaphore is acquired only after dependencies
// complete so blocked steps never starve runnable ones.
func (e *Executor) runStep(ctx context.Context, step models.Step, states map[string]*stepState, opts ExecuteOptions) {
	state := states[step.ID]
	defer close(state.done)

	deps := make([]*models.StepResult, 0, len(step.DependsOn))
	for _, dep := range step.DependsOn {
		depState := states[dep]
		select {
		case <-depState.done:
		case <-ctx.Done():
			state.result = e.failed(step, errors.ErrPlanTimeout.WithDetail("step_id", step.ID), 0, 0)
			return
		}
		if depState.result.Status != models.StepCompleted {
			state.result = &models.StepResult{
				StepID: step.ID,
				Status: models.StepSkipped,
				Error:  "dependency " + dep + " did not complete",
			}
			return
		}
		deps = append(deps, depState.result)
	}

	if step.Destructive && !opts.Confirmed {
		state.result = e.failed(step, errors.ErrNotConfirmed.WithDetail("step_id", step.ID), 0, 0)
		return
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		state.result = e.failed(step, errors.ErrPlanTimeout.WithDetail("step_id", step.ID), 0, 0)
		return
	}
	defer e.sem.Release(1)

	state.result = e.attempt(ctx, step, deps)
}

// attempt executes a step with bounded retries. Only transient failures
// (timeouts, unavailable backends) are retried; anything else fails the
// step on the first attempt.
func (e *Executor) attempt(ctx context.Context, step models.Step, deps []*models.StepResult) *models.StepResult {
	start := time.Now()
	backoff := e.cfg.RetryBackoff

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxRetries+1; attempt++ {
		result, err := e.executeOnce(ctx, step, deps)
		if err == nil {
			result.StepID = step.ID
			result.Status = models.StepCompleted
			result.Attempts = attempt
			result.Duration = time.Since(start)
			return result
		}
		lastErr = err
		if !errors.IsTransient(err) || attempt > e.cfg.MaxRetries {
			return e.failed(step, err, attempt, time.Since(start))
		}
		e.logger.Warn().
			Str("step_id", step.ID).
			Int("attempt", attempt).
			Err(err).
			Msg("transient step failure, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return e.failed(step, lastErr, attempt, time.Since(start))
		}
		backoff *= 2
	}
	return e.failed(step, lastErr, e.cfg.MaxRetries+1, time.Since(start))
}

func (e *Executor) failed(step models.Step, err error, attempts int, d time.Duration) *models.StepResult {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &models.StepResult{
		StepID:    step.ID,
		BackendID: step.BackendID,
		Status:    models.StepFailed,
		Error:     msg,
		Attempts:  attempts,
		Duration:  d,
	}
}

func (e *Executor) executeOnce(ctx context.Context, step models.Step, deps []*models.StepResult) (*models.StepResult, error) {
	// Steps without a backend combine the outputs of their dependencies.
	if step.BackendID == "" {
		return e.combineStep(step, deps)
	}

	h, err := e.registry.Resolve(step.BackendID)
	if err != nil {
		return nil, err
	}
	h.Acquire()
	defer h.Release()
	_ = e.registry.RecordAccess(step.BackendID)

	meta := h.Snapshot()
	timeout := meta.Configuration.QueryTimeout
	if timeout <= 0 {
		timeout = e.cfg.StepTimeout
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	b := h.Backend()
	result := &models.StepResult{BackendID: step.BackendID, BackendTier: meta.Tier}

	switch step.Type {
	case models.StepQuery:
		recs, err := b.Query(stepCtx, *step.Query)
		if err != nil {
			return nil, err
		}
		result.Records = recs

	case models.StepAggregate:
		agg, err := e.partialAggregate(stepCtx, b, step)
		if err != nil {
			return nil, err
		}
		result.Aggregate = agg

	case models.StepMutate:
		var affected int64
		switch step.Mutation.Operation {
		case "update":
			affected, err = b.Update(stepCtx, *step.Query, step.Mutation.Set)
		default:
			affected, err = b.Delete(stepCtx, *step.Query)
		}
		if err != nil {
			return nil, err
		}
		result.Affected = affected

	default:
		return nil, errors.New(errors.CodeUnsupportedOperation, "unsupported step type").
			WithDetail("type", string(step.Type))
	}
	return result, nil
}

// partialAggregate computes a per-backend partial. A plain count uses the
// backend's count path; anything touching field values or groups fetches
// the matching records and folds locally.
func (e *Executor) partialAggregate(ctx context.Context, b backend.Backend, step models.Step) (*models.AggregateValue, error) {
	agg := step.Aggregate
	if agg.Operation == "count" && agg.Field == "" && agg.GroupBy == "" {
		n, err := b.Count(ctx, *step.Query)
		if err != nil {
			return nil, err
		}
		return &models.AggregateValue{Operation: "count", Count: n, Sum: float64(n)}, nil
	}

	recs, err := b.Query(ctx, *step.Query)
	if err != nil {
		return nil, err
	}
	return foldRecords(recs, agg), nil
}

// foldRecords computes a partial aggregate over fetched records. Sums
// and counts are kept separately so partials from several backends can
// be combined into an exact global average.
func foldRecords(recs []models.Record, agg *models.AggregateParams) *models.AggregateValue {
	out := &models.AggregateValue{Operation: agg.Operation, Field: agg.Field}
	var groups map[string]float64
	if agg.GroupBy != "" {
		groups = make(map[string]float64)
	}

	first := true
	for _, rec := range recs {
		value := 1.0
		if agg.Field != "" {
			v, ok := numeric(rec.Fields[agg.Field])
			if !ok {
				continue
			}
			value = v
		}
		out.Count++
		out.Sum += value
		if first || value < out.Min {
			out.Min = value
		}
		if first || value > out.Max {
			out.Max = value
		}
		first = false

		if groups != nil {
			key := groupKey(rec, agg.GroupBy)
			if agg.Operation == "count" {
				groups[key]++
			} else {
				groups[key] += value
			}
		}
	}
	out.Groups = groups
	return out
}

// combineStep merges dependency outputs. Aggregate combiners add partial
// sums, counts, and groups; join combiners hash-join records on the key.
func (e *Executor) combineStep(step models.Step, deps []*models.StepResult) (*models.StepResult, error) {
	switch step.Type {
	case models.StepAggregate:
		return &models.StepResult{Aggregate: combinePartials(step.Aggregate, deps)}, nil
	case models.StepJoin:
		return &models.StepResult{Records: hashJoin(step.Join.Key, deps)}, nil
	}
	return nil, errors.New(errors.CodeUnsupportedOperation, "combining step must be aggregate or join").
		WithDetail("type", string(step.Type))
}

func combinePartials(agg *models.AggregateParams, deps []*models.StepResult) *models.AggregateValue {
	out := &models.AggregateValue{}
	if agg != nil {
		out.Operation = agg.Operation
		out.Field = agg.Field
	}
	first := true
	for _, dep := range deps {
		p := dep.Aggregate
		if p == nil {
			continue
		}
		out.Sum += p.Sum
		out.Count += p.Count
		if p.Count > 0 {
			if first || p.Min < out.Min {
				out.Min = p.Min
			}
			if first || p.Max > out.Max {
				out.Max = p.Max
			}
			first = false
		}
		for k, v := range p.Groups {
			if out.Groups == nil {
				out.Groups = make(map[string]float64)
			}
			out.Groups[k] += v
		}
	}
	return out
}

// hashJoin inner-joins dependency record sets on the key, merging fields
// left to right.
func hashJoin(key string, deps []*models.StepResult) []models.Record {
	if len(deps) == 0 {
		return nil
	}
	joined := make(map[string]models.Record)
	for _, rec := range deps[0].Records {
		joined[joinKey(rec, key)] = rec
	}
	for _, dep := range deps[1:] {
		next := make(map[string]models.Record, len(joined))
		for _, rec := range dep.Records {
			k := joinKey(rec, key)
			left, ok := joined[k]
			if !ok {
				continue
			}
			merged := left
			merged.Fields = make(map[string]interface{}, len(left.Fields)+len(rec.Fields))
			for f, v := range left.Fields {
				merged.Fields[f] = v
			}
			for f, v := range rec.Fields {
				merged.Fields[f] = v
			}
			next[k] = merged
		}
		joined = next
	}
	out := make([]models.Record, 0, len(joined))
	for _, rec := range joined {
		out = append(out, rec)
	}
	return out
}

func joinKey(rec models.Record, key string) string {
	if key == "" || key == "id" {
		return rec.ID
	}
	return groupKey(rec, key)
}

func groupKey(rec models.Record, field string) string {
	switch field {
	case "id":
		return rec.ID
	case "domain":
		return rec.Domain
	}
	if v, ok := rec.Fields[field]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		if f, ok := numeric(v); ok {
			return trimFloat(f)
		}
	}
	return ""
}

func numeric(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
