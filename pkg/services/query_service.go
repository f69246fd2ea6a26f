package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stratumhq/stratum/pkg/aggregate"
	"github.com/stratumhq/stratum/pkg/errors"
	"github.com/stratumhq/stratum/pkg/learning"
	"github.com/stratumhq/stratum/pkg/models"
	"github.com/stratumhq/stratum/pkg/query"
)

// queryService implements QueryService.
type queryService struct {
	parser     *query.Parser
	planner    *query.Planner
	executor   *query.Executor
	aggregator *aggregate.Aggregator
	learner    *learning.PatternLearner
	logger     Logger
	metrics    MetricsCollector
}

// NewQueryService creates a new query service.
func NewQueryService(
	parser *query.Parser,
	planner *query.Planner,
	executor *query.Executor,
	aggregator *aggregate.Aggregator,
	learner *learning.PatternLearner,
	logger Logger,
	metrics MetricsCollector,
) QueryService {
	return &queryService{
		parser:     parser,
		planner:    planner,
		executor:   executor,
		aggregator: aggregator,
		learner:    learner,
		logger:     logger,
		metrics:    metrics,
	}
}

// Query parses, plans, executes, and aggregates a natural-language
// query. Destructive interpretations are returned unexecuted with
// RequiresConfirmation set until the caller confirms.
func (s *queryService) Query(ctx context.Context, text string, opts QueryOptions) (*models.QueryResponse, error) {
	timer := s.metrics.StartTimer("query")
	defer timer.Stop()
	start := time.Now()

	if strings.TrimSpace(text) == "" {
		s.metrics.IncrementCounter("query_validation_errors")
		return nil, errors.ErrEmptyQuery
	}

	executionID := uuid.New().String()
	s.logger.Debug("Executing query", "execution_id", executionID, "query", text)

	iq, err := s.parse(text, executionID, opts)
	if err != nil {
		s.metrics.IncrementCounter("query_parse_errors")
		return nil, err
	}

	plan, err := s.planner.Plan(iq)
	if err != nil {
		s.metrics.IncrementCounter("query_plan_errors")
		s.logger.Error("Planning failed", "error", err, "execution_id", executionID)
		return nil, err
	}

	response := &models.QueryResponse{
		ExecutionID: executionID,
		Interpreted: iq,
		Metadata: models.QueryMetadata{
			Confidence: iq.Confidence,
		},
	}
	if opts.Explain {
		response.Plan = plan
	}

	if iq.RequiresConfirmation && !opts.Confirmed {
		s.metrics.IncrementCounter("queries_awaiting_confirmation")
		response.RequiresConfirmation = true
		response.Plan = plan
		return response, nil
	}

	exec, err := s.executor.Execute(ctx, plan, query.ExecuteOptions{Confirmed: opts.Confirmed})
	if err != nil {
		s.metrics.IncrementCounter("query_execution_errors")
		s.reportParse(iq, false)
		return nil, err
	}

	strategy := s.chooseStrategy(iq, opts)
	results, err := s.aggregator.Aggregate(exec, strategy)
	if err != nil {
		s.metrics.IncrementCounter("query_aggregation_errors")
		return nil, err
	}

	s.reportParse(iq, !results.Partial)
	response.Results = results
	response.Metadata.TotalResults = results.TotalResults
	response.Metadata.ExecutionTime = time.Since(start)
	response.Metadata.Strategy = strategy
	response.Metadata.PerBackendTimes = perBackendTimes(exec)

	s.metrics.IncrementCounter("successful_queries")
	s.metrics.RecordHistogram("query_time", time.Since(start).Seconds())
	s.logger.Info("Query executed",
		"execution_id", executionID,
		"results", results.TotalResults,
		"strategy", strategy,
		"partial", results.Partial,
		"execution_time", response.Metadata.ExecutionTime)
	return response, nil
}

// Plan is the dry-run entry point: parse and plan without executing.
func (s *queryService) Plan(ctx context.Context, text string) (*models.InterpretedQuery, error) {
	timer := s.metrics.StartTimer("query_plan")
	defer timer.Stop()

	if strings.TrimSpace(text) == "" {
		return nil, errors.ErrEmptyQuery
	}
	iq, err := s.parse(text, uuid.New().String(), QueryOptions{})
	if err != nil {
		return nil, err
	}
	if _, err := s.planner.Plan(iq); err != nil {
		return nil, err
	}
	return iq, nil
}

func (s *queryService) parse(text, id string, opts QueryOptions) (*models.InterpretedQuery, error) {
	nq := models.NaturalQuery{
		Raw:         text,
		ID:          id,
		Timestamp:   time.Now().UTC(),
		Context:     opts.Context,
		Priority:    opts.Priority,
		Preferences: opts.Prefs,
	}
	iq, err := s.parser.Parse(nq)
	if err != nil {
		return nil, err
	}
	if s.parser.LowConfidence(iq) {
		// Reduced certainty is surfaced through Confidence, never
		// silently executed away nor treated as a failure.
		s.metrics.IncrementCounter("low_confidence_queries")
		s.logger.Warn("Low confidence interpretation",
			"query", text, "confidence", iq.Confidence)
	}
	return iq, nil
}

// chooseStrategy picks an aggregation strategy when the caller did not.
// Aggregate intents combine partials, compare intents cross-reference,
// everything else merges.
func (s *queryService) chooseStrategy(iq *models.InterpretedQuery, opts QueryOptions) models.AggregationStrategy {
	if opts.Strategy != "" {
		return opts.Strategy
	}
	for _, intent := range iq.Intents {
		switch intent.Type {
		case models.IntentAggregate:
			return models.StrategyWeightedAverage
		case models.IntentCompare:
			return models.StrategyCrossReference
		}
	}
	return models.StrategyMerge
}

func (s *queryService) reportParse(iq *models.InterpretedQuery, success bool) {
	for _, intent := range iq.Intents {
		s.learner.Report(learning.Outcome{
			Kind:    learning.KindParsing,
			Key:     string(intent.Type),
			Success: success,
		})
	}
}

func perBackendTimes(exec *models.ExecutionResult) map[string]time.Duration {
	times := make(map[string]time.Duration)
	for _, sr := range exec.StepResults {
		if sr.BackendID == "" {
			continue
		}
		if sr.Duration > times[sr.BackendID] {
			times[sr.BackendID] = sr.Duration
		}
	}
	if len(times) == 0 {
		return nil
	}
	return times
}
