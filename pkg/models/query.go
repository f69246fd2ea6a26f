package models

import (
	"time"
)

// QueryContext carries caller context for a natural-language query.
type QueryContext struct {
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	TimeZone  string `json:"time_zone,omitempty"`
}

// QueryPreferences carries result-shaping preferences.
type QueryPreferences struct {
	MaxResults       int    `json:"max_results,omitempty"`
	PreferCache      bool   `json:"prefer_cache,omitempty"`
	ExplanationLevel string `json:"explanation_level,omitempty"`
}

// NaturalQuery is a raw natural-language query plus caller context.
type NaturalQuery struct {
	Raw         string           `json:"raw"`
	Context     QueryContext     `json:"context,omitempty"`
	ID          string           `json:"id"`
	Timestamp   time.Time        `json:"timestamp"`
	Priority    string           `json:"priority,omitempty"`
	Preferences QueryPreferences `json:"preferences,omitempty"`
}

// IntentType is a structured operation type extracted from free text.
type IntentType string

const (
	IntentRetrieve  IntentType = "retrieve"
	IntentAggregate IntentType = "aggregate"
	IntentCompare   IntentType = "compare"
	IntentUpdate    IntentType = "update"
	IntentDelete    IntentType = "delete"
)

// Destructive reports whether the intent mutates data and therefore
// requires explicit caller confirmation before execution.
func (t IntentType) Destructive() bool {
	return t == IntentUpdate || t == IntentDelete
}

// Intent is one extracted operation with its confidence and parameters.
type Intent struct {
	Type                 IntentType             `json:"type"`
	Confidence           float64                `json:"confidence"`
	Parameters           map[string]interface{} `json:"parameters,omitempty"`
	RequiresConfirmation bool                   `json:"requires_confirmation,omitempty"`
}

// FilterOperator is a comparison operator in a field filter.
type FilterOperator string

const (
	OpEq       FilterOperator = "eq"
	OpNeq      FilterOperator = "neq"
	OpGt       FilterOperator = "gt"
	OpGte      FilterOperator = "gte"
	OpLt       FilterOperator = "lt"
	OpLte      FilterOperator = "lte"
	OpContains FilterOperator = "contains"
)

// FieldFilter is one extracted field-level constraint.
type FieldFilter struct {
	Field      string         `json:"field"`
	Operator   FilterOperator `json:"operator"`
	Value      interface{}    `json:"value"`
	Confidence float64        `json:"confidence,omitempty"`
}

// TimeRange is an extracted time window resolved to absolute timestamps.
type TimeRange struct {
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
	Confidence float64   `json:"confidence,omitempty"`
}

// Threshold is an extracted numeric bound.
type Threshold struct {
	Field      string         `json:"field,omitempty"`
	Operator   FilterOperator `json:"operator"`
	Value      float64        `json:"value"`
	Confidence float64        `json:"confidence,omitempty"`
}

// Entities is the set of entities extracted from a query.
type Entities struct {
	Domains    []string      `json:"domains,omitempty"`
	Filters    []FieldFilter `json:"filters,omitempty"`
	TimeRange  *TimeRange    `json:"time_range,omitempty"`
	Thresholds []Threshold   `json:"thresholds,omitempty"`
}

// InterpretedQuery is the structured interpretation of a natural query.
type InterpretedQuery struct {
	Original             NaturalQuery   `json:"original"`
	Intents              []Intent       `json:"intents"`
	Entities             Entities       `json:"entities"`
	TargetBackendIDs     []string       `json:"target_backend_ids,omitempty"`
	Plan                 *ExecutionPlan `json:"plan,omitempty"`
	Confidence           float64        `json:"confidence"`
	Optimizations        []string       `json:"optimizations,omitempty"`
	RequiresConfirmation bool           `json:"requires_confirmation,omitempty"`
}

// StepType identifies what an execution step does.
type StepType string

const (
	StepQuery     StepType = "query"
	StepAggregate StepType = "aggregate"
	StepJoin      StepType = "join"
	StepMutate    StepType = "mutate"
)

// QueryParams constrains a backend query.
type QueryParams struct {
	Domain     string        `json:"domain,omitempty"`
	Filters    []FieldFilter `json:"filters,omitempty"`
	TimeRange  *TimeRange    `json:"time_range,omitempty"`
	Projection []string      `json:"projection,omitempty"`
	Limit      int           `json:"limit,omitempty"`
	OrderBy    string        `json:"order_by,omitempty"`
	Descending bool          `json:"descending,omitempty"`
}

// AggregateParams describes a per-backend partial aggregation.
type AggregateParams struct {
	Operation string `json:"operation"` // count, sum, avg, min, max
	Field     string `json:"field,omitempty"`
	GroupBy   string `json:"group_by,omitempty"`
}

// JoinParams describes a cross-backend join step.
type JoinParams struct {
	Key string `json:"key"`
}

// MutationParams describes an update or delete step.
type MutationParams struct {
	Operation string                 `json:"operation"` // update, delete
	Set       map[string]interface{} `json:"set,omitempty"`
}

// Step is one node of an execution plan. BackendID is empty for pure
// join steps, which operate only on the outputs of their dependencies.
type Step struct {
	ID            string           `json:"id"`
	Type          StepType         `json:"type"`
	BackendID     string           `json:"backend_id,omitempty"`
	Query         *QueryParams     `json:"query,omitempty"`
	Aggregate     *AggregateParams `json:"aggregate,omitempty"`
	Join          *JoinParams      `json:"join,omitempty"`
	Mutation      *MutationParams  `json:"mutation,omitempty"`
	DependsOn     []string         `json:"depends_on,omitempty"`
	EstimatedTime time.Duration    `json:"estimated_time,omitempty"`
	ResourceCost  float64          `json:"resource_cost,omitempty"`
	Destructive   bool             `json:"destructive,omitempty"`
}

// ExecutionPlan is a dependency-ordered set of steps. The dependency
// graph is acyclic and every id in DependsOn names a step that appears
// earlier in Steps.
type ExecutionPlan struct {
	ID             string        `json:"id"`
	Steps          []Step        `json:"steps"`
	ParallelGroups [][]string    `json:"parallel_groups,omitempty"`
	SyncPoints     []string      `json:"sync_points,omitempty"`
	EstimatedTime  time.Duration `json:"estimated_time,omitempty"`
}

// StepStatus is the terminal status of one executed step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// AggregateValue is a per-backend partial aggregate. Sum and Count are
// kept separately so global averages can be combined correctly from
// partial sums rather than from partial averages.
type AggregateValue struct {
	Operation string             `json:"operation"`
	Field     string             `json:"field,omitempty"`
	Sum       float64            `json:"sum"`
	Count     int64              `json:"count"`
	Min       float64            `json:"min"`
	Max       float64            `json:"max"`
	Groups    map[string]float64 `json:"groups,omitempty"`
}

// StepResult is the outcome of executing one plan step.
type StepResult struct {
	StepID      string          `json:"step_id"`
	BackendID   string          `json:"backend_id,omitempty"`
	BackendTier Tier            `json:"backend_tier,omitempty"`
	Status      StepStatus      `json:"status"`
	Records     []Record        `json:"records,omitempty"`
	Aggregate   *AggregateValue `json:"aggregate,omitempty"`
	Affected    int64           `json:"affected,omitempty"`
	Error       string          `json:"error,omitempty"`
	Attempts    int             `json:"attempts"`
	Duration    time.Duration   `json:"duration"`
}

// ExecutionResult is the outcome of executing a whole plan.
type ExecutionResult struct {
	PlanID       string        `json:"plan_id"`
	StepResults  []*StepResult `json:"step_results"`
	Partial      bool          `json:"partial"`
	FailedSteps  []string      `json:"failed_steps,omitempty"`
	SkippedSteps []string      `json:"skipped_steps,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// AggregationStrategy selects how per-step results are combined.
type AggregationStrategy string

const (
	StrategyMerge              AggregationStrategy = "merge"
	StrategyDeduplicate        AggregationStrategy = "deduplicate"
	StrategyPrioritizeHot      AggregationStrategy = "prioritize_hot"
	StrategyTimeOrdered        AggregationStrategy = "time_ordered"
	StrategyWeightedAverage    AggregationStrategy = "weighted_average"
	StrategyStatisticalSummary AggregationStrategy = "statistical_summary"
	StrategyCrossReference     AggregationStrategy = "cross_reference"
)

// AttributedRecord is a record plus its source attribution.
type AttributedRecord struct {
	Record
	SourceBackendID string `json:"source_backend_id"`
	SourceTier      Tier   `json:"source_tier,omitempty"`
}

// StatisticalSummary holds summary statistics over a merged numeric field.
type StatisticalSummary struct {
	Field string  `json:"field"`
	Count int64   `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// AggregatedResult is the single combined answer for a query.
type AggregatedResult struct {
	Strategy     AggregationStrategy `json:"strategy"`
	Records      []AttributedRecord  `json:"records,omitempty"`
	Value        *float64            `json:"value,omitempty"`
	Groups       map[string]float64  `json:"groups,omitempty"`
	Summary      *StatisticalSummary `json:"summary,omitempty"`
	Sources      []string            `json:"sources"`
	FailedSteps  []string            `json:"failed_steps,omitempty"`
	SkippedSteps []string            `json:"skipped_steps,omitempty"`
	Partial      bool                `json:"partial"`
	TotalResults int                 `json:"total_results"`
	QueryTime    time.Duration       `json:"query_time"`
}

// QueryResponse is returned by the query entry point.
type QueryResponse struct {
	ExecutionID          string            `json:"execution_id"`
	Interpreted          *InterpretedQuery `json:"interpreted,omitempty"`
	Results              *AggregatedResult `json:"results,omitempty"`
	Plan                 *ExecutionPlan    `json:"plan,omitempty"`
	RequiresConfirmation bool              `json:"requires_confirmation,omitempty"`
	Metadata             QueryMetadata     `json:"metadata"`
}

// QueryMetadata describes how a query was answered.
type QueryMetadata struct {
	TotalResults    int                      `json:"total_results"`
	ExecutionTime   time.Duration            `json:"execution_time"`
	PerBackendTimes map[string]time.Duration `json:"per_backend_times,omitempty"`
	CacheHit        bool                     `json:"cache_hit"`
	Strategy        AggregationStrategy      `json:"aggregation_strategy_used"`
	Confidence      float64                  `json:"confidence"`
}
