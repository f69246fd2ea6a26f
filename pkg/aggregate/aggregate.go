// Package aggregate combines per-step execution results into a single
// answer using a selectable strategy.
package aggregate

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/stratumhq/stratum/pkg/errors"
	"github.com/stratumhq/stratum/pkg/models"
)

// Aggregator combines step results. Skipped and failed steps never block
// aggregation; they are reported alongside the combined answer.
type Aggregator struct {
	logger zerolog.Logger
}

// NewAggregator creates an aggregator.
func NewAggregator(logger zerolog.Logger) *Aggregator {
	return &Aggregator{logger: logger}
}

// Aggregate combines an execution result under the given strategy. Query
// time is the slowest contributing step, not the sum, since steps ran
// concurrently.
func (a *Aggregator) Aggregate(exec *models.ExecutionResult, strategy models.AggregationStrategy) (*models.AggregatedResult, error) {
	if strategy == "" {
		strategy = models.StrategyMerge
	}

	completed := make([]*models.StepResult, 0, len(exec.StepResults))
	for _, sr := range exec.StepResults {
		if sr.Status == models.StepCompleted {
			completed = append(completed, sr)
		}
	}

	out := &models.AggregatedResult{
		Strategy:     strategy,
		FailedSteps:  exec.FailedSteps,
		SkippedSteps: exec.SkippedSteps,
		Partial:      exec.Partial,
	}
	for _, sr := range completed {
		if sr.BackendID != "" {
			out.Sources = append(out.Sources, sr.BackendID)
		}
		if sr.Duration > out.QueryTime {
			out.QueryTime = sr.Duration
		}
	}

	switch strategy {
	case models.StrategyMerge:
		out.Records = merge(completed)
	case models.StrategyDeduplicate:
		out.Records = deduplicate(merge(completed))
	case models.StrategyPrioritizeHot:
		out.Records = prioritizeHot(merge(completed))
	case models.StrategyTimeOrdered:
		out.Records = timeOrdered(merge(completed))
	case models.StrategyWeightedAverage:
		value, groups := weightedAverage(partialSteps(completed))
		out.Value = value
		out.Groups = groups
	case models.StrategyStatisticalSummary:
		out.Summary = summarize(completed)
	case models.StrategyCrossReference:
		out.Records = crossReference(completed)
	default:
		return nil, errors.New(errors.CodeUnsupportedOperation, "unknown aggregation strategy").
			WithDetail("strategy", string(strategy))
	}

	out.TotalResults = len(out.Records)
	if out.Value != nil || out.Groups != nil || out.Summary != nil {
		out.TotalResults = countFor(out)
	}

	a.logger.Debug().
		Str("strategy", string(strategy)).
		Int("sources", len(out.Sources)).
		Int("results", out.TotalResults).
		Bool("partial", out.Partial).
		Msg("aggregated step results")
	return out, nil
}

// partialSteps selects the aggregate-bearing steps to combine. When a
// plan emitted a combining step its output already folds the per-backend
// partials, so only combiner outputs are used; counting both would
// double every sum.
func partialSteps(steps []*models.StepResult) []*models.StepResult {
	var combined, partials []*models.StepResult
	for _, sr := range steps {
		if sr.Aggregate == nil {
			continue
		}
		if sr.BackendID == "" {
			combined = append(combined, sr)
		} else {
			partials = append(partials, sr)
		}
	}
	if len(combined) > 0 {
		return combined
	}
	return partials
}

// merge concatenates all completed step records, attributing each to its
// source backend and tier.
func merge(steps []*models.StepResult) []models.AttributedRecord {
	var out []models.AttributedRecord
	for _, sr := range steps {
		for _, rec := range sr.Records {
			out = append(out, models.AttributedRecord{
				Record:          rec,
				SourceBackendID: sr.BackendID,
				SourceTier:      sr.BackendTier,
			})
		}
	}
	return out
}

// deduplicate removes records sharing an id, keeping the most recently
// updated copy. Running it twice over the same input yields the same set.
func deduplicate(recs []models.AttributedRecord) []models.AttributedRecord {
	best := make(map[string]int, len(recs))
	var out []models.AttributedRecord
	for _, rec := range recs {
		i, ok := best[rec.ID]
		if !ok {
			best[rec.ID] = len(out)
			out = append(out, rec)
			continue
		}
		if rec.Timestamp.After(out[i].Timestamp) {
			out[i] = rec
		}
	}
	return out
}

// prioritizeHot keeps one copy per id, preferring the hotter source
// tier. Hot copies are assumed fresher than warm, warm fresher than cold.
func prioritizeHot(recs []models.AttributedRecord) []models.AttributedRecord {
	best := make(map[string]int, len(recs))
	var out []models.AttributedRecord
	for _, rec := range recs {
		i, ok := best[rec.ID]
		if !ok {
			best[rec.ID] = len(out)
			out = append(out, rec)
			continue
		}
		if tierRank(rec.SourceTier) < tierRank(out[i].SourceTier) {
			out[i] = rec
		}
	}
	return out
}

func tierRank(t models.Tier) int {
	switch t {
	case models.TierHot:
		return 0
	case models.TierWarm:
		return 1
	case models.TierCold:
		return 2
	}
	return 3
}

func timeOrdered(recs []models.AttributedRecord) []models.AttributedRecord {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Timestamp.After(recs[j].Timestamp)
	})
	return recs
}

// weightedAverage combines per-backend partial aggregates into one value.
// Averages divide the combined sum by the combined count, never averaging
// partial averages, so a backend holding more records weighs more.
func weightedAverage(steps []*models.StepResult) (*float64, map[string]float64) {
	var sum float64
	var count int64
	var minV, maxV float64
	var groups map[string]float64
	operation := ""
	first := true

	for _, sr := range steps {
		p := sr.Aggregate
		if p == nil {
			continue
		}
		if operation == "" {
			operation = p.Operation
		}
		sum += p.Sum
		count += p.Count
		if p.Count > 0 {
			if first || p.Min < minV {
				minV = p.Min
			}
			if first || p.Max > maxV {
				maxV = p.Max
			}
			first = false
		}
		for k, v := range p.Groups {
			if groups == nil {
				groups = make(map[string]float64)
			}
			groups[k] += v
		}
	}
	if first && count == 0 && operation == "" {
		return nil, nil
	}

	var value float64
	switch operation {
	case "count":
		value = float64(count)
	case "sum":
		value = sum
	case "min":
		value = minV
	case "max":
		value = maxV
	default: // avg
		if count > 0 {
			value = sum / float64(count)
		}
	}
	return &value, groups
}

// summarize computes summary statistics across the merged numeric field.
// Per-backend partials contribute their raw values when record sets are
// absent.
func summarize(steps []*models.StepResult) *models.StatisticalSummary {
	var values []float64
	field := ""
	for _, sr := range steps {
		if sr.Aggregate != nil && field == "" {
			field = sr.Aggregate.Field
		}
		for _, rec := range sr.Records {
			f := field
			if f == "" && sr.Aggregate != nil {
				f = sr.Aggregate.Field
			}
			if f == "" {
				continue
			}
			if v, ok := numericValue(rec.Fields[f]); ok {
				values = append(values, v)
			}
		}
	}
	if len(values) == 0 {
		// Fall back to partial aggregates when no raw records survived.
		s := &models.StatisticalSummary{Field: field}
		var sum float64
		first := true
		for _, sr := range partialSteps(steps) {
			p := sr.Aggregate
			if p == nil || p.Count == 0 {
				continue
			}
			s.Count += p.Count
			sum += p.Sum
			if first || p.Min < s.Min {
				s.Min = p.Min
			}
			if first || p.Max > s.Max {
				s.Max = p.Max
			}
			first = false
		}
		if s.Count > 0 {
			s.Mean = sum / float64(s.Count)
		}
		return s
	}

	sort.Float64s(values)
	var sum float64
	for _, v := range values {
		sum += v
	}
	return &models.StatisticalSummary{
		Field: field,
		Count: int64(len(values)),
		Min:   values[0],
		Max:   values[len(values)-1],
		Mean:  sum / float64(len(values)),
		P50:   percentile(values, 0.50),
		P95:   percentile(values, 0.95),
		P99:   percentile(values, 0.99),
	}
}

// percentile uses nearest-rank on a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(p*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

// crossReference keeps records whose id appears in every contributing
// source, merging fields across copies.
func crossReference(steps []*models.StepResult) []models.AttributedRecord {
	var contributing []*models.StepResult
	for _, sr := range steps {
		if len(sr.Records) > 0 {
			contributing = append(contributing, sr)
		}
	}
	if len(contributing) == 0 {
		return nil
	}

	joined := make(map[string]models.AttributedRecord)
	for _, rec := range contributing[0].Records {
		joined[rec.ID] = models.AttributedRecord{
			Record:          rec,
			SourceBackendID: contributing[0].BackendID,
			SourceTier:      contributing[0].BackendTier,
		}
	}
	for _, sr := range contributing[1:] {
		next := make(map[string]models.AttributedRecord, len(joined))
		for _, rec := range sr.Records {
			left, ok := joined[rec.ID]
			if !ok {
				continue
			}
			merged := left
			merged.Fields = make(map[string]interface{}, len(left.Fields)+len(rec.Fields))
			for k, v := range left.Fields {
				merged.Fields[k] = v
			}
			for k, v := range rec.Fields {
				merged.Fields[k] = v
			}
			next[rec.ID] = merged
		}
		joined = next
	}

	out := make([]models.AttributedRecord, 0, len(joined))
	for _, rec := range joined {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func countFor(out *models.AggregatedResult) int {
	switch {
	case out.Groups != nil:
		return len(out.Groups)
	case out.Summary != nil:
		return int(out.Summary.Count)
	case out.Value != nil:
		return 1
	}
	return len(out.Records)
}

func numericValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
