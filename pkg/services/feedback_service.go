package services

import (
	"context"

	"github.com/stratumhq/stratum/pkg/errors"
	"github.com/stratumhq/stratum/pkg/learning"
)

// feedbackService implements FeedbackService.
type feedbackService struct {
	learner *learning.PatternLearner
	logger  Logger
	metrics MetricsCollector
}

// NewFeedbackService creates a new feedback service.
func NewFeedbackService(learner *learning.PatternLearner, logger Logger, metrics MetricsCollector) FeedbackService {
	return &feedbackService{learner: learner, logger: logger, metrics: metrics}
}

// ReportOutcome records caller feedback about a classification, routing,
// or parsing decision, optionally carrying a corrected label. The
// outcome's ReferenceID must be the decision key for the kind (domain,
// backend id, or intent), since that is the key future scoring looks up.
func (s *feedbackService) ReportOutcome(ctx context.Context, kind string, outcome Outcome) error {
	k := learning.OutcomeKind(kind)
	switch k {
	case learning.KindClassification, learning.KindRouting, learning.KindParsing:
	default:
		s.metrics.IncrementCounter("feedback_validation_errors")
		return errors.New(errors.CodeInvalidRequest, "unknown outcome kind").
			WithDetail("kind", kind)
	}
	if outcome.ReferenceID == "" {
		s.metrics.IncrementCounter("feedback_validation_errors")
		return errors.New(errors.CodeInvalidRequest, "reference id cannot be empty")
	}

	s.learner.Report(learning.Outcome{
		Kind:           k,
		Key:            outcome.ReferenceID,
		Success:        outcome.Success,
		CorrectedLabel: outcome.CorrectedLabel,
	})

	s.metrics.IncrementCounter("feedback_reports", "kind", kind)
	s.logger.Debug("Outcome reported",
		"kind", kind,
		"reference_id", outcome.ReferenceID,
		"success", outcome.Success)
	return nil
}
