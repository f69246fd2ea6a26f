package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumhq/stratum/pkg/errors"
	"github.com/stratumhq/stratum/pkg/ingest"
	"github.com/stratumhq/stratum/pkg/learning"
)

func TestReportOutcomeAdjustsLearner(t *testing.T) {
	s := newTestStack(t.TempDir())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.feedback.ReportOutcome(ctx, "routing", Outcome{
			ReferenceID: "backend-1",
			Success:     true,
		}))
	}

	assert.Equal(t, 1.5, s.learner.AdjustmentFor(learning.KindRouting, "backend-1"))
	assert.Equal(t, 5, s.metrics.count("feedback_reports"))
}

func TestReportOutcomeCorrectedLabel(t *testing.T) {
	s := newTestStack(t.TempDir())

	require.NoError(t, s.feedback.ReportOutcome(context.Background(), "classification", Outcome{
		ReferenceID:    "log",
		Success:        false,
		CorrectedLabel: "event",
	}))

	assert.Equal(t, "event", s.learner.CorrectedLabel(learning.KindClassification, "log"))
}

func TestReportOutcomeInfluencesClassification(t *testing.T) {
	s := newTestStack(t.TempDir())
	ctx := context.Background()
	classifier := ingest.NewClassifier(ingest.DefaultClassifierConfig(), s.learner, ingest.NewRegistrySuggester(s.registry))

	item := map[string]interface{}{"level": "error"}
	before := classifier.Classify(item, nil)
	require.Equal(t, "log", before.Domain)

	// Feedback keyed by the classified domain is the key the classifier
	// consults on the next pass.
	for i := 0; i < 5; i++ {
		require.NoError(t, s.feedback.ReportOutcome(ctx, "classification", Outcome{
			ReferenceID: "log",
			Success:     false,
		}))
	}

	after := classifier.Classify(item, nil)
	assert.Less(t, after.Confidence, before.Confidence)
}

func TestReportOutcomeValidation(t *testing.T) {
	s := newTestStack(t.TempDir())
	ctx := context.Background()

	err := s.feedback.ReportOutcome(ctx, "astrology", Outcome{ReferenceID: "x"})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidRequest, errors.GetCode(err))

	err = s.feedback.ReportOutcome(ctx, "parsing", Outcome{})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidRequest, errors.GetCode(err))

	assert.Equal(t, 2, s.metrics.count("feedback_validation_errors"))
}
