package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumhq/stratum/pkg/learning"
	"github.com/stratumhq/stratum/pkg/models"
)

type stubSuggester struct {
	suggestFn func(domain string, tier models.Tier) (string, bool)
}

func (s *stubSuggester) SuggestBackend(domain string, tier models.Tier) (string, bool) {
	return s.suggestFn(domain, tier)
}

func TestClassifyUserFields(t *testing.T) {
	c := NewClassifier(DefaultClassifierConfig(), nil, nil)

	res := c.Classify(map[string]interface{}{
		"email":     "a@b.com",
		"firstName": "Ada",
	}, nil)

	assert.Equal(t, "user", res.Domain)
	assert.Equal(t, "user", res.DataType)
	assert.Greater(t, res.Confidence, 0.9)
	assert.Equal(t, models.TierHot, res.Tier)
	assert.Contains(t, res.Reasoning, "email_field")
}

func TestClassifyEmptyItemFallsBack(t *testing.T) {
	c := NewClassifier(DefaultClassifierConfig(), nil, &stubSuggester{
		suggestFn: func(string, models.Tier) (string, bool) { return "b1", true },
	})

	res := c.Classify(map[string]interface{}{}, nil)

	assert.Equal(t, "generic", res.Domain)
	assert.Equal(t, "unknown", res.DataType)
	assert.Less(t, res.Confidence, 0.3)
	assert.Empty(t, res.SuggestedBackendID, "low confidence must not suggest a backend")
}

func TestClassifyTypeHintDominates(t *testing.T) {
	c := NewClassifier(DefaultClassifierConfig(), nil, nil)

	res := c.Classify(map[string]interface{}{"note": "hello"}, map[string]string{"type": "event"})

	assert.Equal(t, "event", res.Domain)
	assert.GreaterOrEqual(t, res.Confidence, 0.9)
	assert.Contains(t, res.Reasoning, "explicit type hint")
}

func TestClassifyRanksAlternatives(t *testing.T) {
	c := NewClassifier(DefaultClassifierConfig(), nil, nil)

	// price matches product, level matches log; both should surface.
	res := c.Classify(map[string]interface{}{
		"price": 9.99,
		"sku":   "X-1",
		"level": "warn",
	}, nil)

	assert.Equal(t, "product", res.Domain)
	require.NotEmpty(t, res.Alternatives)
	assert.Equal(t, "log", res.Alternatives[0].Domain)
	assert.Greater(t, res.Confidence, res.Alternatives[0].Confidence)
}

func TestClassifySuggestsBackendAboveThreshold(t *testing.T) {
	var gotDomain string
	var gotTier models.Tier
	c := NewClassifier(DefaultClassifierConfig(), nil, &stubSuggester{
		suggestFn: func(domain string, tier models.Tier) (string, bool) {
			gotDomain, gotTier = domain, tier
			return "backend-42", true
		},
	})

	res := c.Classify(map[string]interface{}{"email": "a@b.com"}, nil)

	assert.Equal(t, "backend-42", res.SuggestedBackendID)
	assert.Equal(t, "user", gotDomain)
	assert.Equal(t, models.TierHot, gotTier)
}

func TestClassifyLearnerAdjustment(t *testing.T) {
	learner := learning.New(time.Hour)
	for i := 0; i < 10; i++ {
		learner.Report(learning.Outcome{Kind: learning.KindClassification, Key: "log", Success: false})
	}
	c := NewClassifier(DefaultClassifierConfig(), learner, nil)

	item := map[string]interface{}{"level": "error"}
	adjusted := c.Classify(item, nil)
	baseline := NewClassifier(DefaultClassifierConfig(), nil, nil).Classify(item, nil)

	assert.Equal(t, "log", adjusted.Domain)
	assert.Less(t, adjusted.Confidence, baseline.Confidence)
}

func TestClassifyTierPriorityHint(t *testing.T) {
	c := NewClassifier(DefaultClassifierConfig(), nil, nil)

	tc := c.ClassifyTier(nil, map[string]string{"priority": "critical"}, "log")
	assert.Equal(t, models.TierHot, tc.Tier)
	require.NotEmpty(t, tc.Factors)
	assert.Equal(t, "priority_hint", tc.Factors[0].Name)

	tc = c.ClassifyTier(nil, map[string]string{"priority": "archive"}, "user")
	assert.Equal(t, models.TierCold, tc.Tier)
}

func TestClassifyTierAccessRecency(t *testing.T) {
	learner := learning.New(time.Hour)
	for i := 0; i < 5; i++ {
		learner.RecordAccess("event")
	}
	c := NewClassifier(DefaultClassifierConfig(), learner, nil)

	tc := c.ClassifyTier(nil, nil, "event")
	assert.Equal(t, models.TierWarm, tc.Tier)
	require.NotEmpty(t, tc.Factors)
	assert.Equal(t, "access_recency", tc.Factors[0].Name)

	// Unknown domains with no history settle on their default.
	tc = NewClassifier(DefaultClassifierConfig(), nil, nil).ClassifyTier(nil, nil, "telemetry")
	assert.Equal(t, models.TierWarm, tc.Tier)
}
