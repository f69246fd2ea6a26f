// Package ingest classifies incoming data and routes it to the correct
// backend.
package ingest

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/stratumhq/stratum/pkg/learning"
	"github.com/stratumhq/stratum/pkg/models"
)

// ClassifierConfig tunes classification.
type ClassifierConfig struct {
	// RoutingThreshold is the minimum confidence for a backend
	// suggestion. Below it SuggestedBackendID stays empty and the
	// alternatives list is populated instead.
	RoutingThreshold float64 `json:"routing_threshold"`

	// FallbackDomain receives items no domain claims.
	FallbackDomain string `json:"fallback_domain"`

	// DefaultTiers maps domains to their default placement tier.
	DefaultTiers map[string]models.Tier `json:"default_tiers"`

	// HotAccessRate and WarmAccessRate are accesses-per-hour boundaries
	// for recency-driven tier inference.
	HotAccessRate  float64 `json:"hot_access_rate"`
	WarmAccessRate float64 `json:"warm_access_rate"`
}

// DefaultClassifierConfig returns sensible classifier defaults.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		RoutingThreshold: 0.5,
		FallbackDomain:   "generic",
		DefaultTiers: map[string]models.Tier{
			"user":    models.TierHot,
			"message": models.TierHot,
			"product": models.TierWarm,
			"event":   models.TierWarm,
			"metric":  models.TierWarm,
			"log":     models.TierCold,
			"generic": models.TierWarm,
		},
		HotAccessRate:  10,
		WarmAccessRate: 1,
	}
}

// fieldSignal is one weighted field-name pattern contributing to a
// domain's score.
type fieldSignal struct {
	pattern *regexp.Regexp
	weight  float64
	name    string
}

// BackendSuggester resolves a (domain, tier) pair to a concrete backend
// id. The registry provides the production implementation.
type BackendSuggester interface {
	SuggestBackend(domain string, tier models.Tier) (string, bool)
}

// Classifier infers data type, domain, and target tier for incoming
// items using weighted signal extraction.
type Classifier struct {
	cfg     ClassifierConfig
	signals map[string][]fieldSignal
	emailRe *regexp.Regexp
	learner *learning.PatternLearner
	suggest BackendSuggester
}

// NewClassifier creates a classifier. learner and suggest may be nil; a
// nil learner disables confidence adjustment and a nil suggester leaves
// backend suggestions empty.
func NewClassifier(cfg ClassifierConfig, learner *learning.PatternLearner, suggest BackendSuggester) *Classifier {
	if cfg.RoutingThreshold <= 0 {
		cfg.RoutingThreshold = 0.5
	}
	if cfg.FallbackDomain == "" {
		cfg.FallbackDomain = "generic"
	}
	if cfg.DefaultTiers == nil {
		cfg.DefaultTiers = DefaultClassifierConfig().DefaultTiers
	}
	c := &Classifier{
		cfg:     cfg,
		signals: make(map[string][]fieldSignal),
		emailRe: regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`),
		learner: learner,
		suggest: suggest,
	}
	c.initializeSignals()
	return c
}

// initializeSignals compiles the per-domain field-name pattern tables.
func (c *Classifier) initializeSignals() {
	add := func(domain string, weight float64, name, pattern string) {
		c.signals[domain] = append(c.signals[domain], fieldSignal{
			pattern: regexp.MustCompile(pattern),
			weight:  weight,
			name:    name,
		})
	}

	add("user", 0.70, "email_field", `(?i)^e?mail$`)
	add("user", 0.60, "name_field", `(?i)^(first|last|full|user)_?name$`)
	add("user", 0.50, "username_field", `(?i)^(username|login|handle)$`)
	add("user", 0.35, "age_field", `(?i)^(age|birth_?date|dob)$`)

	add("message", 0.60, "content_field", `(?i)^(content|body|text)$`)
	add("message", 0.60, "sender_field", `(?i)^(sender|from|recipient|to)$`)
	add("message", 0.45, "subject_field", `(?i)^(subject|thread_?id|channel)$`)

	add("product", 0.60, "price_field", `(?i)^(price|cost|amount)$`)
	add("product", 0.60, "sku_field", `(?i)^(sku|product_?id|upc)$`)
	add("product", 0.40, "title_field", `(?i)^(title|description|category)$`)

	add("event", 0.60, "event_field", `(?i)^(event|event_?type|action)$`)
	add("event", 0.40, "source_field", `(?i)^(source|origin|session_?id)$`)

	add("metric", 0.60, "value_field", `(?i)^(value|reading|measurement)$`)
	add("metric", 0.50, "unit_field", `(?i)^(unit|metric_?name|gauge)$`)

	add("log", 0.65, "level_field", `(?i)^(level|severity|log_?level)$`)
	add("log", 0.45, "logger_field", `(?i)^(logger|message|stack_?trace)$`)
}

// Classify infers the data type and domain of one item. Pure function:
// same item and hints always produce the same result for a given learner
// state.
func (c *Classifier) Classify(item map[string]interface{}, hints map[string]string) models.ClassificationResult {
	scores := make(map[string]float64)
	reasons := make(map[string][]string)

	// Explicit type hints are the strongest signal.
	if hint := strings.ToLower(hints["type"]); hint != "" {
		scores[hint] = combine(scores[hint], 0.90)
		reasons[hint] = append(reasons[hint], "explicit type hint")
	}

	for field, value := range item {
		for domain, sigs := range c.signals {
			for _, sig := range sigs {
				if sig.pattern.MatchString(field) {
					scores[domain] = combine(scores[domain], sig.weight)
					reasons[domain] = append(reasons[domain], sig.name)
				}
			}
		}
		// Value shapes contribute independently of field names.
		if s, ok := value.(string); ok && c.emailRe.MatchString(s) {
			scores["user"] = combine(scores["user"], 0.50)
			reasons["user"] = append(reasons["user"], "email_value_shape")
		}
	}

	if c.learner != nil {
		for domain := range scores {
			scores[domain] = clamp01(scores[domain] * c.learner.AdjustmentFor(learning.KindClassification, domain))
		}
	}

	ranked := rankScores(scores)
	result := models.ClassificationResult{
		DataType:   "unknown",
		Domain:     c.cfg.FallbackDomain,
		Confidence: 0.1,
		Reasoning:  "no classification signals matched",
	}
	if len(ranked) > 0 {
		top := ranked[0]
		result.DataType = top.Domain
		result.Domain = top.Domain
		result.Confidence = top.Confidence
		result.Reasoning = fmt.Sprintf("matched signals: %s", strings.Join(reasons[top.Domain], ", "))
		for _, alt := range ranked[1:] {
			result.Alternatives = append(result.Alternatives, alt)
		}
	}

	tier := c.ClassifyTier(item, hints, result.Domain)
	result.Tier = tier.Tier

	if result.Confidence >= c.cfg.RoutingThreshold && c.suggest != nil {
		if id, ok := c.suggest.SuggestBackend(result.Domain, result.Tier); ok {
			result.SuggestedBackendID = id
		}
	}
	return result
}

// ClassifyTier infers the target tier for an item, returning the
// contributing factors so the decision stays explainable.
func (c *Classifier) ClassifyTier(item map[string]interface{}, hints map[string]string, domain string) models.TierClassification {
	scores := map[models.Tier]float64{}
	var factors []models.TierFactor

	bump := func(tier models.Tier, weight float64, name, detail string) {
		scores[tier] += weight
		factors = append(factors, models.TierFactor{Name: name, Contribution: weight, Detail: detail})
	}

	switch strings.ToLower(hints["priority"]) {
	case "high", "critical", "realtime":
		bump(models.TierHot, 0.5, "priority_hint", hints["priority"])
	case "low", "archive":
		bump(models.TierCold, 0.5, "priority_hint", hints["priority"])
	}

	if c.learner != nil {
		rate := c.learner.AccessRate(domain)
		switch {
		case rate >= c.cfg.HotAccessRate:
			bump(models.TierHot, 0.3, "access_recency", fmt.Sprintf("%.1f/h", rate))
		case rate >= c.cfg.WarmAccessRate:
			bump(models.TierWarm, 0.2, "access_recency", fmt.Sprintf("%.1f/h", rate))
		default:
			bump(models.TierCold, 0.2, "access_recency", fmt.Sprintf("%.1f/h", rate))
		}
	}

	defaultTier, ok := c.cfg.DefaultTiers[domain]
	if !ok {
		defaultTier = models.TierWarm
	}
	bump(defaultTier, 0.3, "domain_default", domain)

	best, total := models.TierWarm, 0.0
	bestScore := -1.0
	for tier, score := range scores {
		total += score
		if score > bestScore {
			best, bestScore = tier, score
		}
	}
	confidence := 0.0
	if total > 0 {
		confidence = bestScore / total
	}
	return models.TierClassification{Tier: best, Confidence: confidence, Factors: factors}
}

// combine folds an independent signal weight into a score (noisy-or).
func combine(score, weight float64) float64 {
	return 1 - (1-score)*(1-weight)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func rankScores(scores map[string]float64) []models.ClassificationCandidate {
	out := make([]models.ClassificationCandidate, 0, len(scores))
	for domain, score := range scores {
		out = append(out, models.ClassificationCandidate{
			DataType:   domain,
			Domain:     domain,
			Confidence: score,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Domain < out[j].Domain
	})
	return out
}
