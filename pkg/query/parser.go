package query

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stratumhq/stratum/pkg/errors"
	"github.com/stratumhq/stratum/pkg/learning"
	"github.com/stratumhq/stratum/pkg/models"
)

// ParserConfig tunes natural-language parsing.
type ParserConfig struct {
	// ConfidenceThreshold marks interpretations below it as low
	// confidence. They are surfaced to the caller, never silently run.
	ConfidenceThreshold float64 `json:"confidence_threshold"`
}

// DefaultParserConfig returns parser defaults.
func DefaultParserConfig() ParserConfig {
	return ParserConfig{ConfidenceThreshold: 0.5}
}

// TargetResolver maps a domain to the ids of backends currently serving
// it. The registry provides the production implementation.
type TargetResolver interface {
	BackendsForDomain(domain string) []string
}

// intentPattern matches one phrasing of an operation. Patterns are
// evaluated in order and every match contributes an intent.
type intentPattern struct {
	re         *regexp.Regexp
	intent     models.IntentType
	confidence float64
}

// Parser turns free-text queries into structured interpretations using
// ordered pattern tables for intents and entity extractors for domains,
// filters, time ranges, and thresholds.
type Parser struct {
	cfg      ParserConfig
	patterns []intentPattern
	resolver TargetResolver
	learner  *learning.PatternLearner
	logger   zerolog.Logger
	clock    func() time.Time

	domainRe    *regexp.Regexp
	groupByRe   *regexp.Regexp
	aggFieldRe  *regexp.Regexp
	filterRe    *regexp.Regexp
	whereIsRe   *regexp.Regexp
	relTimeRe   *regexp.Regexp
	sinceDateRe *regexp.Regexp
	thresholdRe *regexp.Regexp
	setRe       *regexp.Regexp
}

// Example queries returned with empty-or-ambiguous failures so callers
// can show users what phrasing the parser understands.
var exampleQueries = []string{
	"show users where email contains example.com",
	"count messages by user",
	"average price of products from the last 7 days",
	"compare events and metrics from yesterday",
	"delete logs older than 30 days",
}

// NewParser creates a parser. resolver and learner may be nil.
func NewParser(cfg ParserConfig, resolver TargetResolver, learner *learning.PatternLearner, logger zerolog.Logger) *Parser {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.5
	}
	p := &Parser{
		cfg:      cfg,
		resolver: resolver,
		learner:  learner,
		logger:   logger,
		clock:    time.Now,
	}
	p.initializePatterns()
	return p
}

func (p *Parser) initializePatterns() {
	p.patterns = []intentPattern{
		// Destructive intents first so "delete old users" does not fall
		// through to retrieve on the bare noun.
		{regexp.MustCompile(`(?i)\b(delete|remove|purge|drop)\b`), models.IntentDelete, 0.90},
		{regexp.MustCompile(`(?i)\b(update|modify|change|set)\b`), models.IntentUpdate, 0.85},
		{regexp.MustCompile(`(?i)\b(compare|versus|vs\.?)\b|\bdifference between\b`), models.IntentCompare, 0.85},
		{regexp.MustCompile(`(?i)\bhow many\b|\b(count|sum|total|average|avg|minimum|maximum)\b`), models.IntentAggregate, 0.90},
		{regexp.MustCompile(`(?i)\b(show|get|find|list|fetch|retrieve|search|display)\b`), models.IntentRetrieve, 0.80},
	}

	p.domainRe = regexp.MustCompile(`(?i)\b(users?|messages?|products?|events?|metrics?|logs?)\b`)
	p.groupByRe = regexp.MustCompile(`(?i)\bby\s+(\w+)\b`)
	p.aggFieldRe = regexp.MustCompile(`(?i)\b(sum|total|average|avg|minimum|maximum|min|max)\s+(?:of\s+)?(?:the\s+)?(\w+)`)
	p.filterRe = regexp.MustCompile(`(?i)\b(\w+)\s*(!=|>=|<=|=|>|<)\s*"?([\w@.\-]+)"?`)
	p.whereIsRe = regexp.MustCompile(`(?i)\bwhere\s+(\w+)\s+(?:is|equals|contains)\s+"?([\w@.\-]+)"?`)
	p.relTimeRe = regexp.MustCompile(`(?i)\b(?:last|past)\s+(\d+)?\s*(minute|hour|day|week|month)s?\b|\b(today|yesterday)\b`)
	p.sinceDateRe = regexp.MustCompile(`(?i)\bsince\s+(\d{4}-\d{2}-\d{2})\b`)
	p.thresholdRe = regexp.MustCompile(`(?i)\b(?:(\w+)\s+)?(over|above|more than|greater than|under|below|less than|older than|at least|at most)\s+(\d+(?:\.\d+)?)`)
	p.setRe = regexp.MustCompile(`(?i)\bset\s+(\w+)\s+to\s+"?([\w@.\-]+)"?`)
}

// Parse interprets a natural-language query. Destructive intents are
// marked RequiresConfirmation and are never auto-executed. Empty or
// unrecognized input fails with an EmptyOrAmbiguous error carrying
// example queries in its details.
func (p *Parser) Parse(q models.NaturalQuery) (*models.InterpretedQuery, error) {
	raw := strings.TrimSpace(q.Raw)
	if raw == "" {
		return nil, errors.ErrEmptyQuery.WithDetail("examples", exampleQueries)
	}

	intents := p.extractIntents(raw)
	if len(intents) == 0 {
		return nil, errors.ErrEmptyQuery.
			WithDetail("query", raw).
			WithDetail("examples", exampleQueries)
	}

	entities := p.extractEntities(raw)

	interpreted := &models.InterpretedQuery{
		Original: q,
		Intents:  intents,
		Entities: entities,
	}
	for _, it := range intents {
		if it.RequiresConfirmation {
			interpreted.RequiresConfirmation = true
		}
	}
	interpreted.TargetBackendIDs = p.resolveTargets(entities.Domains)
	interpreted.Confidence = p.overallConfidence(intents, entities)

	p.logger.Debug().
		Str("query_id", q.ID).
		Int("intents", len(intents)).
		Strs("domains", entities.Domains).
		Float64("confidence", interpreted.Confidence).
		Msg("parsed query")
	return interpreted, nil
}

// LowConfidence reports whether an interpretation falls below the
// configured confidence threshold.
func (p *Parser) LowConfidence(iq *models.InterpretedQuery) bool {
	return iq.Confidence < p.cfg.ConfidenceThreshold
}

func (p *Parser) extractIntents(raw string) []models.Intent {
	var intents []models.Intent
	seen := make(map[models.IntentType]bool)
	for _, pat := range p.patterns {
		if !pat.re.MatchString(raw) || seen[pat.intent] {
			continue
		}
		seen[pat.intent] = true
		intent := models.Intent{
			Type:       pat.intent,
			Confidence: p.adjusted(pat.intent, pat.confidence),
			Parameters: p.intentParameters(pat.intent, raw),
		}
		if pat.intent.Destructive() {
			intent.RequiresConfirmation = true
		}
		intents = append(intents, intent)
	}

	// A bare noun phrase like "users from yesterday" still means
	// retrieve when a known domain is present.
	if len(intents) == 0 && p.domainRe.MatchString(raw) {
		intents = append(intents, models.Intent{
			Type:       models.IntentRetrieve,
			Confidence: p.adjusted(models.IntentRetrieve, 0.55),
		})
	}
	return intents
}

func (p *Parser) intentParameters(t models.IntentType, raw string) map[string]interface{} {
	params := make(map[string]interface{})
	switch t {
	case models.IntentAggregate:
		params["operation"] = aggregateOperation(raw)
		if m := p.groupByRe.FindStringSubmatch(raw); m != nil {
			params["groupBy"] = singular(m[1])
		}
		if m := p.aggFieldRe.FindStringSubmatch(raw); m != nil {
			params["field"] = strings.ToLower(m[2])
		}
	case models.IntentUpdate:
		set := make(map[string]interface{})
		for _, m := range p.setRe.FindAllStringSubmatch(raw, -1) {
			set[strings.ToLower(m[1])] = m[2]
		}
		if len(set) > 0 {
			params["set"] = set
		}
	}
	if len(params) == 0 {
		return nil
	}
	return params
}

func aggregateOperation(raw string) string {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "count") || strings.Contains(lower, "how many"):
		return "count"
	case strings.Contains(lower, "sum") || strings.Contains(lower, "total"):
		return "sum"
	case strings.Contains(lower, "average") || strings.Contains(lower, "avg"):
		return "avg"
	case strings.Contains(lower, "min"):
		return "min"
	case strings.Contains(lower, "max"):
		return "max"
	}
	return "count"
}

func (p *Parser) extractEntities(raw string) models.Entities {
	var e models.Entities

	seen := make(map[string]bool)
	for _, m := range p.domainRe.FindAllString(raw, -1) {
		d := singular(strings.ToLower(m))
		if !seen[d] {
			seen[d] = true
			e.Domains = append(e.Domains, d)
		}
	}

	for _, m := range p.filterRe.FindAllStringSubmatch(raw, -1) {
		e.Filters = append(e.Filters, models.FieldFilter{
			Field:      strings.ToLower(m[1]),
			Operator:   operatorFor(m[2]),
			Value:      coerceValue(m[3]),
			Confidence: 0.85,
		})
	}
	for _, m := range p.whereIsRe.FindAllStringSubmatch(raw, -1) {
		op := models.OpEq
		if strings.Contains(strings.ToLower(m[0]), "contains") {
			op = models.OpContains
		}
		e.Filters = append(e.Filters, models.FieldFilter{
			Field:      strings.ToLower(m[1]),
			Operator:   op,
			Value:      coerceValue(m[2]),
			Confidence: 0.80,
		})
	}

	e.TimeRange = p.extractTimeRange(raw)

	for _, m := range p.thresholdRe.FindAllStringSubmatch(raw, -1) {
		value, err := strconv.ParseFloat(m[3], 64)
		if err != nil {
			continue
		}
		e.Thresholds = append(e.Thresholds, models.Threshold{
			Field:      strings.ToLower(m[1]),
			Operator:   thresholdOperator(m[2]),
			Value:      value,
			Confidence: 0.75,
		})
	}
	return e
}

// extractTimeRange resolves relative phrases against the parser clock so
// downstream steps always see absolute timestamps.
func (p *Parser) extractTimeRange(raw string) *models.TimeRange {
	now := p.clock().UTC()

	if m := p.sinceDateRe.FindStringSubmatch(raw); m != nil {
		from, err := time.Parse("2006-01-02", m[1])
		if err == nil {
			return &models.TimeRange{From: from, To: now, Confidence: 0.90}
		}
	}

	m := p.relTimeRe.FindStringSubmatch(raw)
	if m == nil {
		return nil
	}
	if m[3] != "" {
		day := now.Truncate(24 * time.Hour)
		switch strings.ToLower(m[3]) {
		case "today":
			return &models.TimeRange{From: day, To: now, Confidence: 0.90}
		case "yesterday":
			return &models.TimeRange{From: day.Add(-24 * time.Hour), To: day, Confidence: 0.90}
		}
	}

	n := 1
	if m[1] != "" {
		if parsed, err := strconv.Atoi(m[1]); err == nil {
			n = parsed
		}
	}
	var unit time.Duration
	switch strings.ToLower(m[2]) {
	case "minute":
		unit = time.Minute
	case "hour":
		unit = time.Hour
	case "day":
		unit = 24 * time.Hour
	case "week":
		unit = 7 * 24 * time.Hour
	case "month":
		unit = 30 * 24 * time.Hour
	}
	return &models.TimeRange{From: now.Add(-time.Duration(n) * unit), To: now, Confidence: 0.85}
}

func (p *Parser) resolveTargets(domains []string) []string {
	if p.resolver == nil {
		return nil
	}
	var ids []string
	seen := make(map[string]bool)
	for _, d := range domains {
		for _, id := range p.resolver.BackendsForDomain(d) {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// overallConfidence averages intent confidences and discounts slightly
// when the query names no known domain.
func (p *Parser) overallConfidence(intents []models.Intent, e models.Entities) float64 {
	var sum float64
	for _, it := range intents {
		sum += it.Confidence
	}
	conf := sum / float64(len(intents))
	if len(e.Domains) == 0 {
		conf *= 0.7
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}

func (p *Parser) adjusted(t models.IntentType, base float64) float64 {
	if p.learner == nil {
		return base
	}
	conf := base * p.learner.AdjustmentFor(learning.KindParsing, string(t))
	if conf > 0.99 {
		conf = 0.99
	}
	if conf < 0.05 {
		conf = 0.05
	}
	return conf
}

func operatorFor(op string) models.FilterOperator {
	switch op {
	case "!=":
		return models.OpNeq
	case ">":
		return models.OpGt
	case ">=":
		return models.OpGte
	case "<":
		return models.OpLt
	case "<=":
		return models.OpLte
	default:
		return models.OpEq
	}
}

func thresholdOperator(phrase string) models.FilterOperator {
	switch strings.ToLower(phrase) {
	case "over", "above", "more than", "greater than", "older than":
		return models.OpGt
	case "under", "below", "less than":
		return models.OpLt
	case "at least":
		return models.OpGte
	case "at most":
		return models.OpLte
	}
	return models.OpGt
}

func singular(word string) string {
	w := strings.ToLower(word)
	if strings.HasSuffix(w, "s") && w != "status" {
		return strings.TrimSuffix(w, "s")
	}
	return w
}

func coerceValue(s string) interface{} {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
