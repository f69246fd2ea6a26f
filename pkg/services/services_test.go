package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stratumhq/stratum/pkg/aggregate"
	"github.com/stratumhq/stratum/pkg/backend"
	"github.com/stratumhq/stratum/pkg/ingest"
	"github.com/stratumhq/stratum/pkg/learning"
	"github.com/stratumhq/stratum/pkg/models"
	"github.com/stratumhq/stratum/pkg/query"
	"github.com/stratumhq/stratum/pkg/registry"
)

// mockLogger implements Logger
type mockLogger struct{}

func (m *mockLogger) Debug(msg string, keysAndValues ...interface{}) {}
func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}

// mockMetrics implements MetricsCollector, counting increments by name.
type mockMetrics struct {
	mu       sync.Mutex
	counters map[string]int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{counters: make(map[string]int)}
}

func (m *mockMetrics) IncrementCounter(name string, labels ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name]++
}

func (m *mockMetrics) RecordHistogram(name string, value float64, labels ...string) {}
func (m *mockMetrics) RecordGauge(name string, value float64, labels ...string)     {}

func (m *mockMetrics) StartTimer(name string) Timer {
	return &mockTimer{}
}

func (m *mockMetrics) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

// mockTimer implements Timer
type mockTimer struct{}

func (m *mockTimer) Stop() time.Duration { return 0 }

// mockSampler implements HostSampler
type mockSampler struct {
	sampleFunc func() (models.SystemMetrics, error)
}

func (m *mockSampler) Sample(ctx context.Context) (models.SystemMetrics, error) {
	return m.sampleFunc()
}

// testStack wires the full service graph over an in-memory registry.
type testStack struct {
	registry  *registry.Registry
	learner   *learning.PatternLearner
	metrics   *mockMetrics
	ingestion IngestionService
	query     QueryService
	admin     AdminService
	feedback  FeedbackService
}

func newTestStack(dataDir string) *testStack {
	logger := zerolog.Nop()
	cfg := registry.DefaultConfig()
	cfg.TierKinds = map[models.Tier]models.BackendKind{
		models.TierHot:  models.KindMemory,
		models.TierWarm: models.KindMemory,
		models.TierCold: models.KindMemory,
	}
	reg := registry.New(cfg, backend.NewFactory(dataDir, logger), logger)
	learner := learning.New(time.Hour)
	metrics := newMockMetrics()
	slog := &mockLogger{}

	classifier := ingest.NewClassifier(ingest.DefaultClassifierConfig(), learner, ingest.NewRegistrySuggester(reg))
	router := ingest.NewRouter(ingest.DefaultRouterConfig(), reg, learner, logger)
	parser := query.NewParser(query.DefaultParserConfig(), query.NewRegistryResolver(reg), learner, logger)
	planner := query.NewPlanner(reg, logger)
	executor := query.NewExecutor(query.DefaultExecutorConfig(), reg, logger)
	aggregator := aggregate.NewAggregator(logger)

	return &testStack{
		registry:  reg,
		learner:   learner,
		metrics:   metrics,
		ingestion: NewIngestionService(classifier, router, reg, learner, slog, metrics),
		query:     NewQueryService(parser, planner, executor, aggregator, learner, slog, metrics),
		admin:     NewAdminService(reg, nil, DefaultRebalanceConfig(), slog, metrics),
		feedback:  NewFeedbackService(learner, slog, metrics),
	}
}
