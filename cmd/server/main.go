// Package main provides the entry point for the Stratum storage router.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stratumhq/stratum/cmd/server/config"
	"github.com/stratumhq/stratum/pkg/aggregate"
	"github.com/stratumhq/stratum/pkg/backend"
	"github.com/stratumhq/stratum/pkg/infrastructure/metrics"
	"github.com/stratumhq/stratum/pkg/ingest"
	"github.com/stratumhq/stratum/pkg/learning"
	"github.com/stratumhq/stratum/pkg/models"
	"github.com/stratumhq/stratum/pkg/query"
	"github.com/stratumhq/stratum/pkg/registry"
	"github.com/stratumhq/stratum/pkg/services"
)

var (
	// Version information (set by build flags)
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "stratum",
	Short: "Stratum tiered storage router",
	Long: `A tiered storage router with ingestion and query intelligence.

Stratum classifies incoming data, routes it across hot, warm, and cold
backends, and answers natural-language queries with concurrent
multi-backend execution plans.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Stratum storage router",
	Long: `Start the Stratum storage router with the specified configuration.

Example:
  stratum serve --config ./config.yaml
  stratum serve --data-dir ./data --log-level debug`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "config file path")
	serveCmd.Flags().String("data-dir", "./data", "directory for durable backend files")
	serveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	serveCmd.Flags().Bool("metrics", true, "enable Prometheus metrics")
	serveCmd.Flags().String("metrics-address", ":9090", "metrics server address")
	serveCmd.Flags().Duration("decay-half-life", time.Hour, "access frequency decay half-life")
	serveCmd.Flags().Int64("max-concurrency", 8, "query executor fan-out limit")
	serveCmd.Flags().Duration("plan-timeout", 60*time.Second, "per-plan execution timeout")
	serveCmd.Flags().Bool("rebalance", true, "enable background tier rebalancing")
	serveCmd.Flags().Duration("rebalance-interval", 5*time.Minute, "tier rebalance interval")
	serveCmd.Flags().Duration("shutdown-timeout", 30*time.Second, "graceful shutdown timeout")

	if err := viper.BindPFlags(serveCmd.Flags()); err != nil {
		panic(fmt.Errorf("failed to bind flags: %w", err))
	}
	viper.SetEnvPrefix("STRATUM")
	viper.AutomaticEnv()

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Stratum Storage Router\n")
			fmt.Printf("Version:    %s\n", version)
			fmt.Printf("Commit:     %s\n", commit)
			fmt.Printf("Build Date: %s\n", buildDate)
		},
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig builds the effective configuration from defaults, an
// optional config file, and flag/environment overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()

	if path := viper.GetString("config"); path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := viper.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.DataDir = viper.GetString("data-dir")
	cfg.LogLevel = viper.GetString("log-level")
	cfg.ShutdownTimeout = viper.GetDuration("shutdown-timeout")
	cfg.Metrics.Enabled = viper.GetBool("metrics")
	cfg.Metrics.Address = viper.GetString("metrics-address")
	cfg.Registry.DecayHalfLife = viper.GetDuration("decay-half-life")
	cfg.Executor.MaxConcurrency = viper.GetInt64("max-concurrency")
	cfg.Executor.PlanTimeout = viper.GetDuration("plan-timeout")
	cfg.Rebalance.Enabled = viper.GetBool("rebalance")
	cfg.Rebalance.Interval = viper.GetDuration("rebalance-interval")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setupLogger(level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	return zerolog.New(os.Stderr).With().Timestamp().Str("service", "stratum").Logger()
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.LogLevel)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	var collector metrics.Collector = metrics.NewNoOpCollector()
	var metricsServer *metrics.MetricsServer
	if cfg.Metrics.Enabled {
		prom := metrics.NewPrometheusCollector()
		collector = prom
		metricsServer = metrics.NewMetricsServer(cfg.Metrics.Address, prom.Registry())
	}
	svcLogger := &loggerAdapter{logger: logger}
	svcMetrics := &serviceMetricsAdapter{collector: collector}

	// Core wiring: registry first, then the intelligence layers on top.
	factory := backend.NewFactory(cfg.DataDir, logger)
	reg := registry.New(registry.Config{
		DecayHalfLife:             cfg.Registry.DecayHalfLife,
		MigrationRecordsPerSecond: cfg.Registry.MigrationRecordsPerSecond,
		MigrationBatchSize:        cfg.Registry.MigrationBatchSize,
		DataDir:                   cfg.DataDir,
	}, factory, logger)

	learner := learning.New(cfg.Learning.Window)

	classifier := ingest.NewClassifier(ingest.ClassifierConfig{
		RoutingThreshold: cfg.Classifier.RoutingThreshold,
		FallbackDomain:   cfg.Classifier.FallbackDomain,
		HotAccessRate:    cfg.Classifier.HotAccessRate,
		WarmAccessRate:   cfg.Classifier.WarmAccessRate,
	}, learner, ingest.NewRegistrySuggester(reg))
	router := ingest.NewRouter(ingest.RouterConfig{
		MaxErrorRate:   cfg.Router.MaxErrorRate,
		FallbackDomain: cfg.Router.FallbackDomain,
	}, reg, learner, logger)

	parser := query.NewParser(query.ParserConfig{
		ConfidenceThreshold: cfg.Parser.ConfidenceThreshold,
	}, query.NewRegistryResolver(reg), learner, logger)
	planner := query.NewPlanner(reg, logger)
	executor := query.NewExecutor(query.ExecutorConfig{
		MaxConcurrency: cfg.Executor.MaxConcurrency,
		MaxRetries:     cfg.Executor.MaxRetries,
		RetryBackoff:   cfg.Executor.RetryBackoff,
		PlanTimeout:    cfg.Executor.PlanTimeout,
		StepTimeout:    cfg.Executor.StepTimeout,
	}, reg, logger)
	aggregator := aggregate.NewAggregator(logger)

	core := services.Container{
		Ingestion: services.NewIngestionService(classifier, router, reg, learner, svcLogger, svcMetrics),
		Query:     services.NewQueryService(parser, planner, executor, aggregator, learner, svcLogger, svcMetrics),
		Admin: services.NewAdminService(reg, metrics.NewSystemSampler(cfg.DataDir), services.RebalanceConfig{
			DemoteBelow:  cfg.Rebalance.DemoteBelow,
			PromoteAbove: cfg.Rebalance.PromoteAbove,
		}, svcLogger, svcMetrics),
		Feedback: services.NewFeedbackService(learner, svcLogger, svcMetrics),
	}
	admin := core.Admin

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, seed := range cfg.Seeds {
		id, err := admin.RegisterBackend(ctx, models.BackendSpec{
			Domain: seed.Domain,
			Tier:   seed.Tier,
			Kind:   seed.Kind,
		})
		if err != nil {
			return fmt.Errorf("failed to register seed backend %q: %w", seed.Domain, err)
		}
		logger.Info().Str("backend_id", id).Str("domain", seed.Domain).Str("tier", string(seed.Tier)).Msg("seed backend registered")
	}

	if cfg.Monitor.Enabled {
		monitor := registry.NewMonitor(registry.MonitorConfig{
			ProbeInterval: cfg.Monitor.ProbeInterval,
			ProbeTimeout:  cfg.Monitor.ProbeTimeout,
			DegradedAfter: cfg.Monitor.DegradedAfter,
			OfflineAfter:  cfg.Monitor.OfflineAfter,
		}, reg, logger)
		go monitor.Run(ctx)
	}

	if cfg.Rebalance.Enabled {
		go runRebalancer(ctx, admin, cfg.Rebalance.Interval, logger)
	}

	if metricsServer != nil {
		go func() {
			logger.Info().Str("address", cfg.Metrics.Address).Msg("metrics server listening")
			if err := metricsServer.Start(); err != nil {
				logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	logger.Info().
		Str("version", version).
		Str("data_dir", cfg.DataDir).
		Int("backends", reg.Size()).
		Msg("stratum started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info().Msg("shutting down")
	cancel()
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown failed")
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := reg.Close(); err != nil {
			logger.Error().Err(err).Msg("registry shutdown failed")
		}
	}()
	select {
	case <-done:
	case <-time.After(cfg.ShutdownTimeout):
		logger.Warn().Msg("shutdown timeout exceeded")
	}
	return nil
}

// runRebalancer periodically proposes and executes tier migrations based
// on decayed access frequency.
func runRebalancer(ctx context.Context, admin services.AdminService, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reports, err := admin.Rebalance(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("rebalance failed")
				continue
			}
			if len(reports) > 0 {
				logger.Info().Int("migrations", len(reports)).Msg("rebalance moved backends")
			}
		}
	}
}
