// Package services contains business logic implementations.
package services

import (
	"context"
	"time"

	"github.com/stratumhq/stratum/pkg/models"
)

// IngestOptions carries caller hints for a single ingest.
type IngestOptions struct {
	TypeHint string `json:"type_hint,omitempty"`
	Priority string `json:"priority,omitempty"`
	Batch    bool   `json:"batch,omitempty"`
}

// BatchOptions controls batch ingestion.
type BatchOptions struct {
	Parallel int  `json:"parallel,omitempty"`
	FailFast bool `json:"fail_fast,omitempty"`
}

// QueryOptions controls query execution.
type QueryOptions struct {
	Explain   bool                       `json:"explain,omitempty"`
	Confirmed bool                       `json:"confirmed,omitempty"`
	Strategy  models.AggregationStrategy `json:"strategy,omitempty"`
	Context   models.QueryContext        `json:"context,omitempty"`
	Prefs     models.QueryPreferences    `json:"preferences,omitempty"`
	Priority  string                     `json:"priority,omitempty"`
}

// MaintenanceOp is an administrative maintenance operation.
type MaintenanceOp string

const (
	MaintenanceReindex MaintenanceOp = "reindex"
	MaintenanceVacuum  MaintenanceOp = "vacuum"
	MaintenanceMigrate MaintenanceOp = "migrate"
	MaintenanceBackup  MaintenanceOp = "backup"
)

// MaintenanceOptions carries operation-specific parameters.
type MaintenanceOptions struct {
	TargetTier models.Tier `json:"target_tier,omitempty"`
	BackupPath string      `json:"backup_path,omitempty"`
	Strategies []string    `json:"strategies,omitempty"`
}

// MaintenanceReport is the result of a maintenance operation.
type MaintenanceReport struct {
	BackendID string                  `json:"backend_id"`
	Operation MaintenanceOp           `json:"operation"`
	Duration  time.Duration           `json:"duration"`
	Migration *models.MigrationReport `json:"migration,omitempty"`
}

// Outcome is caller feedback about a classification or query.
// ReferenceID names the decision the feedback applies to, using the key
// the scoring component consults: the classified domain for
// classification outcomes, the routed backend id for routing, the
// parsed intent for parsing. Feedback keyed by anything else is stored
// but never read back.
type Outcome struct {
	ReferenceID    string `json:"reference_id"`
	Success        bool   `json:"success"`
	CorrectedLabel string `json:"corrected_label,omitempty"`
}

// IngestionService defines the ingestion entry points.
type IngestionService interface {
	Ingest(ctx context.Context, item map[string]interface{}, opts IngestOptions) (*models.IngestResult, error)
	IngestBatch(ctx context.Context, items []map[string]interface{}, opts BatchOptions) (*models.BatchIngestResult, error)
}

// QueryService defines the natural-language query entry points.
type QueryService interface {
	Query(ctx context.Context, text string, opts QueryOptions) (*models.QueryResponse, error)
	Plan(ctx context.Context, text string) (*models.InterpretedQuery, error)
}

// AdminService defines operator entry points.
type AdminService interface {
	ListBackends(ctx context.Context, filter *BackendFilter) ([]models.BackendMetadata, error)
	GetBackend(ctx context.Context, id string) (*models.BackendMetadata, error)
	RegisterBackend(ctx context.Context, spec models.BackendSpec) (string, error)
	DeregisterBackend(ctx context.Context, id string) error
	StartMaintenance(ctx context.Context, id string, op MaintenanceOp, opts MaintenanceOptions) (*MaintenanceReport, error)
	SystemMetrics(ctx context.Context) (*models.SystemMetrics, error)
	Rebalance(ctx context.Context) ([]models.MigrationReport, error)
}

// FeedbackService accepts learning feedback.
type FeedbackService interface {
	ReportOutcome(ctx context.Context, kind string, outcome Outcome) error
}

// BackendFilter narrows backend listings.
type BackendFilter struct {
	Tier   models.Tier         `json:"tier,omitempty"`
	Domain string              `json:"domain,omitempty"`
	Status models.HealthStatus `json:"status,omitempty"`
}

// Logger defines logging interface.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// MetricsCollector defines metrics collection interface.
type MetricsCollector interface {
	IncrementCounter(name string, labels ...string)
	RecordHistogram(name string, value float64, labels ...string)
	RecordGauge(name string, value float64, labels ...string)
	StartTimer(name string) Timer
}

// Timer represents a timing measurement.
type Timer interface {
	Stop() time.Duration
}
