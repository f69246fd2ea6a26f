// Package models provides data structures used throughout the storage router.
package models

import (
	"time"
)

// Tier represents the placement tier of a backend.
type Tier string

const (
	// TierHot serves frequently accessed data at low latency.
	TierHot Tier = "hot"
	// TierWarm is the transitional tier between hot and cold.
	TierWarm Tier = "warm"
	// TierCold holds archival data where higher latency is tolerated.
	TierCold Tier = "cold"
)

// Valid reports whether the tier is one of the three known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierHot, TierWarm, TierCold:
		return true
	}
	return false
}

// PerformanceTier represents the cost/performance class of a backend.
type PerformanceTier string

const (
	PerformanceEconomy  PerformanceTier = "economy"
	PerformanceStandard PerformanceTier = "standard"
	PerformancePremium  PerformanceTier = "premium"
)

// HealthStatus represents the observed health of a backend.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthOffline   HealthStatus = "offline"
)

// LifecycleState represents the registry lifecycle state of a backend.
type LifecycleState string

const (
	StateProvisioning LifecycleState = "provisioning"
	StateActive       LifecycleState = "active"
	StateMigrating    LifecycleState = "migrating"
	StateFailed       LifecycleState = "failed"
	StateDeregistered LifecycleState = "deregistered"
)

// ConsistencyLevel represents the consistency guarantee of a backend.
type ConsistencyLevel string

const (
	ConsistencyStrong   ConsistencyLevel = "strong"
	ConsistencyEventual ConsistencyLevel = "eventual"
	ConsistencyWeak     ConsistencyLevel = "weak"
)

// BackendKind identifies the concrete backend implementation.
type BackendKind string

const (
	KindMemory BackendKind = "memory"
	KindDuckDB BackendKind = "duckdb"
)

// BackendConfiguration holds per-backend operational limits.
type BackendConfiguration struct {
	MaxRecords         int64            `json:"max_records"`
	MaxSize            int64            `json:"max_size"`
	CacheSize          int64            `json:"cache_size"`
	ConnectionPoolSize int              `json:"connection_pool_size"`
	QueryTimeout       time.Duration    `json:"query_timeout"`
	BackupFrequency    time.Duration    `json:"backup_frequency"`
	CompressionEnabled bool             `json:"compression_enabled"`
	EncryptionEnabled  bool             `json:"encryption_enabled"`
	AutoIndexing       bool             `json:"auto_indexing"`
	ReplicationFactor  int              `json:"replication_factor"`
	ConsistencyLevel   ConsistencyLevel `json:"consistency_level"`
}

// BackendMetrics holds rolling operational statistics for a backend.
type BackendMetrics struct {
	AverageResponseTime  time.Duration `json:"average_response_time"`
	QueryThroughput      float64       `json:"query_throughput"`
	CPUUtilization       float64       `json:"cpu_utilization"`
	MemoryUtilization    float64       `json:"memory_utilization"`
	DiskUtilization      float64       `json:"disk_utilization"`
	NetworkIO            int64         `json:"network_io"`
	CacheHitRatio        float64       `json:"cache_hit_ratio"`
	ErrorRate            float64       `json:"error_rate"`
	ActiveConnections    int64         `json:"active_connections"`
	SuccessfulOperations int64         `json:"successful_operations"`
	FailedOperations     int64         `json:"failed_operations"`
}

// MigrationRecord is one append-only entry in a backend's migration history.
type MigrationRecord struct {
	From         Tier          `json:"from"`
	To           Tier          `json:"to"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	RecordsMoved int64         `json:"records_moved"`
	BytesMoved   int64         `json:"bytes_moved"`
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
}

// MigrationReport is the result of a migrate call.
type MigrationReport struct {
	BackendID    string        `json:"backend_id"`
	SourceTier   Tier          `json:"source_tier"`
	TargetTier   Tier          `json:"target_tier"`
	RecordsMoved int64         `json:"records_moved"`
	BytesMoved   int64         `json:"bytes_moved"`
	Duration     time.Duration `json:"duration"`
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
}

// BackendMetadata is the registry's bookkeeping for one backend.
type BackendMetadata struct {
	ID                string               `json:"id"`
	Domain            string               `json:"domain"`
	Kind              BackendKind          `json:"kind"`
	Tier              Tier                 `json:"tier"`
	PerformanceTier   PerformanceTier      `json:"performance_tier"`
	AccessFrequency   float64              `json:"access_frequency"`
	RecordCount       int64                `json:"record_count"`
	AverageRecordSize int64                `json:"average_record_size"`
	TotalSize         int64                `json:"total_size"`
	IndexStrategies   []string             `json:"index_strategies,omitempty"`
	HealthStatus      HealthStatus         `json:"health_status"`
	State             LifecycleState       `json:"state"`
	Configuration     BackendConfiguration `json:"configuration"`
	Metrics           BackendMetrics       `json:"metrics"`
	MigrationHistory  []MigrationRecord    `json:"migration_history,omitempty"`
	Tags              []string             `json:"tags,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

// BackendSpec is the input to backend registration.
type BackendSpec struct {
	Domain          string               `json:"domain"`
	Kind            BackendKind          `json:"kind"`
	Tier            Tier                 `json:"tier"`
	PerformanceTier PerformanceTier      `json:"performance_tier,omitempty"`
	Configuration   BackendConfiguration `json:"configuration"`
	IndexStrategies []string             `json:"index_strategies,omitempty"`
	Tags            []string             `json:"tags,omitempty"`

	// Path is the storage location for durable backend kinds.
	Path string `json:"path,omitempty"`
}

// Record is one stored data item.
type Record struct {
	ID        string                 `json:"id"`
	Domain    string                 `json:"domain"`
	Timestamp time.Time              `json:"timestamp"`
	Fields    map[string]interface{} `json:"fields"`
}

// BackendStats is the live statistics snapshot reported by a backend.
type BackendStats struct {
	RecordCount          int64         `json:"record_count"`
	TotalSize            int64         `json:"total_size"`
	ActiveConnections    int64         `json:"active_connections"`
	SuccessfulOperations int64         `json:"successful_operations"`
	FailedOperations     int64         `json:"failed_operations"`
	AverageResponseTime  time.Duration `json:"average_response_time"`
}

// SystemMetrics is the operator-facing rollup across the host and all backends.
type SystemMetrics struct {
	CPUPercent     float64                    `json:"cpu_percent"`
	MemoryTotal    uint64                     `json:"memory_total"`
	MemoryUsed     uint64                     `json:"memory_used"`
	DiskTotal      uint64                     `json:"disk_total"`
	DiskUsed       uint64                     `json:"disk_used"`
	BackendCount   int                        `json:"backend_count"`
	BackendsByTier map[Tier]int               `json:"backends_by_tier"`
	Backends       map[string]BackendMetrics  `json:"backends"`
	CollectedAt    time.Time                  `json:"collected_at"`
}
