package models

import "time"

// ClassificationResult is the outcome of classifying one incoming item.
// SuggestedBackendID is empty when the top candidate's confidence falls
// below the routing threshold; callers must treat that as "needs manual
// routing or fallback domain", not as an error.
type ClassificationResult struct {
	ID                 string                   `json:"id"`
	DataType           string                   `json:"data_type"`
	Domain             string                   `json:"domain"`
	Tier               Tier                     `json:"tier"`
	Confidence         float64                  `json:"confidence"`
	SuggestedBackendID string                   `json:"suggested_backend_id,omitempty"`
	Reasoning          string                   `json:"reasoning"`
	Alternatives       []ClassificationCandidate `json:"alternatives,omitempty"`
}

// ClassificationCandidate is a lower-ranked classification candidate.
type ClassificationCandidate struct {
	DataType   string  `json:"data_type"`
	Domain     string  `json:"domain"`
	Confidence float64 `json:"confidence"`
}

// TierFactor is one contributing factor of a tier inference, kept so tier
// decisions stay explainable.
type TierFactor struct {
	Name         string  `json:"name"`
	Contribution float64 `json:"contribution"`
	Detail       string  `json:"detail,omitempty"`
}

// TierClassification is the outcome of inferring a target tier for an item.
type TierClassification struct {
	Tier       Tier         `json:"tier"`
	Confidence float64      `json:"confidence"`
	Factors    []TierFactor `json:"factors"`
}

// RoutingStrategy explains why a routing target was chosen.
type RoutingStrategy string

const (
	RouteDirect       RoutingStrategy = "direct"
	RouteBatch        RoutingStrategy = "batch"
	RouteLoadBalanced RoutingStrategy = "load_balanced"
	RoutePriorityLane RoutingStrategy = "priority_lane"
)

// RoutingDecision is the result of selecting a concrete target backend.
type RoutingDecision struct {
	BackendID    string          `json:"backend_id"`
	Domain       string          `json:"domain"`
	Tier         Tier            `json:"tier"`
	Strategy     RoutingStrategy `json:"strategy"`
	Reason       string          `json:"reason"`
	Alternatives []string        `json:"alternatives,omitempty"`
	DecidedAt    time.Time       `json:"decided_at"`
}

// IngestResult is returned by the ingestion entry point for one item.
type IngestResult struct {
	RecordID       string                `json:"record_id"`
	BackendID      string                `json:"backend_id"`
	Classification *ClassificationResult `json:"classification"`
	Routing        *RoutingDecision      `json:"routing"`
	ProcessingTime time.Duration         `json:"processing_time"`
	Warning        string                `json:"warning,omitempty"`
}

// BatchItemResult is the per-item outcome of a batch ingestion.
type BatchItemResult struct {
	Index  int           `json:"index"`
	Result *IngestResult `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// BatchIngestResult is returned by the batch ingestion entry point.
type BatchIngestResult struct {
	BatchID   string            `json:"batch_id"`
	Items     []BatchItemResult `json:"items"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Duration  time.Duration     `json:"duration"`
}
