package services

// Container bundles the boundary services consumed by transport
// adapters and embedding applications.
type Container struct {
	Ingestion IngestionService
	Query     QueryService
	Admin     AdminService
	Feedback  FeedbackService
}
