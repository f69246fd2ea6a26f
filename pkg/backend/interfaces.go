// Package backend provides the capability interface and concrete
// implementations for storage backends.
package backend

import (
	"context"

	"github.com/stratumhq/stratum/pkg/models"
)

// Backend is the closed set of verbs every storage unit exposes. The
// registry coordinates placement and metadata only; all data mutation
// happens inside these calls.
type Backend interface {
	// Insert stores a record and returns its assigned id.
	Insert(ctx context.Context, rec models.Record) (string, error)

	// Query returns records matching the given constraints.
	Query(ctx context.Context, params models.QueryParams) ([]models.Record, error)

	// Count returns the number of records matching the given constraints.
	Count(ctx context.Context, params models.QueryParams) (int64, error)

	// Update applies the given field values to all matching records and
	// returns the number of records changed.
	Update(ctx context.Context, params models.QueryParams, set map[string]interface{}) (int64, error)

	// Delete removes all matching records and returns the number removed.
	Delete(ctx context.Context, params models.QueryParams) (int64, error)

	// Export returns every record, used by tier migration.
	Export(ctx context.Context) ([]models.Record, error)

	// Import bulk-loads records, used by tier migration.
	Import(ctx context.Context, recs []models.Record) (int, error)

	// Health probes the backend.
	Health(ctx context.Context) models.HealthStatus

	// Stats returns a snapshot of operational statistics.
	Stats() models.BackendStats

	// Close releases any resources held by the backend.
	Close() error
}

// Maintainer is implemented by backends that support maintenance
// operations. Callers type-assert; backends without the capability are
// skipped.
type Maintainer interface {
	Vacuum(ctx context.Context) error
	Reindex(ctx context.Context, strategies []string) error
	Backup(ctx context.Context, path string) error
}
