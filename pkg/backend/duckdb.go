package backend

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/rs/zerolog"

	"github.com/stratumhq/stratum/pkg/errors"
	"github.com/stratumhq/stratum/pkg/models"
)

// DuckDBBackend is the durable implementation used for warm and cold
// tiers. Records are stored as (id, domain, ts, body) rows with the field
// map serialized to JSON; domain and time constraints are pushed into
// SQL, field filters are applied to the decoded body.
type DuckDBBackend struct {
	db     *sql.DB
	logger zerolog.Logger

	active   atomic.Int64
	success  atomic.Int64
	failed   atomic.Int64
	respEWMA atomic.Int64
}

// NewDuckDBBackend opens (or creates) a DuckDB database at path and
// ensures the records table exists. An empty path opens an in-memory
// database, useful for tests.
func NewDuckDBBackend(path string, cfg models.BackendConfiguration, logger zerolog.Logger) (*DuckDBBackend, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeBackendUnavailable, "failed to open duckdb database")
	}
	if cfg.ConnectionPoolSize > 0 {
		db.SetMaxOpenConns(cfg.ConnectionPoolSize)
	}

	const ddl = `CREATE TABLE IF NOT EXISTS records (
		id VARCHAR PRIMARY KEY,
		domain VARCHAR NOT NULL,
		ts TIMESTAMP NOT NULL,
		body VARCHAR NOT NULL
	)`
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.CodeBackendUnavailable, "failed to create records table")
	}

	return &DuckDBBackend{db: db, logger: logger}, nil
}

// Insert stores a record, assigning an id when none is set.
func (d *DuckDBBackend) Insert(ctx context.Context, rec models.Record) (string, error) {
	done := d.begin()
	defer done()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	body, err := json.Marshal(rec.Fields)
	if err != nil {
		d.failed.Add(1)
		return "", errors.Wrap(err, errors.CodeInvalidRequest, "failed to encode record fields")
	}

	_, err = d.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO records (id, domain, ts, body) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.Domain, rec.Timestamp, string(body))
	if err != nil {
		d.failed.Add(1)
		return "", d.wrapDBError(err, "insert failed")
	}
	d.success.Add(1)
	return rec.ID, nil
}

// Query returns records matching the given constraints.
func (d *DuckDBBackend) Query(ctx context.Context, params models.QueryParams) ([]models.Record, error) {
	done := d.begin()
	defer done()

	recs, err := d.fetch(ctx, params)
	if err != nil {
		d.failed.Add(1)
		return nil, err
	}
	d.success.Add(1)
	return shape(recs, params), nil
}

// Count returns the number of matching records.
func (d *DuckDBBackend) Count(ctx context.Context, params models.QueryParams) (int64, error) {
	done := d.begin()
	defer done()

	recs, err := d.fetch(ctx, params)
	if err != nil {
		d.failed.Add(1)
		return 0, err
	}
	d.success.Add(1)
	return int64(len(recs)), nil
}

// Update applies field values to matching records.
func (d *DuckDBBackend) Update(ctx context.Context, params models.QueryParams, set map[string]interface{}) (int64, error) {
	done := d.begin()
	defer done()

	recs, err := d.fetch(ctx, params)
	if err != nil {
		d.failed.Add(1)
		return 0, err
	}

	var n int64
	for _, rec := range recs {
		for k, v := range set {
			rec.Fields[k] = v
		}
		body, err := json.Marshal(rec.Fields)
		if err != nil {
			d.failed.Add(1)
			return n, errors.Wrap(err, errors.CodeInternal, "failed to encode updated fields")
		}
		if _, err := d.db.ExecContext(ctx,
			`UPDATE records SET body = ? WHERE id = ?`, string(body), rec.ID); err != nil {
			d.failed.Add(1)
			return n, d.wrapDBError(err, "update failed")
		}
		n++
	}
	d.success.Add(1)
	return n, nil
}

// Delete removes matching records.
func (d *DuckDBBackend) Delete(ctx context.Context, params models.QueryParams) (int64, error) {
	done := d.begin()
	defer done()

	recs, err := d.fetch(ctx, params)
	if err != nil {
		d.failed.Add(1)
		return 0, err
	}
	if len(recs) == 0 {
		d.success.Add(1)
		return 0, nil
	}

	ids := make([]interface{}, len(recs))
	holes := make([]string, len(recs))
	for i, rec := range recs {
		ids[i] = rec.ID
		holes[i] = "?"
	}
	res, err := d.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM records WHERE id IN (%s)`, strings.Join(holes, ",")), ids...)
	if err != nil {
		d.failed.Add(1)
		return 0, d.wrapDBError(err, "delete failed")
	}
	n, _ := res.RowsAffected()
	d.success.Add(1)
	return n, nil
}

// Export snapshots every record for migration.
func (d *DuckDBBackend) Export(ctx context.Context) ([]models.Record, error) {
	return d.fetch(ctx, models.QueryParams{})
}

// Import bulk-loads records for migration.
func (d *DuckDBBackend) Import(ctx context.Context, recs []models.Record) (int, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, d.wrapDBError(err, "failed to begin import transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO records (id, domain, ts, body) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, d.wrapDBError(err, "failed to prepare import statement")
	}
	defer stmt.Close()

	n := 0
	for _, rec := range recs {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		body, err := json.Marshal(rec.Fields)
		if err != nil {
			return n, errors.Wrap(err, errors.CodeInternal, "failed to encode record fields")
		}
		if _, err := stmt.ExecContext(ctx, rec.ID, rec.Domain, rec.Timestamp, string(body)); err != nil {
			return n, d.wrapDBError(err, "import insert failed")
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, d.wrapDBError(err, "failed to commit import")
	}
	return n, nil
}

// Health probes the database connection.
func (d *DuckDBBackend) Health(ctx context.Context) models.HealthStatus {
	if err := d.db.PingContext(ctx); err != nil {
		return models.HealthUnhealthy
	}
	return models.HealthHealthy
}

// Stats returns a snapshot of operational statistics.
func (d *DuckDBBackend) Stats() models.BackendStats {
	var count, size int64
	row := d.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(LENGTH(body)), 0) FROM records`)
	if err := row.Scan(&count, &size); err != nil {
		d.logger.Warn().Err(err).Msg("failed to read record stats")
	}
	return models.BackendStats{
		RecordCount:          count,
		TotalSize:            size,
		ActiveConnections:    d.active.Load(),
		SuccessfulOperations: d.success.Load(),
		FailedOperations:     d.failed.Load(),
		AverageResponseTime:  time.Duration(d.respEWMA.Load()),
	}
}

// Close closes the database.
func (d *DuckDBBackend) Close() error {
	return d.db.Close()
}

// Vacuum reclaims storage.
func (d *DuckDBBackend) Vacuum(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, `VACUUM`); err != nil {
		return errors.Wrap(err, errors.CodeMaintenanceFailed, "vacuum failed")
	}
	return nil
}

// Reindex rebuilds indexes for the named strategies. DuckDB maintains its
// own zone maps, so this reduces to a checkpoint after logging intent.
func (d *DuckDBBackend) Reindex(ctx context.Context, strategies []string) error {
	d.logger.Info().Strs("strategies", strategies).Msg("reindexing records table")
	if _, err := d.db.ExecContext(ctx, `CHECKPOINT`); err != nil {
		return errors.Wrap(err, errors.CodeMaintenanceFailed, "checkpoint failed")
	}
	return nil
}

// Backup exports the database to the given directory.
func (d *DuckDBBackend) Backup(ctx context.Context, path string) error {
	if path == "" {
		return errors.New(errors.CodeInvalidRequest, "backup path cannot be empty")
	}
	stmt := fmt.Sprintf(`EXPORT DATABASE '%s'`, strings.ReplaceAll(path, "'", "''"))
	if _, err := d.db.ExecContext(ctx, stmt); err != nil {
		return errors.Wrap(err, errors.CodeMaintenanceFailed, "export failed")
	}
	return nil
}

// fetch runs the SQL-pushable part of a query and applies field filters
// to the decoded bodies.
func (d *DuckDBBackend) fetch(ctx context.Context, params models.QueryParams) ([]models.Record, error) {
	var (
		where []string
		args  []interface{}
	)
	if params.Domain != "" {
		where = append(where, "domain = ?")
		args = append(args, params.Domain)
	}
	if tr := params.TimeRange; tr != nil {
		if !tr.From.IsZero() {
			where = append(where, "ts >= ?")
			args = append(args, tr.From)
		}
		if !tr.To.IsZero() {
			where = append(where, "ts <= ?")
			args = append(args, tr.To)
		}
	}

	query := `SELECT id, domain, ts, body FROM records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, d.wrapDBError(err, "query failed")
	}
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		var (
			rec  models.Record
			body string
		)
		if err := rows.Scan(&rec.ID, &rec.Domain, &rec.Timestamp, &body); err != nil {
			return nil, errors.Wrap(err, errors.CodeInternal, "failed to scan record row")
		}
		if err := json.Unmarshal([]byte(body), &rec.Fields); err != nil {
			return nil, errors.Wrap(err, errors.CodeInternal, "failed to decode record body")
		}
		if matchesFieldFilters(rec, params.Filters) {
			out = append(out, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, d.wrapDBError(err, "row iteration failed")
	}
	return out, nil
}

func matchesFieldFilters(rec models.Record, filters []models.FieldFilter) bool {
	for _, f := range filters {
		if !matchFilter(rec, f) {
			return false
		}
	}
	return true
}

func (d *DuckDBBackend) wrapDBError(err error, msg string) error {
	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return errors.Wrap(err, errors.CodeDeadlineExceeded, msg)
	case strings.Contains(errStr, "connection") || strings.Contains(errStr, "closed"):
		return errors.Wrap(err, errors.CodeBackendUnavailable, msg)
	default:
		return errors.Wrap(err, errors.CodeInternal, msg)
	}
}

// begin tracks an in-flight operation, mirroring the memory backend.
func (d *DuckDBBackend) begin() func() {
	d.active.Add(1)
	start := time.Now()
	return func() {
		d.active.Add(-1)
		elapsed := time.Since(start).Nanoseconds()
		prev := d.respEWMA.Load()
		d.respEWMA.Store(prev + (elapsed-prev)/8)
	}
}
