package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Run lifecycle statuses.
const (
	RunStatusPending   = "pending"
	RunStatusExecuting = "executing"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run is one compliance run's lifecycle row. Aggregate counts live here;
// full findings are only kept in the TTL-bound summary cache.
type Run struct {
	ID            uuid.UUID
	TenantID      string
	RequestedBy   string
	Checks        []string
	Status        string
	Compliant     int32
	NonCompliant  int32
	NotApplicable int32
	FailedChecks  int32
	ErrorMessage  string
	CreatedAt     time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
}

// RunStore runs the queries for the runs table.
type RunStore struct {
	pool *pgxpool.Pool
}

func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

// CreateRunParams describe a new pending run.
type CreateRunParams struct {
	ID          uuid.UUID
	TenantID    string
	RequestedBy string
	Checks      []string
}

const runColumns = `id, tenant_id, requested_by, checks, status,
	compliant, non_compliant, not_applicable, failed_checks,
	error_message, created_at, started_at, finished_at`

func scanRun(row pgx.Row) (Run, error) {
	var r Run
	err := row.Scan(
		&r.ID, &r.TenantID, &r.RequestedBy, &r.Checks, &r.Status,
		&r.Compliant, &r.NonCompliant, &r.NotApplicable, &r.FailedChecks,
		&r.ErrorMessage, &r.CreatedAt, &r.StartedAt, &r.FinishedAt,
	)
	return r, err
}

// CreateRun inserts a pending run and returns the stored row.
func (s *RunStore) CreateRun(ctx context.Context, p CreateRunParams) (Run, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO runs (id, tenant_id, requested_by, checks, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+runColumns,
		p.ID, p.TenantID, p.RequestedBy, p.Checks, RunStatusPending,
	)
	return scanRun(row)
}

// MarkExecuting transitions a pending run to executing and stamps its start.
func (s *RunStore) MarkExecuting(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE runs
		SET status = $2, started_at = now()
		WHERE id = $1`,
		id, RunStatusExecuting,
	)
	return err
}

// CompleteRunParams carry a finished run's aggregate counts.
type CompleteRunParams struct {
	ID            uuid.UUID
	Compliant     int32
	NonCompliant  int32
	NotApplicable int32
	FailedChecks  int32
}

// CompleteRun records the aggregates and closes the run.
func (s *RunStore) CompleteRun(ctx context.Context, p CompleteRunParams) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE runs
		SET status = $2,
		    compliant = $3,
		    non_compliant = $4,
		    not_applicable = $5,
		    failed_checks = $6,
		    finished_at = now()
		WHERE id = $1`,
		p.ID, RunStatusCompleted, p.Compliant, p.NonCompliant, p.NotApplicable, p.FailedChecks,
	)
	return err
}

// FailRun closes the run with an error message.
func (s *RunStore) FailRun(ctx context.Context, id uuid.UUID, message string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE runs
		SET status = $2, error_message = $3, finished_at = now()
		WHERE id = $1`,
		id, RunStatusFailed, message,
	)
	return err
}

// GetRun fetches one run. Returns pgx.ErrNoRows when it does not exist.
func (s *RunStore) GetRun(ctx context.Context, id uuid.UUID) (Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	return scanRun(row)
}

// ListRunsByRequester returns the requester's most recent runs.
func (s *RunStore) ListRunsByRequester(ctx context.Context, requestedBy string, limit int32) ([]Run, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE requested_by = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		requestedBy, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// DeleteRunsBefore drops closed runs created before cutoff and reports how
// many went. Pending and executing runs are never touched.
func (s *RunStore) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM runs
		WHERE created_at < $1 AND status IN ($2, $3)`,
		cutoff, RunStatusCompleted, RunStatusFailed,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
