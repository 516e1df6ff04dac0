// Package postgres is the durable jobstore.Store backend, using pgxpool and
// the schema laid out in spec §6.6. Every mutating call runs inside a
// single transaction.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ingestctl/internal/fingerprint"
	"ingestctl/internal/ingesterr"
	"ingestctl/internal/jobstore"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

// Open creates a pool and bootstraps the jobs table/indexes if absent, in
// the teacher's best-effort CREATE TABLE IF NOT EXISTS idiom.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("jobstore/postgres: parsing dsn: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("jobstore/postgres: opening pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("jobstore/postgres: ping: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.bootstrap(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Durable() bool { return true }

func (s *Store) bootstrap(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	content_fingerprint BYTEA NOT NULL,
	ontology TEXT NOT NULL,
	input_ref JSONB NOT NULL,
	options_json JSONB NOT NULL,
	status TEXT NOT NULL,
	progress_json JSONB NOT NULL,
	cost_estimate_json JSONB,
	result_json JSONB,
	error_kind TEXT,
	error_message TEXT,
	cancellation_requested BOOLEAN NOT NULL DEFAULT FALSE,
	owner_principal TEXT NOT NULL DEFAULT '',
	worker_id TEXT NOT NULL DEFAULT '',
	lease_expires_at TIMESTAMPTZ,
	retry_count INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	approved_at TIMESTAMPTZ,
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	last_progress_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_jobs_status_approved_at ON jobs (status, approved_at);
CREATE INDEX IF NOT EXISTS idx_jobs_fingerprint_created_at ON jobs (content_fingerprint, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_jobs_owner_created_at ON jobs (owner_principal, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_jobs_status_lease ON jobs (status, lease_expires_at);
CREATE TABLE IF NOT EXISTS jobs_archive (LIKE jobs INCLUDING ALL);
`
	_, err := s.pool.Exec(ctx, ddl)
	if err != nil {
		return fmt.Errorf("jobstore/postgres: bootstrap: %w", err)
	}
	return nil
}

func (s *Store) FindByFingerprint(ctx context.Context, digest fingerprint.Digest) (string, string, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, status FROM jobs
WHERE content_fingerprint = $1
ORDER BY created_at DESC
LIMIT 1`, digest.Bytes())
	var id, status string
	if err := row.Scan(&id, &status); err != nil {
		if err == pgx.ErrNoRows {
			return "", "", false, nil
		}
		return "", "", false, fmt.Errorf("jobstore/postgres: find by fingerprint: %w", err)
	}
	return id, status, true, nil
}

func (s *Store) Create(ctx context.Context, job jobstore.Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Kind == "" {
		job.Kind = "ingestion"
	}
	status := jobstore.StatusQueued
	var costJSON []byte
	if job.CostEstimate != nil {
		status = jobstore.StatusAwaitingApproval
		var err error
		costJSON, err = json.Marshal(job.CostEstimate)
		if err != nil {
			return "", fmt.Errorf("jobstore/postgres: marshal cost estimate: %w", err)
		}
	}

	inputJSON, err := json.Marshal(job.Input)
	if err != nil {
		return "", fmt.Errorf("jobstore/postgres: marshal input: %w", err)
	}
	optsJSON, err := json.Marshal(job.Options)
	if err != nil {
		return "", fmt.Errorf("jobstore/postgres: marshal options: %w", err)
	}
	progressJSON, err := json.Marshal(jobstore.Progress{})
	if err != nil {
		return "", fmt.Errorf("jobstore/postgres: marshal progress: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO jobs (id, kind, content_fingerprint, ontology, input_ref, options_json, status,
	progress_json, cost_estimate_json, owner_principal, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())`,
		job.ID, job.Kind, job.ContentFingerprint.Bytes(), job.Ontology, inputJSON, optsJSON, status,
		progressJSON, costJSON, job.OwnerPrincipal)
	if err != nil {
		return "", fmt.Errorf("jobstore/postgres: insert job: %w", err)
	}
	return job.ID, nil
}

func (s *Store) Get(ctx context.Context, id string) (jobstore.Job, error) {
	return scanJob(s.pool.QueryRow(ctx, selectColumns+` FROM jobs WHERE id = $1`, id))
}

const selectColumns = `
SELECT id, kind, content_fingerprint, ontology, input_ref, options_json, status,
	progress_json, cost_estimate_json, result_json, error_kind, error_message,
	cancellation_requested, owner_principal, worker_id, lease_expires_at, retry_count,
	created_at, approved_at, started_at, completed_at, last_progress_at`

func scanJob(row pgx.Row) (jobstore.Job, error) {
	var (
		job                                                    jobstore.Job
		fp                                                     []byte
		inputJSON, optsJSON, progressJSON                      []byte
		costJSON, resultJSON                                   []byte
		errKind, errMessage                                    *string
		approvedAt, startedAt, completedAt, lastProgressAt     *time.Time
		leaseExpiresAt                                         *time.Time
	)
	err := row.Scan(&job.ID, &job.Kind, &fp, &job.Ontology, &inputJSON, &optsJSON, &job.Status,
		&progressJSON, &costJSON, &resultJSON, &errKind, &errMessage,
		&job.CancellationRequested, &job.OwnerPrincipal, &job.WorkerID, &leaseExpiresAt, &job.RetryCount,
		&job.Timestamps.CreatedAt, &approvedAt, &startedAt, &completedAt, &lastProgressAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return jobstore.Job{}, fmt.Errorf("jobstore/postgres: job not found")
		}
		return jobstore.Job{}, fmt.Errorf("jobstore/postgres: scan job: %w", err)
	}

	if d, convErr := fingerprint.FromBytes(fp); convErr == nil {
		job.ContentFingerprint = d
	}
	_ = json.Unmarshal(inputJSON, &job.Input)
	_ = json.Unmarshal(optsJSON, &job.Options)
	_ = json.Unmarshal(progressJSON, &job.Progress)
	if len(costJSON) > 0 {
		var ce jobstore.CostEstimate
		if json.Unmarshal(costJSON, &ce) == nil {
			job.CostEstimate = &ce
		}
	}
	if len(resultJSON) > 0 {
		var r jobstore.Result
		if json.Unmarshal(resultJSON, &r) == nil {
			job.Result = &r
		}
	}
	if errKind != nil {
		job.Error = &jobstore.JobError{Kind: *errKind, Message: deref(errMessage)}
	}
	if approvedAt != nil {
		job.Timestamps.ApprovedAt = *approvedAt
	}
	if startedAt != nil {
		job.Timestamps.StartedAt = *startedAt
	}
	if completedAt != nil {
		job.Timestamps.CompletedAt = *completedAt
	}
	if lastProgressAt != nil {
		job.Timestamps.LastProgressAt = *lastProgressAt
	}
	if leaseExpiresAt != nil {
		job.LeaseExpiresAt = *leaseExpiresAt
	}
	return job, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (s *Store) List(ctx context.Context, filters jobstore.ListFilters) ([]jobstore.Job, error) {
	query := selectColumns + ` FROM jobs WHERE 1=1`
	var args []any
	n := 0
	add := func(clause string, v any) {
		n++
		query += fmt.Sprintf(" AND %s $%d", clause, n)
		args = append(args, v)
	}
	if filters.Status != "" {
		add("status =", filters.Status)
	}
	if filters.OwnerPrincipal != "" {
		add("owner_principal =", filters.OwnerPrincipal)
	}
	if !filters.CreatedAfter.IsZero() {
		add("created_at >=", filters.CreatedAfter)
	}
	if !filters.CreatedBefore.IsZero() {
		add("created_at <=", filters.CreatedBefore)
	}
	query += " ORDER BY created_at DESC"
	if filters.Limit > 0 {
		n++
		query += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, filters.Limit)
	}
	if filters.Offset > 0 {
		n++
		query += fmt.Sprintf(" OFFSET $%d", n)
		args = append(args, filters.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("jobstore/postgres: list: %w", err)
	}
	defer rows.Close()

	var out []jobstore.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *Store) UpdateStatus(ctx context.Context, id string, fromSet []jobstore.Status, to jobstore.Status, reason string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var current jobstore.Status
		if err := tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&current); err != nil {
			return fmt.Errorf("jobstore/postgres: update status: %w", err)
		}
		if !containsStatus(fromSet, current) {
			return ingesterr.StaleState("job %s is %s, not one of %v: %s", id, current, fromSet, reason)
		}
		if !jobstore.ValidTransition(current, to) {
			return ingesterr.StaleState("job %s: %s -> %s is not a valid transition", id, current, to)
		}

		set := "status = $1"
		args := []any{to}
		n := 1
		switch to {
		case jobstore.StatusApproved:
			n++
			set += fmt.Sprintf(", approved_at = now()")
		case jobstore.StatusProcessing:
			set += ", started_at = now()"
		case jobstore.StatusCompleted, jobstore.StatusFailed, jobstore.StatusCancelled, jobstore.StatusExpired:
			set += ", completed_at = now()"
		}
		n++
		query := fmt.Sprintf("UPDATE jobs SET %s WHERE id = $%d", set, n)
		args = append(args, id)
		_, err := tx.Exec(ctx, query, args...)
		return err
	})
}

func (s *Store) UpdateProgress(ctx context.Context, id string, progress jobstore.Progress) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var currentProcessed int
		var currentJSON []byte
		if err := tx.QueryRow(ctx, `SELECT progress_json FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&currentJSON); err != nil {
			return fmt.Errorf("jobstore/postgres: update progress: %w", err)
		}
		var current jobstore.Progress
		_ = json.Unmarshal(currentJSON, &current)
		currentProcessed = current.ChunksProcessed
		if progress.ChunksProcessed < currentProcessed {
			return fmt.Errorf("jobstore/postgres: progress regression for job %s (%d < %d)", id, progress.ChunksProcessed, currentProcessed)
		}
		b, err := json.Marshal(progress)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE jobs SET progress_json = $1, last_progress_at = now() WHERE id = $2`, b, id)
		return err
	})
}

func (s *Store) SetCostEstimate(ctx context.Context, id string, estimate jobstore.CostEstimate) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var status jobstore.Status
		if err := tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&status); err != nil {
			return fmt.Errorf("jobstore/postgres: set cost estimate: %w", err)
		}
		if status != jobstore.StatusQueued && status != jobstore.StatusAwaitingApproval {
			return ingesterr.StaleState("job %s: cost estimate only valid in queued/awaiting_approval, is %s", id, status)
		}
		b, err := json.Marshal(estimate)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE jobs SET cost_estimate_json = $1 WHERE id = $2`, b, id)
		return err
	})
}

func (s *Store) SetResult(ctx context.Context, id string, result jobstore.Result) error {
	b, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `UPDATE jobs SET result_json = $1 WHERE id = $2`, b, id)
	return err
}

func (s *Store) SetError(ctx context.Context, id string, kind, message string) error {
	_, err := s.pool.Exec(ctx, `UPDATE jobs SET error_kind = $1, error_message = $2 WHERE id = $3`, kind, message, id)
	return err
}

func (s *Store) RequestCancellation(ctx context.Context, id string) (jobstore.Status, error) {
	var status jobstore.Status
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&status); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE jobs SET cancellation_requested = TRUE WHERE id = $1`, id)
		return err
	})
	return status, err
}

// ClaimNext implements the race-free worker-assignment contract of §4.B
// using SELECT ... FOR UPDATE SKIP LOCKED: concurrent callers never select
// the same row (P5).
func (s *Store) ClaimNext(ctx context.Context, workerID string, leaseDuration time.Duration) (jobstore.Job, bool, error) {
	var job jobstore.Job
	found := false
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
SELECT id FROM jobs
WHERE status = $1
ORDER BY approved_at ASC NULLS LAST
FOR UPDATE SKIP LOCKED
LIMIT 1`, jobstore.StatusApproved)
		var id string
		if err := row.Scan(&id); err != nil {
			if err == pgx.ErrNoRows {
				return nil
			}
			return err
		}
		_, err := tx.Exec(ctx, `
UPDATE jobs SET status = $1, worker_id = $2, started_at = now(), lease_expires_at = now() + $3
WHERE id = $4`, jobstore.StatusProcessing, workerID, leaseDuration, id)
		if err != nil {
			return err
		}
		row2 := tx.QueryRow(ctx, selectColumns+` FROM jobs WHERE id = $1`, id)
		j, err := scanJob(row2)
		if err != nil {
			return err
		}
		job = j
		found = true
		return nil
	})
	return job, found, err
}

func (s *Store) RenewLease(ctx context.Context, id, workerID string, leaseDuration time.Duration) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE jobs SET lease_expires_at = now() + $1
WHERE id = $2 AND worker_id = $3 AND status = $4`,
		leaseDuration, id, workerID, jobstore.StatusProcessing)
	if err != nil {
		return fmt.Errorf("jobstore/postgres: renew lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("jobstore/postgres: job %s is not owned by worker %s", id, workerID)
	}
	return nil
}

func (s *Store) ReapExpiredLeases(ctx context.Context, now time.Time, maxRetries int) (int, int, error) {
	var reclaimed, lost int
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
SELECT id, retry_count FROM jobs
WHERE status = $1 AND lease_expires_at IS NOT NULL AND lease_expires_at <= $2
FOR UPDATE SKIP LOCKED`, jobstore.StatusProcessing, now)
		if err != nil {
			return err
		}
		type row struct {
			id    string
			retry int
		}
		var expired []row
		for rows.Next() {
			var r row
			if err := rows.Scan(&r.id, &r.retry); err != nil {
				rows.Close()
				return err
			}
			expired = append(expired, r)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, r := range expired {
			if r.retry >= maxRetries {
				_, err = tx.Exec(ctx, `
UPDATE jobs SET status = $1, error_kind = 'WorkerLost', error_message = 'lease expired beyond retry budget', completed_at = now()
WHERE id = $2`, jobstore.StatusFailed, r.id)
				lost++
			} else {
				_, err = tx.Exec(ctx, `
UPDATE jobs SET status = $1, retry_count = retry_count + 1, worker_id = ''
WHERE id = $2`, jobstore.StatusApproved, r.id)
				reclaimed++
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	return reclaimed, lost, err
}

func (s *Store) Archive(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	var n int
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
INSERT INTO jobs_archive
SELECT * FROM jobs
WHERE status IN ($1, $2, $3, $4) AND completed_at IS NOT NULL AND completed_at < $5`,
			jobstore.StatusCompleted, jobstore.StatusFailed, jobstore.StatusCancelled, jobstore.StatusExpired, cutoff)
		if err != nil {
			return err
		}
		n = int(tag.RowsAffected())
		_, err = tx.Exec(ctx, `
DELETE FROM jobs
WHERE status IN ($1, $2, $3, $4) AND completed_at IS NOT NULL AND completed_at < $5`,
			jobstore.StatusCompleted, jobstore.StatusFailed, jobstore.StatusCancelled, jobstore.StatusExpired, cutoff)
		return err
	})
	return n, err
}

func containsStatus(set []jobstore.Status, s jobstore.Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
