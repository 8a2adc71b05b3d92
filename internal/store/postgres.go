package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"referral-fee-bot/internal/models"
)

// Store wraps pgxpool for Postgres persistence of jobs and audit logs.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const jobColumns = `id, matter_id, participant_id, assignee_name, percentage, status, error_message, attempts, max_attempts, created_at, started_at, completed_at`

// CreateJobParams collects inputs required to insert a job.
type CreateJobParams struct {
	MatterID      string
	ParticipantID string
	AssigneeName  string
	Percentage    float64
	MaxAttempts   int
}

// CreateJob inserts a pending job row and returns it with its assigned id.
func (s *Store) CreateJob(ctx context.Context, p CreateJobParams) (models.Job, error) {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 3
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (matter_id, participant_id, assignee_name, percentage, status, attempts, max_attempts)
		VALUES ($1, $2, $3, $4, $5, 0, $6)
		RETURNING `+jobColumns+`
	`, p.MatterID, p.ParticipantID, p.AssigneeName, p.Percentage, models.StatusPending, p.MaxAttempts)

	job, err := scanJob(row)
	if err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// ClaimNextPending atomically claims the oldest pending job by flipping it to
// processing and stamping started_at. Creation order is the claim order, with
// id as the tie-break. Returns ok=false when nothing is pending.
func (s *Store) ClaimNextPending(ctx context.Context) (models.Job, bool, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs SET status = $1, started_at = NOW()
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = $2
			ORDER BY created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns+`
	`, models.StatusProcessing, models.StatusPending)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, false, nil
	}
	if err != nil {
		return models.Job{}, false, fmt.Errorf("claim pending job: %w", err)
	}
	return job, true, nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id int64) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, fmt.Errorf("job %d not found: %w", id, err)
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns the most recent jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]models.Job, 0, limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MarkCompleted transitions a job to its terminal completed state.
func (s *Store) MarkCompleted(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, error_message = NULL, completed_at = NOW()
		WHERE id = $1
	`, id, models.StatusCompleted)
	return err
}

// RequeueForRetry reverts a failed attempt to pending so the next poll cycle
// picks it up again. The poll interval is the only backoff.
func (s *Store) RequeueForRetry(ctx context.Context, id int64, attempts int, errMsg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, attempts = $3, error_message = $4
		WHERE id = $1
	`, id, models.StatusPending, attempts, errMsg)
	return err
}

// MarkFailed transitions a job to its terminal failed state after the retry
// budget is exhausted.
func (s *Store) MarkFailed(ctx context.Context, id int64, attempts int, errMsg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, attempts = $3, error_message = $4, completed_at = NOW()
		WHERE id = $1
	`, id, models.StatusFailed, attempts, errMsg)
	return err
}

// PendingCount returns how many jobs are waiting to be claimed.
func (s *Store) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs WHERE status = $1`, models.StatusPending).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending jobs: %w", err)
	}
	return n, nil
}

// AppendLog writes an audit row. Log rows are never updated or deleted.
func (s *Store) AppendLog(ctx context.Context, e models.LogEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO automation_logs (job_id, matter_id, action, status, message, error_detail, origin)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.JobID, e.MatterID, e.Action, e.Status, e.Message, e.ErrorDetail, e.Origin)
	return err
}

// ListLogs returns the most recent audit rows, newest first.
func (s *Store) ListLogs(ctx context.Context, limit int) ([]models.LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, matter_id, action, status, message, error_detail, origin, created_at
		FROM automation_logs ORDER BY created_at DESC, id DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	entries := make([]models.LogEntry, 0, limit)
	for rows.Next() {
		var e models.LogEntry
		var jobID pgtype.Int8
		var detail pgtype.Text
		if err := rows.Scan(&e.ID, &jobID, &e.MatterID, &e.Action, &e.Status, &e.Message, &detail, &e.Origin, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		if jobID.Valid {
			v := jobID.Int64
			e.JobID = &v
		}
		e.ErrorDetail = textPtr(detail)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanJob(row pgx.Row) (models.Job, error) {
	var job models.Job
	var errMsg pgtype.Text
	var started, completed pgtype.Timestamptz
	if err := row.Scan(
		&job.ID, &job.MatterID, &job.ParticipantID, &job.AssigneeName, &job.Percentage,
		&job.Status, &errMsg, &job.Attempts, &job.MaxAttempts,
		&job.CreatedAt, &started, &completed,
	); err != nil {
		return models.Job{}, err
	}
	job.ErrorMessage = textPtr(errMsg)
	job.StartedAt = timePtr(started)
	job.CompletedAt = timePtr(completed)
	return job, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		v := t.Time
		return &v
	}
	return nil
}
