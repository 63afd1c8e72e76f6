package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/nomadcafe/kekiai-japaneseai/internal/apperr"
	"github.com/nomadcafe/kekiai-japaneseai/internal/models"
)

const jobsTable = "jobs"

var jobColumns = []string{
	"job_id", "status", "status_code", "progress", "error_code", "result_url",
	"artifact_uri", "original_filename", "file_hash", "slide_count",
	"target_duration", "estimated_duration", "created_at", "updated_at",
}

const schema = `CREATE TABLE IF NOT EXISTS jobs (
	job_id             TEXT PRIMARY KEY,
	status             TEXT NOT NULL,
	status_code        TEXT NOT NULL,
	progress           INTEGER NOT NULL DEFAULT 0,
	error_code         TEXT NOT NULL DEFAULT '',
	result_url         TEXT NOT NULL DEFAULT '',
	artifact_uri       TEXT NOT NULL DEFAULT '',
	original_filename  TEXT NOT NULL DEFAULT '',
	file_hash          TEXT NOT NULL DEFAULT '',
	slide_count        INTEGER NOT NULL DEFAULT 0,
	target_duration    INTEGER NOT NULL DEFAULT 0,
	estimated_duration DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS jobs_file_hash_idx ON jobs (file_hash);`

const pqUniqueViolation = "23505"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Postgres persists jobs into a single table.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the jobs table when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func insertQuery(job models.Job) (string, []any, error) {
	return psql.Insert(jobsTable).Columns(jobColumns...).Values(
		job.JobID, job.Status, job.StatusCode, job.Progress, job.ErrorCode, job.ResultURL,
		job.ArtifactURI, job.OriginalFilename, job.FileHash, job.SlideCount,
		job.TargetDuration, job.EstimatedDuration, job.CreatedAt, job.UpdatedAt,
	).ToSql()
}

// updateQuery builds an UPDATE touching only the patch's fields plus
// updated_at, returning the full row.
func updateQuery(id string, patch models.JobPatch, now time.Time) (string, []any, error) {
	q := psql.Update(jobsTable)
	if patch.Status != nil {
		q = q.Set("status", *patch.Status)
	}
	if patch.StatusCode != nil {
		q = q.Set("status_code", *patch.StatusCode)
	}
	if patch.Progress != nil {
		q = q.Set("progress", *patch.Progress)
	}
	switch {
	case patch.ErrorCode != nil:
		q = q.Set("error_code", *patch.ErrorCode)
	case patch.ClearError:
		q = q.Set("error_code", "")
	}
	if patch.ResultURL != nil {
		q = q.Set("result_url", *patch.ResultURL)
	}
	if patch.ArtifactURI != nil {
		q = q.Set("artifact_uri", *patch.ArtifactURI)
	}
	if patch.SlideCount != nil {
		q = q.Set("slide_count", *patch.SlideCount)
	}
	if patch.TargetDuration != nil {
		q = q.Set("target_duration", *patch.TargetDuration)
	}
	if patch.EstimatedDuration != nil {
		q = q.Set("estimated_duration", *patch.EstimatedDuration)
	}
	return q.Set("updated_at", now).
		Where(sq.Eq{"job_id": id}).
		Suffix("RETURNING " + columnList()).
		ToSql()
}

func columnList() string {
	return strings.Join(jobColumns, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (models.Job, error) {
	var j models.Job
	err := row.Scan(
		&j.JobID, &j.Status, &j.StatusCode, &j.Progress, &j.ErrorCode, &j.ResultURL,
		&j.ArtifactURI, &j.OriginalFilename, &j.FileHash, &j.SlideCount,
		&j.TargetDuration, &j.EstimatedDuration, &j.CreatedAt, &j.UpdatedAt,
	)
	return j, err
}

func (p *Postgres) Create(ctx context.Context, job models.Job) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	query, args, err := insertQuery(job)
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return apperr.Newf(apperr.Conflict, "job %s already exists", job.JobID)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id string) (models.Job, error) {
	query, args, err := psql.Select(jobColumns...).From(jobsTable).Where(sq.Eq{"job_id": id}).ToSql()
	if err != nil {
		return models.Job{}, fmt.Errorf("build select: %w", err)
	}
	job, err := scanJob(p.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Job{}, notFound(id)
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

func (p *Postgres) Update(ctx context.Context, id string, patch models.JobPatch) (models.Job, error) {
	query, args, err := updateQuery(id, patch, time.Now().UTC())
	if err != nil {
		return models.Job{}, fmt.Errorf("build update: %w", err)
	}
	job, err := scanJob(p.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Job{}, notFound(id)
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("update job: %w", err)
	}
	return job, nil
}

func (p *Postgres) List(ctx context.Context) ([]models.Job, error) {
	query, args, err := psql.Select(jobColumns...).From(jobsTable).OrderBy("created_at DESC", "job_id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}
	return p.queryJobs(ctx, query, args)
}

func (p *Postgres) queryJobs(ctx context.Context, query string, args []any) ([]models.Job, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}
	return jobs, nil
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	query, args, err := psql.Delete(jobsTable).Where(sq.Eq{"job_id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound(id)
	}
	return nil
}

func (p *Postgres) FindByHash(ctx context.Context, hash string) (models.Job, bool, error) {
	query, args, err := psql.Select(jobColumns...).From(jobsTable).
		Where(sq.Eq{"file_hash": hash}).
		OrderBy("created_at").
		Limit(1).
		ToSql()
	if err != nil {
		return models.Job{}, false, fmt.Errorf("build hash lookup: %w", err)
	}
	jobs, err := p.queryJobs(ctx, query, args)
	if err != nil || len(jobs) == 0 {
		return models.Job{}, false, err
	}
	return jobs[0], true, nil
}

func (p *Postgres) Close() error { return p.db.Close() }
