package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/knowledgecore/pipeline/pkg/domain"
)

// CreateJob inserts a processing job row. A conflict on the partial unique
// index over (parent_job_id, stage) means a sibling child for that stage
// already exists; the existing row is returned with created=false so the
// coordinator's "at most one child per (parent, stage)" contract holds
// across retries and concurrent extraction handlers.
func (p *Postgres) CreateJob(ctx context.Context, job domain.ProcessingJob) (domain.ProcessingJob, bool, error) {
	metadata, err := json.Marshal(job.Metadata)
	if err != nil {
		return domain.ProcessingJob{}, false, fmt.Errorf("marshal job metadata: %w", err)
	}

	var stage any
	if job.Stage != "" {
		stage = string(job.Stage)
	}
	var parentID any
	if job.ParentJobID != "" {
		parentID = job.ParentJobID
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO processing_jobs (id, job_type, parent_job_id, stage, text, metadata, status, progress, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,0,now(),now())
		ON CONFLICT (parent_job_id, stage) WHERE parent_job_id IS NOT NULL AND stage IS NOT NULL DO NOTHING
	`, job.ID, string(job.JobType), parentID, stage, job.Text, metadata, string(job.Status))
	if err != nil {
		return domain.ProcessingJob{}, false, fmt.Errorf("insert job: %w", err)
	}

	if job.Stage != "" && job.ParentJobID != "" {
		existing, ok, err := p.GetJobByStage(ctx, job.ParentJobID, job.Stage)
		if err != nil {
			return domain.ProcessingJob{}, false, err
		}
		if ok && existing.ID != job.ID {
			return existing, false, nil
		}
	}

	stored, ok, err := p.GetJob(ctx, job.ID)
	if err != nil {
		return domain.ProcessingJob{}, false, err
	}
	if !ok {
		return domain.ProcessingJob{}, false, fmt.Errorf("job %s not found immediately after insert", job.ID)
	}
	return stored, true, nil
}

const jobSelectColumns = `SELECT id, job_type, parent_job_id, stage, text, metadata, status, progress, metrics, result, error_message, created_at, started_at, completed_at, updated_at`

func (p *Postgres) GetJob(ctx context.Context, id string) (domain.ProcessingJob, bool, error) {
	row := p.pool.QueryRow(ctx, jobSelectColumns+` FROM processing_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ProcessingJob{}, false, nil
		}
		return domain.ProcessingJob{}, false, fmt.Errorf("get job: %w", err)
	}
	return job, true, nil
}

func (p *Postgres) GetJobByStage(ctx context.Context, parentJobID string, stage domain.JobStage) (domain.ProcessingJob, bool, error) {
	row := p.pool.QueryRow(ctx, jobSelectColumns+` FROM processing_jobs WHERE parent_job_id = $1 AND stage = $2`, parentJobID, string(stage))
	job, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ProcessingJob{}, false, nil
		}
		return domain.ProcessingJob{}, false, fmt.Errorf("get job by stage: %w", err)
	}
	return job, true, nil
}

func (p *Postgres) GetChildren(ctx context.Context, parentJobID string) ([]domain.ProcessingJob, error) {
	rows, err := p.pool.Query(ctx, jobSelectColumns+` FROM processing_jobs WHERE parent_job_id = $1`, parentJobID)
	if err != nil {
		return nil, fmt.Errorf("get children: %w", err)
	}
	defer rows.Close()

	var out []domain.ProcessingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan child job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// UpdateProgress clamps progress to [0,100], transitions status to
// PROCESSING on first update and COMPLETED at 100, and stores startedAt /
// completedAt accordingly.
func (p *Postgres) UpdateProgress(ctx context.Context, id string, progress int, metrics *domain.ExtractionStats) (domain.ProcessingJob, error) {
	progress = domain.ClampProgress(progress)

	var metricsJSON []byte
	if metrics != nil {
		var err error
		metricsJSON, err = json.Marshal(metrics)
		if err != nil {
			return domain.ProcessingJob{}, fmt.Errorf("marshal job metrics: %w", err)
		}
	}

	_, err := p.pool.Exec(ctx, `
		UPDATE processing_jobs SET
			progress = $2,
			metrics = COALESCE($3, metrics),
			status = CASE
				WHEN $2 >= 100 THEN 'COMPLETED'
				WHEN status = 'QUEUED' THEN 'PROCESSING'
				ELSE status
			END,
			started_at = CASE WHEN started_at IS NULL THEN now() ELSE started_at END,
			completed_at = CASE WHEN $2 >= 100 THEN now() ELSE completed_at END,
			updated_at = now()
		WHERE id = $1
	`, id, progress, nullableJSON(metricsJSON))
	if err != nil {
		return domain.ProcessingJob{}, fmt.Errorf("update job progress: %w", err)
	}

	job, ok, err := p.GetJob(ctx, id)
	if err != nil {
		return domain.ProcessingJob{}, err
	}
	if !ok {
		return domain.ProcessingJob{}, fmt.Errorf("job %s not found after progress update", id)
	}
	return job, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// CompleteJob records the handler's success result and forces progress to
// 100 / status COMPLETED.
func (p *Postgres) CompleteJob(ctx context.Context, id string, result domain.JobResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal job result: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		UPDATE processing_jobs SET
			status = 'COMPLETED', progress = 100, result = $2,
			completed_at = now(), updated_at = now()
		WHERE id = $1
	`, id, resultJSON)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// FailJob marks a job FAILED with an explanatory message. The parent job
// is left untouched; it only completes once every child is terminal.
func (p *Postgres) FailJob(ctx context.Context, id string, message string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE processing_jobs SET
			status = 'FAILED', error_message = $2, completed_at = now(), updated_at = now()
		WHERE id = $1
	`, id, message)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

// FindStaleProcessingJobs returns jobs stuck in PROCESSING whose updated_at
// (the heartbeat proxy) predates olderThan — candidates for orphan recovery.
func (p *Postgres) FindStaleProcessingJobs(ctx context.Context, olderThan time.Time) ([]domain.ProcessingJob, error) {
	rows, err := p.pool.Query(ctx, jobSelectColumns+` FROM processing_jobs WHERE status = 'PROCESSING' AND updated_at < $1`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("find stale processing jobs: %w", err)
	}
	defer rows.Close()

	var out []domain.ProcessingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.ProcessingJob, error) {
	var job domain.ProcessingJob
	var jobType, status string
	var stage, parentID, errorMessage *string
	var metadataJSON, metricsJSON, resultJSON []byte

	if err := row.Scan(&job.ID, &jobType, &parentID, &stage, &job.Text, &metadataJSON, &status, &job.Progress,
		&metricsJSON, &resultJSON, &errorMessage, &job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.UpdatedAt); err != nil {
		return domain.ProcessingJob{}, err
	}
	if errorMessage != nil {
		job.ErrorMessage = *errorMessage
	}

	job.JobType = domain.JobType(jobType)
	job.Status = domain.JobStatus(status)
	if stage != nil {
		job.Stage = domain.JobStage(*stage)
	}
	if parentID != nil {
		job.ParentJobID = *parentID
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &job.Metadata); err != nil {
			return domain.ProcessingJob{}, fmt.Errorf("unmarshal job metadata: %w", err)
		}
	}
	if len(metricsJSON) > 0 {
		job.Metrics = &domain.ExtractionStats{}
		if err := json.Unmarshal(metricsJSON, job.Metrics); err != nil {
			return domain.ProcessingJob{}, fmt.Errorf("unmarshal job metrics: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		job.Result = &domain.JobResult{}
		if err := json.Unmarshal(resultJSON, job.Result); err != nil {
			return domain.ProcessingJob{}, fmt.Errorf("unmarshal job result: %w", err)
		}
	}
	return job, nil
}
