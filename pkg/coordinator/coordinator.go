// Package coordinator implements the Pipeline Coordinator: parent/child
// job creation, progress tracking, and at-most-once scheduling of the
// concepts and deduplication stages that follow extraction (spec §4.1).
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/knowledgecore/pipeline/pkg/config"
	"github.com/knowledgecore/pipeline/pkg/domain"
	"github.com/knowledgecore/pipeline/pkg/pipelineerr"
	"github.com/knowledgecore/pipeline/pkg/store"
	"github.com/knowledgecore/pipeline/pkg/taskqueue"
)

// InitiateArgs are the fields a pipeline is started with.
type InitiateArgs struct {
	Text       string
	Source     string
	SourceType string
	SourceDate *time.Time
}

// StageSnapshot is a point-in-time view of one child job for status
// reporting.
type StageSnapshot struct {
	Stage    domain.JobStage
	Status   domain.JobStatus
	Progress int
	Error    string
}

// PipelineStatus is the coordinator's answer to getPipelineStatus.
type PipelineStatus struct {
	ParentID   string
	Status     domain.JobStatus
	Stages     []StageSnapshot
	IsComplete bool
}

// JobEndpointURL is the worker endpoint the coordinator enqueues job ids
// against. It is a constant rather than configuration because the
// transport (out of scope for CORE) owns the route; the task queue
// contract only needs a stable string to carry through to the worker.
const JobEndpointURL = "/internal/jobs/dispatch"

// Coordinator creates and tracks processing jobs and schedules downstream
// stages. It holds no in-process state of its own beyond its dependencies
// (spec §9: avoid singleton caches, take an explicit capability record).
type Coordinator struct {
	store store.JobStore
	queue taskqueue.Queue
	dedup config.DedupConfig
	log   *slog.Logger
}

// New builds a Coordinator.
func New(jobs store.JobStore, queue taskqueue.Queue, dedup config.DedupConfig) *Coordinator {
	return &Coordinator{store: jobs, queue: queue, dedup: dedup, log: slog.With("component", "coordinator")}
}

// InitiatePipeline creates a parent job (PROCESSING) and its extraction
// child (QUEUED), then enqueues the child with no delay. If the task queue
// is unavailable, the rows are still created and the parent id is still
// returned: the job is observable but will not run until a queue is
// restored (spec §4.1, documented behavior).
func (c *Coordinator) InitiatePipeline(ctx context.Context, args InitiateArgs) (string, error) {
	parentID := uuid.NewString()
	now := time.Now()

	parent := domain.ProcessingJob{
		ID:      parentID,
		JobType: domain.JobTypeProcessKnowledge,
		Text:    args.Text,
		Metadata: domain.JobMetadata{
			Source:     args.Source,
			SourceType: args.SourceType,
			SourceDate: args.SourceDate,
		},
		Status:    domain.JobStatusProcessing,
		StartedAt: &now,
	}
	if _, _, err := c.store.CreateJob(ctx, parent); err != nil {
		return "", pipelineerr.Wrap(pipelineerr.OpPipelineInitiation, "create parent job", err)
	}

	child := domain.ProcessingJob{
		ID:          uuid.NewString(),
		JobType:     domain.JobTypeExtractKnowledgeBatch,
		ParentJobID: parentID,
		Stage:       domain.StageExtraction,
		Text:        args.Text,
		Metadata: domain.JobMetadata{
			Source:     args.Source,
			SourceType: args.SourceType,
			SourceDate: args.SourceDate,
		},
		Status: domain.JobStatusQueued,
	}
	created, _, err := c.store.CreateJob(ctx, child)
	if err != nil {
		return "", pipelineerr.Wrap(pipelineerr.OpPipelineInitiation, "create extraction child job", err)
	}

	if c.queue != nil {
		if err := c.queue.PublishJSON(ctx, taskqueue.PublishArgs{URL: JobEndpointURL, JobID: created.ID}); err != nil {
			c.log.Warn("failed to enqueue extraction job; job remains QUEUED until a queue is restored",
				"parent_id", parentID, "job_id", created.ID, "error", err)
		}
	}

	return parentID, nil
}

// concept and dedup delay bounds, per spec §4.1.
const (
	conceptDelayMin     = 6 * time.Second
	conceptDelayMax     = 60 * time.Second
	conceptDelayFactor  = 0.1
	dedupDelayMin       = 12 * time.Second
	dedupDelayMax       = 120 * time.Second
	dedupDelayFactor    = 0.2
)

func clampDuration(d, lo, hi time.Duration) time.Duration {
	return time.Duration(math.Max(float64(lo), math.Min(float64(hi), float64(d))))
}

// SchedulePostProcessing is called by the extraction handler exactly once
// on success. It atomically creates the CONCEPTS child and, only if
// semantic dedup is enabled, the DEDUPLICATION child, enqueuing each with a
// computed delay. The (parent_job_id, stage) uniqueness constraint on
// CreateJob protects against double-scheduling if this is ever called
// more than once for the same parent.
func (c *Coordinator) SchedulePostProcessing(ctx context.Context, parentID string, metrics *domain.ExtractionStats) error {
	parent, ok, err := c.store.GetJob(ctx, parentID)
	if err != nil {
		return pipelineerr.Wrap(pipelineerr.OpPipelineInitiation, "load parent job", err)
	}
	if !ok {
		return pipelineerr.New(pipelineerr.OpPipelineInitiation, fmt.Sprintf("parent job %s not found", parentID))
	}

	processingTime := time.Duration(0)
	if metrics != nil {
		processingTime = time.Duration(metrics.ProcessingTimeMS) * time.Millisecond
	}
	conceptDelay := clampDuration(time.Duration(float64(processingTime)*conceptDelayFactor), conceptDelayMin, conceptDelayMax)

	if err := c.scheduleChild(ctx, parent, domain.StageConcepts, domain.JobTypeGenerateConcepts, conceptDelay, metrics); err != nil {
		return err
	}

	if !c.dedup.SemanticEnabled {
		return nil
	}

	dedupDelay := clampDuration(time.Duration(float64(processingTime)*dedupDelayFactor), dedupDelayMin, dedupDelayMax)

	return c.scheduleChild(ctx, parent, domain.StageDeduplication, domain.JobTypeDeduplicateKnowledge, dedupDelay, metrics)
}

func (c *Coordinator) scheduleChild(ctx context.Context, parent domain.ProcessingJob, stage domain.JobStage, jobType domain.JobType, delay time.Duration, metrics *domain.ExtractionStats) error {
	metadata := parent.Metadata
	metadata.ExtractionStats = metrics

	child := domain.ProcessingJob{
		ID:          uuid.NewString(),
		JobType:     jobType,
		ParentJobID: parent.ID,
		Stage:       stage,
		Text:        parent.Text,
		Metadata:    metadata,
		Status:      domain.JobStatusQueued,
	}

	created, wasNew, err := c.store.CreateJob(ctx, child)
	if err != nil {
		return pipelineerr.Wrap(pipelineerr.OpPipelineInitiation, fmt.Sprintf("create %s child job", stage), err)
	}
	if !wasNew {
		// A sibling already exists for this (parent, stage): the
		// uniqueness constraint did its job, nothing more to enqueue.
		return nil
	}

	if c.queue != nil {
		if err := c.queue.PublishJSON(ctx, taskqueue.PublishArgs{URL: JobEndpointURL, JobID: created.ID, Delay: delay}); err != nil {
			c.log.Warn("failed to enqueue child job; job remains QUEUED until a queue is restored",
				"parent_id", parent.ID, "stage", stage, "job_id", created.ID, "error", err)
		}
	}
	return nil
}

// UpdateProgress clamps progress to [0,100] and delegates the status
// transition to the store (PROCESSING on first update, COMPLETED at 100).
func (c *Coordinator) UpdateProgress(ctx context.Context, jobID string, progress int, metrics *domain.ExtractionStats) (domain.ProcessingJob, error) {
	return c.store.UpdateProgress(ctx, jobID, domain.ClampProgress(progress), metrics)
}

// GetPipelineStatus reports the parent's status, a snapshot of every
// child, and whether the pipeline is complete.
func (c *Coordinator) GetPipelineStatus(ctx context.Context, parentID string) (PipelineStatus, error) {
	parent, ok, err := c.store.GetJob(ctx, parentID)
	if err != nil {
		return PipelineStatus{}, pipelineerr.Wrap(pipelineerr.OpPipelineInitiation, "load parent job", err)
	}
	if !ok {
		return PipelineStatus{}, pipelineerr.New(pipelineerr.OpPipelineInitiation, fmt.Sprintf("parent job %s not found", parentID))
	}

	children, err := c.store.GetChildren(ctx, parentID)
	if err != nil {
		return PipelineStatus{}, pipelineerr.Wrap(pipelineerr.OpPipelineInitiation, "load child jobs", err)
	}

	stages := make([]StageSnapshot, 0, len(children))
	for _, child := range children {
		stages = append(stages, StageSnapshot{
			Stage:    child.Stage,
			Status:   child.Status,
			Progress: child.Progress,
			Error:    child.ErrorMessage,
		})
	}

	isComplete := allTerminal(children)
	parentStatus := parent.Status

	// Parent completion is coordinator-observed, not wall-clock-driven: the
	// parent's stored status flips to COMPLETED the first time someone asks
	// for its status after every child has reached a terminal state (spec
	// §3). Re-checking here (rather than writing it eagerly when the last
	// child finishes) avoids a race between two children completing
	// concurrently.
	if isComplete && parentStatus != domain.JobStatusCompleted {
		updated, err := c.store.UpdateProgress(ctx, parentID, 100, nil)
		if err != nil {
			return PipelineStatus{}, pipelineerr.Wrap(pipelineerr.OpPipelineInitiation, "complete parent job", err)
		}
		parentStatus = updated.Status
	}

	return PipelineStatus{
		ParentID:   parentID,
		Status:     parentStatus,
		Stages:     stages,
		IsComplete: isComplete,
	}, nil
}

// IsPipelineComplete reports true iff every child of parentID exists in a
// terminal status. A pipeline with zero children is never complete.
func (c *Coordinator) IsPipelineComplete(ctx context.Context, parentID string) (bool, error) {
	children, err := c.store.GetChildren(ctx, parentID)
	if err != nil {
		return false, pipelineerr.Wrap(pipelineerr.OpPipelineInitiation, "load child jobs", err)
	}
	return allTerminal(children), nil
}

func allTerminal(children []domain.ProcessingJob) bool {
	if len(children) == 0 {
		return false
	}
	for _, child := range children {
		if !child.Status.Terminal() {
			return false
		}
	}
	return true
}

// GetJobByStage looks up a parent's child job for a given stage, if any.
func (c *Coordinator) GetJobByStage(ctx context.Context, parentID string, stage domain.JobStage) (domain.ProcessingJob, bool, error) {
	return c.store.GetJobByStage(ctx, parentID, stage)
}
