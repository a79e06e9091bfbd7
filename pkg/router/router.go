// Package router implements the Job Router (spec §4.8): it dispatches a
// dequeued job to the handler for its JobType, and commits the terminal
// status transition the handler's result implies.
package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/knowledgecore/pipeline/pkg/domain"
	"github.com/knowledgecore/pipeline/pkg/metrics"
	"github.com/knowledgecore/pipeline/pkg/store"
)

// Handler executes one job to completion and reports the outcome. A
// Handler never returns a Go error across this boundary: failures are
// reported as a JobResult with Success=false, per spec §9 ("handlers never
// throw across the router boundary").
type Handler interface {
	Execute(ctx context.Context, job domain.ProcessingJob) domain.JobResult
}

// Router dispatches jobs by JobType and commits the resulting status.
type Router struct {
	store    store.JobStore
	handlers map[domain.JobType]Handler
	log      *slog.Logger
}

// New builds a Router from a table of job-type to handler.
func New(jobs store.JobStore, handlers map[domain.JobType]Handler) *Router {
	return &Router{store: jobs, handlers: handlers, log: slog.With("component", "router")}
}

// Route loads nothing further: it is handed an already-fetched job, marks
// it PROCESSING, dispatches to the matching handler, and commits COMPLETED
// or FAILED depending on the result.
func (r *Router) Route(ctx context.Context, job domain.ProcessingJob) domain.JobResult {
	if _, err := r.store.UpdateProgress(ctx, job.ID, 0, nil); err != nil {
		r.log.Warn("failed to mark job processing", "job_id", job.ID, "error", err)
	}

	handler, ok := r.handlers[job.JobType]
	if !ok {
		result := domain.JobResult{
			Success: false,
			Error:   &domain.JobError{Operation: "routing_error", Message: fmt.Sprintf("no handler registered for job type %s", job.JobType)},
		}
		if err := r.store.FailJob(ctx, job.ID, result.Error.Message); err != nil {
			r.log.Error("failed to mark job failed", "job_id", job.ID, "error", err)
		}
		metrics.RecordJobOutcome(job.Stage, false)
		return result
	}

	result := handler.Execute(ctx, job)

	if result.Success {
		if err := r.store.CompleteJob(ctx, job.ID, result); err != nil {
			r.log.Error("failed to mark job completed", "job_id", job.ID, "error", err)
		}
		metrics.RecordJobOutcome(job.Stage, true)
		return result
	}

	message := "job failed"
	if result.Error != nil {
		message = result.Error.Message
	}
	if err := r.store.FailJob(ctx, job.ID, message); err != nil {
		r.log.Error("failed to mark job failed", "job_id", job.ID, "error", err)
	}
	metrics.RecordJobOutcome(job.Stage, false)
	return result
}
