package workerpool

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/knowledgecore/pipeline/pkg/config"
	"github.com/knowledgecore/pipeline/pkg/router"
	"github.com/knowledgecore/pipeline/pkg/store"
)

// Worker repeatedly pops a job id from the queue, loads the job, and routes
// it to completion. One crashed or hung worker never blocks the others:
// each runs its own poll loop and reports its own health independently.
type Worker struct {
	id     string
	jobs   JobSource
	store  store.JobStore
	router *router.Router
	config *config.QueueConfig

	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.Mutex
	status  WorkerStatus
	current string
	done    int
	last    time.Time

	log *slog.Logger
}

func newWorker(id string, jobs JobSource, jobStore store.JobStore, r *router.Router, cfg *config.QueueConfig) *Worker {
	return &Worker{
		id:     id,
		jobs:   jobs,
		store:  jobStore,
		router: r,
		config: cfg,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		status: WorkerStatusIdle,
		last:   time.Now(),
		log:    slog.With("component", "worker", "worker_id", id),
	}
}

func (w *Worker) start(ctx context.Context) {
	go w.run(ctx)
}

func (w *Worker) stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *Worker) health() WorkerHealth {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        w.status,
		CurrentJobID:  w.current,
		JobsProcessed: w.done,
		LastActivity:  w.last,
	}
}

// run polls for a job id, handles it, then loops. Idle polls use a jittered
// timeout so a pool of many workers doesn't all wake the queue driver in
// lockstep.
func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		jobID, ok, err := w.jobs.Pop(ctx, w.pollTimeout())
		if err != nil {
			w.log.Error("poll failed", "error", err)
			continue
		}
		if !ok {
			continue
		}

		w.handle(ctx, jobID)
	}
}

func (w *Worker) handle(ctx context.Context, jobID string) {
	job, found, err := w.store.GetJob(ctx, jobID)
	if err != nil {
		w.log.Error("failed to load job", "job_id", jobID, "error", err)
		return
	}
	if !found {
		w.log.Warn("popped job id has no matching row, dropping", "job_id", jobID)
		return
	}

	w.mu.Lock()
	w.status = WorkerStatusWorking
	w.current = jobID
	w.mu.Unlock()

	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	result := w.router.Route(jobCtx, job)

	w.mu.Lock()
	w.status = WorkerStatusIdle
	w.current = ""
	w.done++
	w.last = time.Now()
	w.mu.Unlock()

	if !result.Success {
		w.log.Warn("job finished with failure", "job_id", jobID, "stage", job.Stage)
	}
}

// pollTimeout jitters PollInterval by up to PollIntervalJitter so concurrent
// workers don't synchronize their empty-queue polls.
func (w *Worker) pollTimeout() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	return base + time.Duration(rand.Int64N(int64(jitter)))
}
