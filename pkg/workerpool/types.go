// Package workerpool runs the background worker loop that pops job ids
// off the task queue and dispatches them through the job router, plus the
// orphan recovery described in spec §5 ("the task queue may redeliver a
// job id after the configured visibility timeout"): jobs left PROCESSING
// by a crashed worker are detected by a stale heartbeat and marked FAILED,
// both at startup and on a periodic scan. Adapted from the teacher's
// session-queue worker pool, with ent/AlertSession replaced by
// domain.ProcessingJob and store.JobStore.
package workerpool

import "time"

// WorkerStatus is the current state of a single worker goroutine.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// WorkerHealth reports one worker's current state, for PoolHealth.
type WorkerHealth struct {
	ID            string
	Status        WorkerStatus
	CurrentJobID  string
	JobsProcessed int
	LastActivity  time.Time
}

// PoolHealth is a snapshot of the worker pool, returned as a Go value by
// WorkerPool.Health; cmd/worker serves a plain-text summary of it on
// /healthz.
type PoolHealth struct {
	ActiveWorkers    int
	TotalWorkers     int
	QueueDepth       int
	WorkerStats      []WorkerHealth
	LastOrphanScan   time.Time
	OrphansRecovered int
}
