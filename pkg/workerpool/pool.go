package workerpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/knowledgecore/pipeline/pkg/config"
	"github.com/knowledgecore/pipeline/pkg/router"
	"github.com/knowledgecore/pipeline/pkg/store"
)

// JobSource is the subset of taskqueue.Queue the pool needs to claim work:
// a blocking pop with a timeout. taskqueue.RedisQueue implements this.
type JobSource interface {
	Pop(ctx context.Context, timeout time.Duration) (jobID string, ok bool, err error)
}

// QueueDepther is an optional capability a JobSource may implement to
// report how many jobs are waiting, for PoolHealth. Implementations that
// don't support it (e.g. a test fake) are simply reported as depth 0.
type QueueDepther interface {
	Depth(ctx context.Context) (int, error)
}

// WorkerPool runs WorkerCount goroutines, each polling JobSource for a job
// id, loading the job, and dispatching it through the Router. It also runs
// a periodic orphan scan that fails jobs a crashed worker left PROCESSING.
type WorkerPool struct {
	podID   string
	jobs    JobSource
	store   store.JobStore
	router  *router.Router
	config  *config.QueueConfig
	workers []*Worker

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool

	orphans orphanState
	log     *slog.Logger
}

// New builds a WorkerPool. podID identifies this process in logs only —
// unlike the teacher's session queue, job ownership is not tracked per pod
// (CORE has no per-pod session cancellation API), so orphan recovery scans
// every stale job regardless of which worker last touched it.
func New(podID string, jobs JobSource, jobStore store.JobStore, r *router.Router, cfg *config.QueueConfig) *WorkerPool {
	return &WorkerPool{
		podID:  podID,
		jobs:   jobs,
		store:  jobStore,
		router: r,
		config: cfg,
		stopCh: make(chan struct{}),
		log:    slog.With("component", "worker_pool", "pod_id", podID),
	}
}

// Start fails every stale PROCESSING job left by any pod (startup orphan
// recovery), then spawns worker goroutines and the periodic orphan scan. Safe to call once; subsequent
// calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		p.log.Warn("worker pool already started, ignoring duplicate Start call")
		return nil
	}
	p.started = true

	if err := p.recoverStartupOrphans(ctx); err != nil {
		p.log.Error("startup orphan recovery failed", "error", err)
	}

	p.log.Info("starting worker pool", "worker_count", p.config.WorkerCount)
	for i := 0; i < p.config.WorkerCount; i++ {
		id := fmt.Sprintf("%s-worker-%d", p.podID, i)
		w := newWorker(id, p.jobs, p.store, p.router, p.config)
		p.workers = append(p.workers, w)
		w.start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runOrphanDetection(ctx)
	}()

	p.log.Info("worker pool started")
	return nil
}

// Stop signals every worker to finish its current job and exit, waits for
// them, then stops the orphan scan.
func (p *WorkerPool) Stop() {
	p.log.Info("stopping worker pool gracefully")
	for _, w := range p.workers {
		w.stop()
	}
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	p.log.Info("worker pool stopped")
}

// Health returns a snapshot of the pool for observability.
func (p *WorkerPool) Health() PoolHealth {
	stats := make([]WorkerHealth, len(p.workers))
	active := 0
	for i, w := range p.workers {
		h := w.health()
		stats[i] = h
		if h.Status == WorkerStatusWorking {
			active++
		}
	}

	depth := 0
	if depther, ok := p.jobs.(QueueDepther); ok {
		if d, err := depther.Depth(context.Background()); err == nil {
			depth = d
		} else {
			p.log.Warn("failed to read queue depth", "error", err)
		}
	}

	p.orphans.mu.Lock()
	lastScan := p.orphans.lastOrphanScan
	recovered := p.orphans.orphansRecovered
	p.orphans.mu.Unlock()

	return PoolHealth{
		ActiveWorkers:    active,
		TotalWorkers:     len(p.workers),
		QueueDepth:       depth,
		WorkerStats:      stats,
		LastOrphanScan:   lastScan,
		OrphansRecovered: recovered,
	}
}
