package workerpool

import (
	"context"
	"sync"
	"time"
)

// orphanState tracks when the pool last scanned for orphaned jobs and how
// many it has recovered since start, guarded for concurrent reads from
// Health().
type orphanState struct {
	mu               sync.Mutex
	lastOrphanScan   time.Time
	orphansRecovered int
}

// recoverStartupOrphans fails every job left PROCESSING from a previous,
// presumably crashed, run before this pool starts dispatching new work. A
// job is orphaned once it has sat PROCESSING longer than OrphanThreshold —
// past the point any live worker would still be making progress on it.
func (p *WorkerPool) recoverStartupOrphans(ctx context.Context) error {
	recovered, err := p.failStaleJobs(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		p.log.Info("recovered orphaned jobs at startup", "count", recovered)
	}
	return nil
}

// runOrphanDetection periodically re-scans for jobs a worker abandoned
// mid-flight (crash, OOM kill, lost connection) without reaching a
// terminal status. It stops when the pool's stop channel closes.
func (p *WorkerPool) runOrphanDetection(ctx context.Context) {
	interval := p.config.OrphanDetectionInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			recovered, err := p.failStaleJobs(ctx)
			if err != nil {
				p.log.Error("periodic orphan scan failed", "error", err)
				continue
			}
			if recovered > 0 {
				p.log.Warn("recovered orphaned jobs", "count", recovered)
			}
		}
	}
}

func (p *WorkerPool) failStaleJobs(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-p.config.OrphanThreshold)
	stale, err := p.store.FindStaleProcessingJobs(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, job := range stale {
		if err := p.store.FailJob(ctx, job.ID, "job orphaned: no progress before orphan threshold elapsed"); err != nil {
			p.log.Error("failed to mark orphaned job failed", "job_id", job.ID, "error", err)
			continue
		}
		recovered++
	}

	p.orphans.mu.Lock()
	p.orphans.lastOrphanScan = time.Now()
	p.orphans.orphansRecovered += recovered
	p.orphans.mu.Unlock()

	return recovered, nil
}
