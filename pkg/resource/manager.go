// Package resource provides admission control over the two contended
// resources a knowledge extraction job shares with its siblings: concurrent
// LLM calls and concurrent database connections.
package resource

import (
	"context"
	"log/slog"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/knowledgecore/pipeline/pkg/config"
	"github.com/knowledgecore/pipeline/pkg/domain"
	"github.com/knowledgecore/pipeline/pkg/metrics"
)

// Status is a snapshot of the manager's current admission state.
type Status struct {
	AvailableAICalls     int64
	MaxAICalls           int64
	AvailableConnections int64
	MaxConnections       int64
	MemoryAllocMB        uint64
	MemoryWarnThresholdMB uint64
}

// Manager serializes contention over LLM calls and database connections
// using counting semaphores. It does not itself open connections or make
// calls — permits are advisory, and a zero-permit configuration is legal
// (callers queue indefinitely rather than being rejected).
type Manager struct {
	ai            *semaphore.Weighted
	db            *semaphore.Weighted
	maxAICalls    int64
	maxConns      int64
	warnThreshold uint64
	inUseAI       atomic.Int64
	inUseDB       atomic.Int64
	log           *slog.Logger
}

// NewManager builds a Manager from the process-wide resource defaults.
// Per-job overrides are applied with WithLimits.
func NewManager(cfg config.ResourceConfig) *Manager {
	return newManager(int64(cfg.MaxAICalls), int64(cfg.MaxConnections), uint64(cfg.MemoryWarnThresholdMB))
}

func newManager(maxAICalls, maxConns int64, warnThresholdMB uint64) *Manager {
	return &Manager{
		ai:            semaphore.NewWeighted(maxAICalls),
		db:            semaphore.NewWeighted(maxConns),
		maxAICalls:    maxAICalls,
		maxConns:      maxConns,
		warnThreshold: warnThresholdMB,
		log:           slog.With("component", "resource_manager"),
	}
}

// WithLimits returns a new Manager scoped to a single job's resource
// overrides, falling back to base's limits for any zero field.
func (m *Manager) WithLimits(limits *domain.ResourceLimits) *Manager {
	if limits == nil {
		return m
	}
	maxAI := m.maxAICalls
	if limits.MaxAICalls > 0 {
		maxAI = int64(limits.MaxAICalls)
	}
	maxConns := m.maxConns
	if limits.MaxConnections > 0 {
		maxConns = int64(limits.MaxConnections)
	}
	return newManager(maxAI, maxConns, m.warnThreshold)
}

// WithAI acquires an LLM-call permit, runs fn, and always releases the
// permit afterward — including when fn returns an error, so a failing task
// never leaks its slot.
func (m *Manager) WithAI(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := m.ai.Acquire(ctx, 1); err != nil {
		return err
	}
	m.inUseAI.Add(1)
	metrics.SetResourcePermitsInUse("ai", m.inUseAI.Load())
	defer func() {
		m.inUseAI.Add(-1)
		metrics.SetResourcePermitsInUse("ai", m.inUseAI.Load())
		m.ai.Release(1)
	}()
	return fn(ctx)
}

// WithDatabase acquires a database-connection permit, runs fn, and always
// releases it.
func (m *Manager) WithDatabase(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := m.db.Acquire(ctx, 1); err != nil {
		return err
	}
	m.inUseDB.Add(1)
	metrics.SetResourcePermitsInUse("database", m.inUseDB.Load())
	defer func() {
		m.inUseDB.Add(-1)
		metrics.SetResourcePermitsInUse("database", m.inUseDB.Load())
		m.db.Release(1)
	}()
	return fn(ctx)
}

// GetStatus reports current admission headroom and process memory use. The
// memory figure is informational only; the manager never blocks admission
// on it, it only logs a warning past warnThreshold.
func (m *Manager) GetStatus() Status {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	allocMB := ms.Alloc / (1024 * 1024)

	if m.warnThreshold > 0 && allocMB > m.warnThreshold {
		m.log.Warn("memory usage above warn threshold", "alloc_mb", allocMB, "threshold_mb", m.warnThreshold)
	}

	return Status{
		AvailableAICalls:      m.maxAICalls - m.inUseAI.Load(),
		MaxAICalls:            m.maxAICalls,
		AvailableConnections:  m.maxConns - m.inUseDB.Load(),
		MaxConnections:        m.maxConns,
		MemoryAllocMB:         allocMB,
		MemoryWarnThresholdMB: m.warnThreshold,
	}
}
