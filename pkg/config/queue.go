package config

import "time"

// QueueConfig controls how the worker pool polls the task queue, claims
// jobs, and detects crashed workers.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines per process.
	// Each worker independently pops and processes jobs.
	WorkerCount int `yaml:"worker_count" validate:"min=1"`

	// PollInterval is the base interval between queue polls when idle.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is random jitter added to PollInterval so that
	// many workers don't wake up in lockstep.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// JobTimeout is the maximum time a single job may run before it is
	// considered stuck.
	JobTimeout time.Duration `yaml:"job_timeout"`

	// GracefulShutdownTimeout is the max time to wait for in-flight jobs
	// to finish during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// OrphanDetectionInterval is how often the pool scans for jobs left
	// PROCESSING by a crashed worker.
	OrphanDetectionInterval time.Duration `yaml:"orphan_detection_interval"`

	// OrphanThreshold is how long a job can go without a heartbeat update
	// before it is considered orphaned.
	OrphanThreshold time.Duration `yaml:"orphan_threshold"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             5,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		JobTimeout:              15 * time.Minute,
		GracefulShutdownTimeout: 30 * time.Second,
		OrphanDetectionInterval: 5 * time.Minute,
		OrphanThreshold:         5 * time.Minute,
	}
}

// Validate checks the queue configuration for internal consistency.
func (c *QueueConfig) Validate() error {
	if c.WorkerCount < 1 {
		return NewValidationError("queue", "worker_count", ErrInvalidValue)
	}
	if c.PollInterval <= 0 {
		return NewValidationError("queue", "poll_interval", ErrInvalidValue)
	}
	if c.JobTimeout <= 0 {
		return NewValidationError("queue", "job_timeout", ErrInvalidValue)
	}
	if c.OrphanThreshold <= 0 {
		return NewValidationError("queue", "orphan_threshold", ErrInvalidValue)
	}
	return nil
}
