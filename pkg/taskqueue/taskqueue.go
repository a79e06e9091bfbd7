// Package taskqueue defines the at-least-once, optionally-delayed job
// delivery contract (spec §6.2) plus a Redis-backed implementation.
package taskqueue

import (
	"context"
	"time"
)

// PublishArgs is everything a single enqueue needs: the worker endpoint to
// notify, the job id to deliver, and an optional delay before delivery.
type PublishArgs struct {
	URL   string
	JobID string
	Delay time.Duration
}

// Queue delivers a job id to a worker endpoint after an optional delay, at
// least once. Redelivery after the visibility timeout is expected and safe
// because every handler is idempotent at the identity level (spec §5).
type Queue interface {
	PublishJSON(ctx context.Context, args PublishArgs) error
}
