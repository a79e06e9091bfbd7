package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/knowledgecore/pipeline/pkg/config"
)

// envelope is the wire payload stored in both the ready list and the
// delayed sorted set.
type envelope struct {
	URL   string `json:"url"`
	JobID string `json:"jobId"`
}

// RedisQueue implements Queue on a Redis sorted set (for delayed items)
// feeding a Redis list (for items ready to claim). A background poller
// moves due items from the delayed set into the ready list; workers BLPOP
// the ready list. Pop removes the item from the ready list, so RedisQueue
// delivers each published job id at most once; it does not redeliver a
// job whose worker stops mid-run.
type RedisQueue struct {
	client        *redis.Client
	readyListKey  string
	delayedSetKey string
	pollInterval  time.Duration
	log           *slog.Logger
}

// NewRedisQueue builds a RedisQueue from configuration.
func NewRedisQueue(cfg config.TaskQueueConfig) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisQueueWithClient(client, cfg)
}

// NewRedisQueueWithClient builds a RedisQueue on an existing *redis.Client,
// used by tests to point at a miniredis instance.
func NewRedisQueueWithClient(client *redis.Client, cfg config.TaskQueueConfig) *RedisQueue {
	return &RedisQueue{
		client:        client,
		readyListKey:  cfg.ReadyListKey,
		delayedSetKey: cfg.DelayedSetKey,
		pollInterval:  cfg.PollInterval,
		log:           slog.With("component", "task_queue"),
	}
}

// PublishJSON enqueues a job envelope. With no delay it is pushed directly
// onto the ready list; with a delay it is added to the delayed sorted set,
// scored by its due Unix time, where the delay poller will pick it up.
func (q *RedisQueue) PublishJSON(ctx context.Context, args PublishArgs) error {
	payload, err := json.Marshal(envelope{URL: args.URL, JobID: args.JobID})
	if err != nil {
		return fmt.Errorf("task queue: marshal envelope: %w", err)
	}

	if args.Delay <= 0 {
		if err := q.client.LPush(ctx, q.readyListKey, payload).Err(); err != nil {
			return fmt.Errorf("task queue: lpush ready: %w", err)
		}
		return nil
	}

	dueAt := float64(time.Now().Add(args.Delay).Unix())
	if err := q.client.ZAdd(ctx, q.delayedSetKey, redis.Z{Score: dueAt, Member: payload}).Err(); err != nil {
		return fmt.Errorf("task queue: zadd delayed: %w", err)
	}
	return nil
}

// Pop blocks up to timeout for the next ready job id. A zero/negative
// timeout blocks indefinitely (the pollInterval governs idle polling
// cadence used by RunDelayPoller, not this call).
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (jobID string, ok bool, err error) {
	result, err := q.client.BLPop(ctx, timeout, q.readyListKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("task queue: blpop: %w", err)
	}
	// BLPop returns [key, value].
	if len(result) != 2 {
		return "", false, fmt.Errorf("task queue: unexpected blpop result shape")
	}
	var env envelope
	if err := json.Unmarshal([]byte(result[1]), &env); err != nil {
		return "", false, fmt.Errorf("task queue: unmarshal envelope: %w", err)
	}
	return env.JobID, true, nil
}

// Depth reports how many jobs are currently sitting in the ready list,
// waiting to be popped. It does not count delayed items not yet due.
func (q *RedisQueue) Depth(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.readyListKey).Result()
	if err != nil {
		return 0, fmt.Errorf("task queue: llen: %w", err)
	}
	return int(n), nil
}

// RunDelayPoller periodically moves due items from the delayed sorted set
// into the ready list. It blocks until ctx is cancelled and should be run
// in its own goroutine, one per process.
func (q *RedisQueue) RunDelayPoller(ctx context.Context) {
	interval := q.pollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.promoteDue(ctx); err != nil {
				q.log.Error("delay poller failed", "error", err)
			}
		}
	}
}

// promoteDue atomically claims every delayed item whose score is <= now
// and pushes it onto the ready list.
func (q *RedisQueue) promoteDue(ctx context.Context) error {
	now := float64(time.Now().Unix())
	due, err := q.client.ZRangeByScore(ctx, q.delayedSetKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		return fmt.Errorf("zrangebyscore: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	for _, payload := range due {
		removed, err := q.client.ZRem(ctx, q.delayedSetKey, payload).Result()
		if err != nil {
			return fmt.Errorf("zrem: %w", err)
		}
		if removed == 0 {
			// another pod already promoted this item.
			continue
		}
		if err := q.client.LPush(ctx, q.readyListKey, payload).Err(); err != nil {
			return fmt.Errorf("lpush promoted: %w", err)
		}
	}
	return nil
}

var _ Queue = (*RedisQueue)(nil)
