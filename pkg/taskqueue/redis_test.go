package taskqueue_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowledgecore/pipeline/pkg/config"
	"github.com/knowledgecore/pipeline/pkg/taskqueue"
)

func newTestQueue(t *testing.T) (*taskqueue.RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := config.TaskQueueConfig{
		ReadyListKey:  "jobs:ready",
		DelayedSetKey: "jobs:delayed",
		PollInterval:  10 * time.Millisecond,
	}
	return taskqueue.NewRedisQueueWithClient(client, cfg), mr
}

func TestRedisQueue_PublishWithNoDelayIsImmediatelyReady(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	err := q.PublishJSON(ctx, taskqueue.PublishArgs{URL: "/jobs", JobID: "job-1"})
	require.NoError(t, err)

	jobID, ok, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "job-1", jobID)
}

func TestRedisQueue_PopTimesOutWhenEmpty(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, ok, err := q.Pop(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisQueue_DelayedJobBecomesReadyAfterPoll(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	err := q.PublishJSON(ctx, taskqueue.PublishArgs{URL: "/jobs", JobID: "job-2", Delay: 150 * time.Millisecond})
	require.NoError(t, err)

	// Not ready yet.
	_, ok, err := q.Pop(ctx, 20*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	ctxPoll, cancel := context.WithCancel(ctx)
	defer cancel()
	go q.RunDelayPoller(ctxPoll)

	jobID, ok, err := q.Pop(ctx, 2*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "job-2", jobID)
}
