package resource

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowledgecore/pipeline/pkg/config"
	"github.com/knowledgecore/pipeline/pkg/domain"
)

func TestManager_WithAI_LimitsConcurrency(t *testing.T) {
	m := NewManager(config.ResourceConfig{MaxAICalls: 2, MaxConnections: 2})
	ctx := context.Background()

	var inFlight, maxObserved atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.WithAI(ctx, func(ctx context.Context) error {
				cur := inFlight.Add(1)
				for {
					prev := maxObserved.Load()
					if cur <= prev || maxObserved.CompareAndSwap(prev, cur) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxObserved.Load(), int64(2))
}

func TestManager_WithAI_ReleasesOnError(t *testing.T) {
	m := NewManager(config.ResourceConfig{MaxAICalls: 1, MaxConnections: 1})
	ctx := context.Background()

	err := m.WithAI(ctx, func(ctx context.Context) error {
		return assert.AnError
	})
	require.Error(t, err)

	acquired := make(chan struct{})
	go func() {
		_ = m.WithAI(ctx, func(ctx context.Context) error {
			close(acquired)
			return nil
		})
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("permit was not released after fn returned an error")
	}
}

func TestManager_GetStatus_ReflectsInUse(t *testing.T) {
	m := NewManager(config.ResourceConfig{MaxAICalls: 3, MaxConnections: 4})
	status := m.GetStatus()
	assert.Equal(t, int64(3), status.AvailableAICalls)
	assert.Equal(t, int64(4), status.AvailableConnections)

	blocker := make(chan struct{})
	released := make(chan struct{})
	go func() {
		_ = m.WithAI(context.Background(), func(ctx context.Context) error {
			close(blocker)
			<-released
			return nil
		})
	}()
	<-blocker

	status = m.GetStatus()
	assert.Equal(t, int64(2), status.AvailableAICalls)
	close(released)
}

func TestManager_WithLimits_OverridesPerJob(t *testing.T) {
	base := NewManager(config.ResourceConfig{MaxAICalls: 4, MaxConnections: 2})
	scoped := base.WithLimits(&domain.ResourceLimits{MaxAICalls: 1})

	status := scoped.GetStatus()
	assert.Equal(t, int64(1), status.MaxAICalls)
	assert.Equal(t, int64(2), status.MaxConnections, "unset override fields fall back to the base manager's limits")
}

func TestManager_WithLimits_NilIsNoOp(t *testing.T) {
	base := NewManager(config.ResourceConfig{MaxAICalls: 4, MaxConnections: 2})
	assert.Same(t, base, base.WithLimits(nil))
}
