package breaker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowledgecore/pipeline/pkg/breaker"
)

func TestExtractionKey(t *testing.T) {
	assert.Equal(t, "text_extraction_doc-1", breaker.ExtractionKey("doc-1"))
}

func TestRegistry_OpensAfterThresholdFailures(t *testing.T) {
	r := breaker.NewRegistry(3, 45*time.Second)
	key := breaker.ExtractionKey("doc-1")
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := r.Do(context.Background(), key, func(ctx context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)
	}

	err := r.Do(context.Background(), key, func(ctx context.Context) error {
		t.Fatal("fn should not be called while breaker is open")
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestRegistry_KeysAreIndependent(t *testing.T) {
	r := breaker.NewRegistry(1, 45*time.Second)
	boom := errors.New("boom")

	err := r.Do(context.Background(), breaker.ExtractionKey("doc-1"), func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	// A different source's breaker is unaffected.
	err = r.Do(context.Background(), breaker.ExtractionKey("doc-2"), func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestRegistry_SuccessNeverTrips(t *testing.T) {
	r := breaker.NewRegistry(1, 45*time.Second)
	key := breaker.ExtractionKey("doc-3")

	for i := 0; i < 10; i++ {
		err := r.Do(context.Background(), key, func(ctx context.Context) error { return nil })
		assert.NoError(t, err)
	}
}
