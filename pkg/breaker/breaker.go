// Package breaker provides a keyed registry of circuit breakers guarding
// per-source LLM extraction calls, per spec §5: keyed by
// "text_extraction_{source}", failureThreshold=3, timeout=45s.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// DefaultFailureThreshold and DefaultTimeout mirror the values spec §5
// recommends for the text-extraction breaker.
const (
	DefaultFailureThreshold uint32 = 3
	DefaultTimeout                = 45 * time.Second
)

// Registry lazily creates and caches one gobreaker.CircuitBreaker per key,
// so concurrent chunk extractions on the same source share breaker state.
type Registry struct {
	mu               sync.Mutex
	breakers         map[string]*gobreaker.CircuitBreaker
	failureThreshold uint32
	timeout          time.Duration
}

// NewRegistry builds a Registry using the given failure threshold and open
// timeout for every breaker it creates.
func NewRegistry(failureThreshold uint32, timeout time.Duration) *Registry {
	if failureThreshold == 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Registry{
		breakers:         make(map[string]*gobreaker.CircuitBreaker),
		failureThreshold: failureThreshold,
		timeout:          timeout,
	}
}

// ExtractionKey builds the "text_extraction_{source}" breaker key.
func ExtractionKey(source string) string {
	return fmt.Sprintf("text_extraction_%s", source)
}

func (r *Registry) get(key string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[key]; ok {
		return b
	}

	threshold := r.failureThreshold
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    key,
		Timeout: r.timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})
	r.breakers[key] = b
	return b
}

// Do runs fn through the breaker for key, failing fast with
// gobreaker.ErrOpenState when the breaker is open rather than invoking fn.
func (r *Registry) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	b := r.get(key)
	_, err := b.Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	return err
}
