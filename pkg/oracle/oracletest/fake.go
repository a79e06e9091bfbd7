// Package oracletest provides a scriptable in-memory oracle.Oracle for
// handler and coordinator tests that need deterministic LLM responses
// without a live provider.
package oracletest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/knowledgecore/pipeline/pkg/oracle"
)

// Responder produces a Generation (or error) for a given prompt/schema
// call. Tests can close over call count or prompt content to vary
// behavior, e.g. to simulate "one of three chunks fails".
type Responder func(ctx context.Context, prompt string, schema oracle.Schema) (oracle.Generation, error)

// Fake is a scriptable oracle.Oracle. A non-nil Errors[n] fails the n-th
// call (zero-based). Otherwise Respond is consulted if set. Otherwise calls
// are served from Responses in order (cycling is not supported; extra calls
// use the last entry), or an empty Generation when Responses is empty.
type Fake struct {
	mu        sync.Mutex
	Responses []oracle.Generation
	Errors    []error
	Respond   Responder
	Calls     atomic.Int64
}

func New() *Fake {
	return &Fake{}
}

func (f *Fake) GenerateObject(ctx context.Context, prompt string, schema oracle.Schema, opts oracle.Options) (oracle.Generation, error) {
	n := f.Calls.Add(1) - 1

	f.mu.Lock()
	defer f.mu.Unlock()

	if int(n) < len(f.Errors) && f.Errors[n] != nil {
		return oracle.Generation{}, f.Errors[n]
	}
	if f.Respond != nil {
		return f.Respond(ctx, prompt, schema)
	}
	if len(f.Responses) == 0 {
		return oracle.Generation{}, nil
	}
	idx := int(n)
	if idx >= len(f.Responses) {
		idx = len(f.Responses) - 1
	}
	return f.Responses[idx], nil
}

var _ oracle.Oracle = (*Fake)(nil)
