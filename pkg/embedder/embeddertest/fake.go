// Package embeddertest provides a deterministic in-memory embedder.Embedder
// for unit tests that need stable vectors without a live embedding service.
package embeddertest

import (
	"context"
	"hash/fnv"

	"github.com/knowledgecore/pipeline/pkg/domain"
)

// Fake deterministically maps text to a vector of Dim dimensions, derived
// from the text's hash so that equal texts always embed identically and
// distinct texts embed to (very likely) distinct vectors.
type Fake struct {
	Dim   int
	Calls int
	Batches int
}

// New returns a Fake embedder producing dim-dimensional vectors.
func New(dim int) *Fake {
	return &Fake{Dim: dim}
}

func (f *Fake) Dimension() int { return f.Dim }

func (f *Fake) Embed(ctx context.Context, text string) (domain.Vector, error) {
	f.Calls++
	return vectorFor(text, f.Dim), nil
}

func (f *Fake) EmbedBatch(ctx context.Context, texts []string) ([]domain.Vector, error) {
	f.Batches++
	out := make([]domain.Vector, len(texts))
	for i, t := range texts {
		f.Calls++
		out[i] = vectorFor(t, f.Dim)
	}
	return out, nil
}

func vectorFor(text string, dim int) domain.Vector {
	if dim <= 0 {
		dim = 8
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	v := make(domain.Vector, dim)
	for i := range v {
		seed = seed*6364136223846793005 + 1442695040888963407
		v[i] = float64(int64(seed%2000)-1000) / 1000.0
	}
	return v
}
