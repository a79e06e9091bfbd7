// Package embedding builds the job-local Embedding Map: a build-once,
// use-many cache from text to its vector, covering every subject, object,
// predicate, full-semantic text, and concept name a job needs to embed.
package embedding

import (
	"context"
	"fmt"

	"github.com/knowledgecore/pipeline/pkg/domain"
	"github.com/knowledgecore/pipeline/pkg/embedder"
	"github.com/knowledgecore/pipeline/pkg/metrics"
	"github.com/knowledgecore/pipeline/pkg/pipelineerr"
)

// defaultBatchSize is the number of texts BuildMap sends per EmbedBatch
// call. An embedder may split a batch further by its own configured batch
// size (the HTTPEmbedder does).
const defaultBatchSize = 64

// Stats summarizes how effective the map was at avoiding redundant calls.
type Stats struct {
	TotalTexts        int
	UniqueTexts       int
	DuplicatesAverted int
	BatchCalls        int
}

// Map is a job-scoped text-to-vector cache. It is never shared across jobs.
type Map struct {
	Embeddings map[string]domain.Vector
	Stats      Stats
}

// Lookup returns the vector for text, if present.
func (m *Map) Lookup(text string) (domain.Vector, bool) {
	v, ok := m.Embeddings[text]
	return v, ok
}

// BuildMap collects every text a batch of triples and concepts will need
// embedded, deduplicates it, and batches it through the embedder. Failure
// of any batch aborts the whole operation per spec §4.4.
func BuildMap(ctx context.Context, triples []domain.Triple, concepts []domain.Concept, emb embedder.Embedder, includeSemantic bool) (*Map, error) {
	seen := make(map[string]struct{})
	var texts []string

	add := func(text string) {
		if text == "" {
			return
		}
		if _, ok := seen[text]; ok {
			return
		}
		seen[text] = struct{}{}
		texts = append(texts, text)
	}

	totalTexts := 0
	for _, t := range triples {
		add(t.Subject)
		totalTexts++
		add(t.Predicate)
		totalTexts++
		add(t.Object)
		totalTexts++
		if includeSemantic {
			add(t.SemanticText())
			totalTexts++
		}
	}
	for _, c := range concepts {
		add(c.Concept)
		totalTexts++
	}

	out := &Map{Embeddings: make(map[string]domain.Vector, len(texts))}
	if len(texts) == 0 {
		out.Stats = Stats{TotalTexts: totalTexts, UniqueTexts: 0, DuplicatesAverted: totalTexts}
		metrics.RecordEmbeddingMapStats(out.Stats.TotalTexts, out.Stats.DuplicatesAverted)
		return out, nil
	}

	batches := chunkTexts(texts, defaultBatchSize)
	for _, batch := range batches {
		vectors, err := emb.EmbedBatch(ctx, batch)
		if err != nil {
			return nil, pipelineerr.Wrap(pipelineerr.OpEmbeddingGeneration, "embedding map batch failed", err)
		}
		if len(vectors) != len(batch) {
			return nil, pipelineerr.New(pipelineerr.OpEmbeddingGeneration,
				fmt.Sprintf("embedder returned %d vectors for %d inputs", len(vectors), len(batch)))
		}
		for i, text := range batch {
			out.Embeddings[text] = vectors[i]
		}
	}

	out.Stats = Stats{
		TotalTexts:        totalTexts,
		UniqueTexts:       len(texts),
		DuplicatesAverted: totalTexts - len(texts),
		BatchCalls:        len(batches),
	}
	metrics.RecordEmbeddingMapStats(out.Stats.TotalTexts, out.Stats.DuplicatesAverted)
	return out, nil
}

func chunkTexts(texts []string, batchSize int) [][]string {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	var batches [][]string
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, texts[start:end])
	}
	return batches
}
