// Package dedup implements the two-pass deduplication engine: exact-key
// merging followed by optional threshold-based cosine semantic merging.
package dedup

import (
	"github.com/knowledgecore/pipeline/pkg/domain"
)

// MergeKind classifies why two triples were merged.
type MergeKind string

const (
	MergeExact    MergeKind = "exact"
	MergeSemantic MergeKind = "semantic"
)

// MergedMetadata records one merge decision for observability.
type MergedMetadata struct {
	Kind        MergeKind
	KeptID      string
	AbsorbedID  string
	Similarity  float64 // only meaningful for MergeSemantic
}

// Result is the output of a deduplication pass.
type Result struct {
	UniqueTriples     []domain.Triple
	DuplicatesRemoved int
	MergedMetadata    []MergedMetadata
}

// DefaultSimilarityThreshold is the cosine similarity above which two
// triples are considered semantic duplicates, per spec §4.2.
const DefaultSimilarityThreshold = 0.85

// Deduplicator runs the exact-then-semantic merge pipeline over a batch of
// triples, optionally consulting a job's embedding map for semantic
// comparisons.
type Deduplicator struct {
	// SemanticEnabled turns on the second, cosine-similarity pass.
	SemanticEnabled bool
	// SimilarityThreshold is the cosine similarity at or above which two
	// triples merge during the semantic pass.
	SimilarityThreshold float64
}

// New builds a Deduplicator from config-shaped values.
func New(semanticEnabled bool, threshold float64) *Deduplicator {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &Deduplicator{SemanticEnabled: semanticEnabled, SimilarityThreshold: threshold}
}

// Deduplicate runs exact-key merging, then (if enabled) the semantic pass
// using vectors looked up by each triple's semantic text in embeddings.
// embeddings may be nil, in which case the semantic pass is skipped even
// if SemanticEnabled is true (no vectors to compare).
func (d *Deduplicator) Deduplicate(triples []domain.Triple, embeddings map[string]domain.Vector) Result {
	exactUnique, exactMerges := exactMerge(triples)

	if !d.SemanticEnabled || len(embeddings) == 0 {
		return Result{
			UniqueTriples:     exactUnique,
			DuplicatesRemoved: len(triples) - len(exactUnique),
			MergedMetadata:    exactMerges,
		}
	}

	semanticUnique, semanticMerges := d.semanticMerge(exactUnique, embeddings)
	allMerges := append(exactMerges, semanticMerges...)

	return Result{
		UniqueTriples:     semanticUnique,
		DuplicatesRemoved: len(triples) - len(semanticUnique),
		MergedMetadata:    allMerges,
	}
}

// exactKey is "subject|predicate|object|type", the same shape as the
// identity scheme but kept as a local string rather than domain.TripleID
// so the comparison never depends on the base64 encoding.
func exactKey(t domain.Triple) string {
	return t.Subject + "|" + t.Predicate + "|" + t.Object + "|" + string(t.Type)
}

// exactMerge merges triples sharing an identical (subject, predicate,
// object, type) key, preserving first-seen insertion order of
// representatives.
func exactMerge(triples []domain.Triple) ([]domain.Triple, []MergedMetadata) {
	index := make(map[string]int, len(triples))
	var unique []domain.Triple
	var merges []MergedMetadata

	for _, t := range triples {
		key := exactKey(t)
		if i, ok := index[key]; ok {
			before := unique[i]
			unique[i] = domain.MergeTriple(before, t)
			merges = append(merges, MergedMetadata{
				Kind:       MergeExact,
				KeptID:     unique[i].WithID().ID,
				AbsorbedID: t.WithID().ID,
			})
			continue
		}
		index[key] = len(unique)
		unique = append(unique, t)
	}
	return unique, merges
}

// semanticMerge performs a single-pass O(n^2) pairwise scan over triples
// missing an exact-key match, absorbing any triple whose semantic-text
// vector is at or above the similarity threshold from an already-kept
// representative. Triples with no vector in embeddings pass through
// untouched (spec §4.6 step 2). A triple is absorbed into the most similar
// already-kept representative at or above the threshold; absorbed triples
// are not re-compared against each other.
func (d *Deduplicator) semanticMerge(triples []domain.Triple, embeddings map[string]domain.Vector) ([]domain.Triple, []MergedMetadata) {
	var kept []domain.Triple
	var keptVectors []domain.Vector
	var merges []MergedMetadata

	for _, t := range triples {
		vec, hasVec := embeddings[t.SemanticText()]
		if !hasVec {
			kept = append(kept, t)
			keptVectors = append(keptVectors, nil)
			continue
		}

		absorbedInto := -1
		bestScore := 0.0
		for i, repVec := range keptVectors {
			if repVec == nil {
				continue
			}
			score := domain.CosineSimilarity(vec, repVec)
			if score >= d.SimilarityThreshold && score > bestScore {
				absorbedInto = i
				bestScore = score
			}
		}

		if absorbedInto == -1 {
			kept = append(kept, t)
			keptVectors = append(keptVectors, vec)
			continue
		}

		kept[absorbedInto] = domain.MergeTriple(kept[absorbedInto], t)
		merges = append(merges, MergedMetadata{
			Kind:       MergeSemantic,
			KeptID:     kept[absorbedInto].WithID().ID,
			AbsorbedID: t.WithID().ID,
			Similarity: bestScore,
		})
	}

	return kept, merges
}
