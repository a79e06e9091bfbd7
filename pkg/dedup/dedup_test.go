package dedup_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowledgecore/pipeline/pkg/dedup"
	"github.com/knowledgecore/pipeline/pkg/domain"
)

func mkTriple(s, p, o string, conf float64, at time.Time) domain.Triple {
	return domain.Triple{
		Subject: s, Predicate: p, Object: o,
		Type:        domain.TripleTypeEntityEntity,
		Confidence:  conf,
		ExtractedAt: at,
	}
}

func TestDeduplicate_ExactMerge_MaxConfidenceLatestExtractedAt(t *testing.T) {
	t0 := time.Now().Add(-time.Hour)
	t1 := time.Now()

	triples := []domain.Triple{
		mkTriple("John", "works at", "Acme", 0.6, t0),
		mkTriple("John", "works at", "Acme", 0.9, t1.Add(-time.Minute)),
		mkTriple("John", "works at", "Acme", 0.7, t1),
	}

	d := dedup.New(false, 0)
	result := d.Deduplicate(triples, nil)

	require.Len(t, result.UniqueTriples, 1)
	assert.Equal(t, 2, result.DuplicatesRemoved)
	assert.Equal(t, 0.9, result.UniqueTriples[0].Confidence)
	assert.Equal(t, t1, result.UniqueTriples[0].ExtractedAt)
	require.Len(t, result.MergedMetadata, 2)
	for _, m := range result.MergedMetadata {
		assert.Equal(t, dedup.MergeExact, m.Kind)
	}
}

func TestDeduplicate_PreservesInsertionOrderOfRepresentatives(t *testing.T) {
	now := time.Now()
	triples := []domain.Triple{
		mkTriple("A", "p", "B", 0.8, now),
		mkTriple("C", "p", "D", 0.8, now),
		mkTriple("A", "p", "B", 0.9, now), // dup of first
		mkTriple("E", "p", "F", 0.8, now),
	}

	d := dedup.New(false, 0)
	result := d.Deduplicate(triples, nil)

	require.Len(t, result.UniqueTriples, 3)
	assert.Equal(t, "A", result.UniqueTriples[0].Subject)
	assert.Equal(t, "C", result.UniqueTriples[1].Subject)
	assert.Equal(t, "E", result.UniqueTriples[2].Subject)
}

func TestDeduplicate_SemanticMerge_BelowThresholdSurvivesSeparately(t *testing.T) {
	now := time.Now()
	t1 := mkTriple("John", "is employed by", "Acme Corp", 0.8, now)
	t2 := mkTriple("Mary", "lives in", "Paris", 0.8, now)

	embeddings := map[string]domain.Vector{
		t1.SemanticText(): {1, 0, 0},
		t2.SemanticText(): {0, 1, 0},
	}

	d := dedup.New(true, 0.85)
	result := d.Deduplicate([]domain.Triple{t1, t2}, embeddings)

	require.Len(t, result.UniqueTriples, 2)
	assert.Empty(t, result.MergedMetadata)
}

func TestDeduplicate_SemanticMerge_AboveThresholdMerges(t *testing.T) {
	now := time.Now()
	t1 := mkTriple("John", "works at", "Acme", 0.8, now)
	t2 := mkTriple("John", "is employed by", "Acme Corp", 0.9, now)

	embeddings := map[string]domain.Vector{
		t1.SemanticText(): {1, 0.02, 0},
		t2.SemanticText(): {1, 0, 0},
	}

	d := dedup.New(true, 0.85)
	result := d.Deduplicate([]domain.Triple{t1, t2}, embeddings)

	require.Len(t, result.UniqueTriples, 1)
	assert.Equal(t, 1, result.DuplicatesRemoved)
	assert.Equal(t, 0.9, result.UniqueTriples[0].Confidence)
	require.Len(t, result.MergedMetadata, 1)
	assert.Equal(t, dedup.MergeSemantic, result.MergedMetadata[0].Kind)
	assert.GreaterOrEqual(t, result.MergedMetadata[0].Similarity, 0.85)
}

// Property 7: any two representatives in the output have cosine
// similarity < threshold.
func TestDeduplicate_Property_RepresentativesBelowThreshold(t *testing.T) {
	now := time.Now()
	triples := []domain.Triple{
		mkTriple("A", "p1", "B", 0.8, now),
		mkTriple("C", "p2", "D", 0.8, now),
		mkTriple("E", "p3", "F", 0.8, now),
	}
	embeddings := map[string]domain.Vector{
		triples[0].SemanticText(): {1, 0, 0},
		triples[1].SemanticText(): {0, 1, 0},
		triples[2].SemanticText(): {0, 0, 1},
	}

	d := dedup.New(true, 0.85)
	result := d.Deduplicate(triples, embeddings)

	for i := range result.UniqueTriples {
		for j := i + 1; j < len(result.UniqueTriples); j++ {
			vi, okI := embeddings[result.UniqueTriples[i].SemanticText()]
			vj, okJ := embeddings[result.UniqueTriples[j].SemanticText()]
			if !okI || !okJ {
				continue
			}
			assert.Less(t, domain.CosineSimilarity(vi, vj), d.SimilarityThreshold)
		}
	}
}

// Idempotence law: dedup(dedup(T)) = dedup(T).
func TestDeduplicate_Idempotent(t *testing.T) {
	now := time.Now()
	triples := []domain.Triple{
		mkTriple("John", "works at", "Acme", 0.6, now),
		mkTriple("John", "works at", "Acme", 0.9, now),
		mkTriple("Mary", "lives in", "Paris", 0.7, now),
	}

	d := dedup.New(true, 0.85)
	first := d.Deduplicate(triples, nil)
	second := d.Deduplicate(first.UniqueTriples, nil)

	require.Equal(t, len(first.UniqueTriples), len(second.UniqueTriples))
	for i := range first.UniqueTriples {
		assert.Equal(t, first.UniqueTriples[i].Subject, second.UniqueTriples[i].Subject)
		assert.Equal(t, first.UniqueTriples[i].Confidence, second.UniqueTriples[i].Confidence)
	}
	assert.Empty(t, second.MergedMetadata)
}

func TestDeduplicate_MissingVectorPassesThroughUntouched(t *testing.T) {
	now := time.Now()
	t1 := mkTriple("John", "works at", "Acme", 0.8, now)
	t2 := mkTriple("Mary", "lives in", "Paris", 0.8, now)

	d := dedup.New(true, 0.85)
	// no embeddings at all for t2
	result := d.Deduplicate([]domain.Triple{t1, t2}, map[string]domain.Vector{
		t1.SemanticText(): {1, 0, 0},
	})

	require.Len(t, result.UniqueTriples, 2)
}
