package handlers_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowledgecore/pipeline/pkg/domain"
	"github.com/knowledgecore/pipeline/pkg/handlers"
	"github.com/knowledgecore/pipeline/pkg/oracle/oracletest"
)

func dedupJob(id string) domain.ProcessingJob {
	return domain.ProcessingJob{
		ID:      id,
		JobType: domain.JobTypeDeduplicateKnowledge,
		Stage:   domain.StageDeduplication,
		Metadata: domain.JobMetadata{
			Source:     "doc-1",
			SourceType: "text",
		},
	}
}

func TestDedupHandler_LeavesDistinctTriplesAlone(t *testing.T) {
	caps, st := newCapabilities(t, oracletest.New())
	// Two triples with different semantic text get different vectors from
	// the fake embedder, so the pass finds no duplicate and deletes nothing.
	seedTriple(t, st, "John", "works_at", "Tech Corp", domain.TripleTypeEntityEntity)
	seedTriple(t, st, "Jane", "leads", "Marketing", domain.TripleTypeEntityEntity)

	h := handlers.NewDedupHandler(caps)
	result := h.Execute(context.Background(), dedupJob("job-dedup"))

	require.True(t, result.Success)
	assert.Equal(t, 0, result.Data.DuplicatesSkipped)

	count, err := st.GetTripleCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestDedupHandler_NoopWhenSemanticDisabled(t *testing.T) {
	caps, st := newCapabilities(t, oracletest.New())
	caps.Dedup.SemanticEnabled = false
	seedTriple(t, st, "John", "works_at", "Tech Corp", domain.TripleTypeEntityEntity)

	h := handlers.NewDedupHandler(caps)
	result := h.Execute(context.Background(), dedupJob("job-dedup-2"))

	require.True(t, result.Success)
	assert.Equal(t, "semantic dedup disabled", result.Data.Message)

	count, err := st.GetTripleCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDedupHandler_FewerThanTwoTriplesIsNoop(t *testing.T) {
	caps, st := newCapabilities(t, oracletest.New())
	seedTriple(t, st, "John", "works_at", "Tech Corp", domain.TripleTypeEntityEntity)

	h := handlers.NewDedupHandler(caps)
	result := h.Execute(context.Background(), dedupJob("job-dedup-3"))

	require.True(t, result.Success)
	assert.Equal(t, 0, result.Data.DuplicatesSkipped)

	count, err := st.GetTripleCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
