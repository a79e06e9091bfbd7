package handlers_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowledgecore/pipeline/pkg/domain"
	"github.com/knowledgecore/pipeline/pkg/handlers"
	"github.com/knowledgecore/pipeline/pkg/oracle"
	"github.com/knowledgecore/pipeline/pkg/oracle/oracletest"
	"github.com/knowledgecore/pipeline/pkg/store/storetest"
)

func conceptJob(id string) domain.ProcessingJob {
	return domain.ProcessingJob{
		ID:      id,
		JobType: domain.JobTypeGenerateConcepts,
		Stage:   domain.StageConcepts,
		Metadata: domain.JobMetadata{
			Source:     "doc-1",
			SourceType: "text",
		},
	}
}

func seedTriple(t *testing.T, st *storetest.Fake, subject, predicate, object string, typ domain.TripleType) domain.Triple {
	t.Helper()
	triple := domain.Triple{
		Subject: subject, Predicate: predicate, Object: object, Type: typ,
		Source: "doc-1", SourceType: "text", Confidence: 0.9,
	}.WithID()
	_, err := st.StoreTriples(context.Background(), []domain.Triple{triple})
	require.NoError(t, err)
	return triple
}

func TestConceptHandler_GeneratesConceptsFromTriples(t *testing.T) {
	oc := oracletest.New()
	oc.Responses = []oracle.Generation{{Data: []byte(`{
		"concepts": [{"concept": "Employment", "abstraction_level": "MEDIUM", "confidence": 0.8}],
		"relationships": [{"source_element": "John", "entity_type": "ENTITY", "concept": "Employment", "confidence": 0.8}]
	}`)}}
	caps, st := newCapabilities(t, oc)
	seedTriple(t, st, "John", "works_at", "Tech Corp", domain.TripleTypeEntityEntity)

	h := handlers.NewConceptHandler(caps)
	result := h.Execute(context.Background(), conceptJob("job-concepts"))

	require.True(t, result.Success)
	require.NotNil(t, result.Data)
	assert.Equal(t, 1, result.Data.ConceptsStored)

	concepts, err := st.GetConceptsBySource(context.Background(), "doc-1", "text")
	require.NoError(t, err)
	require.Len(t, concepts, 1)
	assert.Equal(t, "Employment", concepts[0].Concept)
}

func TestConceptHandler_IdempotentWhenConceptsAlreadyExist(t *testing.T) {
	oc := oracletest.New()
	caps, st := newCapabilities(t, oc)
	seedTriple(t, st, "John", "works_at", "Tech Corp", domain.TripleTypeEntityEntity)
	_, err := st.StoreConcepts(context.Background(), []domain.Concept{
		{Concept: "Employment", AbstractionLevel: domain.AbstractionMedium, Confidence: 0.8, Source: "doc-1", SourceType: "text"}.WithID(),
	})
	require.NoError(t, err)

	h := handlers.NewConceptHandler(caps)
	result := h.Execute(context.Background(), conceptJob("job-concepts-2"))

	require.True(t, result.Success)
	assert.Equal(t, "Concepts already generated", result.Data.Message)
	assert.Equal(t, int64(0), oc.Calls.Load())
}

func TestConceptHandler_NoTriplesYieldsNoopSuccess(t *testing.T) {
	oc := oracletest.New()
	caps, _ := newCapabilities(t, oc)

	h := handlers.NewConceptHandler(caps)
	result := h.Execute(context.Background(), conceptJob("job-concepts-3"))

	require.True(t, result.Success)
	assert.Equal(t, int64(0), oc.Calls.Load())
}
