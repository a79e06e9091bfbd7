//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/knowledgecore/pipeline/pkg/config"
	"github.com/knowledgecore/pipeline/pkg/domain"
	"github.com/knowledgecore/pipeline/pkg/store"
)

func newTestPostgres(t *testing.T) *store.Postgres {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("knowledgecore_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	cfg := *config.DefaultStoreConfig()
	cfg.DSN = dsn
	cfg.MaxPoolSize = 5

	pg, err := store.NewPostgres(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pg.Close)

	return pg
}

func TestPostgres_StoreAndCountTriples(t *testing.T) {
	pg := newTestPostgres(t)
	ctx := context.Background()

	tr := domain.Triple{
		Subject: "John", Predicate: "works at", Object: "Tech Corp",
		Type: domain.TripleTypeEntityEntity, Source: "doc-1", SourceType: "document",
		Confidence: 0.9, ExtractedAt: time.Now(),
	}.WithID()

	inserted, err := pg.StoreTriples(ctx, []domain.Triple{tr})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	count, err := pg.GetTripleCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Storing the same identity again must not increase the count
	// (property 3 — merge on conflict, max confidence, latest extracted_at).
	again := tr
	again.Confidence = 0.5
	inserted, err = pg.StoreTriples(ctx, []domain.Triple{again})
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	count, err = pg.GetTripleCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPostgres_BatchStoreKnowledge_StoresVectors(t *testing.T) {
	pg := newTestPostgres(t)
	ctx := context.Background()

	tr := domain.Triple{
		Subject: "John", Predicate: "works at", Object: "Tech Corp",
		Type: domain.TripleTypeEntityEntity, Source: "doc-1", SourceType: "document",
		Confidence: 0.9, ExtractedAt: time.Now(),
	}.WithID()

	result, err := pg.BatchStoreKnowledge(ctx, store.BatchKnowledge{
		Triples: []domain.Triple{tr},
		Embeddings: map[string]domain.Vector{
			tr.SemanticText(): {0.1, 0.2, 0.3},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.TriplesStored)

	vec, ok, err := pg.VectorByText(ctx, tr.SemanticText(), domain.VectorTypeSemantic)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.Vector{0.1, 0.2, 0.3}, vec)
}

func TestPostgres_CreateJob_DedupesByParentAndStage(t *testing.T) {
	pg := newTestPostgres(t)
	ctx := context.Background()

	parent := domain.ProcessingJob{ID: "parent-1", JobType: domain.JobTypeProcessKnowledge, Status: domain.JobStatusQueued, Text: "hello"}
	_, created, err := pg.CreateJob(ctx, parent)
	require.NoError(t, err)
	assert.True(t, created)

	first := domain.ProcessingJob{ID: "child-1", ParentJobID: "parent-1", Stage: domain.StageConcepts, JobType: domain.JobTypeGenerateConcepts, Status: domain.JobStatusQueued, Text: "hello"}
	_, created, err = pg.CreateJob(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)

	second := domain.ProcessingJob{ID: "child-2", ParentJobID: "parent-1", Stage: domain.StageConcepts, JobType: domain.JobTypeGenerateConcepts, Status: domain.JobStatusQueued, Text: "hello"}
	stored, created, err := pg.CreateJob(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "child-1", stored.ID)
}

func TestPostgres_UpdateProgress_TransitionsStatus(t *testing.T) {
	pg := newTestPostgres(t)
	ctx := context.Background()

	_, _, err := pg.CreateJob(ctx, domain.ProcessingJob{ID: "job-1", JobType: domain.JobTypeProcessKnowledge, Status: domain.JobStatusQueued, Text: "hello"})
	require.NoError(t, err)

	updated, err := pg.UpdateProgress(ctx, "job-1", 150, &domain.ExtractionStats{TriplesStored: 3})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, updated.Status)
	assert.Equal(t, 100, updated.Progress)
	require.NotNil(t, updated.Metrics)
	assert.Equal(t, 3, updated.Metrics.TriplesStored)
}

func TestPostgres_FindStaleProcessingJobs(t *testing.T) {
	pg := newTestPostgres(t)
	ctx := context.Background()

	_, _, err := pg.CreateJob(ctx, domain.ProcessingJob{ID: "job-1", JobType: domain.JobTypeProcessKnowledge, Status: domain.JobStatusProcessing, Text: "hello"})
	require.NoError(t, err)
	_, err = pg.UpdateProgress(ctx, "job-1", 10, nil)
	require.NoError(t, err)

	stale, err := pg.FindStaleProcessingJobs(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)

	stale, err = pg.FindStaleProcessingJobs(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestPostgres_DeleteTriples_CascadesVectors(t *testing.T) {
	pg := newTestPostgres(t)
	ctx := context.Background()

	tr := domain.Triple{
		Subject: "A", Predicate: "rel", Object: "B",
		Type: domain.TripleTypeEntityEntity, Source: "doc-1", SourceType: "document",
		Confidence: 0.8, ExtractedAt: time.Now(),
	}.WithID()

	_, err := pg.StoreTriples(ctx, []domain.Triple{tr})
	require.NoError(t, err)
	require.NoError(t, pg.StoreVectors(ctx, []domain.VectorEmbedding{
		{VectorType: domain.VectorTypeSemantic, Text: tr.SemanticText(), Embedding: domain.Vector{1, 0}, KnowledgeTripleID: tr.ID},
	}))

	require.NoError(t, pg.DeleteTriples(ctx, []string{tr.ID}))

	_, ok, err := pg.VectorByText(ctx, tr.SemanticText(), domain.VectorTypeSemantic)
	require.NoError(t, err)
	assert.False(t, ok)
}
