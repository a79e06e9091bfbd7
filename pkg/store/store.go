// Package store defines the storage contract the knowledge pipeline writes
// through and queries against, plus a Postgres implementation on pgx.
package store

import (
	"context"
	"time"

	"github.com/knowledgecore/pipeline/pkg/domain"
)

// TimeUnit is the granularity of a relative time window filter.
type TimeUnit string

const (
	UnitDays   TimeUnit = "days"
	UnitWeeks  TimeUnit = "weeks"
	UnitMonths TimeUnit = "months"
	UnitYears  TimeUnit = "years"
)

// TimeWindow expresses a relative filter such as "the last 30 days".
type TimeWindow struct {
	From  string // "now" or an RFC3339 timestamp
	Value int
	Unit  TimeUnit
}

// Temporal filters rows either by an absolute [From, To] range or a
// relative TimeWindow. At most one of the two should be set.
type Temporal struct {
	FromDate *time.Time
	ToDate   *time.Time
	Window   *TimeWindow
}

// SearchOptions are the filters common to every search query in the
// adapter's query surface.
type SearchOptions struct {
	Sources   []string
	Types     []domain.TripleType
	Limit     int
	Threshold float64
	Temporal  *Temporal
}

// ScoredTriple pairs a stored triple with the similarity score a single
// search strategy produced for it.
type ScoredTriple struct {
	Triple domain.Triple
	Score  float64
}

// ScoredConcept pairs a stored concept with a similarity score.
type ScoredConcept struct {
	Concept domain.Concept
	Score   float64
}

// BatchKnowledge is everything the extraction handler persists atomically
// in a single transaction.
type BatchKnowledge struct {
	Triples            []domain.Triple
	Concepts           []domain.Concept
	Conceptualizations []domain.ConceptualizationLink
	Embeddings         map[string]domain.Vector
}

// BatchResult reports what batchStoreKnowledge actually wrote, accounting
// for rows that already existed (conflict-merged rather than inserted).
type BatchResult struct {
	TriplesStored     int
	ConceptsStored    int
	DuplicatesSkipped int
}

// Adapter is the storage contract of spec §6.1. Implementations persist
// triples, concepts, conceptualization links, and vectors, and answer the
// similarity/substring query surface used by fusion search.
type Adapter interface {
	// Mutations.
	CheckExistingTriples(ctx context.Context, ids []string) ([]string, error)
	StoreTriples(ctx context.Context, triples []domain.Triple) (int, error)
	StoreConcepts(ctx context.Context, concepts []domain.Concept) (int, error)
	StoreConceptualizations(ctx context.Context, links []domain.ConceptualizationLink) error
	StoreVectors(ctx context.Context, vectors []domain.VectorEmbedding) error
	BatchStoreKnowledge(ctx context.Context, batch BatchKnowledge) (BatchResult, error)
	DeleteTriples(ctx context.Context, ids []string) error

	// Vector similarity query surface.
	SearchByEmbedding(ctx context.Context, vec domain.Vector, topK int, minScore float64, opts *SearchOptions) ([]ScoredTriple, error)
	SearchEntityByEmbedding(ctx context.Context, vec domain.Vector, topK int, minScore float64, opts *SearchOptions) ([]ScoredTriple, error)
	SearchRelationshipByEmbedding(ctx context.Context, vec domain.Vector, topK int, minScore float64, opts *SearchOptions) ([]ScoredTriple, error)
	SearchConceptsByEmbedding(ctx context.Context, vec domain.Vector, topK int, minScore float64) ([]ScoredConcept, error)

	// Substring fallback query surface (used when embedding fails).
	SearchByEntity(ctx context.Context, q string, topK int, opts *SearchOptions) ([]domain.Triple, error)
	SearchByRelationship(ctx context.Context, q string, topK int, opts *SearchOptions) ([]domain.Triple, error)
	SearchByConcept(ctx context.Context, q string, topK int) ([]domain.Concept, error)

	// Conceptualization adjacency.
	GetConceptualizationsByConcept(ctx context.Context, concept string) ([]domain.ConceptualizationLink, error)

	// Bulk/aggregate reads.
	GetAllTriples(ctx context.Context) ([]domain.Triple, error)
	GetTriplesByElements(ctx context.Context, elements []string) ([]domain.Triple, error)
	GetTriplesBySource(ctx context.Context, source, sourceType string) ([]domain.Triple, error)
	GetTripleCount(ctx context.Context) (int, error)
	GetConceptCount(ctx context.Context) (int, error)
	GetTripleCountByType(ctx context.Context, typ domain.TripleType) (int, error)
	GetConceptsBySource(ctx context.Context, source, sourceType string) ([]domain.Concept, error)

	// VectorByText looks up the stored vector for an exact text and vector
	// type, used by the dedup handler's direct-embedder path.
	VectorByText(ctx context.Context, text string, vectorType domain.VectorType) (domain.Vector, bool, error)

	// Job persistence, backing the Pipeline Coordinator and worker pool.
	JobStore

	Close()
}

// JobStore is the persistence surface for ProcessingJob rows: creation
// under the (parent_job_id, stage) uniqueness constraint, progress and
// status transitions, and the lookups the coordinator and worker pool need.
type JobStore interface {
	// CreateJob inserts a job. If a row already exists for the same
	// (parent_job_id, stage) pair, the existing row is returned unchanged
	// with created=false — this is how the coordinator enforces "at most
	// one child per (parent, stage)".
	CreateJob(ctx context.Context, job domain.ProcessingJob) (result domain.ProcessingJob, created bool, err error)
	GetJob(ctx context.Context, id string) (domain.ProcessingJob, bool, error)
	GetJobByStage(ctx context.Context, parentJobID string, stage domain.JobStage) (domain.ProcessingJob, bool, error)
	GetChildren(ctx context.Context, parentJobID string) ([]domain.ProcessingJob, error)
	UpdateProgress(ctx context.Context, id string, progress int, metrics *domain.ExtractionStats) (domain.ProcessingJob, error)
	CompleteJob(ctx context.Context, id string, result domain.JobResult) error
	FailJob(ctx context.Context, id string, message string) error
	FindStaleProcessingJobs(ctx context.Context, olderThan time.Time) ([]domain.ProcessingJob, error)
}
