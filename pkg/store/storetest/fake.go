// Package storetest provides an in-memory fake of store.Adapter for unit
// tests that exercise handlers and the coordinator without a live Postgres
// instance. The testcontainers-backed suite in pkg/store exercises the real
// adapter.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/knowledgecore/pipeline/pkg/domain"
	"github.com/knowledgecore/pipeline/pkg/store"
)

// Fake is an in-memory implementation of store.Adapter.
type Fake struct {
	mu                  sync.Mutex
	triples             map[string]domain.Triple
	concepts            map[string]domain.Concept
	conceptualizations  []domain.ConceptualizationLink
	vectors             map[vectorKey]domain.VectorEmbedding
	jobs                map[string]domain.ProcessingJob
}

type vectorKey struct {
	text       string
	vectorType domain.VectorType
}

var _ store.Adapter = (*Fake)(nil)

// New returns an empty Fake adapter.
func New() *Fake {
	return &Fake{
		triples:  make(map[string]domain.Triple),
		concepts: make(map[string]domain.Concept),
		vectors:  make(map[vectorKey]domain.VectorEmbedding),
		jobs:     make(map[string]domain.ProcessingJob),
	}
}

func (f *Fake) CheckExistingTriples(_ context.Context, ids []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var found []string
	for _, id := range ids {
		if _, ok := f.triples[id]; ok {
			found = append(found, id)
		}
	}
	return found, nil
}

func (f *Fake) StoreTriples(_ context.Context, triples []domain.Triple) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inserted := 0
	for _, t := range triples {
		id := t.ID
		if id == "" {
			id = domain.TripleID(t.Subject, t.Predicate, t.Object, t.Type)
			t.ID = id
		}
		if existing, ok := f.triples[id]; ok {
			f.triples[id] = domain.MergeTriple(existing, t)
			continue
		}
		f.triples[id] = t
		inserted++
	}
	return inserted, nil
}

func (f *Fake) StoreConcepts(_ context.Context, concepts []domain.Concept) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inserted := 0
	for _, c := range concepts {
		id := c.ID
		if id == "" {
			id = domain.ConceptID(c.Concept, c.AbstractionLevel, c.Source)
			c.ID = id
		}
		if _, ok := f.concepts[id]; !ok {
			inserted++
		}
		f.concepts[id] = c
	}
	return inserted, nil
}

func (f *Fake) StoreConceptualizations(_ context.Context, links []domain.ConceptualizationLink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conceptualizations = append(f.conceptualizations, links...)
	return nil
}

func (f *Fake) StoreVectors(_ context.Context, vectors []domain.VectorEmbedding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range vectors {
		f.vectors[vectorKey{text: v.Text, vectorType: v.VectorType}] = v
	}
	return nil
}

func (f *Fake) BatchStoreKnowledge(ctx context.Context, batch store.BatchKnowledge) (store.BatchResult, error) {
	f.mu.Lock()
	before := len(f.triples)
	f.mu.Unlock()

	if _, err := f.StoreTriples(ctx, batch.Triples); err != nil {
		return store.BatchResult{}, err
	}
	conceptsStored, err := f.StoreConcepts(ctx, batch.Concepts)
	if err != nil {
		return store.BatchResult{}, err
	}
	if err := f.StoreConceptualizations(ctx, batch.Conceptualizations); err != nil {
		return store.BatchResult{}, err
	}

	f.mu.Lock()
	triplesInserted := len(f.triples) - before
	f.mu.Unlock()

	for text, vec := range batch.Embeddings {
		vectorType, ownerID, ownerIsConcept := classifyEmbeddingOwner(text, batch)
		if ownerID == "" {
			continue
		}
		ve := domain.VectorEmbedding{VectorType: vectorType, Text: text, Embedding: vec}
		if ownerIsConcept {
			ve.ConceptNodeID = ownerID
		} else {
			ve.KnowledgeTripleID = ownerID
		}
		if err := f.StoreVectors(ctx, []domain.VectorEmbedding{ve}); err != nil {
			return store.BatchResult{}, err
		}
	}

	return store.BatchResult{
		TriplesStored:     triplesInserted,
		ConceptsStored:    conceptsStored,
		DuplicatesSkipped: len(batch.Triples) - triplesInserted,
	}, nil
}

func classifyEmbeddingOwner(text string, batch store.BatchKnowledge) (domain.VectorType, string, bool) {
	for _, t := range batch.Triples {
		id := t.ID
		if id == "" {
			id = domain.TripleID(t.Subject, t.Predicate, t.Object, t.Type)
		}
		switch text {
		case t.Subject, t.Object:
			return domain.VectorTypeEntity, id, false
		case t.Predicate:
			return domain.VectorTypeRelationship, id, false
		case t.SemanticText():
			return domain.VectorTypeSemantic, id, false
		}
	}
	for _, c := range batch.Concepts {
		id := c.ID
		if id == "" {
			id = domain.ConceptID(c.Concept, c.AbstractionLevel, c.Source)
		}
		if text == c.Concept {
			return domain.VectorTypeConcept, id, true
		}
	}
	return "", "", false
}

func (f *Fake) DeleteTriples(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.triples, id)
	}
	for key, v := range f.vectors {
		if v.KnowledgeTripleID != "" {
			if _, ok := f.triples[v.KnowledgeTripleID]; !ok {
				delete(f.vectors, key)
			}
		}
	}
	return nil
}

func (f *Fake) searchByVectorType(vectorType domain.VectorType, vec domain.Vector, topK int, minScore float64, opts *store.SearchOptions) []store.ScoredTriple {
	f.mu.Lock()
	defer f.mu.Unlock()

	var scored []store.ScoredTriple
	for key, v := range f.vectors {
		if key.vectorType != vectorType || v.KnowledgeTripleID == "" {
			continue
		}
		t, ok := f.triples[v.KnowledgeTripleID]
		if !ok || !passesFilters(t, opts) {
			continue
		}
		score := domain.CosineSimilarity(vec, v.Embedding)
		if score < minScore {
			continue
		}
		scored = append(scored, store.ScoredTriple{Triple: t, Score: score})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}

func (f *Fake) SearchByEmbedding(_ context.Context, vec domain.Vector, topK int, minScore float64, opts *store.SearchOptions) ([]store.ScoredTriple, error) {
	return f.searchByVectorType(domain.VectorTypeSemantic, vec, topK, minScore, opts), nil
}

func (f *Fake) SearchEntityByEmbedding(_ context.Context, vec domain.Vector, topK int, minScore float64, opts *store.SearchOptions) ([]store.ScoredTriple, error) {
	return f.searchByVectorType(domain.VectorTypeEntity, vec, topK, minScore, opts), nil
}

func (f *Fake) SearchRelationshipByEmbedding(_ context.Context, vec domain.Vector, topK int, minScore float64, opts *store.SearchOptions) ([]store.ScoredTriple, error) {
	return f.searchByVectorType(domain.VectorTypeRelationship, vec, topK, minScore, opts), nil
}

func (f *Fake) SearchConceptsByEmbedding(_ context.Context, vec domain.Vector, topK int, minScore float64) ([]store.ScoredConcept, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var scored []store.ScoredConcept
	for key, v := range f.vectors {
		if key.vectorType != domain.VectorTypeConcept || v.ConceptNodeID == "" {
			continue
		}
		c, ok := f.concepts[v.ConceptNodeID]
		if !ok {
			continue
		}
		score := domain.CosineSimilarity(vec, v.Embedding)
		if score < minScore {
			continue
		}
		scored = append(scored, store.ScoredConcept{Concept: c, Score: score})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

func passesFilters(t domain.Triple, opts *store.SearchOptions) bool {
	if opts == nil {
		return true
	}
	if len(opts.Sources) > 0 && !contains(opts.Sources, t.Source) {
		return false
	}
	if len(opts.Types) > 0 {
		found := false
		for _, typ := range opts.Types {
			if typ == t.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (f *Fake) SearchByEntity(_ context.Context, q string, topK int, opts *store.SearchOptions) ([]domain.Triple, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Triple
	for _, t := range f.triples {
		if !passesFilters(t, opts) {
			continue
		}
		if containsSubstring(t.Subject, q) || containsSubstring(t.Object, q) {
			out = append(out, t)
		}
	}
	return limitTriples(out, topK), nil
}

func (f *Fake) SearchByRelationship(_ context.Context, q string, topK int, opts *store.SearchOptions) ([]domain.Triple, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Triple
	for _, t := range f.triples {
		if !passesFilters(t, opts) {
			continue
		}
		if containsSubstring(t.Predicate, q) {
			out = append(out, t)
		}
	}
	return limitTriples(out, topK), nil
}

func (f *Fake) SearchByConcept(_ context.Context, q string, topK int) ([]domain.Concept, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Concept
	for _, c := range f.concepts {
		if containsSubstring(c.Concept, q) {
			out = append(out, c)
		}
	}
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func limitTriples(triples []domain.Triple, topK int) []domain.Triple {
	if topK > 0 && len(triples) > topK {
		return triples[:topK]
	}
	return triples
}

func containsSubstring(haystack, needle string) bool {
	return len(needle) == 0 || (len(haystack) >= len(needle) && indexFold(haystack, needle))
}

func indexFold(haystack, needle string) bool {
	hl, nl := toLower(haystack), toLower(needle)
	for i := 0; i+len(nl) <= len(hl); i++ {
		if hl[i:i+len(nl)] == nl {
			return true
		}
	}
	return false
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func (f *Fake) GetConceptualizationsByConcept(_ context.Context, concept string) ([]domain.ConceptualizationLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ConceptualizationLink
	for _, l := range f.conceptualizations {
		if l.Concept == concept {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *Fake) GetAllTriples(_ context.Context) ([]domain.Triple, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Triple, 0, len(f.triples))
	for _, t := range f.triples {
		out = append(out, t)
	}
	return out, nil
}

func (f *Fake) GetTriplesByElements(_ context.Context, elements []string) ([]domain.Triple, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := make(map[string]bool, len(elements))
	for _, e := range elements {
		set[e] = true
	}
	var out []domain.Triple
	for _, t := range f.triples {
		if set[t.Subject] || set[t.Predicate] || set[t.Object] {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *Fake) GetTriplesBySource(_ context.Context, source, sourceType string) ([]domain.Triple, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Triple
	for _, t := range f.triples {
		if t.SourceType == sourceType && hasPrefix(t.Source, source) {
			out = append(out, t)
		}
	}
	return out, nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func (f *Fake) GetConceptsBySource(_ context.Context, source, sourceType string) ([]domain.Concept, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Concept
	for _, c := range f.concepts {
		if c.Source == source && c.SourceType == sourceType {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *Fake) GetTripleCount(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.triples), nil
}

func (f *Fake) GetConceptCount(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.concepts), nil
}

func (f *Fake) GetTripleCountByType(_ context.Context, typ domain.TripleType) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, t := range f.triples {
		if t.Type == typ {
			count++
		}
	}
	return count, nil
}

func (f *Fake) VectorByText(_ context.Context, text string, vectorType domain.VectorType) (domain.Vector, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vectors[vectorKey{text: text, vectorType: vectorType}]
	if !ok {
		return nil, false, nil
	}
	return v.Embedding, true, nil
}

// CreateJob mirrors the Postgres adapter's insert-or-fetch-existing
// semantics for the (parent_job_id, stage) uniqueness constraint.
func (f *Fake) CreateJob(_ context.Context, job domain.ProcessingJob) (domain.ProcessingJob, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if job.Stage != "" && job.ParentJobID != "" {
		for _, existing := range f.jobs {
			if existing.ParentJobID == job.ParentJobID && existing.Stage == job.Stage {
				return existing, false, nil
			}
		}
	}

	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = now
	}
	f.jobs[job.ID] = job
	return job, true, nil
}

func (f *Fake) GetJob(_ context.Context, id string) (domain.ProcessingJob, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	return job, ok, nil
}

func (f *Fake) GetJobByStage(_ context.Context, parentJobID string, stage domain.JobStage) (domain.ProcessingJob, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, job := range f.jobs {
		if job.ParentJobID == parentJobID && job.Stage == stage {
			return job, true, nil
		}
	}
	return domain.ProcessingJob{}, false, nil
}

func (f *Fake) GetChildren(_ context.Context, parentJobID string) ([]domain.ProcessingJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ProcessingJob
	for _, job := range f.jobs {
		if job.ParentJobID == parentJobID {
			out = append(out, job)
		}
	}
	return out, nil
}

func (f *Fake) UpdateProgress(_ context.Context, id string, progress int, metrics *domain.ExtractionStats) (domain.ProcessingJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[id]
	if !ok {
		return domain.ProcessingJob{}, fmt.Errorf("job %s not found", id)
	}

	job.Progress = domain.ClampProgress(progress)
	if metrics != nil {
		job.Metrics = metrics
	}
	now := time.Now()
	if job.StartedAt == nil {
		job.StartedAt = &now
	}
	if job.Status == domain.JobStatusQueued {
		job.Status = domain.JobStatusProcessing
	}
	if job.Progress >= 100 {
		job.Status = domain.JobStatusCompleted
		job.CompletedAt = &now
	}
	job.UpdatedAt = now
	f.jobs[id] = job
	return job, nil
}

func (f *Fake) CompleteJob(_ context.Context, id string, result domain.JobResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	now := time.Now()
	job.Status = domain.JobStatusCompleted
	job.Progress = 100
	job.Result = &result
	job.CompletedAt = &now
	job.UpdatedAt = now
	f.jobs[id] = job
	return nil
}

func (f *Fake) FailJob(_ context.Context, id string, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	now := time.Now()
	job.Status = domain.JobStatusFailed
	job.ErrorMessage = message
	job.CompletedAt = &now
	job.UpdatedAt = now
	f.jobs[id] = job
	return nil
}

func (f *Fake) FindStaleProcessingJobs(_ context.Context, olderThan time.Time) ([]domain.ProcessingJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ProcessingJob
	for _, job := range f.jobs {
		if job.Status == domain.JobStatusProcessing && job.UpdatedAt.Before(olderThan) {
			out = append(out, job)
		}
	}
	return out, nil
}

func (f *Fake) Close() {}
