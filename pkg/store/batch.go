package store

import (
	"context"
	"fmt"

	"github.com/knowledgecore/pipeline/pkg/domain"
)

// BatchStoreKnowledge persists triples, concepts, conceptualization links,
// and the embedding map's vectors atomically in a single transaction, per
// spec §4.2 step 8.
func (p *Postgres) BatchStoreKnowledge(ctx context.Context, batch BatchKnowledge) (BatchResult, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return BatchResult{}, fmt.Errorf("begin batch store tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	triplesInserted, err := storeTriplesTx(ctx, tx, batch.Triples)
	if err != nil {
		return BatchResult{}, fmt.Errorf("batch store triples: %w", err)
	}

	conceptsInserted, err := storeConceptsTx(ctx, tx, batch.Concepts)
	if err != nil {
		return BatchResult{}, fmt.Errorf("batch store concepts: %w", err)
	}

	for _, l := range batch.Conceptualizations {
		if _, err := tx.Exec(ctx, `
			INSERT INTO conceptualization_links
				(id, source_element, entity_type, concept, confidence, context_triples, source, source_type, extracted_at)
			VALUES (gen_random_uuid()::text, $1,$2,$3,$4,$5,$6,$7,$8)
		`, l.SourceElement, string(l.EntityType), l.Concept, l.Confidence, l.ContextTriples, l.Source, l.SourceType, l.ExtractedAt); err != nil {
			return BatchResult{}, fmt.Errorf("batch store conceptualization link: %w", err)
		}
	}

	for text, vec := range batch.Embeddings {
		vectorType, ownerID, ownerIsConcept := classifyEmbeddingOwner(text, batch)
		if ownerID == "" {
			continue
		}
		var tripleID, conceptID any
		if ownerIsConcept {
			conceptID = ownerID
		} else {
			tripleID = ownerID
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO vector_embeddings (id, vector_type, text, embedding, knowledge_triple_id, concept_node_id)
			VALUES (gen_random_uuid()::text, $1,$2,$3,$4,$5)
			ON CONFLICT (text, vector_type) DO UPDATE SET
				embedding = EXCLUDED.embedding,
				knowledge_triple_id = EXCLUDED.knowledge_triple_id,
				concept_node_id = EXCLUDED.concept_node_id
		`, string(vectorType), text, vec.Literal(), tripleID, conceptID); err != nil {
			return BatchResult{}, fmt.Errorf("batch store vector for %q: %w", text, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return BatchResult{}, fmt.Errorf("commit batch store tx: %w", err)
	}

	return BatchResult{
		TriplesStored:     triplesInserted,
		ConceptsStored:    conceptsInserted,
		DuplicatesSkipped: len(batch.Triples) - triplesInserted,
	}, nil
}

// classifyEmbeddingOwner maps an embedding-map text key back to the owning
// triple or concept and the vector type it represents, per the embedding
// map's convention of keying by subject/predicate/object/semantic-text/
// concept-name.
func classifyEmbeddingOwner(text string, batch BatchKnowledge) (domain.VectorType, string, bool) {
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
