package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/knowledgecore/pipeline/pkg/domain"
)

const conceptSelectColumns = `SELECT id, concept, abstraction_level, confidence, source, source_type, extracted_at`

// StoreConcepts upserts concepts by identity. Returns the number of newly
// inserted rows.
func (p *Postgres) StoreConcepts(ctx context.Context, concepts []domain.Concept) (int, error) {
	if len(concepts) == 0 {
		return 0, nil
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin store concepts tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inserted, err := storeConceptsTx(ctx, tx, concepts)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit store concepts tx: %w", err)
	}
	return inserted, nil
}

func storeConceptsTx(ctx context.Context, tx pgx.Tx, concepts []domain.Concept) (int, error) {
	inserted := 0
	for _, c := range concepts {
		id := c.ID
		if id == "" {
			id = domain.ConceptID(c.Concept, c.AbstractionLevel, c.Source)
		}
		var wasInserted bool
		err := tx.QueryRow(ctx, `
			INSERT INTO concepts (id, concept, abstraction_level, confidence, source, source_type, extracted_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (id) DO UPDATE SET
				confidence = GREATEST(concepts.confidence, EXCLUDED.confidence),
				extracted_at = GREATEST(concepts.extracted_at, EXCLUDED.extracted_at)
			RETURNING (xmax = 0)
		`, id, c.Concept, string(c.AbstractionLevel), c.Confidence, c.Source, c.SourceType, c.ExtractedAt).Scan(&wasInserted)
		if err != nil {
			return inserted, fmt.Errorf("upsert concept %s: %w", id, err)
		}
		if wasInserted {
			inserted++
		}
	}
	return inserted, nil
}

// StoreConceptualizations inserts conceptualization links. The link table
// is append-only: links are never updated or merged, per spec §9's
// treatment of the concept/triple reference graph as an append-only index.
func (p *Postgres) StoreConceptualizations(ctx context.Context, links []domain.ConceptualizationLink) error {
	if len(links) == 0 {
		return nil
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin store conceptualizations tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, l := range links {
		if _, err := tx.Exec(ctx, `
			INSERT INTO conceptualization_links
				(id, source_element, entity_type, concept, confidence, context_triples, source, source_type, extracted_at)
			VALUES (gen_random_uuid()::text, $1,$2,$3,$4,$5,$6,$7,$8)
		`, l.SourceElement, string(l.EntityType), l.Concept, l.Confidence, l.ContextTriples, l.Source, l.SourceType, l.ExtractedAt); err != nil {
			return fmt.Errorf("insert conceptualization link: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit store conceptualizations tx: %w", err)
	}
	return nil
}

// GetConceptualizationsByConcept returns every link recorded for a concept
// name, used by fusion search's concept strategy to hop from a concept to
// its contributing triple elements.
func (p *Postgres) GetConceptualizationsByConcept(ctx context.Context, concept string) ([]domain.ConceptualizationLink, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, source_element, entity_type, concept, confidence, context_triples, source, source_type, extracted_at
		FROM conceptualization_links WHERE concept = $1
	`, concept)
	if err != nil {
		return nil, fmt.Errorf("get conceptualizations by concept: %w", err)
	}
	defer rows.Close()

	var out []domain.ConceptualizationLink
	for rows.Next() {
		var l domain.ConceptualizationLink
		var entityType string
		if err := rows.Scan(&l.ID, &l.SourceElement, &entityType, &l.Concept, &l.Confidence, &l.ContextTriples, &l.Source, &l.SourceType, &l.ExtractedAt); err != nil {
			return nil, fmt.Errorf("scan conceptualization link: %w", err)
		}
		l.EntityType = domain.EntityType(entityType)
		out = append(out, l)
	}
	return out, rows.Err()
}

// GetConceptsBySource loads concepts matching a source/source_type pair,
// used by the concept handler's idempotence check.
func (p *Postgres) GetConceptsBySource(ctx context.Context, source, sourceType string) ([]domain.Concept, error) {
	rows, err := p.pool.Query(ctx, conceptSelectColumns+` FROM concepts WHERE source = $1 AND source_type = $2`, source, sourceType)
	if err != nil {
		return nil, fmt.Errorf("get concepts by source: %w", err)
	}
	defer rows.Close()
	return scanConcepts(rows)
}

// GetConceptCount returns the total number of stored concepts.
func (p *Postgres) GetConceptCount(ctx context.Context) (int, error) {
	var count int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM concepts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("get concept count: %w", err)
	}
	return count, nil
}

func scanConcepts(rows pgx.Rows) ([]domain.Concept, error) {
	var out []domain.Concept
	for rows.Next() {
		var c domain.Concept
		var level string
		if err := rows.Scan(&c.ID, &c.Concept, &level, &c.Confidence, &c.Source, &c.SourceType, &c.ExtractedAt); err != nil {
			return nil, fmt.Errorf("scan concept: %w", err)
		}
		c.AbstractionLevel = domain.AbstractionLevel(level)
		out = append(out, c)
	}
	return out, rows.Err()
}
