package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/knowledgecore/pipeline/pkg/domain"
)

// CheckExistingTriples returns the subset of ids already present in the store.
func (p *Postgres) CheckExistingTriples(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx, `SELECT id FROM knowledge_triples WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("check existing triples: %w", err)
	}
	defer rows.Close()

	var found []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan existing triple id: %w", err)
		}
		found = append(found, id)
	}
	return found, rows.Err()
}

// StoreTriples upserts triples by identity, merging confidence (max) and
// extracted_at (latest) on conflict, and maintains the element index.
// Returns the number of newly inserted rows.
func (p *Postgres) StoreTriples(ctx context.Context, triples []domain.Triple) (int, error) {
	if len(triples) == 0 {
		return 0, nil
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin store triples tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inserted, err := storeTriplesTx(ctx, tx, triples)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit store triples tx: %w", err)
	}
	return inserted, nil
}

func storeTriplesTx(ctx context.Context, tx pgx.Tx, triples []domain.Triple) (int, error) {
	inserted := 0
	for _, t := range triples {
		id := t.ID
		if id == "" {
			id = domain.TripleID(t.Subject, t.Predicate, t.Object, t.Type)
		}
		var wasInserted bool
		err := tx.QueryRow(ctx, `
			INSERT INTO knowledge_triples
				(id, subject, predicate, object, type, source, source_type, source_date, extracted_at, confidence, processing_batch_id)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (id) DO UPDATE SET
				confidence = GREATEST(knowledge_triples.confidence, EXCLUDED.confidence),
				extracted_at = GREATEST(knowledge_triples.extracted_at, EXCLUDED.extracted_at),
				processing_batch_id = EXCLUDED.processing_batch_id
			RETURNING (xmax = 0)
		`, id, t.Subject, t.Predicate, t.Object, string(t.Type), t.Source, t.SourceType, t.SourceDate, t.ExtractedAt, t.Confidence, t.ProcessingBatchID).Scan(&wasInserted)
		if err != nil {
			return inserted, fmt.Errorf("upsert triple %s: %w", id, err)
		}
		if wasInserted {
			inserted++
		}

		for _, element := range []string{t.Subject, t.Predicate, t.Object} {
			if _, err := tx.Exec(ctx, `
				INSERT INTO element_index (element, triple_id) VALUES ($1,$2)
				ON CONFLICT DO NOTHING
			`, element, id); err != nil {
				return inserted, fmt.Errorf("index element for triple %s: %w", id, err)
			}
		}
	}
	return inserted, nil
}

// DeleteTriples removes triples (and, via cascade, their owning vectors and
// element index rows) by id. Used by the dedup handler after merging.
func (p *Postgres) DeleteTriples(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := p.pool.Exec(ctx, `DELETE FROM knowledge_triples WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("delete triples: %w", err)
	}
	return nil
}

// GetAllTriples loads every stored triple. Spec §9 flags this as
// unscalable in the source system; callers should prefer
// GetTriplesByElements / GetTriplesBySource where possible.
func (p *Postgres) GetAllTriples(ctx context.Context) ([]domain.Triple, error) {
	rows, err := p.pool.Query(ctx, tripleSelectColumns+` FROM knowledge_triples`)
	if err != nil {
		return nil, fmt.Errorf("get all triples: %w", err)
	}
	defer rows.Close()
	return scanTriples(rows)
}

// GetTriplesByElements looks up every triple containing any of the given
// element strings as subject, predicate, or object, via the element index.
// This is the scalable substitute for GetAllTriples used by fusion search's
// concept strategy.
func (p *Postgres) GetTriplesByElements(ctx context.Context, elements []string) ([]domain.Triple, error) {
	if len(elements) == 0 {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx, tripleSelectColumns+`
		FROM knowledge_triples
		WHERE id IN (SELECT DISTINCT triple_id FROM element_index WHERE element = ANY($1))
	`, elements)
	if err != nil {
		return nil, fmt.Errorf("get triples by elements: %w", err)
	}
	defer rows.Close()
	return scanTriples(rows)
}

// GetTriplesBySource loads triples whose source matches sourcePrefix (with
// chunk-suffix wildcard) and source_type exactly, as used by the concept
// and dedup handlers.
func (p *Postgres) GetTriplesBySource(ctx context.Context, source, sourceType string) ([]domain.Triple, error) {
	rows, err := p.pool.Query(ctx, tripleSelectColumns+`
		FROM knowledge_triples
		WHERE source LIKE $1 AND source_type = $2
	`, source+"%", sourceType)
	if err != nil {
		return nil, fmt.Errorf("get triples by source: %w", err)
	}
	defer rows.Close()
	return scanTriples(rows)
}

// GetTripleCount returns the total number of stored triples.
func (p *Postgres) GetTripleCount(ctx context.Context) (int, error) {
	var count int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM knowledge_triples`).Scan(&count); err != nil {
		return 0, fmt.Errorf("get triple count: %w", err)
	}
	return count, nil
}

// GetTripleCountByType returns the number of stored triples of a given type.
func (p *Postgres) GetTripleCountByType(ctx context.Context, typ domain.TripleType) (int, error) {
	var count int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM knowledge_triples WHERE type = $1`, string(typ)).Scan(&count); err != nil {
		return 0, fmt.Errorf("get triple count by type: %w", err)
	}
	return count, nil
}

const tripleSelectColumns = `SELECT id, subject, predicate, object, type, source, source_type, source_date, extracted_at, confidence, processing_batch_id`

func scanTriples(rows pgx.Rows) ([]domain.Triple, error) {
	var out []domain.Triple
	for rows.Next() {
		var t domain.Triple
		var typ string
		if err := rows.Scan(&t.ID, &t.Subject, &t.Predicate, &t.Object, &typ, &t.Source, &t.SourceType, &t.SourceDate, &t.ExtractedAt, &t.Confidence, &t.ProcessingBatchID); err != nil {
			return nil, fmt.Errorf("scan triple: %w", err)
		}
		t.Type = domain.TripleType(typ)
		out = append(out, t)
	}
	return out, rows.Err()
}
