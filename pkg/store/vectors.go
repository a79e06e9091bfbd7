package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/knowledgecore/pipeline/pkg/domain"
)

// StoreVectors writes vector embeddings into the unified vector_embeddings
// table, discriminated by vector_type, upserting on (text, vector_type).
func (p *Postgres) StoreVectors(ctx context.Context, vectors []domain.VectorEmbedding) error {
	if len(vectors) == 0 {
		return nil
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin store vectors tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, v := range vectors {
		if _, err := tx.Exec(ctx, `
			INSERT INTO vector_embeddings (id, vector_type, text, embedding, knowledge_triple_id, concept_node_id)
			VALUES (gen_random_uuid()::text, $1,$2,$3,$4,$5)
			ON CONFLICT (text, vector_type) DO UPDATE SET
				embedding = EXCLUDED.embedding,
				knowledge_triple_id = EXCLUDED.knowledge_triple_id,
				concept_node_id = EXCLUDED.concept_node_id
		`, string(v.VectorType), v.Text, v.Embedding.Literal(), nullableString(v.KnowledgeTripleID), nullableString(v.ConceptNodeID)); err != nil {
			return fmt.Errorf("upsert vector (%s, %s): %w", v.VectorType, v.Text, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit store vectors tx: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// VectorByText looks up the stored vector for an exact text and vector
// type. Used by the dedup handler's direct-embedder path.
func (p *Postgres) VectorByText(ctx context.Context, text string, vectorType domain.VectorType) (domain.Vector, bool, error) {
	var literal string
	err := p.pool.QueryRow(ctx, `
		SELECT embedding FROM vector_embeddings WHERE text = $1 AND vector_type = $2
	`, text, string(vectorType)).Scan(&literal)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("lookup vector by text: %w", err)
	}
	vec, err := domain.ParseVectorLiteral(literal)
	if err != nil {
		return nil, false, fmt.Errorf("parse stored vector literal: %w", err)
	}
	return vec, true, nil
}

// searchTriplesByVectorType loads every triple-owned vector of the given
// type, computes cosine similarity application-side, and returns the top-k
// scoring at or above minScore. This is the shared implementation behind
// SearchByEmbedding / SearchEntityByEmbedding / SearchRelationshipByEmbedding.
func (p *Postgres) searchTriplesByVectorType(ctx context.Context, vectorType domain.VectorType, vec domain.Vector, topK int, minScore float64, opts *SearchOptions) ([]ScoredTriple, error) {
	query := tripleSelectColumns + `, ve.embedding
		FROM knowledge_triples t
		JOIN vector_embeddings ve ON ve.knowledge_triple_id = t.id AND ve.vector_type = $1`
	args := []any{string(vectorType)}
	query, args = applyTripleFilters(query, args, opts, "t")

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search %s by embedding: %w", vectorType, err)
	}
	defer rows.Close()

	var scored []ScoredTriple
	for rows.Next() {
		var t domain.Triple
		var typ, literal string
		if err := rows.Scan(&t.ID, &t.Subject, &t.Predicate, &t.Object, &typ, &t.Source, &t.SourceType, &t.SourceDate, &t.ExtractedAt, &t.Confidence, &t.ProcessingBatchID, &literal); err != nil {
			return nil, fmt.Errorf("scan scored triple: %w", err)
		}
		t.Type = domain.TripleType(typ)

		candidate, err := domain.ParseVectorLiteral(literal)
		if err != nil {
			return nil, fmt.Errorf("parse candidate vector: %w", err)
		}
		score := domain.CosineSimilarity(vec, candidate)
		if score < minScore {
			continue
		}
		scored = append(scored, ScoredTriple{Triple: t, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// SearchByEmbedding searches SEMANTIC vectors by cosine similarity.
func (p *Postgres) SearchByEmbedding(ctx context.Context, vec domain.Vector, topK int, minScore float64, opts *SearchOptions) ([]ScoredTriple, error) {
	return p.searchTriplesByVectorType(ctx, domain.VectorTypeSemantic, vec, topK, minScore, opts)
}

// SearchEntityByEmbedding searches ENTITY vectors by cosine similarity.
func (p *Postgres) SearchEntityByEmbedding(ctx context.Context, vec domain.Vector, topK int, minScore float64, opts *SearchOptions) ([]ScoredTriple, error) {
	return p.searchTriplesByVectorType(ctx, domain.VectorTypeEntity, vec, topK, minScore, opts)
}

// SearchRelationshipByEmbedding searches RELATIONSHIP vectors by cosine similarity.
func (p *Postgres) SearchRelationshipByEmbedding(ctx context.Context, vec domain.Vector, topK int, minScore float64, opts *SearchOptions) ([]ScoredTriple, error) {
	return p.searchTriplesByVectorType(ctx, domain.VectorTypeRelationship, vec, topK, minScore, opts)
}

// SearchConceptsByEmbedding searches CONCEPT vectors by cosine similarity.
func (p *Postgres) SearchConceptsByEmbedding(ctx context.Context, vec domain.Vector, topK int, minScore float64) ([]ScoredConcept, error) {
	rows, err := p.pool.Query(ctx, conceptSelectColumns+`, ve.embedding
		FROM concepts c
		JOIN vector_embeddings ve ON ve.concept_node_id = c.id AND ve.vector_type = $1
	`, string(domain.VectorTypeConcept))
	if err != nil {
		return nil, fmt.Errorf("search concepts by embedding: %w", err)
	}
	defer rows.Close()

	var scored []ScoredConcept
	for rows.Next() {
		var c domain.Concept
		var level, literal string
		if err := rows.Scan(&c.ID, &c.Concept, &level, &c.Confidence, &c.Source, &c.SourceType, &c.ExtractedAt, &literal); err != nil {
			return nil, fmt.Errorf("scan scored concept: %w", err)
		}
		c.AbstractionLevel = domain.AbstractionLevel(level)

		candidate, err := domain.ParseVectorLiteral(literal)
		if err != nil {
			return nil, fmt.Errorf("parse candidate concept vector: %w", err)
		}
		score := domain.CosineSimilarity(vec, candidate)
		if score < minScore {
			continue
		}
		scored = append(scored, ScoredConcept{Concept: c, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// SearchByEntity is the substring fallback used when query embedding
// fails: it matches the query as a case-insensitive substring of the
// subject or object.
func (p *Postgres) SearchByEntity(ctx context.Context, q string, topK int, opts *SearchOptions) ([]domain.Triple, error) {
	query := tripleSelectColumns + ` FROM knowledge_triples t WHERE (t.subject ILIKE $1 OR t.object ILIKE $1)`
	args := []any{"%" + q + "%"}
	query, args = applyTripleFilters(query, args, opts, "t")
	query += fmt.Sprintf(" LIMIT %d", limitOrDefault(topK))
	return p.queryTriples(ctx, query, args...)
}

// SearchByRelationship is the substring fallback matching the query against
// the predicate.
func (p *Postgres) SearchByRelationship(ctx context.Context, q string, topK int, opts *SearchOptions) ([]domain.Triple, error) {
	query := tripleSelectColumns + ` FROM knowledge_triples t WHERE t.predicate ILIKE $1`
	args := []any{"%" + q + "%"}
	query, args = applyTripleFilters(query, args, opts, "t")
	query += fmt.Sprintf(" LIMIT %d", limitOrDefault(topK))
	return p.queryTriples(ctx, query, args...)
}

// SearchByConcept is the substring fallback matching the query against
// concept names.
func (p *Postgres) SearchByConcept(ctx context.Context, q string, topK int) ([]domain.Concept, error) {
	rows, err := p.pool.Query(ctx, conceptSelectColumns+` FROM concepts WHERE concept ILIKE $1 LIMIT $2`, "%"+q+"%", limitOrDefault(topK))
	if err != nil {
		return nil, fmt.Errorf("search by concept: %w", err)
	}
	defer rows.Close()
	return scanConcepts(rows)
}

func (p *Postgres) queryTriples(ctx context.Context, query string, args ...any) ([]domain.Triple, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query triples: %w", err)
	}
	defer rows.Close()
	return scanTriples(rows)
}

func limitOrDefault(topK int) int {
	if topK <= 0 {
		return 10
	}
	return topK
}

// applyTripleFilters appends the common SearchOptions (sources, types,
// temporal range) as additional WHERE clauses, returning the extended
// query and argument list.
func applyTripleFilters(query string, args []any, opts *SearchOptions, alias string) (string, []any) {
	if opts == nil {
		return query, args
	}
	var clauses []string

	if len(opts.Sources) > 0 {
		args = append(args, opts.Sources)
		clauses = append(clauses, fmt.Sprintf("%s.source = ANY($%d)", alias, len(args)))
	}
	if len(opts.Types) > 0 {
		typeStrs := make([]string, len(opts.Types))
		for i, t := range opts.Types {
			typeStrs[i] = string(t)
		}
		args = append(args, typeStrs)
		clauses = append(clauses, fmt.Sprintf("%s.type = ANY($%d)", alias, len(args)))
	}
	if opts.Temporal != nil {
		if opts.Temporal.FromDate != nil {
			args = append(args, *opts.Temporal.FromDate)
			clauses = append(clauses, fmt.Sprintf("%s.extracted_at >= $%d", alias, len(args)))
		}
		if opts.Temporal.ToDate != nil {
			args = append(args, *opts.Temporal.ToDate)
			clauses = append(clauses, fmt.Sprintf("%s.extracted_at <= $%d", alias, len(args)))
		}
		if w := opts.Temporal.Window; w != nil {
			interval := fmt.Sprintf("%d %s", w.Value, string(w.Unit))
			clauses = append(clauses, fmt.Sprintf("%s.extracted_at >= now() - interval '%s'", alias, interval))
		}
	}

	if len(clauses) == 0 {
		return query, args
	}

	connector := " AND "
	if !strings.Contains(strings.ToUpper(query), "WHERE") {
		connector = " WHERE "
	}
	return query + connector + strings.Join(clauses, " AND "), args
}
