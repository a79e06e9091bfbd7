package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/knowledgecore/pipeline/pkg/domain"
	"github.com/knowledgecore/pipeline/pkg/embedding"
	"github.com/knowledgecore/pipeline/pkg/oracle"
	"github.com/knowledgecore/pipeline/pkg/pipelineerr"
	"github.com/knowledgecore/pipeline/pkg/store"
)

// ConceptHandler implements the Concept Generation Handler (spec §4.3): it
// buckets a source's triples by entity/event/relation role, asks the
// oracle once for abstractions covering all buckets, and stores the
// resulting concepts and conceptualization links.
type ConceptHandler struct {
	caps Capabilities
	log  *slog.Logger
}

// NewConceptHandler builds a ConceptHandler.
func NewConceptHandler(caps Capabilities) *ConceptHandler {
	return &ConceptHandler{caps: caps, log: slog.With("component", "concept_handler")}
}

type rawConcept struct {
	Concept          string  `json:"concept"`
	AbstractionLevel string  `json:"abstraction_level"`
	Confidence       float64 `json:"confidence"`
}

type rawRelationship struct {
	SourceElement string  `json:"source_element"`
	EntityType    string  `json:"entity_type"`
	Concept       string  `json:"concept"`
	Confidence    float64 `json:"confidence"`
}

type conceptPayload struct {
	Concepts      []rawConcept       `json:"concepts"`
	Relationships []rawRelationship  `json:"relationships"`
}

func conceptSchema() oracle.Schema {
	return oracle.Schema{
		Name:        "concept_generation",
		Description: "Abstract higher-level concepts from a set of entities, events, and relations.",
		Document: json.RawMessage(`{
			"type": "object",
			"properties": {
				"concepts": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"concept": {"type": "string"},
							"abstraction_level": {"type": "string", "enum": ["LOW", "MEDIUM", "HIGH"]},
							"confidence": {"type": "number"}
						},
						"required": ["concept", "abstraction_level", "confidence"]
					}
				},
				"relationships": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"source_element": {"type": "string"},
							"entity_type": {"type": "string", "enum": ["ENTITY", "EVENT", "RELATION"]},
							"concept": {"type": "string"},
							"confidence": {"type": "number"}
						},
						"required": ["source_element", "entity_type", "concept", "confidence"]
					}
				}
			},
			"required": ["concepts", "relationships"]
		}`),
		Required: []string{"concepts", "relationships"},
	}
}

// buckets collects the unique entity, event, and relation strings present
// across a source's triples, and which triple ids each element appears in.
type buckets struct {
	entities map[string][]string
	events   map[string][]string
	relations map[string][]string
}

func bucketTriples(triples []domain.Triple) buckets {
	b := buckets{
		entities:  make(map[string][]string),
		events:    make(map[string][]string),
		relations: make(map[string][]string),
	}
	add := func(set map[string][]string, element, tripleID string) {
		if element == "" {
			return
		}
		set[element] = append(set[element], tripleID)
	}

	for _, t := range triples {
		add(b.relations, t.Predicate, t.ID)
		switch t.Type {
		case domain.TripleTypeEntityEntity:
			add(b.entities, t.Subject, t.ID)
			add(b.entities, t.Object, t.ID)
		case domain.TripleTypeEntityEvent:
			add(b.entities, t.Subject, t.ID)
			add(b.events, t.Object, t.ID)
		case domain.TripleTypeEventEvent:
			add(b.events, t.Subject, t.ID)
			add(b.events, t.Object, t.ID)
		case domain.TripleTypeEmotionalContext:
			add(b.entities, t.Subject, t.ID)
			add(b.events, t.Object, t.ID)
		}
	}
	return b
}

func conceptPrompt(b buckets) string {
	var sb strings.Builder
	sb.WriteString("Given the following entities, events, and relations, propose higher-level concepts each participates in.\n\n")
	sb.WriteString("Entities: " + strings.Join(keys(b.entities), ", ") + "\n")
	sb.WriteString("Events: " + strings.Join(keys(b.events), ", ") + "\n")
	sb.WriteString("Relations: " + strings.Join(keys(b.relations), ", ") + "\n")
	return sb.String()
}

func keys(m map[string][]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// Execute runs concept generation for a single job.
func (h *ConceptHandler) Execute(ctx context.Context, job domain.ProcessingJob) domain.JobResult {
	source, sourceType := job.Metadata.Source, job.Metadata.SourceType

	existing, err := h.caps.Store.GetConceptsBySource(ctx, source, sourceType)
	if err != nil {
		return failureResult(pipelineerr.OpDatabaseError, "checking existing concepts", err)
	}
	if len(existing) > 0 {
		return domain.JobResult{
			Success: true,
			Data:    &domain.JobData{Message: "Concepts already generated"},
		}
	}

	if _, err := h.caps.Coordinator.UpdateProgress(ctx, job.ID, 10, nil); err != nil {
		h.log.Warn("failed to update progress", "job_id", job.ID, "error", err)
	}

	triples, err := h.caps.Store.GetTriplesBySource(ctx, source, sourceType)
	if err != nil {
		return failureResult(pipelineerr.OpDatabaseError, "loading triples for concept generation", err)
	}
	if len(triples) == 0 {
		return domain.JobResult{Success: true, Data: &domain.JobData{Message: "no triples to conceptualize"}}
	}

	b := bucketTriples(triples)

	resources := h.caps.Resources.WithLimits(resourceLimits(job.Metadata))
	var gen oracle.Generation
	err = resources.WithAI(ctx, func(ctx context.Context) error {
		var err error
		gen, err = h.caps.Oracle.GenerateObject(ctx, conceptPrompt(b), conceptSchema(), oracle.Options{})
		return err
	})
	if err != nil {
		return failureResult(pipelineerr.OpAIExtraction, "generating concepts", err)
	}

	cleaned := oracle.StripCodeFences(string(gen.Data))
	var payload conceptPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return failureResult(pipelineerr.OpParseError, "parsing concept payload", err)
	}

	if _, err := h.caps.Coordinator.UpdateProgress(ctx, job.ID, 60, nil); err != nil {
		h.log.Warn("failed to update progress", "job_id", job.ID, "error", err)
	}

	now := time.Now()
	concepts := make([]domain.Concept, 0, len(payload.Concepts))
	for _, c := range payload.Concepts {
		if c.Concept == "" || c.Confidence < 0 || c.Confidence > 1 {
			continue
		}
		level := domain.AbstractionLevel(c.AbstractionLevel)
		switch level {
		case domain.AbstractionLow, domain.AbstractionMedium, domain.AbstractionHigh:
		default:
			continue
		}
		concepts = append(concepts, domain.Concept{
			Concept:          c.Concept,
			AbstractionLevel: level,
			Confidence:       c.Confidence,
			Source:           source,
			SourceType:       sourceType,
			ExtractedAt:      now,
		}.WithID())
	}

	links := make([]domain.ConceptualizationLink, 0, len(payload.Relationships))
	for _, r := range payload.Relationships {
		if r.SourceElement == "" || r.Concept == "" {
			continue
		}
		entityType := domain.EntityType(r.EntityType)
		var contextTriples []string
		switch entityType {
		case domain.EntityTypeEntity:
			contextTriples = b.entities[r.SourceElement]
		case domain.EntityTypeEvent:
			contextTriples = b.events[r.SourceElement]
		case domain.EntityTypeRelation:
			contextTriples = b.relations[r.SourceElement]
		default:
			continue
		}
		links = append(links, domain.ConceptualizationLink{
			SourceElement:  r.SourceElement,
			EntityType:     entityType,
			Concept:        r.Concept,
			Confidence:     r.Confidence,
			ContextTriples: contextTriples,
			Source:         source,
			SourceType:     sourceType,
			ExtractedAt:    now,
		})
	}

	embMap, err := embedding.BuildMap(ctx, nil, concepts, h.caps.Embedder, false)
	if err != nil {
		return failureResult(pipelineerr.OpEmbeddingGeneration, "embedding concept names", err)
	}

	var batchResult store.BatchResult
	if err := resources.WithDatabase(ctx, func(ctx context.Context) error {
		var err error
		batchResult, err = h.caps.Store.BatchStoreKnowledge(ctx, store.BatchKnowledge{
			Concepts:           concepts,
			Conceptualizations: links,
			Embeddings:         embMap.Embeddings,
		})
		return err
	}); err != nil {
		return failureResult(pipelineerr.OpBatchStorage, "storing concepts", err)
	}

	return domain.JobResult{
		Success: true,
		Data: &domain.JobData{
			ConceptsStored:   batchResult.ConceptsStored,
			VectorsGenerated: embMap.Stats.UniqueTexts,
		},
	}
}
