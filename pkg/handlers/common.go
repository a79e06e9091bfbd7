// Package handlers implements the three stage handlers the job router
// dispatches to: batch extraction (C8), concept generation (C9), and
// post-hoc semantic deduplication (C10).
package handlers

import (
	"encoding/json"
	"time"

	"github.com/knowledgecore/pipeline/pkg/breaker"
	"github.com/knowledgecore/pipeline/pkg/config"
	"github.com/knowledgecore/pipeline/pkg/coordinator"
	"github.com/knowledgecore/pipeline/pkg/domain"
	"github.com/knowledgecore/pipeline/pkg/embedder"
	"github.com/knowledgecore/pipeline/pkg/oracle"
	"github.com/knowledgecore/pipeline/pkg/resource"
	"github.com/knowledgecore/pipeline/pkg/store"
)

// Capabilities is the explicit context record every handler is built from,
// per spec §9: no process-wide singletons, just the configured adapters a
// handler needs.
type Capabilities struct {
	Store       store.Adapter
	Oracle      oracle.Oracle
	Embedder    embedder.Embedder
	Resources   *resource.Manager
	Breakers    *breaker.Registry
	Coordinator *coordinator.Coordinator
	Dedup       config.DedupConfig
}

// extractedTriple is the wire shape the oracle is asked to produce for a
// single triple observation.
type extractedTriple struct {
	Subject         string  `json:"subject"`
	Predicate       string  `json:"predicate"`
	Object          string  `json:"object"`
	Type            string  `json:"type"`
	Confidence      float64 `json:"confidence"`
	SemanticContent string  `json:"semantic_content"`
	SourceContext   string  `json:"source_context"`
}

type extractionPayload struct {
	Triples []extractedTriple `json:"triples"`
}

// parseExtractionPayload strips any Markdown code fence the oracle left on
// its raw output, then parses it as an extractionPayload (spec §4.2 step
// 4). A malformed payload is reported as a parse error to the caller.
func parseExtractionPayload(data json.RawMessage) (extractionPayload, error) {
	cleaned := oracle.StripCodeFences(string(data))
	var payload extractionPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return extractionPayload{}, err
	}
	return payload, nil
}

// toDomainTriples converts and validates the oracle's raw triples,
// dropping any with an empty text field or an out-of-range confidence,
// and stamping source/sourceType/extractedAt.
func toDomainTriples(raw []extractedTriple, source, sourceType string, sourceDate *time.Time, extractedAt time.Time, batchID string) []domain.Triple {
	out := make([]domain.Triple, 0, len(raw))
	for _, r := range raw {
		t := domain.Triple{
			Subject:           r.Subject,
			Predicate:         r.Predicate,
			Object:            r.Object,
			Type:              domain.TripleType(r.Type),
			Source:            source,
			SourceType:        sourceType,
			SourceDate:        sourceDate,
			ExtractedAt:       extractedAt,
			Confidence:        r.Confidence,
			ProcessingBatchID: batchID,
		}
		if !t.Valid() {
			continue
		}
		out = append(out, t.WithID())
	}
	return out
}

// extractionSchema describes the structured object the oracle must return
// for a single extraction call: a list of triples.
func extractionSchema(name string) oracle.Schema {
	return oracle.Schema{
		Name:        name,
		Description: "Extract semantic triples (subject, predicate, object) from the given text.",
		Document: json.RawMessage(`{
			"type": "object",
			"properties": {
				"triples": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"subject": {"type": "string"},
							"predicate": {"type": "string"},
							"object": {"type": "string"},
							"type": {"type": "string", "enum": ["ENTITY_ENTITY", "ENTITY_EVENT", "EVENT_EVENT", "EMOTIONAL_CONTEXT"]},
							"confidence": {"type": "number"},
							"semantic_content": {"type": "string"},
							"source_context": {"type": "string"}
						},
						"required": ["subject", "predicate", "object", "type", "confidence"]
					}
				}
			},
			"required": ["triples"]
		}`),
		Required: []string{"triples"},
	}
}

func resourceLimits(meta domain.JobMetadata) *domain.ResourceLimits {
	return meta.ResourceLimits
}
