// Package domain defines the persistent entities of the knowledge graph:
// triples, concepts, conceptualization links, vector embeddings, and
// processing jobs, along with their deterministic identity schemes.
package domain

import (
	"encoding/base64"
	"strings"
	"time"
)

// TripleType classifies the semantic relation a Triple expresses.
type TripleType string

const (
	TripleTypeEntityEntity     TripleType = "ENTITY_ENTITY"
	TripleTypeEntityEvent      TripleType = "ENTITY_EVENT"
	TripleTypeEventEvent       TripleType = "EVENT_EVENT"
	TripleTypeEmotionalContext TripleType = "EMOTIONAL_CONTEXT"
)

// Triple is a directed semantic relation extracted from source text.
type Triple struct {
	ID                string
	Subject           string
	Predicate         string
	Object            string
	Type              TripleType
	Source            string
	SourceType        string
	SourceDate        *time.Time
	ExtractedAt       time.Time
	Confidence        float64
	ProcessingBatchID string
}

// SemanticText returns the "{subject} {predicate} {object}" string used as
// the embedding target for the triple's SEMANTIC vector.
func (t Triple) SemanticText() string {
	return t.Subject + " " + t.Predicate + " " + t.Object
}

// TripleID computes the deterministic identity of a triple: the base64
// encoding of "subject|predicate|object|type". Two observations of the same
// relation always collide on this id, which is what makes storage upserts
// idempotent across replays.
func TripleID(subject, predicate, object string, typ TripleType) string {
	raw := strings.Join([]string{subject, predicate, object, string(typ)}, "|")
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// WithID returns a copy of t with ID set from its deterministic identity.
func (t Triple) WithID() Triple {
	t.ID = TripleID(t.Subject, t.Predicate, t.Object, t.Type)
	return t
}

// Valid reports whether t satisfies the invariants from the data model: all
// three text fields non-empty, a known type, and confidence in [0,1].
func (t Triple) Valid() bool {
	if t.Subject == "" || t.Predicate == "" || t.Object == "" {
		return false
	}
	if t.Confidence < 0 || t.Confidence > 1 {
		return false
	}
	switch t.Type {
	case TripleTypeEntityEntity, TripleTypeEntityEvent, TripleTypeEventEvent, TripleTypeEmotionalContext:
		return true
	default:
		return false
	}
}

// MergeTriple combines two observations of the same identity: the merged
// confidence is the max of the two, and the merged extracted_at is the
// latest. All other fields are taken from the incoming observation.
func MergeTriple(existing, incoming Triple) Triple {
	merged := incoming
	if existing.Confidence > merged.Confidence {
		merged.Confidence = existing.Confidence
	}
	if existing.ExtractedAt.After(merged.ExtractedAt) {
		merged.ExtractedAt = existing.ExtractedAt
	}
	return merged
}
