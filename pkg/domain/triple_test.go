package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTripleID_DeterministicAndDistinct(t *testing.T) {
	id1 := TripleID("John", "works at", "Tech Corp", TripleTypeEntityEntity)
	id2 := TripleID("John", "works at", "Tech Corp", TripleTypeEntityEntity)
	assert.Equal(t, id1, id2)

	id3 := TripleID("John", "works at", "Acme", TripleTypeEntityEntity)
	assert.NotEqual(t, id1, id3)
}

func TestTriple_Valid(t *testing.T) {
	valid := Triple{Subject: "John", Predicate: "works at", Object: "Tech Corp", Type: TripleTypeEntityEntity, Confidence: 0.9}
	assert.True(t, valid.Valid())

	missingSubject := valid
	missingSubject.Subject = ""
	assert.False(t, missingSubject.Valid())

	badConfidence := valid
	badConfidence.Confidence = 1.5
	assert.False(t, badConfidence.Valid())

	badType := valid
	badType.Type = "BOGUS"
	assert.False(t, badType.Valid())
}

func TestMergeTriple_MaxConfidenceLatestExtractedAt(t *testing.T) {
	older := time.Now().Add(-time.Hour)
	newer := time.Now()

	existing := Triple{Confidence: 0.6, ExtractedAt: newer}
	incoming := Triple{Confidence: 0.9, ExtractedAt: older}

	merged := MergeTriple(existing, incoming)
	assert.Equal(t, 0.9, merged.Confidence)
	assert.Equal(t, newer, merged.ExtractedAt)
}

func TestTriple_SemanticText(t *testing.T) {
	tr := Triple{Subject: "John", Predicate: "works at", Object: "Tech Corp"}
	assert.Equal(t, "John works at Tech Corp", tr.SemanticText())
}

func TestTriple_WithID(t *testing.T) {
	tr := Triple{Subject: "John", Predicate: "works at", Object: "Tech Corp", Type: TripleTypeEntityEntity}
	withID := tr.WithID()
	assert.Equal(t, TripleID("John", "works at", "Tech Corp", TripleTypeEntityEntity), withID.ID)
}
