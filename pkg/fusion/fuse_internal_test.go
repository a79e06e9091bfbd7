package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowledgecore/pipeline/pkg/config"
	"github.com/knowledgecore/pipeline/pkg/domain"
)

func tripleFixture(id string) domain.Triple {
	return domain.Triple{Subject: id, Predicate: "p", Object: "o", Type: domain.TripleTypeEntityEntity, Confidence: 0.9}
}

// TestFuse_DiversityBoostIsNonDecreasingInStrategyCount is a direct
// white-box check of testable property 4: holding each contributing
// strategy's position score fixed at 1.0, a triple found by more
// strategies never ranks below one found by fewer.
func TestFuse_DiversityBoostIsNonDecreasingInStrategyCount(t *testing.T) {
	weights := config.FusionWeights{Entity: 0.3, Relationship: 0.2, Semantic: 0.3, Concept: 0.2}
	opts := Options{TopK: 10, Weights: weights}

	oneStrategy := map[Strategy][]strategyHit{
		StrategyEntity: {{triple: tripleFixture("one")}},
	}
	twoStrategies := map[Strategy][]strategyHit{
		StrategyEntity:       {{triple: tripleFixture("two")}},
		StrategyRelationship: {{triple: tripleFixture("two")}},
	}
	threeStrategies := map[Strategy][]strategyHit{
		StrategyEntity:       {{triple: tripleFixture("three")}},
		StrategyRelationship: {{triple: tripleFixture("three")}},
		StrategySemantic:     {{triple: tripleFixture("three")}},
	}

	one := fuse(oneStrategy, opts)
	two := fuse(twoStrategies, opts)
	three := fuse(threeStrategies, opts)

	require.Len(t, one, 1)
	require.Len(t, two, 1)
	require.Len(t, three, 1)

	assert.LessOrEqual(t, one[0].Scores.Fusion, two[0].Scores.Fusion)
	assert.LessOrEqual(t, two[0].Scores.Fusion, three[0].Scores.Fusion)
}

func TestFuse_SortsDescendingByFusionScore(t *testing.T) {
	weights := config.FusionWeights{Entity: 1, Relationship: 1, Semantic: 1, Concept: 1}
	opts := Options{TopK: 10, Weights: weights}

	byStrategy := map[Strategy][]strategyHit{
		StrategyEntity: {
			{triple: tripleFixture("high")}, // ranked first by the strategy itself
			{triple: tripleFixture("low")},
		},
	}

	results := fuse(byStrategy, opts)
	require.Len(t, results, 2)
	assert.Equal(t, "high", results[0].Triple.Subject)
	assert.Equal(t, "low", results[1].Triple.Subject)
	assert.GreaterOrEqual(t, results[0].Scores.Fusion, results[1].Scores.Fusion)
}

func TestFuse_TopKTruncates(t *testing.T) {
	weights := config.FusionWeights{Entity: 1}
	opts := Options{TopK: 1, Weights: weights}

	byStrategy := map[Strategy][]strategyHit{
		StrategyEntity: {
			{triple: tripleFixture("a")},
			{triple: tripleFixture("b")},
		},
	}
	results := fuse(byStrategy, opts)
	assert.Len(t, results, 1)
}

func TestOptions_Enables_DefaultsToAllWhenUnset(t *testing.T) {
	var opts Options
	assert.True(t, opts.enables(StrategyEntity))
	assert.True(t, opts.enables(StrategyConcept))

	opts.EnabledStrategies = []Strategy{StrategyEntity}
	assert.True(t, opts.enables(StrategyEntity))
	assert.False(t, opts.enables(StrategyConcept))
}
