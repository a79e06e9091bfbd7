package config

// ResourceConfig bounds admission into the LLM oracle and the database,
// enforced by pkg/resource.Manager.
type ResourceConfig struct {
	// MaxAICalls is the default number of concurrent withAI permits.
	// Jobs may override this via metadata.resourceLimits.maxAICalls.
	MaxAICalls int `yaml:"max_ai_calls" validate:"min=0"`

	// MaxConnections is the default number of concurrent withDatabase permits.
	MaxConnections int `yaml:"max_connections" validate:"min=0"`

	// MemoryWarnThresholdMB is compared against the Go heap allocation
	// (runtime.MemStats.Alloc) when the resource manager reports its
	// status. Advisory only; the resource manager does not enforce it.
	MemoryWarnThresholdMB int `yaml:"memory_warn_threshold_mb"`
}

// DefaultResourceConfig returns the built-in resource defaults.
func DefaultResourceConfig() *ResourceConfig {
	return &ResourceConfig{
		MaxAICalls:            4,
		MaxConnections:        2,
		MemoryWarnThresholdMB: 1024,
	}
}

// DedupConfig controls the semantic deduplication pass.
type DedupConfig struct {
	// SemanticEnabled turns on the pairwise cosine-similarity merge step.
	SemanticEnabled bool `yaml:"semantic_enabled"`

	// SimilarityThreshold is the cosine similarity above which two triples
	// are considered duplicates during the semantic pass.
	SimilarityThreshold float64 `yaml:"similarity_threshold" validate:"min=0,max=1"`
}

// DefaultDedupConfig returns the built-in dedup defaults.
func DefaultDedupConfig() *DedupConfig {
	return &DedupConfig{
		SemanticEnabled:     true,
		SimilarityThreshold: 0.85,
	}
}

// FusionConfig controls the weighted rank-fusion search.
type FusionConfig struct {
	// TopK is the number of results returned per search, and per contributing index.
	TopK int `yaml:"top_k" validate:"min=1"`

	// MinScore is the minimum cosine score for a vector to contribute to a result set.
	MinScore float64 `yaml:"min_score" validate:"min=0,max=1"`

	// Weights assigns a contribution weight to each search strategy.
	Weights FusionWeights `yaml:"weights"`
}

// FusionWeights weights each of the four fusion-search strategies.
type FusionWeights struct {
	Entity       float64 `yaml:"entity"`
	Relationship float64 `yaml:"relationship"`
	Semantic     float64 `yaml:"semantic"`
	Concept      float64 `yaml:"concept"`
}

// DefaultFusionConfig returns the built-in fusion search defaults.
func DefaultFusionConfig() *FusionConfig {
	return &FusionConfig{
		TopK:     10,
		MinScore: 0.7,
		Weights: FusionWeights{
			Entity:       0.3,
			Relationship: 0.2,
			Semantic:     0.3,
			Concept:      0.2,
		},
	}
}
