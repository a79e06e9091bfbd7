package config

import "fmt"

// Validate runs every sub-config's validation fail-fast, returning the
// first error encountered wrapped in ErrValidationFailed.
func (c *Config) Validate() error {
	if err := c.Queue.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	if c.Resource.MaxAICalls < 0 {
		return fmt.Errorf("%w: %v", ErrValidationFailed, NewValidationError("resource", "max_ai_calls", ErrInvalidValue))
	}
	if c.Resource.MaxConnections < 0 {
		return fmt.Errorf("%w: %v", ErrValidationFailed, NewValidationError("resource", "max_connections", ErrInvalidValue))
	}
	if c.Dedup.SimilarityThreshold < 0 || c.Dedup.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: %v", ErrValidationFailed, NewValidationError("dedup", "similarity_threshold", ErrInvalidValue))
	}
	if c.Fusion.TopK < 1 {
		return fmt.Errorf("%w: %v", ErrValidationFailed, NewValidationError("fusion", "top_k", ErrInvalidValue))
	}
	if c.Fusion.MinScore < 0 || c.Fusion.MinScore > 1 {
		return fmt.Errorf("%w: %v", ErrValidationFailed, NewValidationError("fusion", "min_score", ErrInvalidValue))
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("%w: %v", ErrValidationFailed, NewValidationError("store", "dsn", ErrMissingRequiredField))
	}
	if c.Store.VectorDimension < 1 {
		return fmt.Errorf("%w: %v", ErrValidationFailed, NewValidationError("store", "vector_dimension", ErrInvalidValue))
	}
	if c.Embedder.Dimension != c.Store.VectorDimension {
		return fmt.Errorf("%w: %v", ErrValidationFailed,
			NewValidationError("embedder", "dimension", fmt.Errorf("embedder dimension %d does not match store vector dimension %d", c.Embedder.Dimension, c.Store.VectorDimension)))
	}
	if c.Oracle.Provider == "http" && c.Oracle.BaseURL == "" {
		return fmt.Errorf("%w: %v", ErrValidationFailed, NewValidationError("oracle", "base_url", ErrMissingRequiredField))
	}
	if c.TaskQueue.Addr == "" {
		return fmt.Errorf("%w: %v", ErrValidationFailed, NewValidationError("task_queue", "addr", ErrMissingRequiredField))
	}
	return nil
}
