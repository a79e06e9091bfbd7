// Package pipelineerr defines the operation taxonomy every handler reports
// on failure, mirroring the config package's wrapper-error shape.
package pipelineerr

import "fmt"

// Operation identifies which stage of the pipeline produced an error.
type Operation string

const (
	OpParseError          Operation = "parse_error"
	OpAIExtraction        Operation = "ai_extraction"
	OpEmbeddingGeneration Operation = "embedding_generation"
	OpBatchStorage        Operation = "batch_storage"
	OpVectorStorage       Operation = "vector_storage_error"
	OpDeduplication       Operation = "deduplication_error"
	OpBatchExtraction     Operation = "batch_extraction"
	OpPipelineInitiation  Operation = "pipeline_initiation"
	OpSearchError         Operation = "search_error"
	OpFusionSearchError   Operation = "fusion_search_error"
	OpDatabaseError       Operation = "database_error"
)

// StageError is the Result-shaped error every handler step returns instead
// of propagating a raw error across the router boundary.
type StageError struct {
	Operation Operation
	Message   string
	Cause     error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Operation, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *StageError) Unwrap() error {
	return e.Cause
}

// New creates a StageError with no cause.
func New(op Operation, message string) *StageError {
	return &StageError{Operation: op, Message: message}
}

// Wrap creates a StageError wrapping an underlying cause.
func Wrap(op Operation, message string, cause error) *StageError {
	return &StageError{Operation: op, Message: message, Cause: cause}
}
