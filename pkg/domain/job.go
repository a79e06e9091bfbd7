package domain

import "time"

// JobType classifies the unit of background work a ProcessingJob performs.
type JobType string

const (
	JobTypeProcessKnowledge      JobType = "PROCESS_KNOWLEDGE"
	JobTypeExtractKnowledgeBatch JobType = "EXTRACT_KNOWLEDGE_BATCH"
	JobTypeGenerateConcepts      JobType = "GENERATE_CONCEPTS"
	JobTypeDeduplicateKnowledge  JobType = "DEDUPLICATE_KNOWLEDGE"
)

// JobStage identifies which pipeline stage a child job belongs to. A parent
// job has an empty stage.
type JobStage string

const (
	StageExtraction    JobStage = "EXTRACTION"
	StageConcepts      JobStage = "CONCEPTS"
	StageDeduplication JobStage = "DEDUPLICATION"
)

// JobStatus is the lifecycle state of a ProcessingJob.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "QUEUED"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// Terminal reports whether s is a terminal status (COMPLETED or FAILED).
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ResourceLimits overrides the resource manager's per-job admission
// defaults. Zero values mean "use the process default".
type ResourceLimits struct {
	MaxAICalls     int `json:"maxAICalls,omitempty"`
	MaxConnections int `json:"maxConnections,omitempty"`
}

// JobMetadata carries the source fields a job was created with, plus
// optional per-job overrides and metrics accumulated across stages.
type JobMetadata struct {
	Source     string     `json:"source"`
	SourceType string     `json:"sourceType"`
	SourceDate *time.Time `json:"sourceDate,omitempty"`

	ResourceLimits *ResourceLimits `json:"resourceLimits,omitempty"`

	// ExtractionMethod selects how the extraction handler calls the
	// oracle: "single-pass" (one structured call for all four triple
	// types) or "four-stage" (one call per type, unioned). Empty means
	// "single-pass".
	ExtractionMethod string `json:"extractionMethod,omitempty"`

	ExtractionStats *ExtractionStats `json:"extractionStats,omitempty"`
}

// ExtractionMethod constants, see JobMetadata.ExtractionMethod.
const (
	ExtractionMethodSinglePass = "single-pass"
	ExtractionMethodFourStage  = "four-stage"
)

// ExtractionStats records the extraction handler's output metrics, carried
// forward on the metadata so schedulePostProcessing can compute delays and
// downstream handlers can report them.
type ExtractionStats struct {
	ProcessingTimeMS    int64   `json:"processingTimeMs"`
	ChunksProcessed     int     `json:"chunksProcessed"`
	TriplesStored       int     `json:"triplesStored"`
	ConceptsStored      int     `json:"conceptsStored"`
	VectorsGenerated    int     `json:"vectorsGenerated"`
	EmbeddingEfficiency float64 `json:"embeddingEfficiency"`
	OrphanRate          float64 `json:"orphanRate"`
}

// JobResult is the outcome a handler returns to the router.
type JobResult struct {
	Success bool      `json:"success"`
	Data    *JobData  `json:"data,omitempty"`
	Error   *JobError `json:"error,omitempty"`
}

// JobData is the success payload of a JobResult.
type JobData struct {
	TriplesStored    int     `json:"triplesStored"`
	ConceptsStored   int     `json:"conceptsStored"`
	VectorsGenerated int     `json:"vectorsGenerated"`
	ChunksProcessed  int     `json:"chunksProcessed"`
	DuplicatesSkipped int    `json:"duplicatesSkipped,omitempty"`
	Message          string  `json:"message,omitempty"`
	Metrics          *ExtractionStats `json:"metrics,omitempty"`
}

// JobError is the failure payload of a JobResult, carrying the error
// taxonomy operation and an optional wrapped cause.
type JobError struct {
	Operation string `json:"operation"`
	Message   string `json:"message"`
	Cause     string `json:"cause,omitempty"`
}

// ProcessingJob is a unit of background work: either a parent (Stage
// empty) or a child (Stage set, ParentJobID set).
type ProcessingJob struct {
	ID           string
	JobType      JobType
	ParentJobID  string
	Stage        JobStage
	Text         string
	Metadata     JobMetadata
	Status       JobStatus
	Progress     int
	Metrics      *ExtractionStats
	Result       *JobResult
	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	UpdatedAt    time.Time
}

// IsParent reports whether j is a parent job (no stage, no parent id).
func (j ProcessingJob) IsParent() bool {
	return j.Stage == "" && j.ParentJobID == ""
}

// ClampProgress clamps p to [0,100].
func ClampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
