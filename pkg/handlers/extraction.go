package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/knowledgecore/pipeline/pkg/breaker"
	"github.com/knowledgecore/pipeline/pkg/chunk"
	"github.com/knowledgecore/pipeline/pkg/dedup"
	"github.com/knowledgecore/pipeline/pkg/domain"
	"github.com/knowledgecore/pipeline/pkg/embedding"
	"github.com/knowledgecore/pipeline/pkg/oracle"
	"github.com/knowledgecore/pipeline/pkg/pipelineerr"
	"github.com/knowledgecore/pipeline/pkg/resource"
	"github.com/knowledgecore/pipeline/pkg/store"
)

// ExtractionHandler implements the Batch Extraction Handler (spec §4.2):
// chunk the source text, extract triples per chunk under bounded
// concurrency and a per-source circuit breaker, merge, embed, deduplicate,
// and store atomically.
type ExtractionHandler struct {
	caps Capabilities
	log  *slog.Logger
}

// NewExtractionHandler builds an ExtractionHandler.
func NewExtractionHandler(caps Capabilities) *ExtractionHandler {
	return &ExtractionHandler{caps: caps, log: slog.With("component", "extraction_handler")}
}

type chunkOutcome struct {
	index    int
	triples  []domain.Triple
	parseErr bool
	err      error
}

// Execute runs the full extraction algorithm for a single job.
func (h *ExtractionHandler) Execute(ctx context.Context, job domain.ProcessingJob) domain.JobResult {
	start := time.Now()

	chunks := chunk.Split(job.Text, job.Metadata.Source)

	if _, err := h.caps.Coordinator.UpdateProgress(ctx, job.ID, 10, nil); err != nil {
		h.log.Warn("failed to update progress", "job_id", job.ID, "error", err)
	}

	resources := h.caps.Resources.WithLimits(resourceLimits(job.Metadata))

	outcomes := h.extractAll(ctx, chunks, job, resources)

	chunksProcessed := 0
	parseOnlyFailures := true
	var allTriples []domain.Triple
	for _, o := range outcomes {
		if o.err != nil {
			if !o.parseErr {
				parseOnlyFailures = false
			}
			continue
		}
		chunksProcessed++
		allTriples = append(allTriples, o.triples...)
	}

	if chunksProcessed == 0 && len(chunks) > 0 {
		op := pipelineerr.OpBatchExtraction
		if parseOnlyFailures {
			op = pipelineerr.OpParseError
		}
		return failureResult(op, "no chunk produced usable triples", firstError(outcomes))
	}

	if _, err := h.caps.Coordinator.UpdateProgress(ctx, job.ID, 80, nil); err != nil {
		h.log.Warn("failed to update progress", "job_id", job.ID, "error", err)
	}

	embMap, err := embedding.BuildMap(ctx, allTriples, nil, h.caps.Embedder, true)
	if err != nil {
		return failureResult(pipelineerr.OpEmbeddingGeneration, "building embedding map", err)
	}

	dedupEngine := dedup.New(h.caps.Dedup.SemanticEnabled, h.caps.Dedup.SimilarityThreshold)
	dedupResult := dedupEngine.Deduplicate(allTriples, embMap.Embeddings)

	batch := store.BatchKnowledge{
		Triples:    dedupResult.UniqueTriples,
		Embeddings: embMap.Embeddings,
	}

	var batchResult store.BatchResult
	if err := resources.WithDatabase(ctx, func(ctx context.Context) error {
		var err error
		batchResult, err = h.caps.Store.BatchStoreKnowledge(ctx, batch)
		return err
	}); err != nil {
		return failureResult(pipelineerr.OpBatchStorage, "storing extracted knowledge", err)
	}

	if _, err := h.caps.Coordinator.UpdateProgress(ctx, job.ID, 95, nil); err != nil {
		h.log.Warn("failed to update progress", "job_id", job.ID, "error", err)
	}

	efficiency := 0.0
	if embMap.Stats.TotalTexts > 0 {
		efficiency = float64(embMap.Stats.DuplicatesAverted) / float64(embMap.Stats.TotalTexts)
	}

	metrics := &domain.ExtractionStats{
		ProcessingTimeMS:    time.Since(start).Milliseconds(),
		ChunksProcessed:     chunksProcessed,
		TriplesStored:       batchResult.TriplesStored,
		VectorsGenerated:    embMap.Stats.UniqueTexts,
		EmbeddingEfficiency: efficiency,
		OrphanRate:          orphanRate(allTriples, dedupResult.UniqueTriples),
	}

	if job.ParentJobID != "" {
		if err := h.caps.Coordinator.SchedulePostProcessing(ctx, job.ParentJobID, metrics); err != nil {
			h.log.Warn("failed to schedule post-processing stages", "parent_id", job.ParentJobID, "error", err)
		}
	}

	return domain.JobResult{
		Success: true,
		Data: &domain.JobData{
			TriplesStored:     batchResult.TriplesStored,
			VectorsGenerated:  embMap.Stats.UniqueTexts,
			ChunksProcessed:   chunksProcessed,
			DuplicatesSkipped: dedupResult.DuplicatesRemoved,
			Metrics:           metrics,
		},
	}
}

// extractAll runs one extraction per chunk concurrently, bounded by the
// resource manager's AI-call permits, collecting partial successes rather
// than canceling the whole batch on a single chunk's failure.
func (h *ExtractionHandler) extractAll(ctx context.Context, chunks []chunk.Chunk, job domain.ProcessingJob, resources *resource.Manager) []chunkOutcome {
	outcomes := make([]chunkOutcome, len(chunks))
	breakerKey := breaker.ExtractionKey(job.Metadata.Source)

	var wg sync.WaitGroup
	for i, c := range chunks {
		wg.Add(1)
		go func(i int, c chunk.Chunk) {
			defer wg.Done()
			outcomes[i] = h.extractChunk(ctx, i, c, job, breakerKey, resources)
		}(i, c)
	}
	wg.Wait()
	return outcomes
}

func (h *ExtractionHandler) extractChunk(ctx context.Context, index int, c chunk.Chunk, job domain.ProcessingJob, breakerKey string, resources *resource.Manager) chunkOutcome {
	if len(c.Text) == 0 {
		return chunkOutcome{index: index}
	}

	var triples []domain.Triple
	runErr := resources.WithAI(ctx, func(ctx context.Context) error {
		return h.caps.Breakers.Do(ctx, breakerKey, func(ctx context.Context) error {
			var err error
			triples, err = h.runExtraction(ctx, c, job)
			return err
		})
	})

	if runErr != nil {
		h.log.Warn("chunk extraction failed", "job_id", job.ID, "chunk", c.Source, "error", runErr)
		_, isParse := runErr.(*parseFailure)
		return chunkOutcome{index: index, err: runErr, parseErr: isParse}
	}
	return chunkOutcome{index: index, triples: triples}
}

type parseFailure struct{ cause error }

func (p *parseFailure) Error() string { return fmt.Sprintf("parse extraction payload: %v", p.cause) }
func (p *parseFailure) Unwrap() error { return p.cause }

// runExtraction calls the oracle for a single chunk, either as one
// single-pass structured call or as four per-type calls unioned together,
// per job.Metadata.ExtractionMethod (spec §4.2 step 3).
func (h *ExtractionHandler) runExtraction(ctx context.Context, c chunk.Chunk, job domain.ProcessingJob) ([]domain.Triple, error) {
	now := time.Now()
	batchID := job.ID

	if job.Metadata.ExtractionMethod == domain.ExtractionMethodFourStage {
		var all []extractedTriple
		for _, typ := range []domain.TripleType{
			domain.TripleTypeEntityEntity,
			domain.TripleTypeEntityEvent,
			domain.TripleTypeEventEvent,
			domain.TripleTypeEmotionalContext,
		} {
			gen, err := h.caps.Oracle.GenerateObject(ctx, extractionPrompt(c.Text, string(typ)), extractionSchema(string(typ)), oracle.Options{})
			if err != nil {
				return nil, err
			}
			payload, err := parseExtractionPayload(gen.Data)
			if err != nil {
				return nil, &parseFailure{cause: err}
			}
			all = append(all, payload.Triples...)
		}
		return toDomainTriples(all, job.Metadata.Source, job.Metadata.SourceType, job.Metadata.SourceDate, now, batchID), nil
	}

	gen, err := h.caps.Oracle.GenerateObject(ctx, extractionPrompt(c.Text, "ALL"), extractionSchema("extraction"), oracle.Options{})
	if err != nil {
		return nil, err
	}
	payload, err := parseExtractionPayload(gen.Data)
	if err != nil {
		return nil, &parseFailure{cause: err}
	}
	return toDomainTriples(payload.Triples, job.Metadata.Source, job.Metadata.SourceType, job.Metadata.SourceDate, now, batchID), nil
}

func extractionPrompt(text, scope string) string {
	if scope == "ALL" {
		return "Extract every semantic triple (subject, predicate, object) from the following text:\n\n" + text
	}
	return fmt.Sprintf("Extract only %s triples (subject, predicate, object) from the following text:\n\n%s", scope, text)
}

func failureResult(op pipelineerr.Operation, message string, cause error) domain.JobResult {
	causeStr := ""
	if cause != nil {
		causeStr = cause.Error()
	}
	return domain.JobResult{
		Success: false,
		Error:   &domain.JobError{Operation: string(op), Message: message, Cause: causeStr},
	}
}

// orphanRate reports the fraction of entities present before deduplication
// that no longer participate in any triple afterward, i.e. dropped as an
// artifact of merging rather than by design (spec §9 supplemented
// quality signal).
func orphanRate(before, after []domain.Triple) float64 {
	preEntities := make(map[string]struct{})
	for _, t := range before {
		preEntities[t.Subject] = struct{}{}
		preEntities[t.Object] = struct{}{}
	}
	if len(preEntities) == 0 {
		return 0
	}
	postEntities := make(map[string]struct{})
	for _, t := range after {
		postEntities[t.Subject] = struct{}{}
		postEntities[t.Object] = struct{}{}
	}
	orphaned := 0
	for e := range preEntities {
		if _, ok := postEntities[e]; !ok {
			orphaned++
		}
	}
	return float64(orphaned) / float64(len(preEntities))
}

func firstError(outcomes []chunkOutcome) error {
	for _, o := range outcomes {
		if o.err != nil {
			return o.err
		}
	}
	return nil
}
