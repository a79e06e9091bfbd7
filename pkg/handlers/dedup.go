package handlers

import (
	"context"
	"log/slog"

	"github.com/knowledgecore/pipeline/pkg/dedup"
	"github.com/knowledgecore/pipeline/pkg/domain"
	"github.com/knowledgecore/pipeline/pkg/pipelineerr"
)

// DedupHandler implements the post-hoc Deduplication Handler (spec §4.6):
// a second semantic-merge pass over everything already stored for a
// source, run some time after extraction so paraphrased triples stored by
// separate extraction jobs (which never shared an embedding map) still get
// merged.
type DedupHandler struct {
	caps Capabilities
	log  *slog.Logger
}

// NewDedupHandler builds a DedupHandler.
func NewDedupHandler(caps Capabilities) *DedupHandler {
	return &DedupHandler{caps: caps, log: slog.With("component", "dedup_handler")}
}

// Execute runs the post-hoc dedup pass for a single job. It is a no-op
// when semantic dedup is disabled.
func (h *DedupHandler) Execute(ctx context.Context, job domain.ProcessingJob) domain.JobResult {
	if !h.caps.Dedup.SemanticEnabled {
		return domain.JobResult{Success: true, Data: &domain.JobData{Message: "semantic dedup disabled"}}
	}

	source, sourceType := job.Metadata.Source, job.Metadata.SourceType

	triples, err := h.caps.Store.GetTriplesBySource(ctx, source, sourceType)
	if err != nil {
		return failureResult(pipelineerr.OpDatabaseError, "loading triples for deduplication", err)
	}
	if len(triples) < 2 {
		return domain.JobResult{Success: true, Data: &domain.JobData{DuplicatesSkipped: 0}}
	}

	if _, err := h.caps.Coordinator.UpdateProgress(ctx, job.ID, 20, nil); err != nil {
		h.log.Warn("failed to update progress", "job_id", job.ID, "error", err)
	}

	texts := make([]string, 0, len(triples))
	seen := make(map[string]struct{}, len(triples))
	for _, t := range triples {
		text := t.SemanticText()
		if _, ok := seen[text]; ok {
			continue
		}
		seen[text] = struct{}{}
		texts = append(texts, text)
	}

	embeddings := make(map[string]domain.Vector, len(texts))
	resources := h.caps.Resources.WithLimits(resourceLimits(job.Metadata))
	if err := resources.WithAI(ctx, func(ctx context.Context) error {
		vectors, err := h.caps.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		for i, text := range texts {
			embeddings[text] = vectors[i]
		}
		return nil
	}); err != nil {
		return failureResult(pipelineerr.OpEmbeddingGeneration, "embedding triples for deduplication", err)
	}

	if _, err := h.caps.Coordinator.UpdateProgress(ctx, job.ID, 60, nil); err != nil {
		h.log.Warn("failed to update progress", "job_id", job.ID, "error", err)
	}

	engine := dedup.New(h.caps.Dedup.SemanticEnabled, h.caps.Dedup.SimilarityThreshold)
	result := engine.Deduplicate(triples, embeddings)

	survivors := make(map[string]struct{}, len(result.UniqueTriples))
	for _, t := range result.UniqueTriples {
		survivors[t.ID] = struct{}{}
	}
	var duplicateIDs []string
	for _, t := range triples {
		if _, ok := survivors[t.ID]; !ok {
			duplicateIDs = append(duplicateIDs, t.ID)
		}
	}

	if err := resources.WithDatabase(ctx, func(ctx context.Context) error {
		if _, err := h.caps.Store.StoreTriples(ctx, result.UniqueTriples); err != nil {
			return err
		}
		return h.caps.Store.DeleteTriples(ctx, duplicateIDs)
	}); err != nil {
		return failureResult(pipelineerr.OpDeduplication, "persisting deduplication result", err)
	}

	return domain.JobResult{
		Success: true,
		Data:    &domain.JobData{DuplicatesSkipped: result.DuplicatesRemoved},
	}
}
