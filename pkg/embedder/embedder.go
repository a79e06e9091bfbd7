// Package embedder defines the dense-embedding contract used by the
// embedding map builder and the dedup/fusion-search code paths, plus an
// HTTP-backed concrete implementation.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/knowledgecore/pipeline/pkg/config"
	"github.com/knowledgecore/pipeline/pkg/domain"
)

// Embedder produces fixed-dimension dense vectors for text, batched.
type Embedder interface {
	// Embed returns one vector for a single text.
	Embed(ctx context.Context, text string) (domain.Vector, error)
	// EmbedBatch returns one vector per input text, in the same order.
	EmbedBatch(ctx context.Context, texts []string) ([]domain.Vector, error)
	// Dimension reports the fixed vector size this embedder produces.
	Dimension() int
}

// HTTPEmbedder calls an embedding service over HTTP with a batched JSON
// request/response contract, mirroring the shape most hosted embedding
// APIs expose (a list of inputs in, a list of vectors out).
type HTTPEmbedder struct {
	client    *http.Client
	baseURL   string
	apiKey    string
	model     string
	dimension int
	batchSize int
}

// NewHTTPEmbedder builds an HTTPEmbedder from configuration.
func NewHTTPEmbedder(cfg config.EmbedderConfig) *HTTPEmbedder {
	return &HTTPEmbedder{
		client:    &http.Client{Timeout: cfg.CallTimeout},
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: cfg.BatchSize,
	}
}

func (e *HTTPEmbedder) Dimension() int { return e.dimension }

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) (domain.Vector, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder: expected 1 vector, got %d", len(vectors))
	}
	return vectors[0], nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// EmbedBatch splits texts into batchSize-sized HTTP requests. A failure of
// any batch aborts the whole operation, per the embedding map's contract.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]domain.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batchSize := e.batchSize
	if batchSize <= 0 {
		batchSize = len(texts)
	}

	out := make([]domain.Vector, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := e.embedOne(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedder: batch [%d:%d]: %w", start, end, err)
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (e *HTTPEmbedder) embedOne(ctx context.Context, texts []string) ([]domain.Vector, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedder returned status %d", resp.StatusCode)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d inputs", len(parsed.Embeddings), len(texts))
	}

	out := make([]domain.Vector, len(parsed.Embeddings))
	for i, e := range parsed.Embeddings {
		out[i] = domain.Vector(e)
	}
	return out, nil
}

var _ Embedder = (*HTTPEmbedder)(nil)
