package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/knowledgecore/pipeline/pkg/config"
)

// HTTPOracle calls a local/self-hosted model server over a plain JSON POST,
// for deployments that front an OpenAI/LocalAI-compatible completion
// endpoint rather than the Anthropic API directly. Unlike AnthropicOracle's
// forced tool call, these servers commonly return a raw generateText
// string, possibly wrapped in Markdown code fences, which this adapter
// cleans and then checks only for JSON validity (spec §4.2 step 4); the
// payload is not checked against the schema. Each call is a single
// request; a failed request is not retried.
type HTTPOracle struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

// NewHTTPOracle builds an HTTPOracle from configuration.
func NewHTTPOracle(cfg config.OracleConfig) *HTTPOracle {
	return &HTTPOracle{
		client:  &http.Client{Timeout: cfg.CallTimeout},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
}

type generateRequest struct {
	Model  string          `json:"model"`
	Prompt string          `json:"prompt"`
	Schema json.RawMessage `json:"schema,omitempty"`
}

type generateResponse struct {
	Text  string `json:"text"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (o *HTTPOracle) GenerateObject(ctx context.Context, prompt string, schema Schema, opts Options) (Generation, error) {
	model := o.model
	if opts.Model != "" {
		model = opts.Model
	}

	body, err := json.Marshal(generateRequest{Model: model, Prompt: prompt, Schema: schema.Document})
	if err != nil {
		return Generation{}, fmt.Errorf("oracle: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return Generation{}, fmt.Errorf("oracle: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return Generation{}, fmt.Errorf("oracle: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Generation{}, fmt.Errorf("oracle: server returned status %d", resp.StatusCode)
	}

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Generation{}, fmt.Errorf("oracle: decode response: %w", err)
	}

	cleaned := StripCodeFences(parsed.Text)
	if !json.Valid([]byte(cleaned)) {
		return Generation{}, fmt.Errorf("oracle: response is not valid JSON after cleaning")
	}

	return Generation{
		Data: json.RawMessage(cleaned),
		Usage: TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil
}

// StripCodeFences removes a leading/trailing Markdown code fence
// (``` or ```json) from raw oracle text output before it is parsed as
// JSON, per spec §4.2 step 4.
func StripCodeFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

var _ Oracle = (*HTTPOracle)(nil)
