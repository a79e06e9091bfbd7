// Package oracle defines the structured-object LLM generation contract
// (spec §6.3) plus concrete adapters: one on the Anthropic API, one on a
// generic HTTP JSON endpoint for local/self-hosted model servers.
package oracle

import (
	"context"
	"encoding/json"
)

// Schema is a declarative description of the structured object a call
// expects back, used to build the provider's tool/function definition. No
// adapter checks the returned payload against Document or Required;
// callers decode the payload into their own types.
type Schema struct {
	Name        string
	Description string
	// Document is the raw JSON Schema document describing the expected
	// object shape, passed through to the provider's tool/function
	// definition verbatim.
	Document json.RawMessage
	Required []string
}

// TokenUsage reports the token accounting a provider returned for a call.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Generation is the result of a successful GenerateObject call.
type Generation struct {
	Data  json.RawMessage
	Usage TokenUsage
}

// Options tunes a single call.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Oracle produces structured objects from a prompt and a declared Schema.
// Retry is per implementation: AnthropicOracle's SDK client retries up to
// OracleConfig.MaxRetries times; HTTPOracle does not retry. Callers wrap
// calls in a circuit breaker and resource-manager permit (spec §4.2, §5).
type Oracle interface {
	GenerateObject(ctx context.Context, prompt string, schema Schema, opts Options) (Generation, error)
}
