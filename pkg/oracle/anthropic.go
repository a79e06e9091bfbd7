package oracle

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/knowledgecore/pipeline/pkg/config"
)

// AnthropicOracle forces a structured response by requiring the model to
// call a single synthetic tool whose input schema is the caller's Schema.
// Tool-call forcing is the standard way to get validated JSON back from
// the Messages API without relying on the model's own code-fence
// discipline.
type AnthropicOracle struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicOracle builds an AnthropicOracle from configuration.
func NewAnthropicOracle(cfg config.OracleConfig) *AnthropicOracle {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(cfg.MaxRetries)}
	if cfg.CallTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.CallTimeout))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicOracle{client: &client, model: cfg.Model}
}

func (o *AnthropicOracle) GenerateObject(ctx context.Context, prompt string, schema Schema, opts Options) (Generation, error) {
	model := o.model
	if opts.Model != "" {
		model = opts.Model
	}
	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	var inputSchema interface{}
	if len(schema.Document) > 0 {
		if err := json.Unmarshal(schema.Document, &inputSchema); err != nil {
			return Generation{}, fmt.Errorf("oracle: parse schema document: %w", err)
		}
	}

	toolName := schema.Name
	if toolName == "" {
		toolName = "emit_result"
	}

	message, err := o.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Tools: []anthropic.ToolUnionParam{
			{
				OfTool: &anthropic.ToolParam{
					Name:        toolName,
					Description: anthropic.String(schema.Description),
					InputSchema: anthropic.ToolInputSchemaParam{
						Properties: inputSchema,
					},
				},
			},
		},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: toolName},
		},
	})
	if err != nil {
		return Generation{}, fmt.Errorf("oracle: anthropic call failed: %w", err)
	}

	for _, block := range message.Content {
		if toolUse := block.AsToolUse(); toolUse.Name == toolName {
			raw, err := json.Marshal(toolUse.Input)
			if err != nil {
				return Generation{}, fmt.Errorf("oracle: marshal tool input: %w", err)
			}
			return Generation{
				Data: raw,
				Usage: TokenUsage{
					PromptTokens:     int(message.Usage.InputTokens),
					CompletionTokens: int(message.Usage.OutputTokens),
					TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
				},
			}, nil
		}
	}

	return Generation{}, fmt.Errorf("oracle: model did not call tool %q", toolName)
}

var _ Oracle = (*AnthropicOracle)(nil)
