package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/agentserver/internal/llmgateway"
)

// AnthropicProvider implements llmgateway.Provider against the Anthropic
// Messages API, grounded on the teacher's providers.AnthropicProvider
// (same SDK client, generalized from NewStreaming to a single New call
// since the gateway wants a complete answer, not incremental tokens).
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
}

// NewAnthropicProvider builds an AnthropicProvider for apiKey.
func NewAnthropicProvider(apiKey, defaultModel string) *AnthropicProvider {
	if defaultModel == "" {
		defaultModel = "claude-3-5-sonnet-latest"
	}
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: defaultModel,
	}
}

func (p *AnthropicProvider) Name() string         { return "anthropic" }
func (p *AnthropicProvider) DefaultModel() string { return p.defaultModel }

func (p *AnthropicProvider) Query(ctx context.Context, modelID, prompt, purpose string) (string, llmgateway.Usage, error) {
	if modelID == "" {
		modelID = p.defaultModel
	}

	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(modelID),
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", llmgateway.Usage{}, fmt.Errorf("anthropic: message request failed (%s): %w", purpose, err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if text := block.AsAny(); text != nil {
			if tb, ok := text.(anthropic.TextBlock); ok {
				sb.WriteString(tb.Text)
			}
		}
	}

	usage := llmgateway.Usage{
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}
	return sb.String(), usage, nil
}
