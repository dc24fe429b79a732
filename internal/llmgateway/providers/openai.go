// Package providers implements one llmgateway.Provider adapter per
// upstream model API, grounded on the teacher's internal/agent/providers
// package, generalized from streaming multi-turn chat completion to a
// single non-streaming prompt/response call per the gateway's Query
// contract.
package providers

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/agentserver/internal/llmgateway"
)

// OpenAIProvider implements llmgateway.Provider against the OpenAI chat
// completions API, grounded on the teacher's providers.OpenAIProvider.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
}

// NewOpenAIProvider builds an OpenAIProvider. apiKey may be empty in test
// environments; Query then fails with a clear error rather than panicking.
func NewOpenAIProvider(apiKey, defaultModel string) *OpenAIProvider {
	if defaultModel == "" {
		defaultModel = "gpt-4o"
	}
	p := &OpenAIProvider{defaultModel: defaultModel}
	if apiKey != "" {
		p.client = openai.NewClient(apiKey)
	}
	return p
}

func (p *OpenAIProvider) Name() string         { return "openai" }
func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }

func (p *OpenAIProvider) Query(ctx context.Context, modelID, prompt, purpose string) (string, llmgateway.Usage, error) {
	if p.client == nil {
		return "", llmgateway.Usage{}, fmt.Errorf("openai: api key not configured")
	}
	if modelID == "" {
		modelID = p.defaultModel
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: modelID,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", llmgateway.Usage{}, fmt.Errorf("openai: completion request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", llmgateway.Usage{}, fmt.Errorf("openai: empty response for purpose %q", purpose)
	}

	usage := llmgateway.Usage{
		InputTokens:  int64(resp.Usage.PromptTokens),
		OutputTokens: int64(resp.Usage.CompletionTokens),
	}
	return resp.Choices[0].Message.Content, usage, nil
}
