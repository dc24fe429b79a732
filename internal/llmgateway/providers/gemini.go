package providers

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/haasonsaas/agentserver/internal/llmgateway"
)

// GeminiProvider implements llmgateway.Provider against Google's Gemini
// API via google.golang.org/genai, grounded on the teacher's
// internal/agent/toolconv/gemini.go (same SDK, generalized from tool-schema
// conversion helpers to a full single-prompt completion call — the
// teacher never wired a standalone Gemini completion provider, only tool
// conversion for it, so this is enrichment from the rest of the pack
// rather than a direct adaptation).
type GeminiProvider struct {
	client       *genai.Client
	defaultModel string
}

// NewGeminiProvider builds a GeminiProvider for apiKey.
func NewGeminiProvider(ctx context.Context, apiKey, defaultModel string) (*GeminiProvider, error) {
	if defaultModel == "" {
		defaultModel = "gemini-1.5-pro"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &GeminiProvider{client: client, defaultModel: defaultModel}, nil
}

func (p *GeminiProvider) Name() string         { return "gemini" }
func (p *GeminiProvider) DefaultModel() string { return p.defaultModel }

func (p *GeminiProvider) Query(ctx context.Context, modelID, prompt, purpose string) (string, llmgateway.Usage, error) {
	if modelID == "" {
		modelID = p.defaultModel
	}

	resp, err := p.client.Models.GenerateContent(ctx, modelID, genai.Text(prompt), nil)
	if err != nil {
		return "", llmgateway.Usage{}, fmt.Errorf("gemini: generate content failed (%s): %w", purpose, err)
	}

	usage := llmgateway.Usage{}
	if resp.UsageMetadata != nil {
		usage.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	return resp.Text(), usage, nil
}
