package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/haasonsaas/agentserver/internal/llmgateway"
)

// BedrockProvider implements llmgateway.Provider against AWS Bedrock's
// Converse API, grounded on the teacher's providers.BedrockProvider
// (same SDK client and region handling, generalized from ConverseStream
// to the single-shot Converse call).
type BedrockProvider struct {
	client       *bedrockruntime.Client
	defaultModel string
}

// NewBedrockProvider builds a BedrockProvider for region, using the
// default AWS credential chain (environment, shared config, or IAM role).
func NewBedrockProvider(ctx context.Context, region, defaultModel string) (*BedrockProvider, error) {
	if region == "" {
		region = "us-east-1"
	}
	if defaultModel == "" {
		defaultModel = "anthropic.claude-3-sonnet-20240229-v1:0"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}
	return &BedrockProvider{
		client:       bedrockruntime.NewFromConfig(cfg),
		defaultModel: defaultModel,
	}, nil
}

func (p *BedrockProvider) Name() string         { return "bedrock" }
func (p *BedrockProvider) DefaultModel() string { return p.defaultModel }

func (p *BedrockProvider) Query(ctx context.Context, modelID, prompt, purpose string) (string, llmgateway.Usage, error) {
	if modelID == "" {
		modelID = p.defaultModel
	}

	out, err := p.client.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(modelID),
		Messages: []types.Message{
			{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: prompt}},
			},
		},
	})
	if err != nil {
		return "", llmgateway.Usage{}, fmt.Errorf("bedrock: converse request failed (%s): %w", purpose, err)
	}

	var sb strings.Builder
	if msg, ok := out.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			if tb, ok := block.(*types.ContentBlockMemberText); ok {
				sb.WriteString(tb.Value)
			}
		}
	}

	usage := llmgateway.Usage{}
	if out.Usage != nil {
		usage.InputTokens = int64(out.Usage.InputTokens)
		usage.OutputTokens = int64(out.Usage.OutputTokens)
	}
	return sb.String(), usage, nil
}
