package llmgateway

import "context"

// Provider is the narrow contract every model backend implements: a single
// non-streaming completion given a prompt and a purpose tag (used for
// per-purpose pricing and logging, e.g. "tool_description" vs
// "webaction_step_plan"). Grounded on the teacher's
// internal/agent/providers implementations (OpenAI/Anthropic/Bedrock),
// generalized from their streaming CompletionChunk channel to a single
// returned string since every gateway caller here wants a complete answer,
// not incremental tokens.
type Provider interface {
	Name() string
	DefaultModel() string
	Query(ctx context.Context, modelID, prompt, purpose string) (text string, usage Usage, err error)
}
