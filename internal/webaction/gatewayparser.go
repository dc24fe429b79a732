package webaction

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/agentserver/internal/llmgateway"
)

// queryer is the one llmgateway.Gateway method GatewayParser needs,
// narrowed to keep this file testable without a real Gateway.
type queryer interface {
	QueryDefault(ctx context.Context, modelID, prompt, purpose, toolName, taskID string) (string, error)
}

// GatewayParser implements Parser on top of the language-model gateway: it
// asks the model to translate a free-form instruction (or a failed step
// plus its error) into Step JSON, grounded on SPEC_FULL.md §4.5's
// "step parsing via C3" requirement.
type GatewayParser struct {
	gateway queryer
	modelID string
}

// NewGatewayParser builds a GatewayParser against gw, asking for modelID
// (e.g. "anthropic:claude-3-5-sonnet") on every call.
func NewGatewayParser(gw *llmgateway.Gateway, modelID string) *GatewayParser {
	return &GatewayParser{modelID: modelID, gateway: gw}
}

func (p *GatewayParser) ParseSteps(ctx context.Context, instruction string) ([]Step, error) {
	prompt := fmt.Sprintf(
		"Translate this browsing instruction into a JSON array of steps. Each step has "+
			`"primitive" (one of NAVIGATE, CLICK, TYPE, WAIT, EXTRACT_TEXT, SCREENSHOT, SCROLL_TO, CLOSE), `+
			`plus whichever of "selector", "url", "text", "timeout_ms", "full_page" the primitive needs. `+
			"Respond with only the JSON array.\n\nInstruction: %s", instruction)

	text, err := p.gateway.QueryDefault(ctx, p.modelID, prompt, "webaction_step_plan", "", "")
	if err != nil {
		return nil, err
	}
	return decodeSteps(text)
}

func (p *GatewayParser) CorrectStep(ctx context.Context, failed Step, errMessage string) (*Step, error) {
	failedJSON, err := json.Marshal(failed)
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf(
		"This browser automation step failed:\n%s\n\nError: %s\n\n"+
			"Propose a single corrected step as a JSON object with the same shape. "+
			"Respond with only the JSON object.", string(failedJSON), errMessage)

	text, err := p.gateway.QueryDefault(ctx, p.modelID, prompt, "webaction_step_correction", "", "")
	if err != nil {
		return nil, err
	}
	var corrected Step
	if err := json.Unmarshal([]byte(text), &corrected); err != nil {
		return nil, fmt.Errorf("decode corrected step: %w", err)
	}
	return &corrected, nil
}

func decodeSteps(text string) ([]Step, error) {
	var raw []struct {
		Primitive string `json:"primitive"`
		Selector  string `json:"selector"`
		URL       string `json:"url"`
		Text      string `json:"text"`
		Script    string `json:"script"`
		TimeoutMS int64  `json:"timeout_ms"`
		FullPage  bool   `json:"full_page"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("decode steps: %w", err)
	}
	steps := make([]Step, 0, len(raw))
	for _, r := range raw {
		steps = append(steps, Step{
			Primitive: Primitive(r.Primitive),
			Selector:  r.Selector,
			URL:       r.URL,
			Text:      r.Text,
			Script:    r.Script,
			TimeoutMS: r.TimeoutMS,
			FullPage:  r.FullPage,
		})
	}
	return steps, nil
}
