package webaction

import (
	"context"
	"testing"
)

type stubQueryer struct {
	response string
	err      error
	lastPrompt string
}

func (q *stubQueryer) QueryDefault(ctx context.Context, modelID, prompt, purpose, toolName, taskID string) (string, error) {
	q.lastPrompt = prompt
	return q.response, q.err
}

func TestGatewayParser_ParseSteps(t *testing.T) {
	q := &stubQueryer{response: `[{"primitive":"NAVIGATE","url":"https://example.com"},{"primitive":"EXTRACT_TEXT","selector":"h1"}]`}
	p := &GatewayParser{gateway: q, modelID: "anthropic:claude-3-5-sonnet"}

	steps, err := p.ParseSteps(context.Background(), "go to example.com and read the headline")
	if err != nil {
		t.Fatalf("ParseSteps: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("len(steps) = %d, want 2", len(steps))
	}
	if steps[0].Primitive != PrimitiveNavigate || steps[0].URL != "https://example.com" {
		t.Errorf("steps[0] = %+v", steps[0])
	}
	if steps[1].Primitive != PrimitiveExtractText || steps[1].Selector != "h1" {
		t.Errorf("steps[1] = %+v", steps[1])
	}
}

func TestGatewayParser_ParseSteps_InvalidJSON(t *testing.T) {
	q := &stubQueryer{response: "not json"}
	p := &GatewayParser{gateway: q, modelID: "m"}

	if _, err := p.ParseSteps(context.Background(), "do something"); err == nil {
		t.Fatalf("expected a decode error")
	}
}

func TestGatewayParser_CorrectStep(t *testing.T) {
	q := &stubQueryer{response: `{"primitive":"CLICK","selector":"#submit-button"}`}
	p := &GatewayParser{gateway: q, modelID: "m"}

	corrected, err := p.CorrectStep(context.Background(), Step{Primitive: PrimitiveClick, Selector: "#submit"}, "element not found")
	if err != nil {
		t.Fatalf("CorrectStep: %v", err)
	}
	if corrected.Selector != "#submit-button" {
		t.Errorf("corrected.Selector = %q, want #submit-button", corrected.Selector)
	}
	if q.lastPrompt == "" {
		t.Errorf("expected a non-empty prompt to have been sent")
	}
}
