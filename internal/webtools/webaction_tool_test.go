package webtools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/haasonsaas/agentserver/internal/obs"
	"github.com/haasonsaas/agentserver/internal/webaction"
)

func TestWebActionTool_Metadata(t *testing.T) {
	tool := New(nil, webaction.New(nil), "/tmp/shots", 0)
	if tool.Name() != "web_action" {
		t.Errorf("Name() = %q", tool.Name())
	}
	if !tool.Async() {
		t.Errorf("expected web_action to be async")
	}
	if tool.RiskClass() != "medium" {
		t.Errorf("RiskClass() = %q, want medium", tool.RiskClass())
	}
	if len(tool.RawParameterSchema()) == 0 {
		t.Errorf("expected a non-empty parameter schema")
	}
}

func TestWebActionTool_ExecuteRejectsEmptyArguments(t *testing.T) {
	tool := New(nil, webaction.New(nil), "/tmp/shots", 0)
	_, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if obs.KindOf(err) != obs.KindArgumentInvalid {
		t.Fatalf("expected ArgumentInvalid, got %v", err)
	}
}

func TestWebActionTool_ExecuteRejectsMalformedArguments(t *testing.T) {
	tool := New(nil, webaction.New(nil), "/tmp/shots", 0)
	_, err := tool.Execute(context.Background(), json.RawMessage(`not json`))
	if obs.KindOf(err) != obs.KindArgumentInvalid {
		t.Fatalf("expected ArgumentInvalid, got %v", err)
	}
}

func TestRenderResult_TextConcatenatesExtractedText(t *testing.T) {
	results := []webaction.StepResult{
		{Text: "first"},
		{Text: ""},
		{Text: "second"},
	}
	raw, err := renderResult("text", results)
	if err != nil {
		t.Fatalf("renderResult: %v", err)
	}
	var out struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Type != "text" || out.Text != "first\nsecond" {
		t.Fatalf("got %+v", out)
	}
}

func TestRenderResult_ImageReturnsLastSuccessfulScreenshot(t *testing.T) {
	results := []webaction.StepResult{
		{ImagePNG: []byte("old")},
		{Err: context.DeadlineExceeded},
		{ImagePNG: []byte("new")},
	}
	raw, err := renderResult("image", results)
	if err != nil {
		t.Fatalf("renderResult: %v", err)
	}
	var out struct {
		Type     string `json:"type"`
		MimeType string `json:"mimeType"`
		Data     []byte `json:"data"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Type != "image" || string(out.Data) != "new" {
		t.Fatalf("got %+v", out)
	}
}

func TestRenderResult_ImageWithNoScreenshotFails(t *testing.T) {
	_, err := renderResult("image", []webaction.StepResult{{Text: "no image here"}})
	if obs.KindOf(err) != obs.KindStepFailed {
		t.Fatalf("expected StepFailed, got %v", err)
	}
}

func TestToSteps_MapsAllFields(t *testing.T) {
	in := []stepArg{{Primitive: "CLICK", Selector: "#go", TimeoutMS: 500, FullPage: true}}
	out := toSteps(in)
	if len(out) != 1 {
		t.Fatalf("expected 1 step, got %d", len(out))
	}
	if out[0].Primitive != webaction.PrimitiveClick || out[0].Selector != "#go" || out[0].TimeoutMS != 500 || !out[0].FullPage {
		t.Fatalf("got %+v", out[0])
	}
}
