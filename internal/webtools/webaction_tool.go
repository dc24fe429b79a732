// Package webtools adapts the web action interpreter (C5) and browser pool
// (C4) into a toolregistry.Tool, grounded on the teacher's
// internal/tools/browser.BrowserTool (the agent-facing tool wrapper around
// the same primitive dispatch), generalized from a direct LM-tool-call
// handler to the registry's Name/RawParameterSchema/Execute contract.
package webtools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/haasonsaas/agentserver/internal/browserpool"
	"github.com/haasonsaas/agentserver/internal/obs"
	"github.com/haasonsaas/agentserver/internal/taskexec"
	"github.com/haasonsaas/agentserver/internal/toolregistry"
	"github.com/haasonsaas/agentserver/internal/webaction"
)

// argsSchema is the published JSON Schema for the web_action tool's single
// argument object, per spec.md §4.5's "single natural-language string
// containing one or more steps, OR a structured typed object" input shape.
const argsSchema = `{
  "type": "object",
  "properties": {
    "instructions": {"type": "string", "description": "free-form natural-language steps"},
    "steps": {"type": "array", "description": "explicit primitive steps, bypassing AI step parsing"},
    "mode": {"type": "string", "enum": ["text", "image"], "default": "text"}
  }
}`

type stepArg struct {
	Primitive string `json:"primitive"`
	Selector  string `json:"selector"`
	URL       string `json:"url"`
	Text      string `json:"text"`
	TimeoutMS int64  `json:"timeout_ms"`
	FullPage  bool   `json:"full_page"`
}

type webActionArgs struct {
	Instructions string    `json:"instructions"`
	Steps        []stepArg `json:"steps"`
	Mode         string    `json:"mode"`
}

// WebActionTool runs one browser automation invocation end to end: lease,
// step execution (free-form or explicit), screenshot capture, release.
// Grounded on spec.md §4.5's per-step execution contract and §4.4's
// acquire/use/release lease lifecycle.
type WebActionTool struct {
	pool           *browserpool.Pool
	interpreter    *webaction.Interpreter
	screenshotsDir string
	leaseTimeout   time.Duration
}

// New builds a WebActionTool. screenshotsDir is created on first use if
// absent.
func New(pool *browserpool.Pool, interpreter *webaction.Interpreter, screenshotsDir string, leaseTimeout time.Duration) *WebActionTool {
	if leaseTimeout <= 0 {
		leaseTimeout = 30 * time.Second
	}
	return &WebActionTool{pool: pool, interpreter: interpreter, screenshotsDir: screenshotsDir, leaseTimeout: leaseTimeout}
}

func (t *WebActionTool) Name() string { return "web_action" }

func (t *WebActionTool) HumanDescription() string {
	return "Drive a real browser: navigate, click, type, wait, extract text, or screenshot a page, " +
		"either from free-form natural-language instructions or an explicit list of steps."
}

func (t *WebActionTool) RawParameterSchema() json.RawMessage { return json.RawMessage(argsSchema) }
func (t *WebActionTool) RiskClass() toolregistry.RiskClass  { return toolregistry.RiskMedium }
func (t *WebActionTool) ImplementationRef() string          { return "webaction.Interpreter" }

// Async is true: a multi-step browser run routinely exceeds a synchronous
// JSON-RPC round trip, so tools/call always routes this through C6.
func (t *WebActionTool) Async() bool { return true }

func (t *WebActionTool) Execute(ctx context.Context, rawArgs json.RawMessage) (json.RawMessage, error) {
	var args webActionArgs
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return nil, obs.Wrap(obs.KindArgumentInvalid, err)
		}
	}
	if args.Instructions == "" && len(args.Steps) == 0 {
		return nil, obs.New(obs.KindArgumentInvalid, "web_action requires either instructions or steps")
	}

	leaseCtx, leaseCancel := context.WithTimeout(ctx, t.leaseTimeout)
	lease, err := t.pool.Acquire(leaseCtx)
	leaseCancel()
	if err != nil {
		return nil, err
	}
	ok := false
	defer func() { lease.Release(ok) }()

	reporter := taskexec.ReporterFromContext(ctx)
	hooks := &reportingHooks{reporter: reporter, dir: t.screenshotsDir, total: stepCount(args)}

	var results []webaction.StepResult
	if len(args.Steps) > 0 {
		results, err = t.interpreter.RunSteps(ctx, lease.Page(), toSteps(args.Steps), hooks)
	} else {
		results, err = t.interpreter.RunInstruction(ctx, lease.Page(), args.Instructions, hooks)
	}
	if err != nil {
		return nil, err
	}
	ok = true

	return renderResult(args.Mode, results)
}

func stepCount(args webActionArgs) int {
	if len(args.Steps) > 0 {
		return len(args.Steps)
	}
	return 0 // unknown until the free-form instruction is parsed
}

func toSteps(in []stepArg) []webaction.Step {
	out := make([]webaction.Step, 0, len(in))
	for _, s := range in {
		out = append(out, webaction.Step{
			Primitive: webaction.Primitive(s.Primitive),
			Selector:  s.Selector,
			URL:       s.URL,
			Text:      s.Text,
			TimeoutMS: s.TimeoutMS,
			FullPage:  s.FullPage,
		})
	}
	return out
}

// renderResult implements spec.md §4.5's text-vs-image return contract:
// runAndReturnText concatenates extracted text, runAndReturnImage returns
// the last successful screenshot.
func renderResult(mode string, results []webaction.StepResult) (json.RawMessage, error) {
	if mode == "image" {
		for i := len(results) - 1; i >= 0; i-- {
			if results[i].Err == nil && len(results[i].ImagePNG) > 0 {
				return json.Marshal(map[string]interface{}{
					"type":     "image",
					"mimeType": "image/png",
					"data":     results[i].ImagePNG,
				})
			}
		}
		return nil, obs.New(obs.KindStepFailed, "no screenshot was captured")
	}

	text := ""
	for _, r := range results {
		if r.Text != "" {
			if text != "" {
				text += "\n"
			}
			text += r.Text
		}
	}
	return json.Marshal(map[string]interface{}{"type": "text", "text": text})
}

// reportingHooks bridges webaction.Hooks to a taskexec.Reporter, capturing
// a screenshot after each step and reporting non-decreasing progress,
// grounded on spec.md §4.5 steps 1/4/5 (before/after callbacks, screenshot
// capture) mapped onto C6's progress-reporting contract.
type reportingHooks struct {
	reporter taskexec.Reporter
	dir      string
	total    int
	done     int
}

func (h *reportingHooks) Before(step webaction.Step) {
	h.reporter.Log(fmt.Sprintf("running %s", step.Primitive))
}

func (h *reportingHooks) After(step webaction.Step, result webaction.StepResult) {
	h.done++
	percent := 0
	if h.total > 0 {
		percent = (h.done * 100) / h.total
	}
	if result.Err != nil {
		h.reporter.Log(fmt.Sprintf("%s failed: %v", step.Primitive, result.Err))
	} else {
		h.reporter.Progress(percent, fmt.Sprintf("completed %s", step.Primitive))
	}
	if len(result.ImagePNG) > 0 {
		if path, err := h.saveScreenshot(result.ImagePNG); err == nil {
			h.reporter.Screenshot(path)
		}
	}
	if result.ArtifactErr != nil {
		h.reporter.Log(fmt.Sprintf("artifact screenshot capture failed after %s: %v", step.Primitive, result.ArtifactErr))
	}
}

func (h *reportingHooks) OnError(step webaction.Step, err error, attempt int) *webaction.Step {
	h.reporter.Log(fmt.Sprintf("correction attempt %d for %s after: %v", attempt, step.Primitive, err))
	return nil // defer to the interpreter's own AI-repair path
}

func (h *reportingHooks) saveScreenshot(png []byte) (string, error) {
	dir := h.dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("shot-%d.png", time.Now().UnixNano())
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
