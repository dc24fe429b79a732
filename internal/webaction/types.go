// Package webaction implements the web action interpreter (C5): a small
// step language over the browser pool's pages, with AI-assisted step
// parsing and error correction. Grounded on the teacher's
// internal/tools/browser/browser.go action-handler switch, merged with
// the spec's redesign note that the legacy/current interpreter duplication
// collapses into one component driven by a hook interface rather than
// chained callbacks.
package webaction

import (
	"context"
	"encoding/json"
)

// Primitive is one atomic browser action.
type Primitive string

const (
	PrimitiveNavigate    Primitive = "NAVIGATE"
	PrimitiveClick       Primitive = "CLICK"
	PrimitiveType        Primitive = "TYPE"
	PrimitiveWait        Primitive = "WAIT"
	PrimitiveExtractText Primitive = "EXTRACT_TEXT"
	PrimitiveScreenshot  Primitive = "SCREENSHOT"
	PrimitiveScrollTo    Primitive = "SCROLL_TO"
	PrimitiveClose       Primitive = "CLOSE"
)

// Step is one instruction in a run, grounded on the teacher's per-action
// parameter structs (selector/url/text/timeout/script), unified into one
// shape since the interpreter dispatches on Primitive rather than a
// per-tool-call JSON blob.
type Step struct {
	Primitive Primitive
	Selector  string
	URL       string
	Text      string
	Script    string
	TimeoutMS int64
	FullPage  bool
}

// StepResult is the outcome of running one Step.
type StepResult struct {
	Step Step
	Text string // set by EXTRACT_TEXT
	// ImagePNG holds a screenshot: either SCREENSHOT's own capture, or the
	// automatic post-step artifact capture described in the Artifact
	// capture fallbacks policy, whichever ran for this step.
	ImagePNG []byte
	// ArtifactErr records a failure to capture the automatic post-step
	// artifact screenshot after exhausting the fallback chain. It never
	// fails the step itself.
	ArtifactErr error
	Err         error
	Attempts    int
}

// Hooks lets a caller observe and steer step execution without chaining
// callbacks through the interpreter itself — the redesign this package
// makes relative to the teacher's direct handler calls. All three methods
// are optional; a nil Hooks is valid.
type Hooks interface {
	// Before is called immediately prior to executing step.
	Before(step Step)

	// After is called once step has run, whether or not it succeeded.
	After(step Step, result StepResult)

	// OnError is called when step fails on attempt (1-based). Returning a
	// non-nil corrected step causes the interpreter to retry with it
	// instead of the original, up to MaxCorrectionAttempts; returning nil
	// hands the failed step to the Parser's CorrectStep, and if that yields
	// no corrected step either, the step fails without another attempt.
	OnError(step Step, err error, attempt int) (corrected *Step)
}

// NoopHooks implements Hooks with no side effects, for callers that don't
// need observation or correction.
type NoopHooks struct{}

func (NoopHooks) Before(Step)                                        {}
func (NoopHooks) After(Step, StepResult)                              {}
func (NoopHooks) OnError(Step, error, int) *Step                      { return nil }

// Parser turns free-form natural-language instructions into a Step
// sequence via the language-model gateway. Declared as a narrow local
// interface (mirroring toolregistry.Describer) to avoid webaction
// importing llmgateway's retry/cost concerns directly.
type Parser interface {
	ParseSteps(ctx context.Context, instruction string) ([]Step, error)
	CorrectStep(ctx context.Context, failed Step, errMessage string) (*Step, error)
}

// MarshalSteps lets callers log or persist a parsed plan.
func MarshalSteps(steps []Step) (json.RawMessage, error) {
	return json.Marshal(steps)
}
