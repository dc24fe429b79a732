package webaction

import (
	"context"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/haasonsaas/agentserver/internal/obs"
)

// MaxCorrectionAttempts bounds how many times the interpreter will ask the
// language-model gateway to correct a failing step before giving up,
// per SPEC_FULL.md §4.5.
const MaxCorrectionAttempts = 3

const defaultStepTimeout = 30 * time.Second

// Interpreter runs Step sequences against a single leased page, grounded
// on the teacher's BrowserTool action-handler switch (handleNavigate,
// handleClick, handleType, handleScreenshot, handleExtractText,
// handleExtractHTML, handleWaitForElement/Navigation, handleExecuteJS),
// generalized to a Primitive-driven dispatch shared by both free-form
// (parser-generated) and explicit step sequences.
type Interpreter struct {
	parser Parser
}

// New builds an Interpreter. parser may be nil if only explicit (not
// free-form natural-language) step sequences will be run.
func New(parser Parser) *Interpreter {
	return &Interpreter{parser: parser}
}

// RunInstruction parses a free-form instruction into steps via the
// configured Parser, then runs them with RunSteps.
func (in *Interpreter) RunInstruction(ctx context.Context, page playwright.Page, instruction string, hooks Hooks) ([]StepResult, error) {
	if in.parser == nil {
		return nil, obs.New(obs.KindInternal, "webaction: no step parser configured for free-form instructions")
	}
	steps, err := in.parser.ParseSteps(ctx, instruction)
	if err != nil {
		return nil, obs.Wrap(obs.KindLMTransport, err)
	}
	return in.RunSteps(ctx, page, steps, hooks)
}

// RunSteps executes steps in order against page, stopping at the first
// step that exhausts its correction attempts.
func (in *Interpreter) RunSteps(ctx context.Context, page playwright.Page, steps []Step, hooks Hooks) ([]StepResult, error) {
	if hooks == nil {
		hooks = NoopHooks{}
	}
	results := make([]StepResult, 0, len(steps))

	for _, step := range steps {
		// Check cancellation at the step boundary, before the next primitive
		// starts, rather than only after Execute returns.
		if err := ctx.Err(); err != nil {
			results = append(results, StepResult{Step: step, Err: obs.Wrap(obs.KindCancelled, err)})
			return results, obs.Wrap(obs.KindCancelled, err)
		}
		result := in.runStepWithCorrection(ctx, page, step, hooks)
		results = append(results, result)
		if result.Err != nil {
			if obs.KindOf(result.Err) == obs.KindCancelled {
				return results, result.Err
			}
			return results, obs.Wrap(obs.KindStepFailed, result.Err)
		}
	}
	return results, nil
}

func (in *Interpreter) runStepWithCorrection(ctx context.Context, page playwright.Page, step Step, hooks Hooks) StepResult {
	current := step
	var lastResult StepResult

	for attempt := 1; attempt <= MaxCorrectionAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			lastResult = StepResult{Step: current, Err: obs.Wrap(obs.KindCancelled, err), Attempts: attempt}
			return lastResult
		}
		hooks.Before(current)
		lastResult = in.runOne(ctx, page, current)
		lastResult.Attempts = attempt
		if lastResult.Err == nil && page != nil && current.Primitive != PrimitiveClose && len(lastResult.ImagePNG) == 0 {
			png, artifactErr := in.captureArtifact(page)
			lastResult.ImagePNG = png
			lastResult.ArtifactErr = artifactErr
		}
		hooks.After(current, lastResult)

		if lastResult.Err == nil {
			return lastResult
		}

		corrected := hooks.OnError(current, lastResult.Err, attempt)
		if corrected == nil && in.parser != nil {
			if c, err := in.parser.CorrectStep(ctx, current, lastResult.Err.Error()); err == nil && c != nil {
				corrected = c
			}
		}
		if corrected == nil {
			break
		}
		current = *corrected
	}
	return lastResult
}

func (in *Interpreter) runOne(ctx context.Context, page playwright.Page, step Step) StepResult {
	// Last line of defense against a cancellation that lands between the
	// RunSteps boundary check and the primitive actually starting.
	if err := ctx.Err(); err != nil {
		return StepResult{Step: step, Err: obs.Wrap(obs.KindCancelled, err)}
	}

	timeout := step.TimeoutMS
	if timeout == 0 {
		timeout = defaultStepTimeout.Milliseconds()
	}

	switch step.Primitive {
	case PrimitiveNavigate:
		return in.navigate(ctx, page, step, timeout)
	case PrimitiveClick:
		return in.click(ctx, page, step, timeout)
	case PrimitiveType:
		return in.typeText(ctx, page, step)
	case PrimitiveWait:
		return in.wait(ctx, page, step, timeout)
	case PrimitiveExtractText:
		return in.extractText(ctx, page, step)
	case PrimitiveScreenshot:
		return in.screenshot(ctx, page, step)
	case PrimitiveScrollTo:
		return in.scrollTo(ctx, page, step)
	case PrimitiveClose:
		return StepResult{Step: step}
	default:
		return StepResult{Step: step, Err: fmt.Errorf("unknown primitive: %s", step.Primitive)}
	}
}

func (in *Interpreter) navigate(ctx context.Context, page playwright.Page, step Step, timeoutMS int64) StepResult {
	if step.URL == "" {
		return StepResult{Step: step, Err: fmt.Errorf("navigate requires a url")}
	}
	_, err := page.Goto(step.URL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(timeoutMS)),
	})
	if err != nil {
		return StepResult{Step: step, Err: fmt.Errorf("navigate: %w", err)}
	}
	// Settle past the initial DOM event before handing control to the next
	// step, mirroring the teacher's separate wait_for_navigation action but
	// folded into navigate itself since a caller almost always wants both.
	_ = page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(float64(timeoutMS)),
	})
	return StepResult{Step: step}
}

func (in *Interpreter) click(ctx context.Context, page playwright.Page, step Step, timeoutMS int64) StepResult {
	if step.Selector == "" {
		return StepResult{Step: step, Err: fmt.Errorf("click requires a selector")}
	}
	if err := page.Click(step.Selector, playwright.PageClickOptions{
		Timeout: playwright.Float(float64(timeoutMS)),
	}); err != nil {
		return StepResult{Step: step, Err: fmt.Errorf("click: %w", err)}
	}
	_ = page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(float64(timeoutMS)),
	})
	return StepResult{Step: step}
}

func (in *Interpreter) typeText(ctx context.Context, page playwright.Page, step Step) StepResult {
	if step.Selector == "" {
		return StepResult{Step: step, Err: fmt.Errorf("type requires a selector")}
	}
	if err := page.Fill(step.Selector, step.Text); err != nil {
		return StepResult{Step: step, Err: fmt.Errorf("type: %w", err)}
	}
	return StepResult{Step: step}
}

func (in *Interpreter) wait(ctx context.Context, page playwright.Page, step Step, timeoutMS int64) StepResult {
	if step.Selector == "" {
		return StepResult{Step: step, Err: fmt.Errorf("wait requires a selector")}
	}
	if _, err := page.WaitForSelector(step.Selector, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(float64(timeoutMS)),
	}); err != nil {
		return StepResult{Step: step, Err: fmt.Errorf("wait: %w", err)}
	}
	return StepResult{Step: step}
}

func (in *Interpreter) extractText(ctx context.Context, page playwright.Page, step Step) StepResult {
	selector := step.Selector
	if selector == "" {
		selector = "body"
	}
	text, err := page.TextContent(selector)
	if err != nil {
		return StepResult{Step: step, Err: fmt.Errorf("extract_text: %w", err)}
	}
	return StepResult{Step: step, Text: text}
}

// screenshot waits up to 5 seconds for network idle, then captures the
// viewport by default; a caller asking for FullPage gets a full-page
// capture, falling back to a viewport-only shot if the full-page capture
// returns an error, per SPEC_FULL.md §4.5's screenshot-capture note.
func (in *Interpreter) screenshot(ctx context.Context, page playwright.Page, step Step) StepResult {
	_ = page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(5000),
	})

	png, err := page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(step.FullPage),
		Type:     playwright.ScreenshotTypePng,
	})
	if err != nil && step.FullPage {
		png, err = page.Screenshot(playwright.PageScreenshotOptions{
			FullPage: playwright.Bool(false),
			Type:     playwright.ScreenshotTypePng,
		})
	}
	if err != nil {
		return StepResult{Step: step, Err: fmt.Errorf("screenshot: %w", err)}
	}
	return StepResult{Step: step, ImagePNG: png}
}

// captureArtifact implements the Artifact capture fallbacks policy: a
// full-page screenshot after every step, falling back to viewport-only on
// failure, then to a retry after a 5-second stability wait. A failure of
// all three is returned to the caller rather than treated as a step
// failure — the caller records it and moves on.
func (in *Interpreter) captureArtifact(page playwright.Page) ([]byte, error) {
	png, err := page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
		Type:     playwright.ScreenshotTypePng,
	})
	if err == nil {
		return png, nil
	}

	png, err = page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(false),
		Type:     playwright.ScreenshotTypePng,
	})
	if err == nil {
		return png, nil
	}

	time.Sleep(5 * time.Second)
	png, err = page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
		Type:     playwright.ScreenshotTypePng,
	})
	if err != nil {
		return nil, fmt.Errorf("capture artifact screenshot: %w", err)
	}
	return png, nil
}

func (in *Interpreter) scrollTo(ctx context.Context, page playwright.Page, step Step) StepResult {
	if step.Selector == "" {
		return StepResult{Step: step, Err: fmt.Errorf("scroll_to requires a selector")}
	}
	if _, err := page.EvalOnSelector(step.Selector, "el => el.scrollIntoView({block: 'center'})", nil); err != nil {
		return StepResult{Step: step, Err: fmt.Errorf("scroll_to: %w", err)}
	}
	return StepResult{Step: step}
}
