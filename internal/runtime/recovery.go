package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kairi-dev/kairi/internal/browser"
	"github.com/kairi-dev/kairi/internal/budget"
	"github.com/kairi-dev/kairi/internal/checkpoint"
	"github.com/kairi-dev/kairi/internal/healing"
	"github.com/kairi-dev/kairi/internal/patch"
	"github.com/kairi-dev/kairi/internal/planner"
	"github.com/kairi-dev/kairi/internal/recipe"
)

// Recovery ladder methods, in the order plans may include them.
const (
	MethodRetry            = "retry"
	MethodSelectorFallback = "selector_fallback"
	MethodObserveRefresh   = "observe_refresh"
	MethodHealingMemory    = "healing_memory"
	MethodAuthoringPatch   = "authoring_patch"
	MethodCheckpoint       = "checkpoint"
)

// recoveryPlans routes each error type to its ordered ladder.
var recoveryPlans = map[ErrorType][]string{
	ErrTargetNotFound:          {MethodRetry, MethodSelectorFallback, MethodObserveRefresh, MethodHealingMemory, MethodAuthoringPatch, MethodCheckpoint},
	ErrExpectationFailed:       {MethodObserveRefresh, MethodHealingMemory, MethodAuthoringPatch, MethodCheckpoint},
	ErrExtractionEmpty:         {MethodRetry, MethodObserveRefresh, MethodCheckpoint},
	ErrNavigation:              {MethodRetry, MethodCheckpoint},
	ErrCaptchaOr2FA:            {MethodCheckpoint},
	ErrAuthoringServiceTimeout: {MethodHealingMemory, MethodCheckpoint},
	ErrCanvasDetected:          {MethodCheckpoint},
}

// FailureContext describes a failed step to the recovery pipeline.
type FailureContext struct {
	StepID         string
	ErrorType      ErrorType
	URL            string
	Title          string
	TargetKey      string
	Instruction    string
	FailedSelector string
	FailedAction   *recipe.ActionRef

	// Step and Args let the retry rung re-dispatch the op itself, which is
	// the only meaningful retry for non-action ops like extract and goto.
	Step *recipe.Step
	Args map[string]any
}

// RecoveryOutcome is the pipeline's verdict for one failure.
type RecoveryOutcome struct {
	Recovered bool
	Method    string

	// Patch is set when authoring produced a patch; applying and
	// versioning it is the patch workflow's job.
	Patch *patch.Payload

	// Terminal marks that the ladder ended on a checkpoint and no further
	// recovery must be attempted.
	Terminal bool

	// Escalate jumps the ladder straight to its checkpoint: a guarded call
	// failed with the budget downgrade ladder already exhausted.
	Escalate bool
}

// recover runs the ladder for the failure. Actions execute strictly in plan
// order; the first to recover wins, an action that errors counts as not
// recovered, and checkpoint is terminal regardless of outcome.
func (rc *RunContext) recover(ctx context.Context, fc *FailureContext) RecoveryOutcome {
	plan, ok := recoveryPlans[fc.ErrorType]
	if !ok {
		return RecoveryOutcome{}
	}

	for _, method := range plan {
		rc.Metrics.RecordFallback(method)
		rc.Logger.Debug("attempting recovery", "step", fc.StepID, "method", method, "errorType", string(fc.ErrorType))

		var outcome RecoveryOutcome
		switch method {
		case MethodRetry:
			outcome = rc.recoverRetry(ctx, fc)
		case MethodSelectorFallback:
			outcome = rc.recoverSelectorFallback(ctx, fc)
		case MethodObserveRefresh:
			outcome = rc.recoverObserveRefresh(ctx, fc)
		case MethodHealingMemory:
			outcome = rc.recoverHealingMemory(ctx, fc)
		case MethodAuthoringPatch:
			outcome = rc.recoverAuthoringPatch(ctx, fc)
		case MethodCheckpoint:
			outcome = rc.recoverCheckpoint(ctx, fc)
		}

		if outcome.Recovered || outcome.Terminal {
			return outcome
		}
		if outcome.Escalate && method != MethodCheckpoint {
			rc.Metrics.RecordFallback(MethodCheckpoint)
			rc.Logger.Debug("downgrades exhausted, escalating to checkpoint", "step", fc.StepID)
			terminal := rc.recoverCheckpoint(ctx, fc)
			if terminal.Patch == nil {
				terminal.Patch = outcome.Patch
			}
			return terminal
		}
	}
	return RecoveryOutcome{}
}

// noteGuardedFailure consumes the next budget downgrade after a guarded call
// failed. It reports whether the downgrade ladder is exhausted, which forces
// escalation to a checkpoint.
func (rc *RunContext) noteGuardedFailure(stepID string) bool {
	action, ok := rc.Guard.NextDowngrade()
	if !ok || action == budget.DowngradeCheckpoint {
		return true
	}
	if rc.Downgrades == nil {
		rc.Downgrades = make(map[string]bool)
	}
	rc.Downgrades[action] = true
	rc.Logger.Debug("applying budget downgrade", "step", stepID, "downgrade", action)
	return false
}

// recoverRetry re-dispatches the failed step's op once; a bare action ref is
// re-issued directly when no step is attached.
func (rc *RunContext) recoverRetry(ctx context.Context, fc *FailureContext) RecoveryOutcome {
	if fc.Step != nil {
		if result := rc.dispatch(ctx, fc.Step, fc.Args); result.OK {
			return RecoveryOutcome{Recovered: true, Method: MethodRetry}
		}
		return RecoveryOutcome{}
	}
	if fc.FailedAction == nil {
		return RecoveryOutcome{}
	}
	ok, err := rc.Engine.Act(ctx, *fc.FailedAction)
	if err != nil || !ok {
		return RecoveryOutcome{}
	}
	return RecoveryOutcome{Recovered: true, Method: MethodRetry}
}

// recoverSelectorFallback walks the selector entry's primary and fallbacks.
// Engines with native fallback support do the walk themselves.
func (rc *RunContext) recoverSelectorFallback(ctx context.Context, fc *FailureContext) RecoveryOutcome {
	entry, ok := rc.Recipe.Selectors[fc.TargetKey]
	if !ok {
		return RecoveryOutcome{}
	}

	action := recipe.ActionRef{Method: recipe.MethodClick}
	if fc.FailedAction != nil {
		action = *fc.FailedAction
	}

	if fb, ok := rc.Engine.(browser.FallbackCapableEngine); ok {
		acted, err := fb.ActWithFallback(ctx, action, entry)
		if err != nil || !acted {
			return RecoveryOutcome{}
		}
		return RecoveryOutcome{Recovered: true, Method: MethodSelectorFallback}
	}

	for _, selector := range append([]string{entry.Primary}, entry.Fallbacks...) {
		if selector == "" || selector == fc.FailedSelector {
			continue
		}
		attempt := action
		attempt.Selector = selector
		if acted, err := rc.Engine.Act(ctx, attempt); err == nil && acted {
			return RecoveryOutcome{Recovered: true, Method: MethodSelectorFallback}
		}
	}
	return RecoveryOutcome{}
}

// recoverObserveRefresh asks the engine to observe fresh candidates for the
// step's instruction and executes the first one. Successful heals are
// recorded in healing memory.
func (rc *RunContext) recoverObserveRefresh(ctx context.Context, fc *FailureContext) RecoveryOutcome {
	if !rc.Guard.CanCallLLM() {
		return RecoveryOutcome{}
	}

	instruction := fc.Instruction
	if instruction == "" {
		instruction = fmt.Sprintf("find the element for %q", fc.TargetKey)
	}
	instruction = rc.Guard.TrimPrompt(instruction)

	// A narrowed scope is one of the budget downgrades: observe around the
	// failed selector instead of the whole page.
	scope := ""
	if rc.Downgrades[budget.DowngradeNarrowScope] {
		scope = fc.FailedSelector
	}

	candidates, err := rc.Engine.Observe(ctx, instruction, scope)
	if err != nil || len(candidates) == 0 {
		return RecoveryOutcome{Escalate: rc.noteGuardedFailure(fc.StepID)}
	}

	candidate := candidates[0]
	acted, err := rc.Engine.Act(ctx, candidate)
	if err != nil || !acted {
		return RecoveryOutcome{Escalate: rc.noteGuardedFailure(fc.StepID)}
	}

	if err := rc.Guard.RecordLLMCall(len(instruction)); err != nil {
		rc.Logger.Warn("llm budget exhausted during observe", "step", fc.StepID)
	}
	rc.Metrics.RecordLLMCall(len(instruction), 0)

	if rc.Memory != nil && fc.TargetKey != "" {
		err := rc.Memory.Record(fc.TargetKey, candidate, fc.URL, healing.Evidence{
			OriginalSelector: fc.FailedSelector,
			HealedSelector:   candidate.Selector,
			PageTitle:        fc.Title,
			PageURL:          fc.URL,
			Method:           MethodObserveRefresh,
		})
		if err != nil {
			rc.Logger.Warn("failed to record heal", "step", fc.StepID, "error", err)
		}
	}
	return RecoveryOutcome{Recovered: true, Method: MethodObserveRefresh}
}

// recoverHealingMemory looks up a previously healed action and replays it.
func (rc *RunContext) recoverHealingMemory(ctx context.Context, fc *FailureContext) RecoveryOutcome {
	if rc.Memory == nil || fc.TargetKey == "" {
		return RecoveryOutcome{}
	}

	healed, found := rc.Memory.FindMatch(fc.TargetKey, fc.URL, rc.MinConfidence)
	rc.Metrics.RecordHealingMemory(found)
	if !found {
		return RecoveryOutcome{}
	}

	acted, err := rc.Engine.Act(ctx, *healed)
	if err != nil || !acted {
		if err := rc.Memory.RecordFailure(fc.TargetKey, fc.URL); err != nil {
			rc.Logger.Warn("failed to record healing failure", "step", fc.StepID, "error", err)
		}
		return RecoveryOutcome{}
	}

	if err := rc.Memory.Record(fc.TargetKey, *healed, fc.URL, healing.Evidence{
		HealedSelector: healed.Selector,
		PageURL:        fc.URL,
		Method:         MethodHealingMemory,
	}); err != nil {
		rc.Logger.Warn("failed to record heal", "step", fc.StepID, "error", err)
	}
	return RecoveryOutcome{Recovered: true, Method: MethodHealingMemory}
}

// recoverAuthoringPatch asks the patch planner for a recipe patch, applies
// it in memory, and re-executes the target action against the patched
// selectors. The patch itself rides on the outcome for persistence.
func (rc *RunContext) recoverAuthoringPatch(ctx context.Context, fc *FailureContext) RecoveryOutcome {
	if rc.Planner == nil || !rc.Guard.CanCallAuthoring() {
		return RecoveryOutcome{}
	}
	if err := rc.Guard.RecordAuthoringCall(); err != nil {
		return RecoveryOutcome{}
	}

	timeout := time.Duration(rc.Guard.Limits().AuthoringTimeoutMs) * time.Millisecond
	planCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := &planner.Request{
		RequestID: uuid.NewString(),
		StepID:    fc.StepID,
		ErrorType: string(fc.ErrorType),
		URL:       fc.URL,
		Title:     fc.Title,
	}
	if fc.FailedSelector != "" {
		req.FailedSelector = fc.FailedSelector
	}
	if fc.FailedAction != nil {
		req.FailedAction = string(fc.FailedAction.Method) + " " + fc.FailedAction.Selector
	}
	if rc.Downgrades[budget.DowngradeDropHistory] {
		req.Title = ""
		req.FailedAction = ""
	}
	if snippet := rc.captureDOMSnippet(ctx, fc.StepID); snippet != "" {
		req.DOMSnippet = snippet
	}

	resp, err := rc.Planner.PlanPatch(planCtx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			rc.Logger.Warn("patch planner timed out", "step", fc.StepID)
		} else {
			rc.Logger.Warn("patch planner failed", "step", fc.StepID, "error", err)
		}
		return RecoveryOutcome{Escalate: rc.noteGuardedFailure(fc.StepID)}
	}
	rc.Metrics.RecordLLMCall(resp.Usage.InputTokens, resp.Usage.OutputTokens)

	patched, err := patch.Apply(rc.Recipe, resp.Payload)
	if err != nil {
		// A patch that does not apply cleanly is a failed recovery, not a
		// run-level error; the ladder continues.
		rc.Metrics.RecordPatch(false)
		rc.Logger.Warn("proposed patch does not apply", "step", fc.StepID, "error", err)
		return RecoveryOutcome{Escalate: rc.noteGuardedFailure(fc.StepID)}
	}
	rc.Metrics.RecordPatch(true)

	outcome := RecoveryOutcome{Method: MethodAuthoringPatch, Patch: &resp.Payload}

	// Try the patched target immediately so this run can still finish.
	if entry, ok := patched.Selectors[fc.TargetKey]; ok && entry.Primary != "" {
		attempt := recipe.ActionRef{Selector: entry.Primary, Method: recipe.MethodClick}
		if fc.FailedAction != nil {
			attempt = *fc.FailedAction
			attempt.Selector = entry.Primary
		}
		if acted, err := rc.Engine.Act(ctx, attempt); err == nil && acted {
			outcome.Recovered = true
		}
	}
	if !outcome.Recovered {
		outcome.Escalate = rc.noteGuardedFailure(fc.StepID)
	}
	return outcome
}

// captureDOMSnippet pulls the page content through the engine's extract
// capability, trims it to budget, and files it as the step's dom artifact.
func (rc *RunContext) captureDOMSnippet(ctx context.Context, stepID string) string {
	data, err := rc.Engine.Extract(ctx, nil, "")
	if err != nil || data == nil {
		return ""
	}
	snippet := rc.Guard.TrimDOM(fmt.Sprint(data))
	if rc.Downgrades[budget.DowngradeTrimDOM] && len(snippet) > 1 {
		snippet = snippet[:len(snippet)/2]
	}
	if snippet != "" && rc.Artifacts != nil {
		rc.Artifacts.SaveDOM(stepID, snippet)
	}
	return snippet
}

// recoverCheckpoint raises the terminal operator gate: GO recovers the step,
// NOT_GO does not, and either way the ladder stops.
func (rc *RunContext) recoverCheckpoint(ctx context.Context, fc *FailureContext) RecoveryOutcome {
	var screenshot []byte
	if rc.Guard.CanTakeScreenshot(false) {
		if data, err := rc.Engine.Screenshot(ctx, ""); err == nil {
			screenshot = data
			rc.Guard.RecordScreenshot()
			if rc.Artifacts != nil {
				rc.Artifacts.SaveScreenshot(fc.StepID, data)
			}
		}
	}

	message := fmt.Sprintf("Step %q failed with %s at %s. Approve to continue anyway?",
		fc.StepID, fc.ErrorType, fc.URL)
	if rc.Guard.IsOverBudget() {
		message += " (LLM and authoring budgets are exhausted)"
	}

	waitStart := time.Now()
	decision, err := rc.Checkpoints.RequestApproval(ctx, message, screenshot)
	rc.Metrics.RecordCheckpointWait(time.Since(waitStart).Milliseconds())
	if err != nil {
		return RecoveryOutcome{Terminal: true}
	}
	return RecoveryOutcome{
		Recovered: decision == checkpoint.GO,
		Method:    MethodCheckpoint,
		Terminal:  true,
	}
}
