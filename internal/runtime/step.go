package runtime

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/kairi-dev/kairi/internal/checkpoint"
	"github.com/kairi-dev/kairi/internal/patch"
	"github.com/kairi-dev/kairi/internal/policy"
	"github.com/kairi-dev/kairi/internal/recipe"
)

// StepResult is the outcome of executing one step.
type StepResult struct {
	StepID     string         `json:"stepId"`
	OK         bool           `json:"ok"`
	ErrorType  ErrorType      `json:"errorType,omitempty"`
	Message    string         `json:"message,omitempty"`
	DurationMs int64          `json:"durationMs"`
	Data       map[string]any `json:"data,omitempty"`

	// RecoveryMethod is set when the step passed only after recovery.
	RecoveryMethod string `json:"-"`

	// PendingPatch is a planner-produced patch awaiting the patch workflow.
	PendingPatch *patch.Payload `json:"-"`
}

// executeStep runs one step: interpolate args, dispatch on op, validate
// expectations, and consult the recovery pipeline on failure.
func (rc *RunContext) executeStep(ctx context.Context, step *recipe.Step) StepResult {
	start := time.Now()
	args := interpolateArgs(step.Args, rc.Vars)

	result := rc.dispatch(ctx, step, args)
	result.StepID = step.ID

	if result.OK && len(step.Expect) > 0 {
		if failed := rc.checkExpectations(ctx, step.Expect); len(failed) > 0 {
			result.OK = false
			result.ErrorType = ErrExpectationFailed
			result.Message = "expectations failed: " + strings.Join(failed, ", ")
		}
	}

	// Template steps are classified but never enter the ladder.
	if !result.OK && result.ErrorType != "" && step.Op != recipe.OpActTemplate {
		if outcome := rc.recoverStep(ctx, step, args, result); outcome.Recovered {
			result.OK = true
			result.Message = "Recovered via " + outcome.Method
			result.RecoveryMethod = outcome.Method
			result.PendingPatch = outcome.Patch
		} else if outcome.Patch != nil {
			result.PendingPatch = outcome.Patch
		}
	}

	result.DurationMs = time.Since(start).Milliseconds()
	rc.Metrics.RecordStep(result.OK, result.RecoveryMethod)
	return result
}

// recoverStep builds the failure context and runs the recovery ladder.
func (rc *RunContext) recoverStep(ctx context.Context, step *recipe.Step, args map[string]any, result StepResult) RecoveryOutcome {
	fc := &FailureContext{
		StepID:    step.ID,
		ErrorType: result.ErrorType,
		URL:       rc.currentURL(ctx),
		Title:     rc.currentTitle(ctx),
		TargetKey: step.TargetKey,
		Step:      step,
		Args:      args,
	}
	if entry, ok := rc.Recipe.Actions[step.TargetKey]; ok {
		fc.Instruction = entry.Instruction
		action := entry.Preferred
		fc.FailedAction = &action
		fc.FailedSelector = action.Selector
	} else if entry, ok := rc.Recipe.Selectors[step.TargetKey]; ok {
		fc.FailedSelector = entry.Primary
		fc.FailedAction = &recipe.ActionRef{Selector: entry.Primary, Method: recipe.MethodClick}
	}
	return rc.recover(ctx, fc)
}

// dispatch executes the op itself, without expectations or recovery.
func (rc *RunContext) dispatch(ctx context.Context, step *recipe.Step, args map[string]any) StepResult {
	switch step.Op {
	case recipe.OpGoto:
		return rc.opGoto(ctx, args)
	case recipe.OpActCached:
		return rc.opActCached(ctx, step)
	case recipe.OpActTemplate:
		return rc.opActTemplate(ctx, step, args)
	case recipe.OpExtract:
		return rc.opExtract(ctx, args)
	case recipe.OpChoose:
		return rc.opChoose(step, args)
	case recipe.OpCheckpoint:
		return rc.opCheckpoint(ctx, args)
	case recipe.OpWait:
		return rc.opWait(ctx, args)
	default:
		return StepResult{ErrorType: ErrUnknown, Message: fmt.Sprintf("unknown op %q", step.Op)}
	}
}

func (rc *RunContext) opGoto(ctx context.Context, args map[string]any) StepResult {
	url, _ := stringArg(args, "url")
	if url == "" {
		return StepResult{ErrorType: ErrNavigation, Message: "goto requires args.url"}
	}
	if err := rc.Engine.Goto(ctx, url); err != nil {
		return StepResult{ErrorType: ErrNavigation, Message: err.Error()}
	}
	return StepResult{OK: true}
}

// opActCached executes the cached action for the target key. The preferred
// action from the action cache wins; a bare selector entry acts as a click.
func (rc *RunContext) opActCached(ctx context.Context, step *recipe.Step) StepResult {
	var action recipe.ActionRef
	if entry, ok := rc.Recipe.Actions[step.TargetKey]; ok {
		action = entry.Preferred
	} else if entry, ok := rc.Recipe.Selectors[step.TargetKey]; ok {
		action = recipe.ActionRef{Selector: entry.Primary, Method: recipe.MethodClick}
	} else {
		return StepResult{ErrorType: ErrTargetNotFound, Message: fmt.Sprintf("no action or selector for %q", step.TargetKey)}
	}

	acted, err := rc.Engine.Act(ctx, action)
	if err != nil {
		return StepResult{ErrorType: classify(err), Message: err.Error()}
	}
	if !acted {
		return StepResult{ErrorType: ErrTargetNotFound, Message: fmt.Sprintf("selector %q did not match", action.Selector)}
	}
	return StepResult{OK: true}
}

// opActTemplate executes the cached action with interpolated arguments,
// once; template steps get no ladder beyond classification.
func (rc *RunContext) opActTemplate(ctx context.Context, step *recipe.Step, args map[string]any) StepResult {
	entry, ok := rc.Recipe.Actions[step.TargetKey]
	if !ok {
		return StepResult{ErrorType: ErrTargetNotFound, Message: fmt.Sprintf("no action template for %q", step.TargetKey)}
	}

	action := entry.Preferred
	action.Arguments = make([]string, len(entry.Preferred.Arguments))
	for i, arg := range entry.Preferred.Arguments {
		action.Arguments[i] = interpolateString(arg, rc.Vars)
	}
	if value, ok := stringArg(args, "value"); ok {
		action.Arguments = append(action.Arguments, value)
	}

	acted, err := rc.Engine.Act(ctx, action)
	if err != nil {
		return StepResult{ErrorType: classify(err), Message: err.Error()}
	}
	if !acted {
		return StepResult{ErrorType: ErrTargetNotFound, Message: fmt.Sprintf("selector %q did not match", action.Selector)}
	}
	return StepResult{OK: true}
}

func (rc *RunContext) opExtract(ctx context.Context, args map[string]any) StepResult {
	schema, _ := args["schema"].(map[string]any)
	scope, _ := stringArg(args, "scope")

	data, err := rc.Engine.Extract(ctx, schema, scope)
	if err != nil {
		return StepResult{ErrorType: classify(err), Message: err.Error()}
	}
	if isEmptyExtract(data) {
		return StepResult{ErrorType: ErrExtractionEmpty, Message: "extraction produced no data"}
	}

	into, ok := stringArg(args, "into")
	if ok {
		rc.Vars[into] = data
	}
	return StepResult{OK: true, Data: map[string]any{"extracted": data}}
}

// opChoose applies a policy to a candidate list in vars. A missing winner is
// a plain step failure with no error type, so no recovery ladder engages.
func (rc *RunContext) opChoose(step *recipe.Step, args map[string]any) StepResult {
	from, _ := stringArg(args, "from")
	policyName, _ := stringArg(args, "policy")
	into, _ := stringArg(args, "into")

	raw, ok := rc.Vars[from]
	if !ok {
		return StepResult{Message: fmt.Sprintf("vars.%s is not set", from)}
	}
	candidates, err := toCandidates(raw)
	if err != nil {
		return StepResult{Message: fmt.Sprintf("vars.%s: %v", from, err)}
	}

	pol, ok := rc.Recipe.Policies[policyName]
	if !ok {
		return StepResult{Message: fmt.Sprintf("unknown policy %q", policyName)}
	}

	winner, found := policy.Evaluate(candidates, &pol)
	if !found {
		return StepResult{Message: fmt.Sprintf("policy %q selected no candidate", policyName)}
	}
	rc.Vars[into] = winner
	return StepResult{OK: true, Data: map[string]any{"chosen": winner}}
}

func (rc *RunContext) opCheckpoint(ctx context.Context, args map[string]any) StepResult {
	message, _ := stringArg(args, "message")
	if message == "" {
		message = "Checkpoint reached. Continue?"
	}

	var screenshot []byte
	if rc.Guard.CanTakeScreenshot(true) {
		if data, err := rc.Engine.Screenshot(ctx, ""); err == nil {
			screenshot = data
			rc.Guard.RecordScreenshot()
		}
	}

	waitStart := time.Now()
	decision, err := rc.Checkpoints.RequestApproval(ctx, message, screenshot)
	rc.Metrics.RecordCheckpointWait(time.Since(waitStart).Milliseconds())
	if err != nil {
		return StepResult{Message: fmt.Sprintf("checkpoint failed: %v", err)}
	}
	if decision != checkpoint.GO {
		return StepResult{Message: "operator declined checkpoint"}
	}
	return StepResult{OK: true}
}

func (rc *RunContext) opWait(ctx context.Context, args map[string]any) StepResult {
	ms, _ := numberArg(args, "ms")
	if ms <= 0 {
		return StepResult{OK: true}
	}
	select {
	case <-ctx.Done():
		return StepResult{Message: ctx.Err().Error()}
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return StepResult{OK: true}
	}
}

// checkExpectations validates each post-condition, returning descriptions of
// the ones that failed.
func (rc *RunContext) checkExpectations(ctx context.Context, expects []recipe.Expectation) []string {
	var failed []string
	for _, exp := range expects {
		ok := false
		switch exp.Kind {
		case recipe.ExpectURLContains:
			ok = strings.Contains(rc.currentURL(ctx), exp.Value)
		case recipe.ExpectTitleContains:
			ok = strings.Contains(rc.currentTitle(ctx), exp.Value)
		case recipe.ExpectSelectorVisible:
			_, err := rc.Engine.Screenshot(ctx, exp.Value)
			ok = err == nil
		case recipe.ExpectTextContains:
			data, err := rc.Engine.Extract(ctx, nil, "")
			ok = err == nil && strings.Contains(fmt.Sprint(data), exp.Value)
		}
		if !ok {
			failed = append(failed, fmt.Sprintf("%s(%s)", exp.Kind, exp.Value))
		}
	}
	return failed
}

func stringArg(args map[string]any, name string) (string, bool) {
	if args == nil {
		return "", false
	}
	v, ok := args[name].(string)
	return v, ok
}

func numberArg(args map[string]any, name string) (float64, bool) {
	if args == nil {
		return 0, false
	}
	switch v := args[name].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// isEmptyExtract reports whether an extraction result counts as empty.
func isEmptyExtract(data any) bool {
	if data == nil {
		return true
	}
	switch v := data.(type) {
	case string:
		return v == ""
	case map[string]any:
		return len(v) == 0
	case []any:
		return len(v) == 0
	}
	rv := reflect.ValueOf(data)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map:
		return rv.Len() == 0
	}
	return false
}

// toCandidates coerces a vars value to the policy engine's candidate shape.
func toCandidates(raw any) ([]policy.Candidate, error) {
	list, ok := raw.([]any)
	if !ok {
		if typed, ok := raw.([]policy.Candidate); ok {
			return typed, nil
		}
		if typed, ok := raw.([]map[string]any); ok {
			out := make([]policy.Candidate, len(typed))
			for i, m := range typed {
				out[i] = m
			}
			return out, nil
		}
		return nil, fmt.Errorf("must be a list")
	}
	out := make([]policy.Candidate, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("candidates must be objects")
		}
		out = append(out, m)
	}
	return out, nil
}
