package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kairi-dev/kairi/internal/browser"
	"github.com/kairi-dev/kairi/internal/budget"
	"github.com/kairi-dev/kairi/internal/checkpoint"
	"github.com/kairi-dev/kairi/internal/healing"
	"github.com/kairi-dev/kairi/internal/log"
	"github.com/kairi-dev/kairi/internal/metrics"
	"github.com/kairi-dev/kairi/internal/patch"
	"github.com/kairi-dev/kairi/internal/recipe"
)

// RunResult is what a completed (or aborted) run returns to its caller.
type RunResult struct {
	RunID       string             `json:"runId"`
	OK          bool               `json:"ok"`
	AbortedAt   string             `json:"abortedAt,omitempty"`
	StepResults []StepResult       `json:"stepResults"`
	DurationMs  int64              `json:"durationMs"`
	Vars        map[string]any     `json:"vars"`
	Metrics     metrics.RunMetrics `json:"metrics"`
}

// Runner orchestrates whole runs: preflight, the GO/NOT-GO gate, the step
// loop with onFail routing, and the run summary.
type Runner struct {
	engine      browser.Engine
	handler     checkpoint.Handler
	memory      *healing.Memory
	planner     PatchPlanner
	limits      budget.Limits
	logger      log.Logger
	stream      *Stream
	maxRetries  int
	recipesRoot string
	runsDir     string
}

// Option configures a Runner.
type Option func(*Runner)

// WithCheckpointHandler sets the operator gate. Defaults to auto-approve.
func WithCheckpointHandler(h checkpoint.Handler) Option {
	return func(r *Runner) { r.handler = h }
}

// WithHealingMemory attaches the persistent healing store.
func WithHealingMemory(m *healing.Memory) Option {
	return func(r *Runner) { r.memory = m }
}

// WithPatchPlanner attaches a patch planner for the authoring rung.
func WithPatchPlanner(p PatchPlanner) Option {
	return func(r *Runner) { r.planner = p }
}

// WithBudget overrides the per-run budget limits.
func WithBudget(limits budget.Limits) Option {
	return func(r *Runner) { r.limits = limits }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l log.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithMaxRetries sets how many automatic re-executions a step with
// onFail=retry gets after its first failed attempt. The default of 1 keeps
// retries from cascading; the fallback ladder handles deeper recovery.
func WithMaxRetries(n int) Option {
	return func(r *Runner) { r.maxRetries = n }
}

// WithRecipesRoot enables persistence of accepted patches as new recipe
// versions under root.
func WithRecipesRoot(root string) Option {
	return func(r *Runner) { r.recipesRoot = root }
}

// WithRunsDir enables run artifacts under dir/<runId>/.
func WithRunsDir(dir string) Option {
	return func(r *Runner) { r.runsDir = dir }
}

// NewRunner creates a runner bound to a browser engine.
func NewRunner(engine browser.Engine, opts ...Option) *Runner {
	r := &Runner{
		engine:     engine,
		handler:    checkpoint.Auto{},
		limits:     budget.DefaultLimits(),
		logger:     log.Default(),
		maxRetries: 1,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.stream = NewStream(r.logger)
	return r
}

// Events returns the runner's event stream for subscription.
func (r *Runner) Events() *Stream {
	return r.stream
}

// Run executes the recipe's workflow. The returned error is non-nil only
// for infrastructure failures (invalid recipe, cancelled context); workflow
// failures are reported through RunResult.OK and the event stream.
func (r *Runner) Run(ctx context.Context, rec *recipe.Recipe) (*RunResult, error) {
	if err := recipe.Validate(rec); err != nil {
		r.stream.Emit(RunEvent{Type: EventRunError, Error: err.Error()})
		return nil, fmt.Errorf("invalid recipe: %w", err)
	}

	rc := newRunContext(rec, r.engine, r.handler, r.logger)
	rc.Memory = r.memory
	rc.Planner = r.planner
	rc.Guard = budget.NewGuard(r.limits)
	rc.Stream = r.stream

	if r.runsDir != "" {
		artifacts, err := NewArtifacts(r.runsDir+"/"+rc.RunID, r.logger)
		if err != nil {
			r.logger.Warn("run artifacts disabled", "error", err)
		} else {
			rc.Artifacts = artifacts
		}
	}

	result := r.execute(ctx, rc)

	runMetrics := rc.Metrics.Finalize(result.OK)
	result.Metrics = runMetrics
	result.DurationMs = runMetrics.DurationMs

	if rc.Artifacts != nil {
		rc.Artifacts.WriteSummary(result, runMetrics)
		rc.Artifacts.WriteTraceMeta(rec.Flow, rec.Version, rc.RunID, runMetrics.LLMCalls, runMetrics.PatchCount)
		rc.Artifacts.WriteMetrics(runMetrics)
	}

	if err := ctx.Err(); err != nil {
		r.stream.Emit(RunEvent{Type: EventRunError, Error: "run cancelled: " + err.Error()})
		return result, err
	}

	r.stream.Emit(RunEvent{
		Type:            EventRunComplete,
		OK:              boolPtr(result.OK),
		TotalDurationMs: int64Ptr(result.DurationMs),
		Vars:            result.Vars,
		AbortedAt:       result.AbortedAt,
		Summary:         runSummary(runMetrics),
	})
	return result, nil
}

func (r *Runner) execute(ctx context.Context, rc *RunContext) *RunResult {
	result := &RunResult{RunID: rc.RunID, Vars: rc.Vars}
	steps := rc.Recipe.Workflow.Steps

	r.stream.Emit(RunEvent{Type: EventRunStart, RunID: rc.RunID, TotalSteps: len(steps)})

	// Preflight: only urlContains fingerprints gate the run; text and
	// selector hints are advisory per-page guards.
	if !r.preflight(ctx, rc) {
		result.AbortedAt = "preflight"
		return result
	}

	if !r.goNotGoGate(ctx, rc) {
		result.AbortedAt = "go_not_go"
		return result
	}

	for i := range steps {
		step := &steps[i]
		index := i + 1

		r.stream.Emit(RunEvent{Type: EventStepStart, StepID: step.ID, StepIndex: index, Op: string(step.Op)})

		sr := rc.executeStep(ctx, step)
		for attempt := 0; !sr.OK && step.OnFail == recipe.OnFailRetry && attempt < r.maxRetries; attempt++ {
			r.logger.Info("retrying step", "step", step.ID, "attempt", attempt+2)
			sr = rc.executeStep(ctx, step)
		}

		r.handlePendingPatch(ctx, rc, &sr)
		result.StepResults = append(result.StepResults, sr)
		r.emitStepEnd(&sr, index)
		r.logStep(rc, &sr)

		if sr.OK {
			continue
		}
		if ctx.Err() != nil {
			result.AbortedAt = step.ID
			return result
		}

		if step.OnFail == recipe.OnFailCheckpoint {
			message := fmt.Sprintf("Step %q failed (%s). Continue the run?", step.ID, sr.ErrorType)
			waitStart := time.Now()
			decision, err := rc.Checkpoints.RequestApproval(ctx, message, nil)
			rc.Metrics.RecordCheckpointWait(time.Since(waitStart).Milliseconds())
			if err == nil && decision == checkpoint.GO {
				continue
			}
		}

		result.AbortedAt = step.ID
		return result
	}

	result.OK = true
	return result
}

// preflight compares every fingerprint's urlContains against the current
// URL; all configured guards must hold.
func (r *Runner) preflight(ctx context.Context, rc *RunContext) bool {
	current := rc.currentURL(ctx)
	for _, fp := range rc.Recipe.Fingerprints {
		if fp.URLContains == "" {
			continue
		}
		if !strings.Contains(current, fp.URLContains) {
			r.logger.Warn("preflight fingerprint failed", "want", fp.URLContains, "url", current)
			return false
		}
	}
	return true
}

// goNotGoGate asks the operator to approve the run.
func (r *Runner) goNotGoGate(ctx context.Context, rc *RunContext) bool {
	message := fmt.Sprintf("Run %s/%s %s: %d steps. GO?",
		rc.Recipe.Domain, rc.Recipe.Flow, rc.Recipe.Version, len(rc.Recipe.Workflow.Steps))

	waitStart := time.Now()
	decision, err := rc.Checkpoints.RequestApproval(ctx, message, nil)
	rc.Metrics.RecordCheckpointWait(time.Since(waitStart).Milliseconds())
	if err != nil {
		r.logger.Warn("go/not-go gate failed", "error", err)
		return false
	}
	return decision == checkpoint.GO
}

// handlePendingPatch persists a planner-produced patch as a new recipe
// version when a recipes root is configured. Failures downgrade to a
// warning; the run itself already has its verdict.
func (r *Runner) handlePendingPatch(ctx context.Context, rc *RunContext, sr *StepResult) {
	if sr.PendingPatch == nil || r.recipesRoot == "" {
		return
	}
	next, err := patch.ApplyAndVersionUp(ctx, r.recipesRoot, rc.Recipe, *sr.PendingPatch, rc.Checkpoints)
	if err != nil {
		r.logger.Warn("failed to persist patched recipe", "step", sr.StepID, "error", err)
		return
	}
	r.logger.Info("persisted patched recipe", "step", sr.StepID, "version", next.Version)
}

func (r *Runner) emitStepEnd(sr *StepResult, index int) {
	r.stream.Emit(RunEvent{
		Type:       EventStepEnd,
		StepID:     sr.StepID,
		StepIndex:  index,
		OK:         boolPtr(sr.OK),
		DurationMs: sr.DurationMs,
		Message:    sr.Message,
		ErrorType:  string(sr.ErrorType),
		Data:       sr.Data,
	})
}

func (r *Runner) logStep(rc *RunContext, sr *StepResult) {
	if rc.Artifacts == nil {
		return
	}
	entry := map[string]any{
		"stepId":     sr.StepID,
		"ok":         sr.OK,
		"durationMs": sr.DurationMs,
	}
	if sr.ErrorType != "" {
		entry["errorType"] = string(sr.ErrorType)
	}
	if sr.Message != "" {
		entry["message"] = sr.Message
	}
	rc.Artifacts.AppendLog(entry)
}

func runSummary(m metrics.RunMetrics) string {
	return fmt.Sprintf("%d/%d steps passed, %d recovered",
		m.StepResults.Passed, m.StepResults.Total, m.StepResults.Recovered)
}
