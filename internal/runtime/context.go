package runtime

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kairi-dev/kairi/internal/browser"
	"github.com/kairi-dev/kairi/internal/budget"
	"github.com/kairi-dev/kairi/internal/checkpoint"
	"github.com/kairi-dev/kairi/internal/healing"
	"github.com/kairi-dev/kairi/internal/log"
	"github.com/kairi-dev/kairi/internal/metrics"
	"github.com/kairi-dev/kairi/internal/planner"
	"github.com/kairi-dev/kairi/internal/recipe"
)

// PatchPlanner is the planning capability the recovery pipeline consumes.
// Both a single planner and the planner factory satisfy it.
type PatchPlanner interface {
	PlanPatch(ctx context.Context, req *planner.Request) (*planner.Response, error)
}

// RunContext carries the per-run state shared by the runner, the step
// executor, and the recovery pipeline. A RunContext is never shared between
// runs.
type RunContext struct {
	RunID  string
	Recipe *recipe.Recipe
	Vars   map[string]any

	Engine      browser.Engine
	Checkpoints checkpoint.Handler
	Memory      *healing.Memory
	Planner     PatchPlanner

	Guard     *budget.Guard
	Metrics   *metrics.Collector
	Stream    *Stream
	Artifacts *Artifacts
	Logger    log.Logger

	// Downgrades holds the budget cheapening steps applied so far; guarded
	// recovery calls consult it before spending.
	Downgrades map[string]bool

	StartedAt     time.Time
	MinConfidence float64
}

// newRunContext seeds the run state from the recipe's workflow vars.
func newRunContext(r *recipe.Recipe, engine browser.Engine, handler checkpoint.Handler, logger log.Logger) *RunContext {
	vars := make(map[string]any, len(r.Workflow.Vars))
	for k, v := range r.Workflow.Vars {
		vars[k] = v
	}

	runID := uuid.NewString()
	return &RunContext{
		RunID:         runID,
		Recipe:        r,
		Vars:          vars,
		Engine:        engine,
		Checkpoints:   handler,
		Guard:         budget.NewGuard(budget.DefaultLimits()),
		Metrics:       metrics.NewCollector(runID, r.Flow, r.Version),
		Logger:        logger,
		StartedAt:     time.Now(),
		MinConfidence: healing.DefaultMinConfidence,
	}
}

// currentURL reads the engine's URL, tolerating engines that fail the read.
func (rc *RunContext) currentURL(ctx context.Context) string {
	url, err := rc.Engine.CurrentURL(ctx)
	if err != nil {
		return ""
	}
	return url
}

// currentTitle reads the engine's title, tolerating failures.
func (rc *RunContext) currentTitle(ctx context.Context) string {
	title, err := rc.Engine.CurrentTitle(ctx)
	if err != nil {
		return ""
	}
	return title
}
