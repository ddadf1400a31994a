package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kairi-dev/kairi/internal/browser"
	"github.com/kairi-dev/kairi/internal/checkpoint"
	"github.com/kairi-dev/kairi/internal/config"
	"github.com/kairi-dev/kairi/internal/healing"
	"github.com/kairi-dev/kairi/internal/log"
	"github.com/kairi-dev/kairi/internal/planner"
	"github.com/kairi-dev/kairi/internal/recipe"
	"github.com/kairi-dev/kairi/internal/runtime"
	"github.com/kairi-dev/kairi/internal/telemetry"
	"github.com/kairi-dev/kairi/internal/userconfig"
)

var flagAutoApprove bool

// runInput is the single JSON document the run mode reads from stdin.
type runInput struct {
	Recipe  json.RawMessage `json:"recipe"`
	Options runInputOptions `json:"options"`
}

type runInputOptions struct {
	// Headless controls the browser mode; defaults to true.
	Headless *bool `json:"headless,omitempty"`

	// Timeout is the whole-run hard deadline in milliseconds. On expiry
	// the run emits run_error and the process exits non-zero.
	Timeout int64 `json:"timeout,omitempty"`
}

// newRunEngine builds the browser engine for a run. Browser drivers hook in
// here; the default scripted engine replays pre-registered pages, which is
// what trace replay and tests exercise.
var newRunEngine = func(headless bool) browser.Engine {
	return browser.NewScripted()
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a recipe read from stdin",
	Long: `Execute a recipe. Reads a single JSON document from stdin:

  {"recipe": {...}, "options": {"headless": true, "timeout": 60000}}

and emits one JSON run event per line on stdout:
run_start, step_start/step_end per step, then run_complete or run_error.

The exit code is 0 only when the run completes with ok=true.

Examples:
  kairi run < run.json
  cat run.json | kairi run --auto-approve`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		telemetry.ShowNoticeIfNeeded()
		exitWithCode(executeRun(os.Stdin, os.Stdout))
	},
}

// executeRun is the run command's body, factored for tests.
func executeRun(in io.Reader, out io.Writer) int {
	logger := log.Default()
	enc := json.NewEncoder(out)

	emitError := func(msg string) {
		enc.Encode(runtime.RunEvent{Type: runtime.EventRunError, Error: msg})
	}

	data, err := io.ReadAll(in)
	if err != nil {
		emitError("failed to read stdin: " + err.Error())
		return ExitUsage
	}

	var input runInput
	if err := json.Unmarshal(data, &input); err != nil {
		emitError("failed to parse input: " + err.Error())
		return ExitUsage
	}
	if len(input.Recipe) == 0 {
		emitError("input has no recipe")
		return ExitUsage
	}

	rec, err := recipe.ParseBundle(input.Recipe)
	if err != nil {
		emitError(err.Error())
		return ExitInvalidRecipe
	}

	headless := true
	if input.Options.Headless != nil {
		headless = *input.Options.Headless
	}

	runner := buildRunner(newRunEngine(headless), logger)

	ctx := context.Background()
	if input.Options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(input.Options.Timeout)*time.Millisecond)
		defer cancel()
	}

	events := runner.Events().Subscribe()
	var g errgroup.Group
	g.Go(func() error {
		for ev := range events {
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
		return nil
	})

	result, runErr := runner.Run(ctx, rec)
	runner.Events().Close()
	if err := g.Wait(); err != nil {
		logger.Warn("event stream write failed", "error", err)
	}

	if result != nil {
		m := result.Metrics
		telemetry.NewClient().Send(telemetry.NewRunEvent(
			rec.Flow, rec.Version, result.OK, result.AbortedAt, result.DurationMs,
			m.StepResults.Total, m.StepResults.Recovered, m.LLMCalls, m.PatchCount))
	}

	if runErr != nil {
		logger.Error("run failed", "error", runErr)
		return ExitRunFailed
	}
	if result == nil || !result.OK {
		return ExitRunFailed
	}
	return ExitSuccess
}

// buildRunner wires the runner with the local healing memory, the planner
// factory when any provider is configured, and the operator gate.
func buildRunner(engine browser.Engine, logger log.Logger) *runtime.Runner {
	opts := []runtime.Option{
		runtime.WithLogger(logger),
		runtime.WithCheckpointHandler(checkpointHandler()),
	}

	cfg, err := config.DefaultConfig()
	if err != nil {
		logger.Warn("failed to resolve kairi home, artifacts disabled", "error", err)
	} else {
		if err := cfg.EnsureDirs(); err != nil {
			logger.Warn("failed to create kairi directories", "error", err)
		}
		opts = append(opts,
			runtime.WithRecipesRoot(cfg.RecipesDir),
			runtime.WithRunsDir(cfg.RunsDir),
		)

		memory, err := healing.Open(cfg.MemoryPath)
		if err != nil {
			logger.Warn("healing memory unavailable", "error", err)
		} else {
			opts = append(opts, runtime.WithHealingMemory(memory))
		}
	}

	userCfg, err := userconfig.Load()
	if err != nil {
		logger.Warn("failed to load user config", "error", err)
		userCfg = userconfig.DefaultConfig()
	}

	factory, err := planner.NewFactory(context.Background(), planner.WithConfig(userCfg))
	if err != nil {
		logger.Debug("patch planning unavailable", "reason", err)
	} else {
		factory.SetOnBreakerTrip(func(name string) {
			logger.Warn("planner circuit breaker tripped", "planner", name)
		})
		opts = append(opts, runtime.WithPatchPlanner(factory))
	}

	return runtime.NewRunner(engine, opts...)
}

func checkpointHandler() checkpoint.Handler {
	if flagAutoApprove {
		return checkpoint.Auto{}
	}
	return checkpoint.NewTerminal()
}

func init() {
	runCmd.Flags().BoolVar(&flagAutoApprove, "auto-approve", false, "Answer GO to every checkpoint without prompting")
	rootCmd.AddCommand(runCmd)
}
