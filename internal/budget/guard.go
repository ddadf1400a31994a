// Package budget enforces per-run resource limits: LLM calls, authoring
// service calls, screenshots, and prompt sizes. A guard that says no is a
// hard stop; callers must skip the guarded action, not retry it.
package budget

import (
	"errors"
	"sync"
)

// ErrExhausted is returned by record methods when the corresponding limit
// has already been reached.
var ErrExhausted = errors.New("budget exhausted")

// Limits configures the per-run budget.
type Limits struct {
	MaxLLMCallsPerRun          int `json:"maxLlmCallsPerRun"`
	MaxPromptChars             int `json:"maxPromptChars"`
	MaxDOMSnippetChars         int `json:"maxDomSnippetChars"`
	MaxScreenshotPerFailure    int `json:"maxScreenshotPerFailure"`
	MaxScreenshotPerCheckpoint int `json:"maxScreenshotPerCheckpoint"`
	MaxAuthoringCallsPerRun    int `json:"maxAuthoringServiceCallsPerRun"`
	AuthoringTimeoutMs         int `json:"authoringServiceTimeoutMs"`
}

// DefaultLimits returns the stock per-run budget.
func DefaultLimits() Limits {
	return Limits{
		MaxLLMCallsPerRun:          2,
		MaxPromptChars:             8000,
		MaxDOMSnippetChars:         4000,
		MaxScreenshotPerFailure:    1,
		MaxScreenshotPerCheckpoint: 1,
		MaxAuthoringCallsPerRun:    1,
		AuthoringTimeoutMs:         20000,
	}
}

// Usage holds the monotonic counters a run has accumulated.
type Usage struct {
	LLMCalls       int `json:"llmCalls"`
	AuthoringCalls int `json:"authoringCalls"`
	PromptChars    int `json:"promptChars"`
	Screenshots    int `json:"screenshots"`
}

// Downgrade actions returned by NextDowngrade, cheapest first.
const (
	DowngradeTrimDOM     = "trim_dom"
	DowngradeDropHistory = "drop_history"
	DowngradeNarrowScope = "observe_scope_narrow"
	DowngradeCheckpoint  = "require_human_checkpoint"
)

// downgradeOrder lists the cheapening steps applied before retrying a
// guarded call, in order. Once exhausted, the next failure must escalate to
// a human checkpoint.
var downgradeOrder = []string{
	DowngradeTrimDOM,
	DowngradeDropHistory,
	DowngradeNarrowScope,
	DowngradeCheckpoint,
}

// Guard tracks usage against limits. Safe for concurrent use, though a run
// is single-writer in practice.
type Guard struct {
	mu        sync.Mutex
	limits    Limits
	usage     Usage
	downgrade int // index into downgradeOrder
}

// NewGuard creates a guard for one run.
func NewGuard(limits Limits) *Guard {
	return &Guard{limits: limits}
}

// CanCallLLM reports whether another LLM call fits the budget.
func (g *Guard) CanCallLLM() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.usage.LLMCalls < g.limits.MaxLLMCallsPerRun
}

// CanCallAuthoring reports whether another authoring service call fits.
func (g *Guard) CanCallAuthoring() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.usage.AuthoringCalls < g.limits.MaxAuthoringCallsPerRun
}

// CanTakeScreenshot reports whether a screenshot is allowed for the current
// occasion. The limits are per failure or per checkpoint, not per run; the
// caller asks once per occasion.
func (g *Guard) CanTakeScreenshot(forCheckpoint bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if forCheckpoint {
		return g.limits.MaxScreenshotPerCheckpoint > 0
	}
	return g.limits.MaxScreenshotPerFailure > 0
}

// RecordLLMCall counts an LLM call and its prompt size.
// Returns ErrExhausted if the call limit was already reached.
func (g *Guard) RecordLLMCall(promptChars int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.usage.LLMCalls >= g.limits.MaxLLMCallsPerRun {
		return ErrExhausted
	}
	g.usage.LLMCalls++
	g.usage.PromptChars += promptChars
	return nil
}

// RecordAuthoringCall counts an authoring service call.
// Returns ErrExhausted if the call limit was already reached.
func (g *Guard) RecordAuthoringCall() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.usage.AuthoringCalls >= g.limits.MaxAuthoringCallsPerRun {
		return ErrExhausted
	}
	g.usage.AuthoringCalls++
	return nil
}

// RecordScreenshot counts a captured screenshot.
func (g *Guard) RecordScreenshot() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.usage.Screenshots++
}

// IsOverBudget reports whether any hard per-run limit has been reached.
func (g *Guard) IsOverBudget() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.usage.LLMCalls >= g.limits.MaxLLMCallsPerRun &&
		g.usage.AuthoringCalls >= g.limits.MaxAuthoringCallsPerRun
}

// NextDowngrade returns the next cheapening step to apply before retrying a
// guarded call. ok=false means the ladder is exhausted and the next failure
// must escalate to a checkpoint.
func (g *Guard) NextDowngrade() (action string, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.downgrade >= len(downgradeOrder) {
		return "", false
	}
	action = downgradeOrder[g.downgrade]
	g.downgrade++
	return action, true
}

// TrimPrompt truncates a prompt to the configured maximum.
func (g *Guard) TrimPrompt(prompt string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.limits.MaxPromptChars > 0 && len(prompt) > g.limits.MaxPromptChars {
		return prompt[:g.limits.MaxPromptChars]
	}
	return prompt
}

// TrimDOM truncates a DOM snippet to the configured maximum.
func (g *Guard) TrimDOM(dom string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.limits.MaxDOMSnippetChars > 0 && len(dom) > g.limits.MaxDOMSnippetChars {
		return dom[:g.limits.MaxDOMSnippetChars]
	}
	return dom
}

// Usage returns a snapshot of the counters.
func (g *Guard) Usage() Usage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.usage
}

// Limits returns the configured limits.
func (g *Guard) Limits() Limits {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limits
}
