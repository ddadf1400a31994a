// Package metrics collects per-run counters and aggregates them across runs,
// including the SLO compliance block used by operational review.
package metrics

import (
	"sync"
	"time"
)

// TokenUsage accumulates LLM token consumption for a run.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
}

// StepTotals summarizes step outcomes for a run.
type StepTotals struct {
	Total     int `json:"total"`
	Passed    int `json:"passed"`
	Failed    int `json:"failed"`
	Recovered int `json:"recovered"`
}

// RunMetrics is the per-run record produced by Collector.Finalize.
type RunMetrics struct {
	RunID               string         `json:"runId"`
	Flow                string         `json:"flow"`
	Version             string         `json:"version"`
	StartedAt           time.Time      `json:"startedAt"`
	CompletedAt         time.Time      `json:"completedAt"`
	Success             bool           `json:"success"`
	DurationMs          int64          `json:"durationMs"`
	LLMCalls            int            `json:"llmCalls"`
	TokenUsage          TokenUsage     `json:"tokenUsage"`
	PatchCount          int            `json:"patchCount"`
	PatchSuccessRate    float64        `json:"patchSuccessRate"`
	HealingMemoryHits   int            `json:"healingMemoryHits"`
	HealingMemoryMisses int            `json:"healingMemoryMisses"`
	CheckpointWaitMs    int64          `json:"checkpointWaitMs"`
	StepResults         StepTotals     `json:"stepResults"`
	FallbackLadderUsage map[string]int `json:"fallbackLadderUsage"`
}

// Collector accumulates one run's counters. It is safe for use from the
// run's goroutines; a run never shares its collector with another run.
type Collector struct {
	mu sync.Mutex

	runID   string
	flow    string
	version string

	startedAt      time.Time
	steps          StepTotals
	llmCalls       int
	tokens         TokenUsage
	patchCount     int
	patchSuccesses int
	healHits       int
	healMisses     int
	checkpointMs   int64
	fallbacks      map[string]int

	// now is injectable for tests.
	now func() time.Time
}

// NewCollector starts collecting for a run. The start timestamp is taken
// immediately.
func NewCollector(runID, flow, version string) *Collector {
	c := &Collector{
		runID:     runID,
		flow:      flow,
		version:   version,
		fallbacks: make(map[string]int),
		now:       time.Now,
	}
	c.startedAt = c.now()
	return c
}

// RecordStep counts one executed step. A non-empty recoveryMethod marks a
// step that passed only after recovery.
func (c *Collector) RecordStep(ok bool, recoveryMethod string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.steps.Total++
	if ok {
		c.steps.Passed++
		if recoveryMethod != "" {
			c.steps.Recovered++
		}
	} else {
		c.steps.Failed++
	}
}

// RecordLLMCall counts one model call with its token usage.
func (c *Collector) RecordLLMCall(promptTokens, completionTokens int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.llmCalls++
	c.tokens.Prompt += promptTokens
	c.tokens.Completion += completionTokens
}

// RecordPatch counts a patch attempt and whether it applied cleanly.
func (c *Collector) RecordPatch(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.patchCount++
	if ok {
		c.patchSuccesses++
	}
}

// RecordHealingMemory counts a healing memory lookup.
func (c *Collector) RecordHealingMemory(hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if hit {
		c.healHits++
	} else {
		c.healMisses++
	}
}

// RecordCheckpointWait adds time spent waiting on an operator decision.
func (c *Collector) RecordCheckpointWait(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkpointMs += ms
}

// RecordFallback counts one attempt of a recovery ladder method.
func (c *Collector) RecordFallback(method string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallbacks[method]++
}

// Finalize produces the run's metrics record and resets the collector for
// reuse.
func (c *Collector) Finalize(success bool) RunMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	completed := c.now()
	out := RunMetrics{
		RunID:               c.runID,
		Flow:                c.flow,
		Version:             c.version,
		StartedAt:           c.startedAt,
		CompletedAt:         completed,
		Success:             success,
		DurationMs:          completed.Sub(c.startedAt).Milliseconds(),
		LLMCalls:            c.llmCalls,
		TokenUsage:          c.tokens,
		PatchCount:          c.patchCount,
		HealingMemoryHits:   c.healHits,
		HealingMemoryMisses: c.healMisses,
		CheckpointWaitMs:    c.checkpointMs,
		StepResults:         c.steps,
		FallbackLadderUsage: c.fallbacks,
	}
	if c.patchCount > 0 {
		out.PatchSuccessRate = float64(c.patchSuccesses) / float64(c.patchCount)
	}

	c.steps = StepTotals{}
	c.llmCalls = 0
	c.tokens = TokenUsage{}
	c.patchCount = 0
	c.patchSuccesses = 0
	c.healHits = 0
	c.healMisses = 0
	c.checkpointMs = 0
	c.fallbacks = make(map[string]int)
	c.startedAt = c.now()

	return out
}
