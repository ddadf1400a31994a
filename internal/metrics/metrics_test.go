package metrics

import (
	"testing"
	"time"
)

func TestCollector_Finalize(t *testing.T) {
	c := NewCollector("run-1", "buy-ticket", "v003")
	start := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	now := start
	c.now = func() time.Time { return now }
	c.startedAt = start

	c.RecordStep(true, "")
	c.RecordStep(true, "selector_fallback")
	c.RecordStep(false, "")
	c.RecordLLMCall(1200, 300)
	c.RecordPatch(true)
	c.RecordPatch(false)
	c.RecordHealingMemory(true)
	c.RecordHealingMemory(false)
	c.RecordHealingMemory(false)
	c.RecordCheckpointWait(500)
	c.RecordFallback("retry")
	c.RecordFallback("selector_fallback")

	now = start.Add(2 * time.Second)
	m := c.Finalize(false)

	if m.RunID != "run-1" || m.Flow != "buy-ticket" || m.Version != "v003" {
		t.Errorf("identity = %q/%q/%q", m.RunID, m.Flow, m.Version)
	}
	if m.DurationMs != 2000 {
		t.Errorf("DurationMs = %d, want 2000", m.DurationMs)
	}
	if m.StepResults != (StepTotals{Total: 3, Passed: 2, Failed: 1, Recovered: 1}) {
		t.Errorf("StepResults = %+v", m.StepResults)
	}
	if m.LLMCalls != 1 || m.TokenUsage.Prompt != 1200 || m.TokenUsage.Completion != 300 {
		t.Errorf("llm = %d, tokens = %+v", m.LLMCalls, m.TokenUsage)
	}
	if m.PatchCount != 2 || m.PatchSuccessRate != 0.5 {
		t.Errorf("patches = %d, rate = %v", m.PatchCount, m.PatchSuccessRate)
	}
	if m.HealingMemoryHits != 1 || m.HealingMemoryMisses != 2 {
		t.Errorf("healing = %d/%d", m.HealingMemoryHits, m.HealingMemoryMisses)
	}
	if m.CheckpointWaitMs != 500 {
		t.Errorf("CheckpointWaitMs = %d", m.CheckpointWaitMs)
	}
	if m.FallbackLadderUsage["retry"] != 1 || m.FallbackLadderUsage["selector_fallback"] != 1 {
		t.Errorf("FallbackLadderUsage = %v", m.FallbackLadderUsage)
	}
	if m.Success {
		t.Error("Success should be false")
	}
}

func TestCollector_FinalizeResets(t *testing.T) {
	c := NewCollector("run-1", "flow", "v001")
	c.RecordStep(true, "")
	c.RecordLLMCall(10, 10)
	c.Finalize(true)

	m := c.Finalize(true)
	if m.StepResults.Total != 0 || m.LLMCalls != 0 || m.TokenUsage.Prompt != 0 {
		t.Errorf("collector not reset: %+v", m)
	}
}

func run(flow string, startedAt time.Time, success bool, mutate func(*RunMetrics)) RunMetrics {
	m := RunMetrics{
		Flow:      flow,
		StartedAt: startedAt,
		Success:   success,
	}
	if mutate != nil {
		mutate(&m)
	}
	return m
}

func TestAggregate_SecondRunSuccessRate(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	at := func(i int) time.Time { return base.Add(time.Duration(i) * time.Hour) }

	// Two flows: first run per flow is the seed; of the remaining four
	// runs, three succeed.
	runs := []RunMetrics{
		run("a", at(0), false, nil), // seed for a
		run("b", at(1), true, nil),  // seed for b
		run("a", at(2), true, nil),
		run("a", at(3), true, nil),
		run("b", at(4), false, nil),
		run("b", at(5), true, nil),
	}

	s := Aggregate(runs)
	want := 3.0 / 4.0
	if got := s.SLO.SecondRunSuccessRate.Value; got != want {
		t.Errorf("secondRunSuccessRate = %v, want %v", got, want)
	}
	if s.SLO.SecondRunSuccessRate.Met {
		t.Error("0.75 must miss the 0.95 target")
	}
}

func TestAggregate_NoSecondRuns(t *testing.T) {
	base := time.Now()
	runs := []RunMetrics{
		run("a", base, false, nil),
		run("b", base.Add(time.Minute), false, nil),
	}

	s := Aggregate(runs)
	if got := s.SLO.SecondRunSuccessRate.Value; got != 1.0 {
		t.Errorf("secondRunSuccessRate = %v, want 1.0 with only seeds", got)
	}
}

func TestAggregate_Rates(t *testing.T) {
	base := time.Now()
	runs := []RunMetrics{
		run("a", base, true, func(m *RunMetrics) {
			m.DurationMs = 1000
			m.LLMCalls = 1
			m.TokenUsage = TokenUsage{Prompt: 100, Completion: 50}
			m.PatchCount = 1
			m.HealingMemoryHits = 3
			m.HealingMemoryMisses = 1
			m.CheckpointWaitMs = 200
			m.FallbackLadderUsage = map[string]int{"retry": 2}
		}),
		run("a", base.Add(time.Minute), false, func(m *RunMetrics) {
			m.DurationMs = 3000
			m.HealingMemoryMisses = 4
			m.FallbackLadderUsage = map[string]int{"retry": 1, "observe_refresh": 1}
		}),
	}

	s := Aggregate(runs)
	if s.SuccessRate != 0.5 {
		t.Errorf("SuccessRate = %v", s.SuccessRate)
	}
	if s.AvgDurationMs != 2000 {
		t.Errorf("AvgDurationMs = %v", s.AvgDurationMs)
	}
	if s.AvgLLMCallsPerRun != 0.5 {
		t.Errorf("AvgLLMCallsPerRun = %v", s.AvgLLMCallsPerRun)
	}
	if s.AvgTokensPerRun != 75 {
		t.Errorf("AvgTokensPerRun = %v", s.AvgTokensPerRun)
	}
	if s.PatchRate != 0.5 {
		t.Errorf("PatchRate = %v", s.PatchRate)
	}
	// Only the patched run counts; it succeeded.
	if s.PostPatchRecoveryRate != 1.0 {
		t.Errorf("PostPatchRecoveryRate = %v", s.PostPatchRecoveryRate)
	}
	// Weighted by totals: 3 hits over 8 lookups.
	if s.HealingMemoryHitRate != 3.0/8.0 {
		t.Errorf("HealingMemoryHitRate = %v", s.HealingMemoryHitRate)
	}
	if s.AvgCheckpointWaitMs != 100 {
		t.Errorf("AvgCheckpointWaitMs = %v", s.AvgCheckpointWaitMs)
	}
	if s.FallbackLadderDistribution["retry"] != 3 || s.FallbackLadderDistribution["observe_refresh"] != 1 {
		t.Errorf("FallbackLadderDistribution = %v", s.FallbackLadderDistribution)
	}
	if s.ByFlow["a"].Runs != 2 || s.ByFlow["a"].SuccessRate != 0.5 {
		t.Errorf("ByFlow = %+v", s.ByFlow)
	}
	// 0.5 calls per run misses the 0.2 target.
	if s.SLO.LLMCallsPerRun.Met {
		t.Error("LLM SLO should be missed")
	}
}

func TestAggregate_Empty(t *testing.T) {
	s := Aggregate(nil)
	if s.Runs != 0 {
		t.Errorf("Runs = %d", s.Runs)
	}
	if !s.SLO.SecondRunSuccessRate.Met {
		t.Error("empty aggregate should trivially meet second-run SLO")
	}
}
