package metrics

import (
	"fmt"
	"io"
	"sort"
)

// SLO targets for aggregate review.
const (
	SLOMaxLLMCallsPerRun        = 0.2
	SLOMinSecondRunSuccessRate  = 0.95
	SLOMinPostPatchRecoveryRate = 0.80
)

// SLOResult is one target with its observed value.
type SLOResult struct {
	Value  float64 `json:"value"`
	Target float64 `json:"target"`
	Met    bool    `json:"met"`
}

// SLOBlock is the aggregate SLO compliance report.
type SLOBlock struct {
	LLMCallsPerRun        SLOResult `json:"llmCallsPerRun"`
	SecondRunSuccessRate  SLOResult `json:"secondRunSuccessRate"`
	PostPatchRecoveryRate SLOResult `json:"postPatchRecoveryRate"`
}

// FlowSummary is the per-flow breakdown in an aggregate.
type FlowSummary struct {
	Runs          int     `json:"runs"`
	SuccessRate   float64 `json:"successRate"`
	AvgDurationMs float64 `json:"avgDurationMs"`
}

// Summary aggregates a set of run metrics.
type Summary struct {
	Runs                       int                    `json:"runs"`
	SuccessRate                float64                `json:"successRate"`
	AvgDurationMs              float64                `json:"avgDurationMs"`
	AvgLLMCallsPerRun          float64                `json:"avgLlmCallsPerRun"`
	AvgTokensPerRun            float64                `json:"avgTokensPerRun"`
	PatchRate                  float64                `json:"patchRate"`
	PostPatchRecoveryRate      float64                `json:"postPatchRecoveryRate"`
	HealingMemoryHitRate       float64                `json:"healingMemoryHitRate"`
	AvgCheckpointWaitMs        float64                `json:"avgCheckpointWaitMs"`
	FallbackLadderDistribution map[string]int         `json:"fallbackLadderDistribution"`
	ByFlow                     map[string]FlowSummary `json:"byFlow"`
	SLO                        SLOBlock               `json:"slo"`
}

// Aggregate computes the cross-run summary. Rates over empty denominators
// are zero, except secondRunSuccessRate which is 1.0 when every run is the
// first for its flow.
func Aggregate(runs []RunMetrics) Summary {
	s := Summary{
		Runs:                       len(runs),
		FallbackLadderDistribution: make(map[string]int),
		ByFlow:                     make(map[string]FlowSummary),
	}
	if len(runs) == 0 {
		s.SLO = sloBlock(0, 1.0, 0)
		return s
	}

	var (
		successes      int
		durationSum    float64
		llmSum         float64
		tokenSum       float64
		patchedRuns    int
		patchedSuccess int
		healHits       int
		healMisses     int
		checkpointSum  float64
	)

	type flowAcc struct {
		runs      int
		successes int
		duration  float64
	}
	flows := make(map[string]*flowAcc)

	for _, r := range runs {
		if r.Success {
			successes++
		}
		durationSum += float64(r.DurationMs)
		llmSum += float64(r.LLMCalls)
		tokenSum += float64(r.TokenUsage.Prompt + r.TokenUsage.Completion)
		if r.PatchCount > 0 {
			patchedRuns++
			if r.Success {
				patchedSuccess++
			}
		}
		healHits += r.HealingMemoryHits
		healMisses += r.HealingMemoryMisses
		checkpointSum += float64(r.CheckpointWaitMs)
		for method, count := range r.FallbackLadderUsage {
			s.FallbackLadderDistribution[method] += count
		}

		acc := flows[r.Flow]
		if acc == nil {
			acc = &flowAcc{}
			flows[r.Flow] = acc
		}
		acc.runs++
		if r.Success {
			acc.successes++
		}
		acc.duration += float64(r.DurationMs)
	}

	n := float64(len(runs))
	s.SuccessRate = float64(successes) / n
	s.AvgDurationMs = durationSum / n
	s.AvgLLMCallsPerRun = llmSum / n
	s.AvgTokensPerRun = tokenSum / n
	s.PatchRate = float64(patchedRuns) / n
	if patchedRuns > 0 {
		s.PostPatchRecoveryRate = float64(patchedSuccess) / float64(patchedRuns)
	}
	if healHits+healMisses > 0 {
		s.HealingMemoryHitRate = float64(healHits) / float64(healHits+healMisses)
	}
	s.AvgCheckpointWaitMs = checkpointSum / n

	for flow, acc := range flows {
		s.ByFlow[flow] = FlowSummary{
			Runs:          acc.runs,
			SuccessRate:   float64(acc.successes) / float64(acc.runs),
			AvgDurationMs: acc.duration / float64(acc.runs),
		}
	}

	s.SLO = sloBlock(s.AvgLLMCallsPerRun, secondRunSuccessRate(runs), s.PostPatchRecoveryRate)
	return s
}

// secondRunSuccessRate sorts runs by start time, marks the first per flow as
// the seed, and averages success over the remainder. With no second runs yet
// the rate is 1.0.
func secondRunSuccessRate(runs []RunMetrics) float64 {
	ordered := make([]RunMetrics, len(runs))
	copy(ordered, runs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].StartedAt.Before(ordered[j].StartedAt)
	})

	seen := make(map[string]bool)
	var total, succeeded int
	for _, r := range ordered {
		if !seen[r.Flow] {
			seen[r.Flow] = true
			continue
		}
		total++
		if r.Success {
			succeeded++
		}
	}
	if total == 0 {
		return 1.0
	}
	return float64(succeeded) / float64(total)
}

func sloBlock(llmPerRun, secondRun, postPatch float64) SLOBlock {
	return SLOBlock{
		LLMCallsPerRun: SLOResult{
			Value:  llmPerRun,
			Target: SLOMaxLLMCallsPerRun,
			Met:    llmPerRun <= SLOMaxLLMCallsPerRun,
		},
		SecondRunSuccessRate: SLOResult{
			Value:  secondRun,
			Target: SLOMinSecondRunSuccessRate,
			Met:    secondRun >= SLOMinSecondRunSuccessRate,
		},
		PostPatchRecoveryRate: SLOResult{
			Value:  postPatch,
			Target: SLOMinPostPatchRecoveryRate,
			Met:    postPatch >= SLOMinPostPatchRecoveryRate,
		},
	}
}

// WriteMarkdown renders the summary as a Markdown report.
func WriteMarkdown(w io.Writer, s Summary) error {
	var err error
	p := func(format string, args ...any) {
		if err == nil {
			_, err = fmt.Fprintf(w, format, args...)
		}
	}

	p("# Run Metrics\n\n")
	p("- Runs: %d\n", s.Runs)
	p("- Success rate: %.1f%%\n", s.SuccessRate*100)
	p("- Avg duration: %.0f ms\n", s.AvgDurationMs)
	p("- Avg LLM calls per run: %.2f\n", s.AvgLLMCallsPerRun)
	p("- Avg tokens per run: %.0f\n", s.AvgTokensPerRun)
	p("- Patch rate: %.1f%%\n", s.PatchRate*100)
	p("- Healing memory hit rate: %.1f%%\n", s.HealingMemoryHitRate*100)
	p("- Avg checkpoint wait: %.0f ms\n", s.AvgCheckpointWaitMs)

	if len(s.FallbackLadderDistribution) > 0 {
		p("\n## Fallback Ladder\n\n")
		methods := make([]string, 0, len(s.FallbackLadderDistribution))
		for m := range s.FallbackLadderDistribution {
			methods = append(methods, m)
		}
		sort.Strings(methods)
		for _, m := range methods {
			p("- %s: %d\n", m, s.FallbackLadderDistribution[m])
		}
	}

	if len(s.ByFlow) > 0 {
		p("\n## By Flow\n\n")
		p("| Flow | Runs | Success | Avg ms |\n")
		p("|------|------|---------|--------|\n")
		flows := make([]string, 0, len(s.ByFlow))
		for f := range s.ByFlow {
			flows = append(flows, f)
		}
		sort.Strings(flows)
		for _, f := range flows {
			fs := s.ByFlow[f]
			p("| %s | %d | %.1f%% | %.0f |\n", f, fs.Runs, fs.SuccessRate*100, fs.AvgDurationMs)
		}
	}

	p("\n## SLO Compliance\n\n")
	p("| SLO | Value | Target | Met |\n")
	p("|-----|-------|--------|-----|\n")
	p("| LLM calls per run | %.2f | <= %.2f | %s |\n",
		s.SLO.LLMCallsPerRun.Value, s.SLO.LLMCallsPerRun.Target, mark(s.SLO.LLMCallsPerRun.Met))
	p("| Second-run success rate | %.2f | >= %.2f | %s |\n",
		s.SLO.SecondRunSuccessRate.Value, s.SLO.SecondRunSuccessRate.Target, mark(s.SLO.SecondRunSuccessRate.Met))
	p("| Post-patch recovery rate | %.2f | >= %.2f | %s |\n",
		s.SLO.PostPatchRecoveryRate.Value, s.SLO.PostPatchRecoveryRate.Target, mark(s.SLO.PostPatchRecoveryRate.Met))

	return err
}

func mark(met bool) string {
	if met {
		return "yes"
	}
	return "NO"
}
