package runtime

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kairi-dev/kairi/internal/log"
	"github.com/kairi-dev/kairi/internal/metrics"
)

// Artifacts writes a run's on-disk trace: an append-only JSONL log,
// per-step screenshots and DOM snippets, the Markdown summary, trace
// metadata, and the finalized metrics.
type Artifacts struct {
	mu     sync.Mutex
	dir    string
	logger log.Logger
}

// NewArtifacts creates (or reuses) the run directory.
func NewArtifacts(dir string, logger log.Logger) (*Artifacts, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory %s: %w", dir, err)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Artifacts{dir: dir, logger: logger}, nil
}

// Dir returns the run directory path.
func (a *Artifacts) Dir() string {
	return a.dir
}

// AppendLog appends one entry to logs.jsonl with a timestamp.
func (a *Artifacts) AppendLog(entry map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()

	record := make(map[string]any, len(entry)+1)
	record["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	for k, v := range entry {
		record[k] = v
	}

	data, err := json.Marshal(record)
	if err != nil {
		a.logger.Warn("failed to marshal log entry", "error", err)
		return
	}

	f, err := os.OpenFile(filepath.Join(a.dir, "logs.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		a.logger.Warn("failed to open run log", "error", err)
		return
	}
	defer f.Close()
	f.Write(append(data, '\n'))
}

// SaveScreenshot writes step_<id>.png.
func (a *Artifacts) SaveScreenshot(stepID string, data []byte) {
	path := filepath.Join(a.dir, "step_"+sanitize(stepID)+".png")
	if err := os.WriteFile(path, data, 0644); err != nil {
		a.logger.Warn("failed to save screenshot", "step", stepID, "error", err)
	}
}

// SaveDOM writes dom_<id>.html.
func (a *Artifacts) SaveDOM(stepID, html string) {
	path := filepath.Join(a.dir, "dom_"+sanitize(stepID)+".html")
	if err := os.WriteFile(path, []byte(html), 0644); err != nil {
		a.logger.Warn("failed to save dom snippet", "step", stepID, "error", err)
	}
}

// WriteSummary renders summary.md: the run verdict plus one bullet per
// failed step with its error type and message.
func (a *Artifacts) WriteSummary(result *RunResult, m metrics.RunMetrics) {
	var b strings.Builder
	fmt.Fprintf(&b, "# Run %s\n\n", result.RunID)
	fmt.Fprintf(&b, "- Flow: %s %s\n", m.Flow, m.Version)
	fmt.Fprintf(&b, "- Outcome: %s\n", verdict(result))
	fmt.Fprintf(&b, "- Duration: %d ms\n", result.DurationMs)
	fmt.Fprintf(&b, "- Steps: %d total, %d passed, %d failed, %d recovered\n",
		m.StepResults.Total, m.StepResults.Passed, m.StepResults.Failed, m.StepResults.Recovered)
	fmt.Fprintf(&b, "- LLM calls: %d\n", m.LLMCalls)
	fmt.Fprintf(&b, "- Healing memory: %d hits, %d misses\n", m.HealingMemoryHits, m.HealingMemoryMisses)

	var failures []StepResult
	for _, sr := range result.StepResults {
		if !sr.OK {
			failures = append(failures, sr)
		}
	}
	if len(failures) > 0 {
		b.WriteString("\n## Failed Steps\n\n")
		for _, sr := range failures {
			fmt.Fprintf(&b, "- `%s`: %s — %s\n", sr.StepID, sr.ErrorType, sr.Message)
		}
	}

	path := filepath.Join(a.dir, "summary.md")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		a.logger.Warn("failed to write summary", "error", err)
	}
}

// WriteTraceMeta writes trace-meta.json.
func (a *Artifacts) WriteTraceMeta(flow, version, runID string, llmCalls, patchesApplied int) {
	meta := map[string]any{
		"flow":           flow,
		"version":        version,
		"runId":          runID,
		"llmCalls":       llmCalls,
		"patchesApplied": patchesApplied,
	}
	a.writeJSON("trace-meta.json", meta)
}

// WriteMetrics writes the finalized run metrics as metrics.json.
func (a *Artifacts) WriteMetrics(m metrics.RunMetrics) {
	a.writeJSON("metrics.json", m)
}

func (a *Artifacts) writeJSON(name string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		a.logger.Warn("failed to marshal artifact", "file", name, "error", err)
		return
	}
	if err := os.WriteFile(filepath.Join(a.dir, name), append(data, '\n'), 0644); err != nil {
		a.logger.Warn("failed to write artifact", "file", name, "error", err)
	}
}

func verdict(result *RunResult) string {
	if result.OK {
		return "success"
	}
	if result.AbortedAt != "" {
		return "aborted at " + result.AbortedAt
	}
	return "failed"
}

// sanitize keeps step ids filesystem-safe.
func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}
