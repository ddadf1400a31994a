// Package telemetry provides anonymous usage telemetry for kairi.
package telemetry

import (
	"runtime"

	"github.com/kairi-dev/kairi/internal/buildinfo"
)

// RunEvent represents a completed workflow run sent to the backend.
// It carries only aggregate counters; no page content, selectors, or
// extracted data ever leave the machine.
type RunEvent struct {
	Action         string `json:"action"` // always "run"
	Flow           string `json:"flow"`
	RecipeVersion  string `json:"recipe_version"`
	Success        bool   `json:"success"`
	AbortedAt      string `json:"aborted_at,omitempty"` // step id, "preflight", or "go_not_go"
	DurationMs     int64  `json:"duration_ms"`
	TotalSteps     int    `json:"total_steps"`
	RecoveredSteps int    `json:"recovered_steps"`
	LLMCalls       int    `json:"llm_calls"`
	PatchCount     int    `json:"patch_count"`
	OS             string `json:"os"`            // Operating system ("linux", "darwin")
	Arch           string `json:"arch"`          // CPU architecture ("amd64", "arm64")
	KairiVersion   string `json:"kairi_version"` // Version of kairi CLI
	SchemaVersion  string `json:"schema_version"`
}

// PatchEvent represents an accepted recipe patch.
type PatchEvent struct {
	Action         string `json:"action"` // always "patch"
	Flow           string `json:"flow"`
	FromVersion    string `json:"from_version"`
	ToVersion      string `json:"to_version"`
	Classification string `json:"classification"` // "minor" or "major"
	OS             string `json:"os"`
	Arch           string `json:"arch"`
	KairiVersion   string `json:"kairi_version"`
	SchemaVersion  string `json:"schema_version"`
}

const schemaVersion = "1"

// NewRunEvent creates a telemetry event for a completed run.
func NewRunEvent(flow, recipeVersion string, success bool, abortedAt string, durationMs int64, totalSteps, recoveredSteps, llmCalls, patchCount int) RunEvent {
	return RunEvent{
		Action:         "run",
		Flow:           flow,
		RecipeVersion:  recipeVersion,
		Success:        success,
		AbortedAt:      abortedAt,
		DurationMs:     durationMs,
		TotalSteps:     totalSteps,
		RecoveredSteps: recoveredSteps,
		LLMCalls:       llmCalls,
		PatchCount:     patchCount,
		OS:             runtime.GOOS,
		Arch:           runtime.GOARCH,
		KairiVersion:   buildinfo.Version(),
		SchemaVersion:  schemaVersion,
	}
}

// NewPatchEvent creates a telemetry event for an accepted patch.
func NewPatchEvent(flow, fromVersion, toVersion, classification string) PatchEvent {
	return PatchEvent{
		Action:         "patch",
		Flow:           flow,
		FromVersion:    fromVersion,
		ToVersion:      toVersion,
		Classification: classification,
		OS:             runtime.GOOS,
		Arch:           runtime.GOARCH,
		KairiVersion:   buildinfo.Version(),
		SchemaVersion:  schemaVersion,
	}
}
