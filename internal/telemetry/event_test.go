package telemetry

import (
	"runtime"
	"testing"
)

func TestNewRunEvent(t *testing.T) {
	e := NewRunEvent("buy-ticket", "v003", true, "", 1200, 5, 1, 2, 1)

	if e.Action != "run" {
		t.Errorf("Action = %q, want %q", e.Action, "run")
	}
	if e.Flow != "buy-ticket" || e.RecipeVersion != "v003" {
		t.Errorf("identity = %q/%q", e.Flow, e.RecipeVersion)
	}
	if !e.Success || e.AbortedAt != "" {
		t.Errorf("outcome = %v/%q", e.Success, e.AbortedAt)
	}
	if e.DurationMs != 1200 || e.TotalSteps != 5 || e.RecoveredSteps != 1 {
		t.Errorf("counters = %d/%d/%d", e.DurationMs, e.TotalSteps, e.RecoveredSteps)
	}
	if e.LLMCalls != 2 || e.PatchCount != 1 {
		t.Errorf("llm/patch = %d/%d", e.LLMCalls, e.PatchCount)
	}
	if e.OS != runtime.GOOS || e.Arch != runtime.GOARCH {
		t.Errorf("platform = %q/%q", e.OS, e.Arch)
	}
	if e.SchemaVersion != schemaVersion {
		t.Errorf("SchemaVersion = %q", e.SchemaVersion)
	}
	if e.KairiVersion == "" {
		t.Error("KairiVersion is empty")
	}
}

func TestNewRunEvent_Aborted(t *testing.T) {
	e := NewRunEvent("buy-ticket", "v003", false, "go_not_go", 30, 0, 0, 0, 0)

	if e.Success {
		t.Error("Success = true, want false")
	}
	if e.AbortedAt != "go_not_go" {
		t.Errorf("AbortedAt = %q", e.AbortedAt)
	}
}

func TestNewPatchEvent(t *testing.T) {
	e := NewPatchEvent("buy-ticket", "v003", "v004", "major")

	if e.Action != "patch" {
		t.Errorf("Action = %q, want %q", e.Action, "patch")
	}
	if e.FromVersion != "v003" || e.ToVersion != "v004" {
		t.Errorf("versions = %q -> %q", e.FromVersion, e.ToVersion)
	}
	if e.Classification != "major" {
		t.Errorf("Classification = %q", e.Classification)
	}
	if e.SchemaVersion != schemaVersion {
		t.Errorf("SchemaVersion = %q", e.SchemaVersion)
	}
}
