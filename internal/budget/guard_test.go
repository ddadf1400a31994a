package budget

import (
	"errors"
	"strings"
	"testing"
)

func TestGuard_LLMCalls(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxLLMCallsPerRun = 2
	g := NewGuard(limits)

	if !g.CanCallLLM() {
		t.Fatal("fresh guard should allow LLM calls")
	}
	if err := g.RecordLLMCall(100); err != nil {
		t.Fatalf("RecordLLMCall() error: %v", err)
	}
	if err := g.RecordLLMCall(50); err != nil {
		t.Fatalf("RecordLLMCall() error: %v", err)
	}
	if g.CanCallLLM() {
		t.Error("guard should deny after reaching the limit")
	}
	if err := g.RecordLLMCall(10); !errors.Is(err, ErrExhausted) {
		t.Errorf("RecordLLMCall() error = %v, want ErrExhausted", err)
	}

	usage := g.Usage()
	if usage.LLMCalls != 2 || usage.PromptChars != 150 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestGuard_AuthoringCalls(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxAuthoringCallsPerRun = 1
	g := NewGuard(limits)

	if !g.CanCallAuthoring() {
		t.Fatal("fresh guard should allow authoring calls")
	}
	if err := g.RecordAuthoringCall(); err != nil {
		t.Fatalf("RecordAuthoringCall() error: %v", err)
	}
	if g.CanCallAuthoring() {
		t.Error("guard should deny second authoring call")
	}
	if err := g.RecordAuthoringCall(); !errors.Is(err, ErrExhausted) {
		t.Errorf("error = %v, want ErrExhausted", err)
	}
}

func TestGuard_Screenshots(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxScreenshotPerFailure = 1
	limits.MaxScreenshotPerCheckpoint = 0
	g := NewGuard(limits)

	if !g.CanTakeScreenshot(false) {
		t.Error("failure screenshot should be allowed")
	}
	if g.CanTakeScreenshot(true) {
		t.Error("checkpoint screenshot should be denied")
	}

	g.RecordScreenshot()
	if g.Usage().Screenshots != 1 {
		t.Errorf("screenshots = %d, want 1", g.Usage().Screenshots)
	}
}

func TestGuard_DowngradeLadder(t *testing.T) {
	g := NewGuard(DefaultLimits())

	want := []string{"trim_dom", "drop_history", "observe_scope_narrow", "require_human_checkpoint"}
	for _, expected := range want {
		action, ok := g.NextDowngrade()
		if !ok {
			t.Fatalf("ladder exhausted before %q", expected)
		}
		if action != expected {
			t.Errorf("NextDowngrade() = %q, want %q", action, expected)
		}
	}

	if _, ok := g.NextDowngrade(); ok {
		t.Error("ladder should be exhausted")
	}
}

func TestGuard_Trim(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxPromptChars = 10
	limits.MaxDOMSnippetChars = 4
	g := NewGuard(limits)

	long := strings.Repeat("x", 100)
	if got := g.TrimPrompt(long); len(got) != 10 {
		t.Errorf("TrimPrompt len = %d, want 10", len(got))
	}
	if got := g.TrimDOM(long); len(got) != 4 {
		t.Errorf("TrimDOM len = %d, want 4", len(got))
	}
	if got := g.TrimPrompt("short"); got != "short" {
		t.Errorf("TrimPrompt(short) = %q", got)
	}
}

func TestGuard_IsOverBudget(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxLLMCallsPerRun = 1
	limits.MaxAuthoringCallsPerRun = 1
	g := NewGuard(limits)

	if g.IsOverBudget() {
		t.Error("fresh guard is not over budget")
	}
	if err := g.RecordLLMCall(1); err != nil {
		t.Fatal(err)
	}
	if g.IsOverBudget() {
		t.Error("authoring budget still available")
	}
	if err := g.RecordAuthoringCall(); err != nil {
		t.Fatal(err)
	}
	if !g.IsOverBudget() {
		t.Error("all budgets consumed, guard should report over budget")
	}
}
