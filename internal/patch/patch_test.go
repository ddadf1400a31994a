package patch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kairi-dev/kairi/internal/checkpoint"
	"github.com/kairi-dev/kairi/internal/recipe"
)

func fixture() *recipe.Recipe {
	return &recipe.Recipe{
		Domain:  "shop.example.com",
		Flow:    "buy-ticket",
		Version: "v003",
		Workflow: recipe.Workflow{
			ID:      "buy-ticket",
			Version: "v003",
			Steps: []recipe.Step{
				{ID: "open", Op: recipe.OpGoto, Args: map[string]any{"url": "https://shop.example.com/tickets"}},
				{ID: "buy", Op: recipe.OpActCached, TargetKey: "buy_button"},
			},
		},
		Actions: map[string]recipe.ActionEntry{
			"buy_button": {
				Instruction: "click the buy button",
				Preferred:   recipe.ActionRef{Selector: "#buy", Method: recipe.MethodClick},
			},
		},
		Selectors: map[string]recipe.SelectorEntry{
			"buy_button": {Primary: "#buy", Fallbacks: []string{"button.buy"}},
		},
		Policies: map[string]recipe.Policy{},
	}
}

func selectorValue(primary string) map[string]any {
	return map[string]any{"primary": primary, "fallbacks": []any{}}
}

func actionValue(selector string) map[string]any {
	return map[string]any{
		"instruction": "click it",
		"preferred":   map[string]any{"selector": selector, "method": "click"},
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		ops  []Op
		want Severity
	}{
		{"single actions.replace", []Op{{Kind: OpActionsReplace, Key: "k"}}, Minor},
		{"single actions.add", []Op{{Kind: OpActionsAdd, Key: "k"}}, Minor},
		{"single selectors.add", []Op{{Kind: OpSelectorsAdd, Key: "k"}}, Minor},
		{"single selectors.replace", []Op{{Kind: OpSelectorsReplace, Key: "k"}}, Minor},
		{"two ops", []Op{{Kind: OpActionsReplace, Key: "a"}, {Kind: OpSelectorsAdd, Key: "b"}}, Major},
		{"policies.update", []Op{{Kind: OpPoliciesUpdate, Key: "cheapest"}}, Major},
		{"workflow.update_expect", []Op{{Kind: OpWorkflowExpect, Step: "buy"}}, Major},
		{"empty", nil, Major},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(Payload{Patch: tt.ops}); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestApply_SelectorsReplace(t *testing.T) {
	r := fixture()
	p := Payload{Patch: []Op{
		{Kind: OpSelectorsReplace, Key: "buy_button", Value: selectorValue("#buy-v2")},
	}}

	out, err := Apply(r, p)
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if out.Selectors["buy_button"].Primary != "#buy-v2" {
		t.Errorf("patched primary = %q, want #buy-v2", out.Selectors["buy_button"].Primary)
	}
	// The input recipe is never mutated.
	if r.Selectors["buy_button"].Primary != "#buy" {
		t.Errorf("original mutated: %q", r.Selectors["buy_button"].Primary)
	}
}

func TestApply_AddAndErrors(t *testing.T) {
	tests := []struct {
		name    string
		op      Op
		wantErr string
	}{
		{"add new action", Op{Kind: OpActionsAdd, Key: "pay_button", Value: actionValue("#pay")}, ""},
		{"add existing action", Op{Kind: OpActionsAdd, Key: "buy_button", Value: actionValue("#buy")}, "already exists"},
		{"replace missing action", Op{Kind: OpActionsReplace, Key: "nope", Value: actionValue("#x")}, "does not exist"},
		{"add existing selector", Op{Kind: OpSelectorsAdd, Key: "buy_button", Value: selectorValue("#b")}, "already exists"},
		{"replace missing selector", Op{Kind: OpSelectorsReplace, Key: "nope", Value: selectorValue("#b")}, "does not exist"},
		{"missing key", Op{Kind: OpActionsAdd, Value: actionValue("#x")}, "missing key"},
		{"unknown kind", Op{Kind: "actions.delete", Key: "k"}, "unknown op kind"},
		{"expect on missing step", Op{Kind: OpWorkflowExpect, Step: "nope", Value: []any{}}, "does not exist"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Apply(fixture(), Payload{Patch: []Op{tt.op}})
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Apply() error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Apply() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestApply_WorkflowExpect(t *testing.T) {
	r := fixture()
	p := Payload{Patch: []Op{{
		Kind: OpWorkflowExpect,
		Step: "buy",
		Value: []any{
			map[string]any{"kind": "url_contains", "value": "/checkout"},
		},
	}}}

	out, err := Apply(r, p)
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	step := out.Workflow.StepByID("buy")
	if len(step.Expect) != 1 || step.Expect[0].Kind != recipe.ExpectURLContains {
		t.Errorf("patched expect = %v", step.Expect)
	}
	if len(r.Workflow.StepByID("buy").Expect) != 0 {
		t.Error("original workflow mutated")
	}
}

func TestApply_PoliciesUpdate(t *testing.T) {
	r := fixture()
	p := Payload{Patch: []Op{{
		Kind: OpPoliciesUpdate,
		Key:  "cheapest",
		Value: map[string]any{
			"hard": []any{},
			"score": []any{
				map[string]any{"when": map[string]any{"field": "price", "op": "<", "value": 50}, "add": 1},
			},
			"pick": "argmax",
		},
	}}}

	out, err := Apply(r, p)
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if out.Policies["cheapest"].Pick != recipe.PickArgmax {
		t.Errorf("policy pick = %q", out.Policies["cheapest"].Pick)
	}
}

func TestApply_OpsInOrder(t *testing.T) {
	r := fixture()
	p := Payload{Patch: []Op{
		{Kind: OpSelectorsReplace, Key: "buy_button", Value: selectorValue("#first")},
		{Kind: OpSelectorsReplace, Key: "buy_button", Value: selectorValue("#second")},
	}}

	out, err := Apply(r, p)
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if out.Selectors["buy_button"].Primary != "#second" {
		t.Errorf("later op must win, got %q", out.Selectors["buy_button"].Primary)
	}
}

func TestApplyAndVersionUp_Minor(t *testing.T) {
	root := t.TempDir()
	r := fixture()
	p := Payload{
		Patch:  []Op{{Kind: OpSelectorsReplace, Key: "buy_button", Value: selectorValue("#buy-v2")}},
		Reason: "primary selector rotted",
	}

	out, err := ApplyAndVersionUp(context.Background(), root, r, p, checkpoint.Deny{})
	if err != nil {
		t.Fatalf("ApplyAndVersionUp() error: %v", err)
	}
	if out.Version != "v004" {
		t.Errorf("version = %q, want v004", out.Version)
	}
	if out.Workflow.Version != "v004" {
		t.Errorf("workflow version = %q, want v004", out.Workflow.Version)
	}

	// New version persisted; only the new one exists under this root.
	if _, err := os.Stat(filepath.Join(root, "shop.example.com", "buy-ticket", "v004", recipe.FileWorkflow)); err != nil {
		t.Errorf("expected persisted v004: %v", err)
	}
}

func TestApplyAndVersionUp_MajorGated(t *testing.T) {
	root := t.TempDir()
	r := fixture()
	major := Payload{
		Patch: []Op{
			{Kind: OpSelectorsReplace, Key: "buy_button", Value: selectorValue("#a")},
			{Kind: OpActionsReplace, Key: "buy_button", Value: actionValue("#a")},
		},
		Reason: "layout rework",
	}

	if _, err := ApplyAndVersionUp(context.Background(), root, r, major, checkpoint.Deny{}); err == nil {
		t.Fatal("major patch with NOT_GO must fail")
	}

	// NOT_GO must leave the store untouched.
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("store mutated after rejected patch: %v", entries)
	}

	rec := checkpoint.NewRecorder(nil) // auto-approves
	out, err := ApplyAndVersionUp(context.Background(), root, r, major, rec)
	if err != nil {
		t.Fatalf("approved major patch error: %v", err)
	}
	if out.Version != "v004" {
		t.Errorf("version = %q, want v004", out.Version)
	}
	if len(rec.Messages) != 1 || !strings.Contains(rec.Messages[0], "layout rework") {
		t.Errorf("approval message = %v", rec.Messages)
	}
}

func TestApplyAndVersionUp_FailedOpDoesNotPersist(t *testing.T) {
	root := t.TempDir()
	r := fixture()
	p := Payload{Patch: []Op{
		{Kind: OpActionsAdd, Key: "buy_button", Value: actionValue("#dup")},
	}}

	if _, err := ApplyAndVersionUp(context.Background(), root, r, p, nil); err == nil {
		t.Fatal("add of existing key must fail")
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Errorf("store mutated after failed patch: %v", entries)
	}
}
