package recipe

import (
	"strings"
	"testing"
)

// minimal returns a recipe that passes validation; tests mutate it.
func minimal() *Recipe {
	return &Recipe{
		Domain:  "example.com",
		Flow:    "checkout",
		Version: "v001",
		Workflow: Workflow{
			ID: "checkout",
			Steps: []Step{
				{ID: "open", Op: OpGoto, Args: map[string]any{"url": "https://example.com"}},
			},
		},
		Actions:   map[string]ActionEntry{},
		Selectors: map[string]SelectorEntry{},
		Policies:  map[string]Policy{},
	}
}

func TestValidate_Minimal(t *testing.T) {
	if err := Validate(minimal()); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Recipe)
		wantErr string
	}{
		{
			name:    "missing domain",
			mutate:  func(r *Recipe) { r.Domain = "" },
			wantErr: "domain",
		},
		{
			name:    "empty steps",
			mutate:  func(r *Recipe) { r.Workflow.Steps = nil },
			wantErr: "no steps",
		},
		{
			name: "duplicate step ids",
			mutate: func(r *Recipe) {
				r.Workflow.Steps = append(r.Workflow.Steps, r.Workflow.Steps[0])
			},
			wantErr: "duplicate step id",
		},
		{
			name: "unknown op",
			mutate: func(r *Recipe) {
				r.Workflow.Steps[0].Op = "teleport"
			},
			wantErr: "unknown op",
		},
		{
			name: "act_cached without targetKey",
			mutate: func(r *Recipe) {
				r.Workflow.Steps[0] = Step{ID: "a", Op: OpActCached}
			},
			wantErr: "requires targetKey",
		},
		{
			name: "act_cached without action or selector",
			mutate: func(r *Recipe) {
				r.Workflow.Steps[0] = Step{ID: "a", Op: OpActCached, TargetKey: "ghost"}
			},
			wantErr: "neither an action nor a selector",
		},
		{
			name: "choose missing args",
			mutate: func(r *Recipe) {
				r.Workflow.Steps[0] = Step{ID: "c", Op: OpChoose, Args: map[string]any{"from": "xs"}}
			},
			wantErr: "requires args.policy",
		},
		{
			name: "choose unknown policy",
			mutate: func(r *Recipe) {
				r.Workflow.Steps[0] = Step{ID: "c", Op: OpChoose, Args: map[string]any{
					"from": "xs", "policy": "missing", "into": "winner",
				}}
			},
			wantErr: "unknown policy",
		},
		{
			name: "bad expectation kind",
			mutate: func(r *Recipe) {
				r.Workflow.Steps[0].Expect = []Expectation{{Kind: "smells_like", Value: "x"}}
			},
			wantErr: "unknown expectation kind",
		},
		{
			name: "bad onFail",
			mutate: func(r *Recipe) {
				r.Workflow.Steps[0].OnFail = "panic"
			},
			wantErr: "unknown onFail",
		},
		{
			name: "bad policy pick",
			mutate: func(r *Recipe) {
				r.Policies["p"] = Policy{Pick: "best"}
			},
			wantErr: "unknown pick",
		},
		{
			name: "bad condition op",
			mutate: func(r *Recipe) {
				r.Policies["p"] = Policy{
					Pick: PickFirst,
					Hard: []Condition{{Field: "x", Op: "~="}},
				}
			},
			wantErr: "unknown condition op",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := minimal()
			tt.mutate(r)
			err := Validate(r)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ActCachedSelectorOnly(t *testing.T) {
	r := minimal()
	r.Selectors["lnk"] = SelectorEntry{Primary: "#go", Fallbacks: []string{"a.go"}}
	r.Workflow.Steps = append(r.Workflow.Steps, Step{ID: "click", Op: OpActCached, TargetKey: "lnk"})

	if err := Validate(r); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestStepByID(t *testing.T) {
	r := minimal()
	if s := r.Workflow.StepByID("open"); s == nil || s.ID != "open" {
		t.Error("StepByID failed to find existing step")
	}
	if s := r.Workflow.StepByID("missing"); s != nil {
		t.Error("StepByID returned a step for a missing id")
	}
}

func TestClone_Independence(t *testing.T) {
	r := minimal()
	r.Actions["k"] = ActionEntry{Instruction: "click it", Preferred: ActionRef{Selector: "#a", Method: MethodClick}}

	c := r.Clone()
	c.Actions["k2"] = ActionEntry{Instruction: "other"}
	c.Workflow.Steps[0].ID = "mutated"

	if _, ok := r.Actions["k2"]; ok {
		t.Error("clone shares the actions map with the original")
	}
	if r.Workflow.Steps[0].ID != "open" {
		t.Error("clone shares the steps slice with the original")
	}
}
