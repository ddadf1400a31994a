package recipe

import (
	"testing"
)

// fixture returns a recipe with one of everything, used by loader, writer,
// and archive tests.
func fixture() *Recipe {
	return &Recipe{
		Domain:  "shop.example.com",
		Flow:    "buy-ticket",
		Version: "v003",
		Workflow: Workflow{
			ID:   "buy-ticket",
			Vars: map[string]any{"quantity": "2"},
			Steps: []Step{
				{ID: "open", Op: OpGoto, Args: map[string]any{"url": "https://shop.example.com"}},
				{ID: "buy", Op: OpActCached, TargetKey: "buy_button", OnFail: OnFailFallback},
			},
		},
		Actions: map[string]ActionEntry{
			"buy_button": {
				Instruction: "click the buy button",
				Preferred:   ActionRef{Selector: "#buy", Method: MethodClick},
			},
		},
		Selectors: map[string]SelectorEntry{
			"buy_button": {Primary: "#buy", Fallbacks: []string{"button.buy"}, Strategy: StrategyCSS},
		},
		Fingerprints: []Fingerprint{
			{URLContains: "shop.example.com"},
		},
		Policies: map[string]Policy{
			"cheapest": {
				Hard: []Condition{{Field: "available", Op: CondEq, Value: true}},
				Score: []ScoreRule{
					{When: Condition{Field: "zone", Op: CondEq, Value: "front"}, Add: 30},
				},
				TieBreak: []string{"price_asc"},
				Pick:     PickArgmax,
			},
		},
	}
}

func TestSaveAndLoad(t *testing.T) {
	root := t.TempDir()
	r := fixture()

	if err := Save(root, r); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded, err := Load(root, r.Domain, r.Flow, r.Version)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if loaded.Workflow.ID != r.Workflow.ID {
		t.Errorf("workflow id = %q, want %q", loaded.Workflow.ID, r.Workflow.ID)
	}
	if len(loaded.Workflow.Steps) != 2 {
		t.Errorf("steps = %d, want 2", len(loaded.Workflow.Steps))
	}
	if loaded.Actions["buy_button"].Instruction != "click the buy button" {
		t.Error("action entry not round-tripped")
	}
	if len(loaded.Selectors["buy_button"].Fallbacks) != 1 {
		t.Error("selector fallbacks not round-tripped")
	}
	if len(loaded.Fingerprints) != 1 || loaded.Fingerprints[0].URLContains != "shop.example.com" {
		t.Error("fingerprints not round-tripped")
	}
	if loaded.Policies["cheapest"].Pick != PickArgmax {
		t.Error("policy not round-tripped")
	}
}

func TestSave_RefusesOverwrite(t *testing.T) {
	root := t.TempDir()
	r := fixture()
	if err := Save(root, r); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if err := Save(root, r); err == nil {
		t.Error("expected error saving an existing version")
	}
}

func TestLoadDir_MissingWorkflow(t *testing.T) {
	if _, err := LoadDir(t.TempDir(), "d", "f", "v001"); err == nil {
		t.Error("expected error for missing workflow.json")
	}
}

func TestListVersions(t *testing.T) {
	root := t.TempDir()
	for _, v := range []string{"v010", "v002", "v001"} {
		r := fixture()
		r.Version = v
		if err := Save(root, r); err != nil {
			t.Fatalf("Save(%s) error: %v", v, err)
		}
	}

	versions, err := ListVersions(root, "shop.example.com", "buy-ticket")
	if err != nil {
		t.Fatalf("ListVersions() error: %v", err)
	}
	want := []string{"v001", "v002", "v010"}
	if len(versions) != len(want) {
		t.Fatalf("versions = %v, want %v", versions, want)
	}
	for i := range want {
		if versions[i] != want[i] {
			t.Errorf("versions[%d] = %q, want %q", i, versions[i], want[i])
		}
	}

	latest, err := LatestVersion(root, "shop.example.com", "buy-ticket")
	if err != nil {
		t.Fatalf("LatestVersion() error: %v", err)
	}
	if latest != "v010" {
		t.Errorf("LatestVersion() = %q, want v010", latest)
	}
}

func TestListVersions_MissingFlow(t *testing.T) {
	versions, err := ListVersions(t.TempDir(), "nope", "none")
	if err != nil {
		t.Fatalf("ListVersions() error: %v", err)
	}
	if versions != nil {
		t.Errorf("versions = %v, want nil", versions)
	}
}

func TestParseBundle(t *testing.T) {
	data := []byte(`{
		"domain": "example.com",
		"flow": "login",
		"version": "v001",
		"workflow": {
			"id": "login",
			"steps": [{"id": "open", "op": "goto", "args": {"url": "https://example.com"}}]
		}
	}`)

	r, err := ParseBundle(data)
	if err != nil {
		t.Fatalf("ParseBundle() error: %v", err)
	}
	if r.Flow != "login" || len(r.Workflow.Steps) != 1 {
		t.Errorf("unexpected recipe: %+v", r)
	}
	// Maps must be usable even when absent from the JSON.
	if r.Actions == nil || r.Selectors == nil || r.Policies == nil {
		t.Error("section maps not initialized")
	}
}

func TestParseBundle_Invalid(t *testing.T) {
	if _, err := ParseBundle([]byte(`{"domain": "d"}`)); err == nil {
		t.Error("expected validation error")
	}
	if _, err := ParseBundle([]byte(`{`)); err == nil {
		t.Error("expected parse error")
	}
}
