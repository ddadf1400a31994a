package recipe

import (
	"bytes"
	"reflect"
	"testing"
)

func TestExportImport_RoundTrip(t *testing.T) {
	r := fixture()

	var buf bytes.Buffer
	if err := Export(&buf, r); err != nil {
		t.Fatalf("Export() error: %v", err)
	}

	imported, err := Import(buf.Bytes(), r.Domain, r.Flow, r.Version)
	if err != nil {
		t.Fatalf("Import() error: %v", err)
	}

	if !reflect.DeepEqual(imported.Workflow, r.Workflow) {
		t.Errorf("workflow mismatch:\n got %+v\nwant %+v", imported.Workflow, r.Workflow)
	}
	if !reflect.DeepEqual(imported.Actions, r.Actions) {
		t.Errorf("actions mismatch: %+v", imported.Actions)
	}
	if !reflect.DeepEqual(imported.Selectors, r.Selectors) {
		t.Errorf("selectors mismatch: %+v", imported.Selectors)
	}
	if !reflect.DeepEqual(imported.Policies, r.Policies) {
		t.Errorf("policies mismatch: %+v", imported.Policies)
	}
	if !reflect.DeepEqual(imported.Fingerprints, r.Fingerprints) {
		t.Errorf("fingerprints mismatch: %+v", imported.Fingerprints)
	}
}

func TestImport_BadArchive(t *testing.T) {
	if _, err := Import([]byte("not a zip"), "d", "f", "v001"); err == nil {
		t.Error("expected error for non-zip input")
	}
}

func TestDetectFileType_ByName(t *testing.T) {
	tests := []struct {
		name string
		want FileType
	}{
		{"workflow.json", TypeWorkflow},
		{"shop-v003/actions.json", TypeActions},
		{"my_selectors.json", TypeSelectors},
		{"fingerprints.json", TypeFingerprints},
		{"policies.json", TypePolicies},
		{"policy_rules.json", TypePolicies},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectFileType(tt.name, []byte("{}")); got != tt.want {
				t.Errorf("DetectFileType(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestDetectFileType_ByShape(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    FileType
	}{
		{"workflow", `{"id": "w", "steps": []}`, TypeWorkflow},
		{"actions", `{"k": {"instruction": "click", "preferred": {}}}`, TypeActions},
		{"selectors", `{"k": {"primary": "#a", "fallbacks": []}}`, TypeSelectors},
		{"fingerprints", `[{"urlContains": "example.com"}]`, TypeFingerprints},
		{"policies", `{"p": {"hard": [], "score": []}}`, TypePolicies},
		{"empty object defaults to policies", `{}`, TypePolicies},
		{"garbage", `42`, TypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectFileType("data.json", []byte(tt.content)); got != tt.want {
				t.Errorf("DetectFileType = %v, want %v", got, tt.want)
			}
		})
	}
}
