package recipe

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// File names inside a recipe version directory.
const (
	FileWorkflow     = "workflow.json"
	FileActions      = "actions.json"
	FileSelectors    = "selectors.json"
	FilePolicies     = "policies.json"
	FileFingerprints = "fingerprints.json"
)

// SectionFiles lists the five files of the on-disk recipe layout.
var SectionFiles = []string{
	FileWorkflow, FileActions, FileSelectors, FilePolicies, FileFingerprints,
}

// Load reads a recipe version directory
// (<root>/<domain>/<flow>/<vNNN>/) and validates the result.
// Domain, flow, and version are derived from the path.
func Load(root, domain, flow, version string) (*Recipe, error) {
	dir := filepath.Join(root, domain, flow, version)
	return LoadDir(dir, domain, flow, version)
}

// LoadDir reads the five section files from dir into a Recipe with the given
// identity and validates it.
func LoadDir(dir, domain, flow, version string) (*Recipe, error) {
	r := &Recipe{
		Domain:    domain,
		Flow:      flow,
		Version:   version,
		Actions:   make(map[string]ActionEntry),
		Selectors: make(map[string]SelectorEntry),
		Policies:  make(map[string]Policy),
	}

	if err := readSection(filepath.Join(dir, FileWorkflow), &r.Workflow); err != nil {
		return nil, err
	}
	if err := readOptionalSection(filepath.Join(dir, FileActions), &r.Actions); err != nil {
		return nil, err
	}
	if err := readOptionalSection(filepath.Join(dir, FileSelectors), &r.Selectors); err != nil {
		return nil, err
	}
	if err := readOptionalSection(filepath.Join(dir, FilePolicies), &r.Policies); err != nil {
		return nil, err
	}
	if err := readOptionalSection(filepath.Join(dir, FileFingerprints), &r.Fingerprints); err != nil {
		return nil, err
	}

	if err := Validate(r); err != nil {
		return nil, fmt.Errorf("recipe validation failed: %w", err)
	}
	return r, nil
}

// ParseBundle parses a complete recipe from a single JSON document, as
// supplied on stdin by the CLI run mode.
func ParseBundle(data []byte) (*Recipe, error) {
	var r Recipe
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse recipe JSON: %w", err)
	}
	if r.Actions == nil {
		r.Actions = make(map[string]ActionEntry)
	}
	if r.Selectors == nil {
		r.Selectors = make(map[string]SelectorEntry)
	}
	if r.Policies == nil {
		r.Policies = make(map[string]Policy)
	}
	if err := Validate(&r); err != nil {
		return nil, fmt.Errorf("recipe validation failed: %w", err)
	}
	return &r, nil
}

// ListVersions returns the version directories for a flow, sorted by their
// numeric vNNN value ascending. Entries without a parseable version are
// skipped.
func ListVersions(root, domain, flow string) ([]string, error) {
	dir := filepath.Join(root, domain, flow)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var versions []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := ParseVersion(e.Name()); err != nil {
			continue
		}
		versions = append(versions, e.Name())
	}
	sort.Slice(versions, func(i, j int) bool {
		vi, _ := ParseVersion(versions[i])
		vj, _ := ParseVersion(versions[j])
		return vi < vj
	})
	return versions, nil
}

// LatestVersion returns the highest vNNN version for a flow, or "" when the
// flow has no versions on disk.
func LatestVersion(root, domain, flow string) (string, error) {
	versions, err := ListVersions(root, domain, flow)
	if err != nil {
		return "", err
	}
	if len(versions) == 0 {
		return "", nil
	}
	return versions[len(versions)-1], nil
}

func readSection(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// readOptionalSection behaves like readSection but treats a missing file as
// an empty section.
func readOptionalSection(path string, v any) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return readSection(path, v)
}
