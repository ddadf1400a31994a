package recipe

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Save persists a recipe as a version directory under root. The directory is
// built in a temp location and renamed into place so readers never observe a
// half-written version. Saving an existing version is an error: versions are
// immutable once written.
func Save(root string, r *Recipe) error {
	if err := Validate(r); err != nil {
		return fmt.Errorf("refusing to save invalid recipe: %w", err)
	}

	flowDir := filepath.Join(root, r.Domain, r.Flow)
	finalDir := filepath.Join(flowDir, r.Version)
	if _, err := os.Stat(finalDir); err == nil {
		return fmt.Errorf("version %s already exists at %s", r.Version, finalDir)
	}

	if err := os.MkdirAll(flowDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", flowDir, err)
	}

	tmpDir, err := os.MkdirTemp(flowDir, "."+r.Version+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := writeSections(tmpDir, r); err != nil {
		return err
	}

	if err := os.Rename(tmpDir, finalDir); err != nil {
		return fmt.Errorf("failed to move recipe into place: %w", err)
	}
	return nil
}

// WriteDir writes the five section files directly into dir, which must
// already exist. Used by the archive exporter; Save is the durable path.
func WriteDir(dir string, r *Recipe) error {
	return writeSections(dir, r)
}

func writeSections(dir string, r *Recipe) error {
	sections := []struct {
		file string
		v    any
	}{
		{FileWorkflow, r.Workflow},
		{FileActions, r.Actions},
		{FileSelectors, r.Selectors},
		{FilePolicies, r.Policies},
		{FileFingerprints, r.Fingerprints},
	}
	for _, s := range sections {
		data, err := json.MarshalIndent(s.v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", s.file, err)
		}
		path := filepath.Join(dir, s.file)
		if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", s.file, err)
		}
	}
	return nil
}
