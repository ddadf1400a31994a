package recipe

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/flate"
)

// FileType identifies which recipe section a file holds.
type FileType string

const (
	TypeWorkflow     FileType = "workflow"
	TypeActions      FileType = "actions"
	TypeSelectors    FileType = "selectors"
	TypePolicies     FileType = "policies"
	TypeFingerprints FileType = "fingerprints"
	TypeUnknown      FileType = "unknown"
)

// DetectFileType infers a recipe section from a file name and its JSON
// content. Name substrings win; otherwise the content shape decides. An
// empty object defaults to policies, the only section that is legitimately
// empty in exported bundles.
func DetectFileType(name string, content []byte) FileType {
	lower := strings.ToLower(path.Base(name))
	switch {
	case strings.Contains(lower, "workflow"):
		return TypeWorkflow
	case strings.Contains(lower, "action"):
		return TypeActions
	case strings.Contains(lower, "selector"):
		return TypeSelectors
	case strings.Contains(lower, "fingerprint"):
		return TypeFingerprints
	case strings.Contains(lower, "polic"):
		return TypePolicies
	}
	return detectByShape(content)
}

func detectByShape(content []byte) FileType {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(content, &obj); err != nil {
		// Fingerprints are a JSON array.
		var arr []map[string]json.RawMessage
		if err := json.Unmarshal(content, &arr); err != nil {
			return TypeUnknown
		}
		for _, entry := range arr {
			if hasAny(entry, "mustText", "urlContains", "mustSelectors") {
				return TypeFingerprints
			}
		}
		if len(arr) == 0 {
			return TypeFingerprints
		}
		return TypeUnknown
	}

	if _, ok := obj["steps"]; ok {
		return TypeWorkflow
	}
	if len(obj) == 0 {
		return TypePolicies
	}
	for _, raw := range obj {
		var entry map[string]json.RawMessage
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		switch {
		case hasAny(entry, "instruction"):
			return TypeActions
		case hasAny(entry, "primary") && hasAny(entry, "fallbacks"):
			return TypeSelectors
		case hasAny(entry, "mustText", "urlContains", "mustSelectors"):
			return TypeFingerprints
		case hasAny(entry, "hard") && hasAny(entry, "score"):
			return TypePolicies
		}
	}
	return TypeUnknown
}

func hasAny(m map[string]json.RawMessage, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

// klauspost's flate replaces the stdlib codec for both directions.
func registerFlateWriter(zw *zip.Writer) {
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestSpeed)
	})
}

func registerFlateReader(zr *zip.Reader) {
	zr.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
		return flate.NewReader(r)
	})
}

// Export writes the recipe as a ZIP archive: one folder named
// <domain>-<version> containing the five section files.
func Export(w io.Writer, r *Recipe) error {
	zw := zip.NewWriter(w)
	registerFlateWriter(zw)

	folder := fmt.Sprintf("%s-%s", r.Domain, r.Version)
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
		f, err := zw.Create(path.Join(folder, s.file))
		if err != nil {
			return fmt.Errorf("failed to create %s in archive: %w", s.file, err)
		}
		if _, err := f.Write(data); err != nil {
			return fmt.Errorf("failed to write %s: %w", s.file, err)
		}
	}
	return zw.Close()
}

// Import reads a recipe archive produced by Export (or a compatible one with
// arbitrary file names) and reassembles the recipe. Domain, flow, and
// version identify the imported recipe; the archive's folder name is not
// trusted.
func Import(data []byte, domain, flow, version string) (*Recipe, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	registerFlateReader(zr)

	r := &Recipe{
		Domain:    domain,
		Flow:      flow,
		Version:   version,
		Actions:   make(map[string]ActionEntry),
		Selectors: make(map[string]SelectorEntry),
		Policies:  make(map[string]Policy),
	}

	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(strings.ToLower(f.Name), ".json") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
		}

		switch DetectFileType(f.Name, content) {
		case TypeWorkflow:
			if err := json.Unmarshal(content, &r.Workflow); err != nil {
				return nil, fmt.Errorf("failed to parse workflow from %s: %w", f.Name, err)
			}
		case TypeActions:
			if err := json.Unmarshal(content, &r.Actions); err != nil {
				return nil, fmt.Errorf("failed to parse actions from %s: %w", f.Name, err)
			}
		case TypeSelectors:
			if err := json.Unmarshal(content, &r.Selectors); err != nil {
				return nil, fmt.Errorf("failed to parse selectors from %s: %w", f.Name, err)
			}
		case TypePolicies:
			if err := json.Unmarshal(content, &r.Policies); err != nil {
				return nil, fmt.Errorf("failed to parse policies from %s: %w", f.Name, err)
			}
		case TypeFingerprints:
			if err := json.Unmarshal(content, &r.Fingerprints); err != nil {
				return nil, fmt.Errorf("failed to parse fingerprints from %s: %w", f.Name, err)
			}
		default:
			return nil, fmt.Errorf("cannot determine recipe section for %s", f.Name)
		}
	}

	if err := Validate(r); err != nil {
		return nil, fmt.Errorf("imported recipe is invalid: %w", err)
	}
	return r, nil
}
