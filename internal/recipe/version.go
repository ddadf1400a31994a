package recipe

import (
	"fmt"
	"regexp"
	"strconv"
)

// versionRe matches the trailing vNNN version component, e.g. "v003" in
// "checkout-v003" or a bare "v012".
var versionRe = regexp.MustCompile(`v(\d+)$`)

// ParseVersion extracts the numeric value of a vNNN version string.
func ParseVersion(version string) (int, error) {
	m := versionRe.FindStringSubmatch(version)
	if m == nil {
		return 0, fmt.Errorf("version %q has no vNNN suffix", version)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("version %q: %w", version, err)
	}
	return n, nil
}

// NextVersion increments the vNNN suffix, preserving any prefix and keeping
// at least three digits: "v003" -> "v004", "flow-v099" -> "flow-v100".
func NextVersion(version string) (string, error) {
	m := versionRe.FindStringSubmatchIndex(version)
	if m == nil {
		return "", fmt.Errorf("version %q has no vNNN suffix", version)
	}
	n, err := strconv.Atoi(version[m[2]:m[3]])
	if err != nil {
		return "", fmt.Errorf("version %q: %w", version, err)
	}
	width := m[3] - m[2]
	if width < 3 {
		width = 3
	}
	return fmt.Sprintf("%sv%0*d", version[:m[0]], width, n+1), nil
}
