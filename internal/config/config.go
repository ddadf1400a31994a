// Package config resolves kairi's on-disk layout and environment-tunable
// settings. All paths live under a single home directory so that a test can
// redirect the whole tree with one environment variable.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// EnvKairiHome overrides the default kairi home directory (~/.kairi).
	EnvKairiHome = "KAIRI_HOME"

	// EnvPlannerTimeout configures the authoring service request timeout.
	// Accepts duration strings like "20s", "1m".
	EnvPlannerTimeout = "KAIRI_PLANNER_TIMEOUT"

	// EnvPlannerURL points at a remote authoring service. When set, the
	// HTTP planner becomes available to the planner factory.
	EnvPlannerURL = "KAIRI_PLANNER_URL"

	// DefaultPlannerTimeout is the default authoring service timeout.
	DefaultPlannerTimeout = 20 * time.Second
)

// Config holds resolved paths for a kairi installation.
type Config struct {
	// HomeDir is the kairi home directory (~/.kairi by default).
	HomeDir string

	// RecipesDir holds recipe version directories:
	// <RecipesDir>/<domain>/<flow>/<vNNN>/.
	RecipesDir string

	// RunsDir holds per-run artifact directories keyed by run id.
	RunsDir string

	// MemoryPath is the healing memory JSON file.
	MemoryPath string

	// ConfigFile is the user configuration TOML file.
	ConfigFile string
}

// DefaultConfig resolves the standard layout, honoring KAIRI_HOME.
func DefaultConfig() (*Config, error) {
	home := os.Getenv(EnvKairiHome)
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to determine home directory: %w", err)
		}
		home = filepath.Join(userHome, ".kairi")
	}

	return &Config{
		HomeDir:    home,
		RecipesDir: filepath.Join(home, "recipes"),
		RunsDir:    filepath.Join(home, "runs"),
		MemoryPath: filepath.Join(home, "healing_memory.json"),
		ConfigFile: filepath.Join(home, "config.toml"),
	}, nil
}

// EnsureDirs creates the directories the runtime writes into.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.HomeDir, c.RecipesDir, c.RunsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// GetPlannerTimeout returns the authoring service timeout from
// KAIRI_PLANNER_TIMEOUT. If not set or invalid, returns DefaultPlannerTimeout.
func GetPlannerTimeout() time.Duration {
	envValue := os.Getenv(EnvPlannerTimeout)
	if envValue == "" {
		return DefaultPlannerTimeout
	}

	duration, err := time.ParseDuration(envValue)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: invalid %s value %q, using default %v\n",
			EnvPlannerTimeout, envValue, DefaultPlannerTimeout)
		return DefaultPlannerTimeout
	}

	// Clamp to a sane range: a sub-second timeout cannot complete a patch
	// request, and anything past 5 minutes stalls the recovery ladder.
	if duration < time.Second {
		fmt.Fprintf(os.Stderr, "Warning: %s too low (%v), using minimum 1s\n",
			EnvPlannerTimeout, duration)
		return time.Second
	}
	if duration > 5*time.Minute {
		fmt.Fprintf(os.Stderr, "Warning: %s too high (%v), using maximum 5m\n",
			EnvPlannerTimeout, duration)
		return 5 * time.Minute
	}

	return duration
}
