package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kairi-dev/kairi/internal/buildinfo"
	"github.com/kairi-dev/kairi/internal/log"
)

var (
	flagQuiet   bool
	flagVerbose bool
	flagDebug   bool
)

var rootCmd = &cobra.Command{
	Use:   "kairi",
	Short: "A resilient runner for web-automation recipes",
	Long: `kairi executes web-automation recipes: versioned bundles of workflow
steps, cached actions, selectors, fingerprints, and policies.

When a cached action stops working, kairi climbs a recovery ladder -
selector fallbacks, healing memory, patch planning, operator
checkpoints - so that recipes keep working as sites drift.

Diagnostics go to stderr; run events are emitted as JSON lines on
stdout and are never interleaved with diagnostics.`,
	Version: buildinfo.Version(),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		configureLogging()
	},
}

// configureLogging maps the verbosity flags onto the process-wide logger.
// Default is WARN; --quiet narrows to errors, --verbose and --debug widen.
func configureLogging() {
	level := slog.LevelWarn
	switch {
	case flagDebug:
		level = slog.LevelDebug
	case flagVerbose:
		level = slog.LevelInfo
	case flagQuiet:
		level = slog.LevelError
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	log.SetDefault(log.New(handler))
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Only log errors")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Log operational context")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Log internal state for troubleshooting")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitGeneral)
	}
}
