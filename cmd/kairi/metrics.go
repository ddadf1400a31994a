package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kairi-dev/kairi/internal/config"
	"github.com/kairi-dev/kairi/internal/log"
	"github.com/kairi-dev/kairi/internal/metrics"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Aggregate run metrics and check SLO compliance",
	Long: `Aggregate the metrics.json files written by completed runs into a
Markdown report: success rates, LLM call and token averages, patch and
healing memory rates, the fallback ladder distribution, a per-flow
breakdown, and the SLO compliance table.

Examples:
  kairi metrics
  kairi metrics --runs /var/lib/kairi/runs`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runsDir, _ := cmd.Flags().GetString("runs")
		if runsDir == "" {
			cfg, err := config.DefaultConfig()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to resolve kairi home: %v\n", err)
				exitWithCode(ExitGeneral)
			}
			runsDir = cfg.RunsDir
		}

		runs, err := collectRunMetrics(runsDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read runs: %v\n", err)
			exitWithCode(ExitGeneral)
		}
		if len(runs) == 0 {
			fmt.Printf("No completed runs under %s\n", runsDir)
			return
		}

		summary := metrics.Aggregate(runs)
		if err := metrics.WriteMarkdown(os.Stdout, summary); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write report: %v\n", err)
			exitWithCode(ExitGeneral)
		}
	},
}

// collectRunMetrics reads <runsDir>/<runId>/metrics.json for every run
// directory, skipping unreadable or malformed files.
func collectRunMetrics(runsDir string) ([]metrics.RunMetrics, error) {
	entries, err := os.ReadDir(runsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var runs []metrics.RunMetrics
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(runsDir, e.Name(), "metrics.json")
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var m metrics.RunMetrics
		if err := json.Unmarshal(data, &m); err != nil {
			log.Default().Warn("skipping malformed metrics file", "path", path, "error", err)
			continue
		}
		runs = append(runs, m)
	}
	return runs, nil
}

func init() {
	metricsCmd.Flags().String("runs", "", "Runs directory (default ~/.kairi/runs)")
	rootCmd.AddCommand(metricsCmd)
}
