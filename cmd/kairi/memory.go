package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/kairi-dev/kairi/internal/config"
	"github.com/kairi-dev/kairi/internal/healing"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and maintain the healing memory",
	Long: `Inspect and maintain the healing memory: the persistent store of
actions that worked after a cached selector failed, with per-entry
confidence driven by post-recovery successes and failures.

Examples:
  kairi memory stats
  kairi memory prune --min-confidence 0.3 --max-age-days 90`,
}

var memoryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show healing memory statistics",
	Run: func(cmd *cobra.Command, args []string) {
		m := openMemory()
		stats := m.Stats()

		fmt.Printf("Healing memory: %d records\n", stats.TotalRecords)
		if stats.TotalRecords == 0 {
			return
		}
		fmt.Printf("Average confidence: %.2f\n", stats.AvgConfidence)

		if len(stats.DomainDistribution) > 0 {
			fmt.Println("\nRecords per domain:")
			domains := make([]string, 0, len(stats.DomainDistribution))
			for d := range stats.DomainDistribution {
				domains = append(domains, d)
			}
			sort.Strings(domains)
			for _, d := range domains {
				fmt.Printf("  %-40s  %d\n", d, stats.DomainDistribution[d])
			}
		}
	},
}

var memoryPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove low-confidence or stale entries",
	Run: func(cmd *cobra.Command, args []string) {
		minConfidence, _ := cmd.Flags().GetFloat64("min-confidence")
		maxAgeDays, _ := cmd.Flags().GetInt("max-age-days")

		if minConfidence == 0 && maxAgeDays == 0 {
			fmt.Fprintln(os.Stderr, "Nothing to prune: set --min-confidence and/or --max-age-days")
			exitWithCode(ExitUsage)
		}

		m := openMemory()
		removed, err := m.Prune(healing.PruneOptions{
			MinConfidence: minConfidence,
			MaxAgeDays:    maxAgeDays,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Prune failed: %v\n", err)
			exitWithCode(ExitGeneral)
		}

		fmt.Printf("Pruned %d entries (%d remain)\n", removed, m.Len())
	},
}

func openMemory() *healing.Memory {
	cfg, err := config.DefaultConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve kairi home: %v\n", err)
		exitWithCode(ExitGeneral)
	}
	m, err := healing.Open(cfg.MemoryPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open healing memory: %v\n", err)
		exitWithCode(ExitGeneral)
	}
	return m
}

func init() {
	memoryPruneCmd.Flags().Float64("min-confidence", 0, "Remove entries below this confidence")
	memoryPruneCmd.Flags().Int("max-age-days", 0, "Remove entries untouched for this many days")
	memoryCmd.AddCommand(memoryStatsCmd)
	memoryCmd.AddCommand(memoryPruneCmd)
	rootCmd.AddCommand(memoryCmd)
}
