package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kairi-dev/kairi/internal/config"
	"github.com/kairi-dev/kairi/internal/recipe"
)

var importCmd = &cobra.Command{
	Use:   "import <archive.zip>",
	Short: "Import a recipe archive into the local store",
	Long: `Import a recipe ZIP archive into the local recipe store under
--domain and --flow. Section files inside the archive are recognized by
name or, failing that, by their shape, so archives assembled by hand
import as well as exported ones.

Without --version, the recipe is stored as the next version after the
latest one already present (v001 for a new flow).

Examples:
  kairi import buy-ticket.zip --domain shop.example.com --flow buy-ticket
  kairi import buy-ticket.zip --domain shop.example.com --flow buy-ticket --version v007`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		domain, _ := cmd.Flags().GetString("domain")
		flow, _ := cmd.Flags().GetString("flow")

		root, _ := cmd.Flags().GetString("root")
		if root == "" {
			cfg, err := config.DefaultConfig()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to resolve recipe store: %v\n", err)
				exitWithCode(ExitGeneral)
			}
			root = cfg.RecipesDir
		}

		version, _ := cmd.Flags().GetString("version")
		if version == "" {
			latest, err := recipe.LatestVersion(root, domain, flow)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to list versions: %v\n", err)
				exitWithCode(ExitGeneral)
			}
			if latest == "" {
				version = "v001"
			} else {
				version, err = recipe.NextVersion(latest)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Failed to compute next version: %v\n", err)
					exitWithCode(ExitGeneral)
				}
			}
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read archive: %v\n", err)
			exitWithCode(ExitGeneral)
		}

		r, err := recipe.Import(data, domain, flow, version)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to import: %v\n", err)
			exitWithCode(ExitInvalidRecipe)
		}

		if err := recipe.Save(root, r); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to save recipe: %v\n", err)
			exitWithCode(ExitGeneral)
		}

		fmt.Printf("Imported %s/%s %s (%d steps)\n", domain, flow, version, len(r.Workflow.Steps))
	},
}

func init() {
	importCmd.Flags().String("domain", "", "Target domain (required)")
	importCmd.Flags().String("flow", "", "Target flow (required)")
	importCmd.Flags().String("version", "", "Target version (default: next after latest)")
	importCmd.Flags().String("root", "", "Recipe store root (default ~/.kairi/recipes)")
	importCmd.MarkFlagRequired("domain")
	importCmd.MarkFlagRequired("flow")
	rootCmd.AddCommand(importCmd)
}
