package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kairi-dev/kairi/internal/config"
	"github.com/kairi-dev/kairi/internal/recipe"
)

var exportCmd = &cobra.Command{
	Use:   "export <domain> <flow> [version]",
	Short: "Export a recipe version as a ZIP archive",
	Long: `Export a recipe version from the local recipe store as a ZIP archive
containing the five section files. Without a version argument, the latest
version is exported.

Examples:
  kairi export shop.example.com buy-ticket
  kairi export shop.example.com buy-ticket v003 -o buy-ticket.zip`,
	Args: cobra.RangeArgs(2, 3),
	Run: func(cmd *cobra.Command, args []string) {
		domain, flow := args[0], args[1]

		root, _ := cmd.Flags().GetString("root")
		if root == "" {
			cfg, err := config.DefaultConfig()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to resolve recipe store: %v\n", err)
				exitWithCode(ExitGeneral)
			}
			root = cfg.RecipesDir
		}

		version := ""
		if len(args) == 3 {
			version = args[2]
		} else {
			latest, err := recipe.LatestVersion(root, domain, flow)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to list versions: %v\n", err)
				exitWithCode(ExitGeneral)
			}
			if latest == "" {
				fmt.Fprintf(os.Stderr, "No versions of %s/%s in %s\n", domain, flow, root)
				exitWithCode(ExitGeneral)
			}
			version = latest
		}

		r, err := recipe.Load(root, domain, flow, version)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load recipe: %v\n", err)
			exitWithCode(ExitInvalidRecipe)
		}

		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			output = fmt.Sprintf("%s-%s.zip", flow, version)
		}

		f, err := os.Create(output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create %s: %v\n", output, err)
			exitWithCode(ExitGeneral)
		}
		defer f.Close()

		if err := recipe.Export(f, r); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to export: %v\n", err)
			exitWithCode(ExitGeneral)
		}

		fmt.Printf("Exported %s/%s %s to %s\n", domain, flow, version, output)
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "Output file (default <flow>-<version>.zip)")
	exportCmd.Flags().String("root", "", "Recipe store root (default ~/.kairi/recipes)")
	rootCmd.AddCommand(exportCmd)
}
