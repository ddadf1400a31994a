package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kairi-dev/kairi/internal/recipe"
)

var validateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a recipe",
	Long: `Validate a recipe without running it.

With a JSON file argument (or stdin when omitted), validates a single-file
recipe bundle. With --dir, validates a recipe version directory laid out as
<root>/<domain>/<flow>/<vNNN>/; identity is derived from the path.

Examples:
  kairi validate recipe.json
  kairi validate < recipe.json
  kairi validate --dir ~/.kairi/recipes/shop.example.com/buy-ticket/v003`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dir, _ := cmd.Flags().GetString("dir")

		var (
			r   *recipe.Recipe
			err error
		)
		switch {
		case dir != "":
			r, err = loadVersionDir(dir)
		case len(args) == 1:
			var data []byte
			data, err = os.ReadFile(args[0])
			if err == nil {
				r, err = recipe.ParseBundle(data)
			}
		default:
			var data []byte
			data, err = io.ReadAll(os.Stdin)
			if err == nil {
				r, err = recipe.ParseBundle(data)
			}
		}

		if err != nil {
			fmt.Fprintf(os.Stderr, "✗ %v\n", err)
			exitWithCode(ExitInvalidRecipe)
		}

		fmt.Printf("✓ %s/%s %s is valid (%d steps, %d actions, %d selectors, %d policies)\n",
			r.Domain, r.Flow, r.Version,
			len(r.Workflow.Steps), len(r.Actions), len(r.Selectors), len(r.Policies))
	},
}

// loadVersionDir loads a recipe version directory, deriving domain, flow,
// and version from the last three path components.
func loadVersionDir(dir string) (*recipe.Recipe, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	version := filepath.Base(abs)
	flowDir := filepath.Dir(abs)
	flow := filepath.Base(flowDir)
	domain := filepath.Base(filepath.Dir(flowDir))

	if _, err := recipe.ParseVersion(version); err != nil {
		return nil, fmt.Errorf("directory %s is not a version directory: %w", dir, err)
	}
	return recipe.LoadDir(abs, domain, flow, version)
}

func init() {
	validateCmd.Flags().String("dir", "", "Validate a recipe version directory instead of a JSON bundle")
	rootCmd.AddCommand(validateCmd)
}
