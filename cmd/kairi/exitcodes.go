package main

import "os"

// Exit codes for different error types.
// These enable scripts to distinguish between failure modes.
const (
	// ExitSuccess indicates the run completed with ok=true
	ExitSuccess = 0

	// ExitGeneral indicates a general error (also used for failed runs)
	ExitGeneral = 1

	// ExitUsage indicates invalid arguments or malformed input
	ExitUsage = 2

	// ExitInvalidRecipe indicates the recipe failed validation
	ExitInvalidRecipe = 3

	// ExitRunFailed indicates the workflow ran but did not complete ok
	ExitRunFailed = 4
)

// exitWithCode exits with the specified exit code
func exitWithCode(code int) {
	os.Exit(code)
}
