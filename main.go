// The main package for the policy-ingest executable.
package main

import (
	"github.com/policycheck/policy-ingest/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
