// The main package for the urlhealth executable.
package main

import (
	"github.com/JakeFAU/urlhealth/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
