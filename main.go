// The main package for the ecoles executable.
package main

import (
	"github.com/JakeFAU/ecoles-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
