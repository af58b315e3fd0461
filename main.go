// The main package for the booru-crawler executable.
package main

import (
	"github.com/JakeFAU/booru-tag-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
